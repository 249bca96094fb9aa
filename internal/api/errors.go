// ABOUTME: Tagged HTTP failure type returned by every API call
// ABOUTME: Status zero means no response; otherwise the non-2xx status and body

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// HTTPError is the failure half of every API result.
type HTTPError struct {
	// Status is the HTTP status code, or 0 when no response was received.
	Status int
	// Body is the raw response body (nil when Status is 0).
	Body []byte
	// Err is the transport error when Status is 0.
	Err error
}

func (e *HTTPError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("request failed: %v", e.Err)
	}
	if msg := e.ServerMessage(); msg != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, msg)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, http.StatusText(e.Status))
}

func (e *HTTPError) Unwrap() error { return e.Err }

// IsNetwork reports whether no response was received.
func (e *HTTPError) IsNetwork() bool { return e.Status == 0 }

// ServerMessage extracts a human-readable message from common error body
// shapes: {"error":{"message":...}}, {"error":"..."}, {"message":"..."}.
func (e *HTTPError) ServerMessage() string {
	if len(e.Body) == 0 {
		return ""
	}

	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return ""
	}

	if len(body.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if err := json.Unmarshal(body.Error, &flat); err == nil && flat != "" {
			return flat
		}
	}
	return strings.TrimSpace(body.Message)
}

// AsHTTPError extracts an *HTTPError from err.
func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}
