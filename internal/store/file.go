// ABOUTME: JSON-file CredentialStore with optional passphrase sealing
// ABOUTME: Persists all keys in one 0600 document under the user's config directory

package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const credentialsFile = "credentials.json"

var errNoPassphrase = errors.New("credentials are sealed but no passphrase is configured")

// fileDocument is the on-disk layout of a FileStore.
type fileDocument struct {
	Version int               `json:"version"`
	Salt    string            `json:"salt,omitempty"`
	Sealed  bool              `json:"sealed"`
	Values  map[string]string `json:"values"`
}

// FileStore implements CredentialStore using a JSON file.
type FileStore struct {
	mu         sync.Mutex
	path       string
	passphrase []byte
	logger     *slog.Logger

	// key derived for keySalt; reused while the document's salt is unchanged
	keySalt string
	key     *sealer
}

var _ CredentialStore = (*FileStore)(nil)

// DefaultPath returns ~/.config/coven/credentials.json, honouring XDG_CONFIG_HOME.
func DefaultPath() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "coven", credentialsFile), nil
}

// NewFileStore creates a FileStore at path. An empty passphrase stores values
// in plain text (the file is still 0600).
func NewFileStore(path, passphrase string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating credentials directory: %w", err)
	}
	return &FileStore{
		path:       path,
		passphrase: []byte(passphrase),
		logger:     slog.Default().With("component", "store", "backend", "file"),
	}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Set stores value under key.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return wrapErr("set", key, err)
	}

	stored := value
	switch {
	case len(s.passphrase) > 0:
		if !doc.Sealed {
			if err := s.sealDocument(doc); err != nil {
				return wrapErr("set", key, err)
			}
		}
		stored, err = s.sealer(doc).seal(value)
		if err != nil {
			return wrapErr("set", key, err)
		}
	case doc.Sealed:
		return wrapErr("set", key, errNoPassphrase)
	}
	doc.Values[key] = stored

	if err := s.save(doc); err != nil {
		return wrapErr("set", key, err)
	}
	s.logger.Debug("stored credential", "key", key)
	return nil
}

// Get returns the value for key or ErrNotFound.
func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return "", wrapErr("get", key, err)
	}
	stored, ok := doc.Values[key]
	if !ok {
		return "", ErrNotFound
	}
	if !doc.Sealed {
		return stored, nil
	}
	if len(s.passphrase) == 0 {
		return "", wrapErr("get", key, errNoPassphrase)
	}
	value, err := s.sealer(doc).open(stored)
	if err != nil {
		return "", wrapErr("get", key, err)
	}
	return value, nil
}

// Delete removes key. Missing keys and a missing file are ignored.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return wrapErr("delete", key, err)
	}
	if _, ok := doc.Values[key]; !ok {
		return nil
	}
	delete(doc.Values, key)

	if len(doc.Values) == 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return wrapErr("delete", key, err)
		}
		return nil
	}
	return wrapErr("delete", key, s.save(doc))
}

// sealDocument converts a plaintext document in place: it picks a salt and
// seals every value already stored.
func (s *FileStore) sealDocument(doc *fileDocument) error {
	if doc.Salt == "" {
		salt, err := newSalt()
		if err != nil {
			return err
		}
		doc.Salt = base64.StdEncoding.EncodeToString(salt)
	}
	sl := s.sealer(doc)
	for k, v := range doc.Values {
		sealed, err := sl.seal(v)
		if err != nil {
			return err
		}
		doc.Values[k] = sealed
	}
	doc.Sealed = true
	if len(doc.Values) > 0 {
		s.logger.Info("sealed existing plaintext credentials", "count", len(doc.Values))
	}
	return nil
}

// sealer returns the sealer for the document's salt. Callers hold s.mu.
func (s *FileStore) sealer(doc *fileDocument) *sealer {
	if s.key != nil && s.keySalt == doc.Salt {
		return s.key
	}
	salt, _ := base64.StdEncoding.DecodeString(doc.Salt)
	s.key = newSealer(s.passphrase, salt)
	s.keySalt = doc.Salt
	return s.key
}

// load reads the document, returning an empty one if the file does not exist.
func (s *FileStore) load() (*fileDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileDocument{Version: 1, Values: make(map[string]string)}, nil
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}
	if doc.Values == nil {
		doc.Values = make(map[string]string)
	}
	return &doc, nil
}

// save writes the document through a temp file so readers never see a partial write.
func (s *FileStore) save(doc *fileDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting credentials permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	return os.Rename(tmpPath, s.path)
}
