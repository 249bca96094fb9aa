// ABOUTME: Token verification with bounded exponential backoff
// ABOUTME: Transient failures are retried; a 401 falls through to a refresh

package auth

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/2389/coven-session/internal/metrics"
)

const (
	verifyKeyPrefix     = "verify:"
	verifyOnlyKeyPrefix = "verify-only:"
)

// Verify checks the stored access token with the identity service.
func (a *Authenticator) Verify(ctx context.Context) bool {
	token, err := a.tokens.AccessToken(ctx)
	if err != nil {
		a.fail(Classify(OpVerify, err))
		return false
	}
	if token == "" {
		a.record(notAuthenticatedError(OpVerify))
		return false
	}
	return a.verifyToken(ctx, token, true)
}

// verifyToken verifies token, sharing the request with any concurrent
// verification of the same token. With refreshOn401 a rejected token is
// answered by refreshing the stored session; the result then says whether
// that session is usable, not whether token itself was accepted.
func (a *Authenticator) verifyToken(ctx context.Context, token string, refreshOn401 bool) bool {
	key := verifyOnlyKeyPrefix + token
	if refreshOn401 {
		key = verifyKeyPrefix + token
	}
	ch := a.flight.DoChan(key, func() (any, error) {
		runCtx, cancel := a.detach(ctx)
		defer cancel()
		return a.verify(runCtx, token, refreshOn401), nil
	})

	select {
	case res := <-ch:
		ok, _ := res.Val.(bool)
		return ok
	case <-ctx.Done():
		return false
	}
}

// verify calls the verify endpoint up to MaxRetries+1 times. Network, 429,
// and 5xx failures are retried after RetryDelay, 2*RetryDelay, 4*RetryDelay,
// and so on. A 401 is not retried: with refreshOn401 the result of Refresh is
// returned instead, otherwise the token is reported as rejected.
func (a *Authenticator) verify(ctx context.Context, token string, refreshOn401 bool) bool {
	attempt := 0
	operation := func() error {
		attempt++
		err := a.client.Verify(ctx, token)
		if err == nil {
			a.metrics.VerifyAttempt(metrics.OutcomeSuccess)
			return nil
		}

		ae := Classify(OpVerify, err)
		if retryableVerify(ae) {
			a.metrics.VerifyAttempt(metrics.OutcomeRetry)
			return ae
		}
		a.metrics.VerifyAttempt(metrics.OutcomeFailure)
		return backoff.Permanent(ae)
	}
	notify := func(err error, delay time.Duration) {
		a.logger.Warn("verify failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}

	err := backoff.RetryNotify(operation, a.verifyPolicy(ctx), notify)
	if err == nil {
		return true
	}
	if a.disposed.Load() {
		return false
	}

	ae := Classify(OpVerify, err)
	if ae.Kind == KindHTTP401 && refreshOn401 {
		a.logger.Debug("access token rejected, attempting refresh")
		return a.Refresh(ctx)
	}
	a.fail(ae)
	return false
}

func (a *Authenticator) verifyPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.RetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = a.cfg.RetryDelay << 16
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(a.cfg.MaxRetries)), ctx)
}

func retryableVerify(ae *AuthError) bool {
	switch ae.Kind {
	case KindNetwork, KindHTTP429, KindHTTP5xx:
		return true
	default:
		return false
	}
}
