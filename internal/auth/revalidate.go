// ABOUTME: Periodic session re-validation scheduled on a cron runner
// ABOUTME: A failed verification ends the session

package auth

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts slog to cron.Logger. Scheduler chatter goes to debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// startRevalidation schedules revalidate every CheckInterval. It is a no-op
// when re-validation is disabled, already running, or after Dispose.
func (a *Authenticator) startRevalidation() {
	if a.cfg.CheckInterval < 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disposed.Load() || a.scheduler != nil {
		return
	}

	logger := cronLogger{logger: a.logger.With("job", "revalidate")}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(cron.Every(a.cfg.CheckInterval), cron.FuncJob(a.revalidate))
	c.Start()
	a.scheduler = c
	a.logger.Debug("periodic re-validation started", "interval", a.cfg.CheckInterval)
}

// stopRevalidation stops the scheduler without waiting for a running job,
// so it is safe to call from inside that job.
func (a *Authenticator) stopRevalidation() {
	a.mu.Lock()
	c := a.scheduler
	a.scheduler = nil
	a.mu.Unlock()

	if c != nil {
		c.Stop()
		a.logger.Debug("periodic re-validation stopped")
	}
}

// revalidate verifies the stored token and logs out if it is no longer
// accepted. A transition that happens while verification is in flight wins.
func (a *Authenticator) revalidate() {
	if a.disposed.Load() || !a.IsAuthenticated() {
		return
	}
	epoch := a.state.Load().Epoch

	ctx, cancel := a.detach(context.Background())
	defer cancel()

	token, err := a.tokens.AccessToken(ctx)
	if err != nil {
		a.fail(Classify(OpRevalidate, err))
		return
	}

	ok := token != "" && a.verifyToken(ctx, token, true)
	if ok || a.disposed.Load() {
		return
	}
	current := a.state.Load()
	if !current.Authenticated || current.Epoch != epoch {
		return
	}

	a.logger.Info("periodic verification failed, ending session")
	a.forceLogout(ctx, reasonRevalidation, sessionExpiredError(OpRevalidate))
}
