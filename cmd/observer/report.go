package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/arkiv/chain-observer/internal/harvest"
)

const sentryFlushTimeout = 2 * time.Second

// newReporter returns a harvest.Reporter that forwards job failures to
// Sentry, and a flush func to call before exit. With no DSN it returns a nil
// reporter and a no-op flush.
func newReporter(dsn string, log *slog.Logger) (harvest.Reporter, func(), error) {
	if dsn == "" {
		return nil, func() {}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		ServerName:  "chain-observer",
		Environment: "production",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init sentry: %w", err)
	}
	log.Info("sentry reporting enabled")

	report := func(_ context.Context, job string, err error) {
		hub := sentry.CurrentHub().Clone()
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("job", job)
			hub.CaptureException(err)
		})
	}
	flush := func() { sentry.Flush(sentryFlushTimeout) }
	return report, flush, nil
}
