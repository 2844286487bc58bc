// Package monitoring implements error reporting on Sentry.
package monitoring

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kilianp07/evcharger/config"
	coremon "github.com/kilianp07/evcharger/core/monitoring"
)

// NewSentryMonitor initializes Sentry for the given charge point and returns
// a Monitor. Without a DSN the returned monitor discards everything.
func NewSentryMonitor(cfg config.SentryConfig, identity string) (coremon.Monitor, error) {
	if cfg.DSN == "" {
		return coremon.NopMonitor{}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		TracesSampleRate: cfg.TracesSampleRate,
		Release:          cfg.Release,
		ServerName:       identity,
	})
	if err != nil {
		return nil, err
	}
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("identity", identity)
	})
	return &sentryMonitor{}, nil
}

type sentryMonitor struct{}

func (s *sentryMonitor) CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	if len(tags) == 0 {
		sentry.CaptureException(err)
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

func (s *sentryMonitor) CapturePanic(v any) {
	sentry.CurrentHub().Recover(v)
}

func (s *sentryMonitor) Flush(timeout time.Duration) { sentry.Flush(timeout) }
