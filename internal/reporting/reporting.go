// Package reporting wires the optional Sentry client used to report
// unexpected errors and recovered panics.
package reporting

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/eugenenazirov/sitekit/internal/config"
)

// Reporter forwards unexpected failures to the error-reporting service.
type Reporter interface {
	CaptureException(err error)
	CaptureMessage(msg string)
	Recover(v any)
	Flush(timeout time.Duration) bool
}

// InitFunc installs the process-wide client. sentry.Init is the default.
type InitFunc func(sentry.ClientOptions) error

// Setup initialises error reporting when a DSN is configured and returns a
// no-op Reporter otherwise.
func Setup(cfg config.ErrorReporting, release string, init InitFunc) (Reporter, error) {
	if !cfg.Enabled() {
		return Nop{}, nil
	}
	if init == nil {
		init = sentry.Init
	}

	opts := sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          release,
		AttachStacktrace: true,
	}
	if err := init(opts); err != nil {
		return nil, fmt.Errorf("initialize sentry: %w", err)
	}
	return &hubReporter{hub: sentry.CurrentHub()}, nil
}

type hubReporter struct {
	hub *sentry.Hub
}

func (r *hubReporter) CaptureException(err error) {
	if err == nil {
		return
	}
	r.hub.CaptureException(err)
}

func (r *hubReporter) CaptureMessage(msg string) {
	r.hub.CaptureMessage(msg)
}

func (r *hubReporter) Recover(v any) {
	r.hub.Recover(v)
}

func (r *hubReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

// Nop discards everything.
type Nop struct{}

func (Nop) CaptureException(error) {}

func (Nop) CaptureMessage(string) {}

func (Nop) Recover(any) {}

func (Nop) Flush(time.Duration) bool { return true }
