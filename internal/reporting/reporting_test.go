package reporting

import (
	"errors"
	"testing"

	"github.com/getsentry/sentry-go"

	"github.com/eugenenazirov/sitekit/internal/config"
)

func TestSetupSkipsWithoutDSN(t *testing.T) {
	calls := 0
	reporter, err := Setup(config.ErrorReporting{Environment: "local"}, "", func(sentry.ClientOptions) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no client initialisation, got %d calls", calls)
	}
	if _, ok := reporter.(Nop); !ok {
		t.Fatalf("expected Nop reporter, got %T", reporter)
	}
}

func TestSetupInitialisesOnceWithEnvironment(t *testing.T) {
	var got []sentry.ClientOptions
	cfg := config.ErrorReporting{DSN: "https://public@sentry.example.com/1", Environment: "staging"}

	reporter, err := Setup(cfg, "v1.2.3", func(opts sentry.ClientOptions) error {
		got = append(got, opts)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reporter == nil {
		t.Fatalf("expected reporter")
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one initialisation, got %d", len(got))
	}
	if got[0].Dsn != cfg.DSN || got[0].Environment != "staging" || got[0].Release != "v1.2.3" {
		t.Fatalf("unexpected client options %+v", got[0])
	}
}

func TestSetupPropagatesInitError(t *testing.T) {
	cfg := config.ErrorReporting{DSN: "not a dsn", Environment: "local"}
	_, err := Setup(cfg, "", func(sentry.ClientOptions) error {
		return errors.New("bad dsn")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestSetupWithSentryClient(t *testing.T) {
	t.Cleanup(func() {
		sentry.CurrentHub().BindClient(nil)
	})

	cfg := config.ErrorReporting{DSN: "https://public@sentry.example.com/42", Environment: "staging"}
	reporter, err := Setup(cfg, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	client := sentry.CurrentHub().Client()
	if client == nil {
		t.Fatalf("expected global client to be bound")
	}
	if env := client.Options().Environment; env != "staging" {
		t.Fatalf("expected environment staging, got %s", env)
	}
	reporter.CaptureException(nil)
}

func TestSetupRejectsMalformedDSN(t *testing.T) {
	t.Cleanup(func() {
		sentry.CurrentHub().BindClient(nil)
	})

	if _, err := Setup(config.ErrorReporting{DSN: "::not-a-dsn::"}, "", nil); err == nil {
		t.Fatalf("expected malformed DSN to fail")
	}
}
