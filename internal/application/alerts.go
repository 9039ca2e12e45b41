package application

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/eugenenazirov/sitekit/internal/api"
	"github.com/eugenenazirov/sitekit/internal/mail"
	"github.com/eugenenazirov/sitekit/internal/tasks"
)

// honeypotAlert logs a fake-admin login attempt and, when mail is configured,
// emails it to the default sender address.
func honeypotAlert(mailer *mail.Mailer, logger *zap.Logger) tasks.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) error {
		var attempt api.LoginAttempt
		if err := json.Unmarshal(payload, &attempt); err != nil {
			return fmt.Errorf("decode %s payload: %w", api.TaskHoneypotAlert, err)
		}
		logger.Info("honeypot alert",
			zap.String("username", attempt.Username),
			zap.String("remote_addr", attempt.RemoteAddr),
		)
		if mailer == nil {
			return nil
		}
		return mailer.Send(ctx, mail.Message{
			To:      []string{mailer.From()},
			Subject: "Admin honeypot login attempt",
			Body: fmt.Sprintf("Username: %s\nAddress: %s\nPath: %s\nUser agent: %s\nTime: %s\n",
				attempt.Username, attempt.RemoteAddr, attempt.Path, attempt.UserAgent,
				attempt.At.Format("2006-01-02 15:04:05 MST")),
		})
	}
}
