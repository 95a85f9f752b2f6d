package service

import (
	"context"
	"log/slog"

	"github.com/lumehq/identity/internal/identity/domain"
	"github.com/lumehq/identity/pkg/slogx"
)

// Dispatcher delivers OTPs out of band. Email and SMS gateways live with
// the notification collaborator; this boundary keeps the core testable and
// deployable without one.
type Dispatcher interface {
	DispatchOTP(ctx context.Context, channel domain.VerificationChannel, destination, code string) error
}

// LogDispatcher writes delivery intents to the log instead of sending
// anything. It is the default in dev and test wiring. The code itself is
// logged only when IncludeCode is set, which the app layer ties to the dev
// environment.
type LogDispatcher struct {
	IncludeCode bool
}

func (d *LogDispatcher) DispatchOTP(ctx context.Context, channel domain.VerificationChannel, destination, code string) error {
	log := slogx.FromContext(ctx).With(
		slog.String("channel", string(channel)),
		slog.String("destination", maskDestination(destination)),
	)
	if d.IncludeCode {
		log.Info("otp dispatch (dev)", slog.String("code", code))
		return nil
	}
	log.Info("otp dispatch")
	return nil
}

// maskDestination keeps enough of an address to correlate log lines without
// storing the full destination in logs.
func maskDestination(dest string) string {
	if len(dest) <= 4 {
		return "****"
	}
	return "****" + dest[len(dest)-4:]
}
