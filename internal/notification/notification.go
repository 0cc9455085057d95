package notification

import (
	"context"
	"log/slog"
)

const (
	// KindVerificationCode is an SMS carrying a one-time code.
	KindVerificationCode = "verification_code"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
	// Params carries template variables for gateways that render server-side
	// templates instead of a raw body.
	Params map[string]string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// Deliver sends message through n and reports whether it was accepted.
// Delivery is best effort: errors are logged and swallowed.
func Deliver(ctx context.Context, n Notifier, logger *slog.Logger, message Message) bool {
	if n == nil {
		return false
	}
	if err := n.Send(ctx, message); err != nil {
		if logger != nil {
			logger.Warn("notification delivery failed",
				slog.String("kind", message.Kind),
				slog.String("destination", Mask(message.Destination)),
				slog.Any("error", err),
			)
		}
		return false
	}
	return true
}

// Mask hides the middle of a phone number for logs.
func Mask(phone string) string {
	if len(phone) < 7 {
		return "****"
	}
	return phone[:3] + "****" + phone[len(phone)-4:]
}

// LoggerNotifier is a development stub that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}
