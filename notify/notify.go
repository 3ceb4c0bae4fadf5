// Outbound notifications about moderation events, for humans (moderator chat channels) and for content owners.
//
// Delivery transport is pluggable; failures are returned to the caller, which logs them and moves on. A notification is never a reason to fail a committed state transition.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type Kind string

const (
	KindAutoRejected   Kind = "auto-rejected"
	KindNeedsReview    Kind = "needs-review"
	KindAppealDecision Kind = "appeal-decision"
)

type Message struct {
	Kind Kind
	// target user, if the message is user-facing
	UserID  string
	Subject string
	Body    string
	// extra structured context (content ref, ids)
	Fields map[string]string
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Writes notifications to the log. Default when no transport is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, msg Message) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "kind", msg.Kind, "user", msg.UserID, "subject", msg.Subject, "fields", msg.Fields)
	return nil
}

// Fans a message out to every notifier, returning all errors joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", n, err))
		}
	}
	return errors.Join(errs...)
}
