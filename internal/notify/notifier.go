// Package notify fans settlement events out to operator chat channels.
// Senders receive a rendered title and body; the Notifier decides which
// event types are worth a message.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name returns a short identifier such as "telegram".
	Name() string
}

// DefaultEvents are the event types forwarded when none are configured.
var DefaultEvents = []domain.EventType{
	domain.EventMarketResolved,
	domain.EventFeesWithdrawn,
	domain.EventSettingsChanged,
}

// Notifier dispatches events to every registered Sender.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	format  Formatter
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only events whose type appears in events
// are forwarded; an empty list means DefaultEvents.
func NewNotifier(senders []Sender, events []string, format Formatter, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool)
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	if len(allowed) == 0 {
		for _, e := range DefaultEvents {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		format:  format,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// NotifyEvent renders e and sends it if its type is allowed.
func (n *Notifier) NotifyEvent(ctx context.Context, e domain.Event) error {
	if !n.Enabled() {
		return nil
	}
	if !n.events[e.Type] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", string(e.Type)),
		)
		return nil
	}
	title, body := n.format.Render(e)
	return n.dispatch(ctx, title, body)
}

// NotifyAll sends a free-form message to all senders regardless of filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender; one failing sender does not stop the
// others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
