// Package notify delivers operator alerts for pipeline events to chat
// channels. Alerts are filtered by event type so operators can mute the
// routine ones.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// Sender delivers one alert to a single channel.
type Sender interface {
	Send(ctx context.Context, alert Alert) error
	Name() string
}

// Severity grades an alert for rendering.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// Alert is a rendered notification.
type Alert struct {
	Event    string
	Severity Severity
	Title    string
	Message  string
}

// SeverityOf maps a pipeline event type to its alert severity. A tied
// dispute needs a governance decision and a failed submission leaves a
// market stuck, so both page as critical.
func SeverityOf(event string) Severity {
	switch event {
	case domain.EventSubmissionFailed, domain.EventDisputeTie:
		return SeverityCritical
	case domain.EventResolutionNoQuorum:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// DefaultEvents are the event types forwarded when none are configured.
var DefaultEvents = []string{
	domain.EventSubmissionFailed,
	domain.EventResolutionNoQuorum,
	domain.EventDisputeTie,
	domain.EventDisputeFinalized,
}

// Notifier dispatches alerts to every registered Sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier forwarding the given event types. An empty
// list selects DefaultEvents; a list containing "*" forwards everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if len(events) == 0 {
		events = DefaultEvents
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify sends an alert for event if the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.events["*"] && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, Alert{
		Event:    event,
		Severity: SeverityOf(event),
		Title:    title,
		Message:  message,
	})
}

// dispatch delivers to every sender; one failing sender does not stop the
// others.
func (n *Notifier) dispatch(ctx context.Context, alert Alert) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, alert); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", alert.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", alert.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
