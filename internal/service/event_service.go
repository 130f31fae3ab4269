package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// Alerter forwards an event to operators. notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// EventService fans a pipeline event out to the signal bus, the durable
// event stream and the operator notifier. Every sink is optional.
type EventService struct {
	bus     domain.SignalBus
	alerter Alerter
	logger  *slog.Logger
	now     func() time.Time
}

// NewEventService creates an EventService. bus and alerter may be nil.
func NewEventService(bus domain.SignalBus, alerter Alerter, logger *slog.Logger) *EventService {
	return &EventService{
		bus:     bus,
		alerter: alerter,
		logger:  logger.With(slog.String("component", "events")),
		now:     time.Now,
	}
}

// Emit publishes ev. Sink failures are logged and never returned; the
// pipeline does not stall on observability.
func (s *EventService) Emit(ctx context.Context, ev domain.PipelineEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}

	if s.bus != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.WarnContext(ctx, "encode event failed",
				slog.String("type", ev.Type),
				slog.String("error", err.Error()),
			)
		} else {
			if pubErr := s.bus.Publish(ctx, domain.ChannelPipeline, payload); pubErr != nil {
				s.logger.WarnContext(ctx, "publish event failed",
					slog.String("type", ev.Type),
					slog.String("market_id", ev.MarketID),
					slog.String("error", pubErr.Error()),
				)
			}
			if appErr := s.bus.StreamAppend(ctx, domain.StreamPipeline, payload); appErr != nil {
				s.logger.WarnContext(ctx, "append event stream failed",
					slog.String("type", ev.Type),
					slog.String("error", appErr.Error()),
				)
			}
		}
	}

	if s.alerter != nil {
		if err := s.alerter.Notify(ctx, ev.Type, Title(ev), Message(ev)); err != nil {
			s.logger.WarnContext(ctx, "notify failed",
				slog.String("type", ev.Type),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Title renders a one-line operator headline for ev.
func Title(ev domain.PipelineEvent) string {
	switch ev.Type {
	case domain.EventResolutionSubmitted:
		return "Market " + ev.MarketID + " resolved"
	case domain.EventResolutionNoQuorum:
		return "Market " + ev.MarketID + ": no quorum"
	case domain.EventSubmissionFailed:
		return "Market " + ev.MarketID + ": submission failed"
	case domain.EventDisputeFinalized:
		return "Dispute on market " + ev.MarketID + " finalized"
	case domain.EventDisputeTie:
		return "Dispute on market " + ev.MarketID + " tied, governance action needed"
	default:
		return ev.Type + " " + ev.MarketID
	}
}

// Message renders ev's data as sorted key=value lines.
func Message(ev domain.PipelineEvent) string {
	keys := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, ev.Data[k])
	}
	return strings.TrimSuffix(b.String(), "\n")
}
