// Package service puts the side effects around engine operations: cache
// maintenance, event publication, the audit log and operator notifications.
// The engine transaction is the source of truth; everything done here runs
// after it committed, and a failure is logged without failing the request.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// EventNotifier forwards events to operators.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, e domain.Event) error
}

// Publisher fans a committed event out to the bus, the durable stream, the
// audit log and the notifier. Any of them may be nil.
type Publisher struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier EventNotifier
	logger   *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(bus domain.SignalBus, audit domain.AuditStore, notifier EventNotifier, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "publisher")),
	}
}

// Emit publishes e. It never fails the caller.
func (p *Publisher) Emit(ctx context.Context, e domain.Event) {
	if p == nil {
		return
	}
	attrs := []any{slog.String("event", string(e.Type))}
	if e.MarketID != nil {
		attrs = append(attrs, slog.String("market_id", e.MarketID.String()))
	}

	if p.bus != nil {
		data, err := json.Marshal(e)
		if err != nil {
			p.logger.ErrorContext(ctx, "marshal event failed", append(attrs, slog.String("error", err.Error()))...)
			return
		}
		if err := p.bus.Publish(ctx, e.Channel(), data); err != nil {
			p.logger.WarnContext(ctx, "publish event failed", append(attrs, slog.String("error", err.Error()))...)
		}
		if err := p.bus.StreamAppend(ctx, domain.EventStream, data); err != nil {
			p.logger.WarnContext(ctx, "append event to stream failed", append(attrs, slog.String("error", err.Error()))...)
		}
	}

	if p.audit != nil {
		detail := map[string]any{
			"actor":  e.Actor.String(),
			"height": e.Height,
		}
		if e.MarketID != nil {
			detail["market_id"] = e.MarketID.String()
		}
		for k, v := range e.Payload {
			detail[k] = v
		}
		if err := p.audit.Log(ctx, string(e.Type), detail); err != nil {
			p.logger.WarnContext(ctx, "audit log failed", append(attrs, slog.String("error", err.Error()))...)
		}
	}

	if p.notifier != nil {
		if err := p.notifier.NotifyEvent(ctx, e); err != nil {
			p.logger.WarnContext(ctx, "notify failed", append(attrs, slog.String("error", err.Error()))...)
		}
	}
}

// amount renders a base-unit amount for event payloads. Amounts travel as
// decimal strings so no consumer rounds them through a float.
func amount(v uint64) string { return strconv.FormatUint(v, 10) }

func marketRef(id domain.MarketID) *domain.MarketID { return &id }
