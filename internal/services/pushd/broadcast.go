package pushd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/seiryo-hall/dormpush/internal/domain/dispatch"
)

// BroadcastResult is what a broadcast trigger reports. AlreadySent is
// set when the ledger short-circuited the trigger; Sent/Total then echo
// the stored entry.
type BroadcastResult struct {
	Sent        int
	Total       int
	AlreadySent bool
	RecordedAt  time.Time
}

// Broadcast delivers the fixed payload for (date, typ) to every stored
// subscription, at most once per key. Ordering is the one invariant
// here: ledger check completes before any delivery starts, and the
// dispatch settles before the ledger is written.
func (s *Service) Broadcast(ctx context.Context, date time.Time, typ dispatch.EventType) (*BroadcastResult, error) {
	tmpl, ok := dispatch.TemplateFor(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}

	tr := otel.Tracer("pushd.broadcast")
	ctx, span := tr.Start(ctx, "pushd.broadcast",
		trace.WithAttributes(
			attribute.String("event.date", date.Format("2006-01-02")),
			attribute.String("event.type", string(typ)),
		),
	)
	defer span.End()

	prev, err := s.Ledger.GetByKey(ctx, date, typ)
	if err == nil {
		s.mDeduped.Inc()
		s.Log.Info("broadcast already sent",
			zap.String("date", date.Format("2006-01-02")),
			zap.String("type", string(typ)),
			zap.Int("sent", prev.SentCount),
		)
		return &BroadcastResult{
			Sent:        prev.SentCount,
			AlreadySent: true,
			RecordedAt:  prev.RecordedAt,
		}, nil
	}
	if !errors.Is(err, dispatch.ErrNotRecorded) {
		span.RecordError(err)
		return nil, fmt.Errorf("ledger lookup: %w", err)
	}

	subs, err := s.Subs.ListAll(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	// One serialization per dispatch; identical bytes to every
	// recipient, encryption happens per endpoint in the sender.
	payload, err := json.Marshal(tmpl)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	res := s.Disp.Dispatch(ctx, payload, subs)
	s.mBroadcasts.Inc()
	span.SetAttributes(
		attribute.Int("dispatch.sent", res.Sent),
		attribute.Int("dispatch.total", res.Total),
	)

	entry := &dispatch.LogEntry{
		EventDate:  date,
		EventType:  typ,
		SentCount:  res.Sent,
		RecordedAt: s.Now(),
	}
	if err := s.Ledger.Record(ctx, entry); err != nil {
		// Best-effort by design: a lost audit row is preferred over
		// failing a dispatch that already happened. A uniqueness
		// conflict just means a concurrent trigger recorded first.
		if errors.Is(err, dispatch.ErrAlreadyRecorded) {
			s.Log.Info("dispatch log already recorded by concurrent trigger",
				zap.String("date", date.Format("2006-01-02")),
				zap.String("type", string(typ)),
			)
		} else {
			s.Log.Warn("dispatch log write failed",
				zap.String("date", date.Format("2006-01-02")),
				zap.String("type", string(typ)),
				zap.Error(err),
			)
		}
	}

	return &BroadcastResult{Sent: res.Sent, Total: res.Total, RecordedAt: entry.RecordedAt}, nil
}
