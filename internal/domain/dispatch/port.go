package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/seiryo-hall/dormpush/internal/domain/subscription"
)

var (
	// ErrNotRecorded is returned by Ledger.GetByKey when no dispatch has
	// been recorded for the key.
	ErrNotRecorded = errors.New("dispatch not recorded")
	// ErrAlreadyRecorded is returned by Ledger.Record when another
	// trigger won the race for the same key.
	ErrAlreadyRecorded = errors.New("dispatch already recorded")
)

// Ledger is the idempotency record for broadcast events. Entries are
// append-only; Record for an existing key fails with ErrAlreadyRecorded.
type Ledger interface {
	GetByKey(ctx context.Context, date time.Time, typ EventType) (*LogEntry, error)
	Record(ctx context.Context, e *LogEntry) error
}

// Sender delivers one serialized payload to one subscription and
// classifies the outcome. A single attempt, no retry.
type Sender interface {
	Send(ctx context.Context, sub *subscription.Subscription, payload []byte) Outcome
}
