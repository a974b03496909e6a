package pushd

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seiryo-hall/dormpush/internal/domain/dispatch"
	"github.com/seiryo-hall/dormpush/internal/domain/subscription"
)

type fakeSender struct {
	mu       sync.Mutex
	calls    int
	payloads [][]byte
	// outcomes is keyed by subscription id; missing ids succeed.
	outcomes map[string]dispatch.Outcome
}

func (f *fakeSender) Send(_ context.Context, sub *subscription.Subscription, payload []byte) dispatch.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.payloads = append(f.payloads, payload)
	if o, ok := f.outcomes[sub.ID]; ok {
		o.SubscriptionID = sub.ID
		return o
	}
	return dispatch.Outcome{SubscriptionID: sub.ID, OK: true, StatusCode: 201}
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSender) lastPayload() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return nil
	}
	return f.payloads[len(f.payloads)-1]
}

type fakeSubRepo struct {
	mu      sync.Mutex
	subs    []*subscription.Subscription
	removed []string
	listErr error
}

func (f *fakeSubRepo) Create(_ context.Context, s *subscription.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = time.Now()
	f.subs = append(f.subs, s)
	return nil
}

func (f *fakeSubRepo) ListByStudent(_ context.Context, studentID string) ([]*subscription.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*subscription.Subscription
	for _, s := range f.subs {
		if s.StudentID == studentID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSubRepo) ListAll(_ context.Context) ([]*subscription.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]*subscription.Subscription(nil), f.subs...), nil
}

func (f *fakeSubRepo) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	for i, s := range f.subs {
		if s.ID == id {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeSubRepo) removedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func (f *fakeSubRepo) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.ID == id {
			return true
		}
	}
	return false
}

type fakeLedger struct {
	mu       sync.Mutex
	entries  map[string]*dispatch.LogEntry
	getCalls int
	getErr   error
	// recordErr, when set, fails every Record; forceConflict makes
	// Record report a concurrent writer even though GetByKey saw nothing.
	recordErr     error
	forceConflict bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: map[string]*dispatch.LogEntry{}}
}

func ledgerKey(date time.Time, typ dispatch.EventType) string {
	return date.Format("2006-01-02") + "|" + string(typ)
}

func (f *fakeLedger) GetByKey(_ context.Context, date time.Time, typ dispatch.EventType) (*dispatch.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	if e, ok := f.entries[ledgerKey(date, typ)]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, dispatch.ErrNotRecorded
}

func (f *fakeLedger) Record(_ context.Context, e *dispatch.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	key := ledgerKey(e.EventDate, e.EventType)
	if f.forceConflict {
		return dispatch.ErrAlreadyRecorded
	}
	if _, ok := f.entries[key]; ok {
		return dispatch.ErrAlreadyRecorded
	}
	e.RecordedAt = time.Now()
	cp := *e
	f.entries[key] = &cp
	return nil
}

func (f *fakeLedger) entryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func sub(id, studentID string) *subscription.Subscription {
	return &subscription.Subscription{
		ID:        id,
		StudentID: studentID,
		Endpoint:  "https://push.example.org/reg/" + id,
		Keys:      subscription.Keys{P256dh: "p256dh-" + id, Auth: "auth-" + id},
	}
}
