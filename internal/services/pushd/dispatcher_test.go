package pushd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seiryo-hall/dormpush/internal/domain/dispatch"
)

func TestDispatch_PartialFailureIsolation(t *testing.T) {
	subs := &fakeSubRepo{}
	for _, id := range []string{"s1", "s2", "s3", "s4", "s5"} {
		require.NoError(t, subs.Create(context.Background(), sub(id, "stu-1")))
	}
	sender := &fakeSender{outcomes: map[string]dispatch.Outcome{
		"s2": {Kind: dispatch.FailureExpired, StatusCode: 410},
		"s3": {Kind: dispatch.FailureExpired, StatusCode: 404},
		"s4": {Kind: dispatch.FailureTransient, StatusCode: 500},
	}}

	d := NewDispatcher(zap.NewNop(), sender, subs, nil)
	all, err := subs.ListAll(context.Background())
	require.NoError(t, err)

	res := d.Dispatch(context.Background(), []byte(`{}`), all)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 5, sender.callCount())

	// pruning is fire-and-forget; settle it before asserting
	d.WaitPrunes()
	assert.ElementsMatch(t, []string{"s2", "s3"}, subs.removedIDs())
	assert.True(t, subs.has("s4"), "transient failure must not prune")
	assert.True(t, subs.has("s1"))
}

func TestDispatch_EmptySetIsSuccess(t *testing.T) {
	d := NewDispatcher(zap.NewNop(), &fakeSender{}, &fakeSubRepo{}, nil)
	res := d.Dispatch(context.Background(), []byte(`{}`), nil)
	assert.Equal(t, dispatch.Result{Sent: 0, Total: 0}, res)
}

func TestDispatch_PruneIsIdempotent(t *testing.T) {
	subs := &fakeSubRepo{}
	require.NoError(t, subs.Create(context.Background(), sub("dead", "stu-1")))
	sender := &fakeSender{outcomes: map[string]dispatch.Outcome{
		"dead": {Kind: dispatch.FailureExpired, StatusCode: 410},
	}}
	d := NewDispatcher(zap.NewNop(), sender, subs, nil)

	all, err := subs.ListAll(context.Background())
	require.NoError(t, err)

	// two dispatches race the same expired endpoint; the second removal
	// hits an already-absent id and still succeeds
	d.Dispatch(context.Background(), []byte(`{}`), all)
	d.Dispatch(context.Background(), []byte(`{}`), all)
	d.WaitPrunes()

	assert.Len(t, subs.removedIDs(), 2)
	assert.False(t, subs.has("dead"))
}
