package pushd

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/seiryo-hall/dormpush/internal/domain/dispatch"
	"github.com/seiryo-hall/dormpush/internal/domain/subscription"
)

const pruneTimeout = 5 * time.Second

// Dispatcher fans one serialized payload out to a set of subscriptions.
// Deliveries run concurrently, one goroutine per endpoint; the audience
// is tens to low hundreds of devices, so no cap is applied. A dispatch
// always settles every attempt — a failing recipient never aborts
// delivery to the rest.
type Dispatcher struct {
	log    *zap.Logger
	sender dispatch.Sender
	subs   subscription.Repo

	prunes sync.WaitGroup

	mDelivered prometheus.Counter
	mExpired   prometheus.Counter
	mTransient prometheus.Counter
	mPruned    prometheus.Counter
	mPruneErr  prometheus.Counter
}

func NewDispatcher(log *zap.Logger, sender dispatch.Sender, subs subscription.Repo, reg prometheus.Registerer) *Dispatcher {
	f := promauto.With(reg)
	return &Dispatcher{
		log:    log.With(zap.String("component", "pushd.dispatcher")),
		sender: sender,
		subs:   subs,
		mDelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "pushd_deliveries_total", Help: "Successful push deliveries",
		}),
		mExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "pushd_deliveries_expired_total", Help: "Deliveries rejected with 404/410",
		}),
		mTransient: f.NewCounter(prometheus.CounterOpts{
			Name: "pushd_deliveries_transient_total", Help: "Deliveries failed transiently",
		}),
		mPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "pushd_subscriptions_pruned_total", Help: "Expired subscriptions removed",
		}),
		mPruneErr: f.NewCounter(prometheus.CounterOpts{
			Name: "pushd_prune_errors_total", Help: "Failed subscription removals",
		}),
	}
}

// Dispatch delivers payload to every subscription and waits for all
// attempts to settle. Expired endpoints are handed to background
// pruning; the returned result does not wait on those removals.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte, subs []*subscription.Subscription) dispatch.Result {
	outcomes := make([]dispatch.Outcome, len(subs))

	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub *subscription.Subscription) {
			defer wg.Done()
			outcomes[i] = d.sender.Send(ctx, sub, payload)
		}(i, sub)
	}
	wg.Wait()

	res := dispatch.Result{Total: len(subs)}
	for _, o := range outcomes {
		switch {
		case o.OK:
			res.Sent++
			d.mDelivered.Inc()
		case o.Kind == dispatch.FailureExpired:
			d.mExpired.Inc()
			d.prune(ctx, o.SubscriptionID)
		default:
			d.mTransient.Inc()
		}
	}

	d.log.Info("dispatch settled",
		zap.Int("sent", res.Sent),
		zap.Int("total", res.Total),
	)
	return res
}

// prune removes one expired subscription in the background. The removal
// outlives the request context so a response sent early cannot cancel
// it; failure is logged, never propagated.
func (d *Dispatcher) prune(ctx context.Context, id string) {
	d.prunes.Add(1)
	go func() {
		defer d.prunes.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pruneTimeout)
		defer cancel()
		if err := d.subs.Remove(pctx, id); err != nil {
			d.mPruneErr.Inc()
			d.log.Warn("prune failed", zap.String("subscription_id", id), zap.Error(err))
			return
		}
		d.mPruned.Inc()
		d.log.Info("subscription pruned", zap.String("subscription_id", id))
	}()
}

// WaitPrunes blocks until all background removals spawned so far have
// finished. Used on shutdown and by tests.
func (d *Dispatcher) WaitPrunes() { d.prunes.Wait() }
