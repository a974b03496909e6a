// Package pushd implements the notification dispatch pipeline: the
// fan-out dispatcher, the broadcast and summon triggers, and the HTTP
// surface they are exposed on.
package pushd

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/seiryo-hall/dormpush/internal/domain/dispatch"
	"github.com/seiryo-hall/dormpush/internal/domain/subscription"
)

var (
	ErrInvalidType = errors.New("unknown event type")
	// ErrNoSubscription distinguishes "student has no registered device"
	// from a transport or store failure.
	ErrNoSubscription = errors.New("no subscription")
)

type Clock func() time.Time

// Service holds the two trigger call sites. Both share the dispatcher
// and the subscription store; only the broadcast path consults the
// ledger.
type Service struct {
	Log    *zap.Logger
	Subs   subscription.Repo
	Ledger dispatch.Ledger
	Disp   *Dispatcher
	Now    Clock

	mBroadcasts prometheus.Counter
	mDeduped    prometheus.Counter
	mSummons    prometheus.Counter
}

func NewService(log *zap.Logger, subs subscription.Repo, ledger dispatch.Ledger, disp *Dispatcher, reg prometheus.Registerer) *Service {
	f := promauto.With(reg)
	return &Service{
		Log:    log.With(zap.String("component", "pushd.service")),
		Subs:   subs,
		Ledger: ledger,
		Disp:   disp,
		Now:    func() time.Time { return time.Now().UTC() },
		mBroadcasts: f.NewCounter(prometheus.CounterOpts{
			Name: "pushd_broadcasts_total", Help: "Broadcast dispatches performed",
		}),
		mDeduped: f.NewCounter(prometheus.CounterOpts{
			Name: "pushd_broadcasts_deduped_total", Help: "Broadcast triggers short-circuited by the ledger",
		}),
		mSummons: f.NewCounter(prometheus.CounterOpts{
			Name: "pushd_summons_total", Help: "Summon dispatches performed",
		}),
	}
}
