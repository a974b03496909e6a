package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	config "github.com/seiryo-hall/dormpush/internal/config/pushd"
	"github.com/seiryo-hall/dormpush/internal/obs"
	"github.com/seiryo-hall/dormpush/internal/push"
	pg "github.com/seiryo-hall/dormpush/internal/repository/postgres"
	"github.com/seiryo-hall/dormpush/internal/services/pushd"
)

func wiring(db *pg.DB, sender *push.Sender, l *zap.Logger) (*pushd.Server, *pushd.Dispatcher) {
	subs := pg.NewSubscriptionRepo(db)
	ledger := pg.NewDispatchLogRepo(db)

	disp := pushd.NewDispatcher(l, sender, subs, prometheus.DefaultRegisterer)
	svc := pushd.NewService(l, subs, ledger, disp, prometheus.DefaultRegisterer)

	srv := pushd.NewServer(l, svc, subs, sender.PublicKey(), func(ctx context.Context) error {
		return db.Pool.Ping(ctx)
	})
	return srv, disp
}

func main() {
	// init
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/pushd.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig())
	if err != nil {
		log.Fatal(err)
	}

	l.Info("starting pushd",
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
	)

	// otel
	otelCloser, err := obs.SetupOTel(rootCtx, cfg.OTEL.AsOTELConfig())
	if err != nil {
		l.Warn("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// push sender; fails closed without a VAPID key pair
	sender, err := push.New(cfg.Push.AsSenderConfig())
	if err != nil {
		l.Fatal("push sender init", zap.Error(err))
	}
	sender = sender.WithLogger(l)

	// db
	db, err := pg.New(rootCtx, cfg.DB.AsDBConfig())
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	l.Info("db connected")

	// metrics
	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, func(ctx context.Context) error {
		hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		return db.Pool.Ping(hctx)
	}, l)

	// http
	srv, disp := wiring(db, sender, l)
	httpSrv := srv.BuildHTTPServer(pushd.ServerConfig{
		Addr:         cfg.Server.HTTPAddr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		l.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
		errCh <- httpSrv.ListenAndServe()
	}()

	// main loop
	select {
	case <-rootCtx.Done():
		l.Info("shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("http server error", zap.Error(err))
		}
	}

	// graceful shutdown: stop serving, then let pending prunes settle
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shCtx)
	disp.WaitPrunes()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
