// Package app wires all Sahaya subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// the bot sessions down. For testing, inject doubles via functional options
// (WithMinter, WithLogger, WithMetrics); when an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sahaya-ai/sahaya/internal/api"
	"github.com/sahaya-ai/sahaya/internal/bot"
	"github.com/sahaya-ai/sahaya/internal/config"
	"github.com/sahaya-ai/sahaya/internal/conv"
	"github.com/sahaya-ai/sahaya/internal/escalate"
	"github.com/sahaya-ai/sahaya/internal/events"
	"github.com/sahaya-ai/sahaya/internal/handoff"
	"github.com/sahaya-ai/sahaya/internal/health"
	"github.com/sahaya-ai/sahaya/internal/nlu"
	"github.com/sahaya-ai/sahaya/internal/notify"
	"github.com/sahaya-ai/sahaya/internal/observe"
	"github.com/sahaya-ai/sahaya/internal/pipeline"
	"github.com/sahaya-ai/sahaya/pkg/rtctoken"
)

// httpShutdownTimeout bounds the drain of in-flight requests when Run winds
// down the HTTP server.
const httpShutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	log *slog.Logger

	metrics  *observe.Metrics
	minter   handoff.TokenMinter
	tracker  *conv.Tracker
	notifier *notify.Notifier
	manager  *handoff.Manager
	emitter  *events.Emitter
	adapter  *pipeline.Adapter
	bots     *bot.Manager
	hub      *api.Hub

	httpSrv  *http.Server
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger; defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithMetrics sets the metrics sink; defaults to [observe.DefaultMetrics].
func WithMetrics(metrics *observe.Metrics) Option {
	return func(a *App) { a.metrics = metrics }
}

// WithMinter injects a token minter instead of building one from the room
// credentials.
func WithMinter(m handoff.TokenMinter) Option {
	return func(a *App) { a.minter = m }
}

// New creates an App by wiring all subsystems together.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	if a.minter == nil {
		minter, err := rtctoken.New(cfg.Room.APIKey, cfg.Room.APISecret)
		if err != nil {
			return nil, fmt.Errorf("app: room token minter: %w", err)
		}
		a.minter = minter
	}

	a.notifier = notify.New(a.log, a.metrics)
	a.tracker = conv.NewTracker(nlu.New(), a.log)

	a.manager = handoff.New(a.minter, cfg.Room.JoinURL, a.notifier,
		handoff.WithLogger(a.log),
		handoff.WithMetrics(a.metrics),
		handoff.WithTokenTTL(time.Duration(cfg.Room.TokenTTLSeconds)*time.Second),
	)

	a.hub = api.NewHub(a.manager, a.log, a.metrics)
	a.notifier.Subscribe(a.hub)

	if cfg.Backend.URL != "" {
		a.emitter = events.New(cfg.Backend.URL,
			events.WithAuthToken(cfg.Backend.AuthToken),
			events.WithLogger(a.log),
			events.WithMetrics(a.metrics),
		)
		a.notifier.Subscribe(a.emitter)
	}

	a.adapter = pipeline.NewAdapter(a.tracker, escalate.New(a.log), a.manager,
		pipeline.WithLogger(a.log),
		pipeline.WithMetrics(a.metrics),
	)

	botOpts := []bot.Option{bot.WithLogger(a.log), bot.WithMetrics(a.metrics)}
	if a.emitter != nil {
		botOpts = append(botOpts, bot.WithEmitter(a.emitter))
	}
	a.bots = bot.New(a.adapter, botOpts...)

	mux := http.NewServeMux()
	api.NewServer(a.manager, a.tracker, a.bots, a.hub, a.log).Register(mux)

	var checks []health.Checker
	if cfg.Backend.URL != "" {
		checks = append(checks, health.PingChecker("backend", cfg.Backend.URL, nil))
	}
	health.New(checks...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Handler exposes the composed HTTP handler. Test use.
func (a *App) Handler() http.Handler {
	return a.httpSrv.Handler
}

// Queue exposes the handoff manager. Test use.
func (a *App) Queue() *handoff.Manager {
	return a.manager
}

// Run serves HTTP and runs queue housekeeping until ctx is cancelled. It
// returns nil on a clean, signal-driven exit.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server listening", "addr", a.cfg.Server.ListenAddr)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return a.httpSrv.Shutdown(shutdownCtx)
	})

	if interval := a.cfg.Queue.StatsIntervalSeconds; interval > 0 {
		g.Go(func() error {
			a.sampleQueueStats(ctx, time.Duration(interval)*time.Second)
			return nil
		})
	}

	return g.Wait()
}

// sampleQueueStats logs the queue picture periodically so operators can
// trend wait times without scraping metrics.
func (a *App) sampleQueueStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := a.manager.Stats()
			a.log.Debug("handoff queue sampled",
				"total", stats.Total,
				"urgent", stats.ByPriority["urgent"],
				"high", stats.ByPriority["high"],
				"medium", stats.ByPriority["medium"],
				"low", stats.ByPriority["low"],
				"avg_wait_seconds", stats.AvgWaitSeconds,
				"active", a.manager.ActiveCount(),
				"bots", a.bots.Count(),
			)
		}
	}
}

// Shutdown stops every bot session; each is bounded by the pipeline's drain
// timeout. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.bots.Shutdown(ctx)
		a.log.Info("shutdown complete")
	})
	return ctx.Err()
}
