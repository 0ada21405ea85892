// Package app wires the courier server runtime: config, logging, storage, HTTP routes, and the realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"courier/cmd/internal/auth/token"
	"courier/cmd/internal/chatapi"
	"courier/cmd/internal/db/migrate"
	"courier/cmd/internal/eventbus"
	"courier/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const tracerName = "courier/realtime"

// closer is a resource released on shutdown, in reverse acquisition order.
type closer struct {
	name  string
	close func(ctx context.Context) error
}

// App is the courier server runtime: it owns the HTTP server and every component behind it.
type App struct {
	cfg Config
	log Logger

	closers []closer

	dbPool  *pgxpool.Pool
	metrics *prometheus.Registry

	presence *realtime.Presence
	engine   *realtime.Engine
	ws       *realtime.WSGateway
	chat     *chatapi.Handler
}

// New constructs a fully wired App instance from config and logger.
// On error every resource acquired so far is released.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}

	a := &App{cfg: cfg, log: log, metrics: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := realtime.NewMetrics(a.metrics)
	if err != nil {
		return nil, err
	}

	tel, err := NewTelemetry(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	a.track("telemetry", tel.Shutdown)
	if cfg.OTLPEndpoint != "" {
		tel.SetGlobal()
		log.Info("telemetry.enabled", "endpoint", cfg.OTLPEndpoint)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	mirror, err := a.openEventBus(ctx)
	if err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(cfg.TokenConfig())
	if err != nil {
		return nil, fmt.Errorf("app: credentials: %w", err)
	}

	reg := realtime.NewRegistry()
	a.presence = realtime.NewPresence(log, reg,
		realtime.WithPresenceMetrics(metrics),
		realtime.WithPresenceEvents(mirror),
	)
	a.engine = realtime.NewEngine(log, store, reg,
		realtime.WithMaxMessageChars(cfg.MaxMessageChars),
		realtime.WithSeenReceiptsOnRead(cfg.SeenReceiptsOnRead),
		realtime.WithStoreTimeout(cfg.StoreTimeout),
		realtime.WithMetrics(metrics),
		realtime.WithEvents(mirror),
		realtime.WithTracer(tel.TracerProvider.Tracer(tracerName)),
	)

	a.ws, err = realtime.NewWSGateway(log, tokens, a.presence, a.engine, cfg.GatewayConfig())
	if err != nil {
		return nil, err
	}
	a.chat, err = chatapi.NewHandler(log, tokens, a.engine, a.presence)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// openStore selects the message store backend named by cfg.Store.
func (a *App) openStore(ctx context.Context) (realtime.MessageStore, error) {
	switch a.cfg.Store {
	case StorePostgres:
		if a.cfg.AutoMigrate {
			if err := migrate.Run(a.cfg.DatabaseURL, migrate.Up); err != nil {
				return nil, fmt.Errorf("app: migrate: %w", err)
			}
			a.log.Info("db.migrated")
		}
		pool, err := NewDBPool(ctx, a.cfg, a.log)
		if err != nil {
			return nil, fmt.Errorf("app: postgres: %w", err)
		}
		// The app owns the pool; PostgresStore.Close is a no-op.
		a.dbPool = pool
		a.track("postgres", func(context.Context) error { pool.Close(); return nil })

		st, err := realtime.NewPostgresStore(pool)
		if err != nil {
			return nil, err
		}
		a.log.Info("store.postgres")
		return st, nil

	case StoreBadger:
		st, err := realtime.OpenBadgerStore(a.cfg.BadgerPath)
		if err != nil {
			return nil, fmt.Errorf("app: badger: %w", err)
		}
		a.track("badger", func(context.Context) error { return st.Close() })
		a.log.Info("store.badger", "path", a.cfg.BadgerPath)
		return st, nil

	default:
		a.log.Warn("store.memory", "note", "messages are lost on restart")
		return realtime.NewInMemoryStore(), nil
	}
}

// openEventBus mirrors realtime events to NATS when configured, otherwise to an in-process bus.
func (a *App) openEventBus(ctx context.Context) (*eventbus.Mirror, error) {
	var bus eventbus.Messenger
	if a.cfg.NATSURL != "" {
		nc, err := eventbus.ConnectNATS(ctx, a.log, a.cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		bus = nc
		a.track("nats", func(context.Context) error { return nc.Close() })
		a.log.Info("eventbus.nats.enabled", "prefix", a.cfg.NATSSubjectPrefix)
	} else {
		inmem := eventbus.NewInMem()
		bus = inmem
		a.track("eventbus", func(context.Context) error { return inmem.Close() })
	}

	mirror := eventbus.NewMirror(a.log, bus, a.cfg.NATSSubjectPrefix)
	if a.cfg.EventsLog {
		tapCtx, stop := context.WithCancel(context.Background())
		a.track("eventbus.tap", func(context.Context) error { stop(); return nil })
		if err := mirror.Tap(tapCtx, a.log); err != nil {
			return nil, err
		}
	}
	return mirror, nil
}

func (a *App) track(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

func (a *App) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(ctx); err != nil {
			a.log.Error("resource.close.fail", "resource", c.name, "err", err)
		}
	}
	a.closers = nil
}

// Handler returns the full HTTP surface with middleware applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.metrics, a.ws, a.chat)
	return WithRequestLogging(WithSecurityHeaders(mux), a.log)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
// Resources are released before it returns.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"store", a.cfg.Store,
		"http", base,
		"ws", a.cfg.WebSocketURL(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if runErr == nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			runErr = err
		}
	}

	a.close(shutdownCtx)
	a.log.Info("server.stopped")
	return runErr
}

// Close releases resources without running the server.
func (a *App) Close(ctx context.Context) {
	a.close(ctx)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
