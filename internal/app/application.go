// Package app wires the store, gatekeeper, hub, transport and status API
// into a runnable server.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"socialwall/internal/api"
	"socialwall/internal/backplane"
	"socialwall/internal/config"
	"socialwall/internal/hub"
	"socialwall/internal/logging"
	"socialwall/internal/observability"
	"socialwall/internal/session"
	"socialwall/internal/websocket"
	"socialwall/pkg/interfaces"
)

// Application owns every long-lived component.
// Startup order: store → gatekeeper → hub → transport → API → HTTP.
type Application struct {
	config *config.Config
	logger *slog.Logger

	store       Store
	hub         *hub.Hub
	wsHandler   *websocket.Handler
	apiServer   *api.Server
	httpServer  *http.Server
	obsServer   *observability.Server
	redis       *goredis.Client
	backplane   *backplane.Broadcaster
	broadcaster interfaces.Broadcaster

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewApplication builds the server around an already opened store.
func NewApplication(cfg *config.Config, store Store, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	app := &Application{
		config: cfg,
		logger: logger,
		store:  store,
	}

	hubOpts := []hub.Option{hub.WithLogger(logger)}
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		app.obsServer = observability.NewServer(cfg.Metrics.Addr, app.ready, logger)
		metrics = app.obsServer.Metrics()
		hubOpts = append(hubOpts, hub.WithMetrics(metrics))
	}

	app.hub = hub.New(cfg.HubConfig(), hubOpts...)
	gatekeeper := session.NewGatekeeper(store, store, logger)

	app.wsHandler = websocket.NewHandler(gatekeeper, app.hub, cfg.WebSocketConfig(), logger)
	if metrics != nil {
		app.wsHandler.SetRejectionRecorder(metrics)
	}

	app.broadcaster = app.hub
	if cfg.Redis.Enabled {
		app.redis = backplane.NewClient(cfg.RedisOptions())
		opts := backplane.Options{Channel: cfg.Redis.Channel, Logger: logger}
		if metrics != nil {
			opts.Recorder = metrics
		}
		app.backplane = backplane.New(app.redis, app.hub, opts)
		app.broadcaster = app.backplane
	}

	wsCfg := cfg.WebSocketConfig()
	app.apiServer = api.NewServer(app.hub, store, gatekeeper, api.Options{
		CookieName:     wsCfg.CookieName,
		AllowedOrigins: wsCfg.AllowedOrigins,
	}, logger)

	mux := http.NewServeMux()
	app.apiServer.Register(mux)
	app.wsHandler.Register(mux)

	app.httpServer = &http.Server{
		Addr:        cfg.ListenAddr(),
		Handler:     mux,
		ReadTimeout: cfg.HTTP.ReadTimeout,
		// WebSocket connections are hijacked, so the write timeout only
		// bounds API responses.
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return app, nil
}

// Broadcaster is the fan-out entry point for collaborators. With the Redis
// backplane enabled it reaches every replica.
func (app *Application) Broadcaster() interfaces.Broadcaster {
	return app.broadcaster
}

// Hub exposes the realtime hub.
func (app *Application) Hub() *hub.Hub {
	return app.hub
}

func (app *Application) ready() bool {
	if !app.hub.Running() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return app.store.HealthCheck(ctx) == nil
}

// Start initializes the hub and begins serving. It returns once the
// listener is bound.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.listener != nil {
		return oops.Code("APP_RUNNING").Errorf("application already started")
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return oops.Code("APP_LISTEN_FAILED").With("addr", app.httpServer.Addr).Wrap(err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if app.backplane != nil {
		if err := backplane.Ping(ctx, app.redis); err != nil {
			cancel()
			_ = listener.Close()
			return err
		}
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := app.backplane.Run(runCtx); err != nil {
				logging.LogError(app.logger, "backplane stopped", err)
			}
		}()
	}

	if app.obsServer != nil {
		errCh, err := app.obsServer.Start()
		if err != nil {
			cancel()
			_ = listener.Close()
			return err
		}
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			for err := range errCh {
				logging.LogError(app.logger, "observability server error", err)
			}
		}()
	}

	app.hub.Initialize(app.wsHandler)

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.purgeSessions(runCtx)
	}()

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.LogError(app.logger, "HTTP server error", oops.Code("APP_SERVE_FAILED").Wrap(err))
		}
	}()

	app.listener = listener
	app.cancel = cancel
	app.logger.Info("socialwall started",
		"addr", listener.Addr().String(),
		"store", app.config.Store.Driver,
		"backplane", app.backplane != nil,
		"metrics_addr", app.config.Metrics.Addr)
	return nil
}

// purgeSessions deletes expired session tokens on the sweep interval.
func (app *Application) purgeSessions(ctx context.Context) {
	ticker := time.NewTicker(app.config.Hub.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := app.store.DeleteExpiredSessions(ctx, now)
			if err != nil {
				if ctx.Err() == nil {
					logging.LogError(app.logger, "purging expired sessions failed", err)
				}
				continue
			}
			if n > 0 {
				app.logger.Info("purged expired sessions", "count", n)
			}
		}
	}
}

// Stop shuts the server down in reverse order: HTTP, hub, backplane,
// observability, store.
func (app *Application) Stop(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.logger.Info("shutting down socialwall")

	var errs []error
	if app.listener != nil {
		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, oops.Code("APP_SHUTDOWN_FAILED").With("component", "http").Wrap(err))
		}
	}

	app.hub.Shutdown()

	if app.cancel != nil {
		app.cancel()
	}
	if app.obsServer != nil {
		if err := app.obsServer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	app.wg.Wait()

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			errs = append(errs, oops.Code("APP_SHUTDOWN_FAILED").With("component", "redis").Wrap(err))
		}
	}
	if err := app.store.Close(); err != nil {
		errs = append(errs, err)
	}

	app.logger.Info("socialwall shutdown complete")
	return errors.Join(errs...)
}

// Addr is the bound listen address, or the configured one before Start.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
