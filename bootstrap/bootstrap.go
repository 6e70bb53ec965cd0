// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bracketai/usagegate/adapters/access"
	aliasadapter "github.com/bracketai/usagegate/adapters/alias"
	"github.com/bracketai/usagegate/adapters/clock"
	gatehttp "github.com/bracketai/usagegate/adapters/http"
	"github.com/bracketai/usagegate/adapters/idgen"
	"github.com/bracketai/usagegate/adapters/logstore"
	"github.com/bracketai/usagegate/adapters/metrics"
	"github.com/bracketai/usagegate/adapters/sqlite"
	"github.com/bracketai/usagegate/app"
	"github.com/bracketai/usagegate/config"
	"github.com/bracketai/usagegate/ports"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	reports  *app.ReportService
	resolver *aliasadapter.Resolver
	db       *sqlite.DB
}

// New creates and initializes the application from loaded configuration.
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("initializing usagegate")

	a := &App{
		Logger: logger,
		Config: cfg,
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		logger.Info().Str("path", cfg.Metrics.Path).Msg("prometheus metrics enabled")
	}

	clk := clock.Real{}

	src, err := a.buildSource(clk)
	if err != nil {
		return nil, fmt.Errorf("init log source: %w", err)
	}

	resolver, err := a.buildAliasResolver()
	if err != nil {
		return nil, fmt.Errorf("init alias resolver: %w", err)
	}

	cache := app.NewReportCache(clk,
		time.Duration(cfg.Cache.TTLSeconds)*time.Second,
		cfg.Cache.ComputeBudget)

	a.reports = app.NewReportService(src, resolver, cache, clk, logger, a.Metrics,
		app.ReportConfig{
			DefaultWindowHours: cfg.Window.DefaultHours,
			EventLimit:         cfg.Source.EventLimit,
		})

	verifier := access.New(access.Config{
		TeamDomain:    cfg.Access.TeamDomain,
		Audience:      cfg.Access.Audience,
		ServiceID:     cfg.Access.ServiceID,
		ServiceSecret: cfg.Access.ServiceSecret,
		KeysTTL:       cfg.Access.KeysTTL,
	}, clk, logger)

	var limiter *rate.Limiter
	if cfg.RateLimit.Enabled {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	router := gatehttp.NewRouter(gatehttp.Deps{
		Reports:       a.reports,
		Verifier:      verifier,
		IDs:           idgen.UUID{},
		Logger:        logger,
		Metrics:       a.Metrics,
		AccessEnabled: cfg.Access.Enabled,
		SkipPaths:     cfg.Access.SkipPaths,
		RateLimit:     limiter,
		MetricsPath:   metricsPath,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info().Str("addr", addr).Msg("http server configured")
	return a, nil
}

// buildSource selects the log source from configuration.
func (a *App) buildSource(clk ports.Clock) (ports.LogSource, error) {
	cfg := a.Config.Source

	switch cfg.Kind {
	case "remote":
		return logstore.NewRemote(logstore.RemoteConfig{
			BaseURL:  cfg.URL,
			LogGroup: cfg.LogGroup,
			Region:   cfg.Region,
			PageSize: cfg.PageSize,
			Timeout:  cfg.Timeout,
			Retries:  uint(cfg.Retries),
		}, a.Logger, a.Metrics), nil

	case "sqlite":
		db, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
		a.Logger.Info().Str("dsn", cfg.DSN).Msg("sqlite log source initialized")
		return sqlite.NewLogSource(db), nil

	case "fixture":
		a.Logger.Warn().Msg("using in-memory fixture log source; reports will be empty")
		return logstore.NewFixture(), nil

	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// buildAliasResolver loads the alias map and starts its reload watchers.
// Without a configured file the resolver still exists, mapping every client
// ID to itself.
func (a *App) buildAliasResolver() (ports.AliasResolver, error) {
	cfg := a.Config.Alias
	if cfg.Path == "" {
		a.Logger.Info().Msg("no alias file configured, client IDs displayed raw")
		return aliasadapter.NewStatic(), nil
	}

	resolver, err := aliasadapter.New(cfg.Path, a.Logger)
	if err != nil {
		return nil, err
	}
	a.resolver = resolver

	if a.Metrics != nil {
		m := a.Metrics
		resolver.OnReload(func(err error) {
			if err != nil {
				m.AliasReloadErrors.Inc()
				return
			}
			m.AliasReloads.Inc()
		})
	}

	if cfg.Watch {
		if err := resolver.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("alias file watching unavailable, SIGHUP reload still works")
		}
	}
	resolver.WatchSignals()

	return resolver, nil
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.resolver != nil {
		a.resolver.Stop()
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
