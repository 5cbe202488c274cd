// Package server provides the gateway application and its dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/repothread/internal/backend"
	"github.com/JakeFAU/repothread/internal/config"
	"github.com/JakeFAU/repothread/internal/gateway"
	"github.com/JakeFAU/repothread/internal/id/uuid"
	"github.com/JakeFAU/repothread/internal/logging"
	"github.com/JakeFAU/repothread/internal/metrics"
	"github.com/JakeFAU/repothread/internal/repothread"
)

const shutdownTimeout = 10 * time.Second

// App contains the gateway's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *gateway.Server
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("backend_url", cfg.Backend.BaseURL),
		zap.String("analyze_mode", cfg.Backend.AnalyzeMode),
		zap.String("convert_mode", cfg.Backend.ConvertMode),
		zap.Bool("auth_enabled", cfg.Auth.Enabled),
		zap.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
	)
	return &App{cfg: cfg, logger: logger}, nil
}

// Handler exposes the gateway router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until ctx is canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln and shuts it down gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case serveErr = <-errCh:
		if serveErr != nil {
			a.logger.Error("http server error", zap.Error(serveErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if closeErr := a.Close(shutdownCtx); closeErr != nil && serveErr == nil {
		return closeErr
	}
	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	return nil
}

// Close flushes the logger.
func (a *App) Close(_ context.Context) error {
	a.logger.Info("shutdown complete")
	// Sync on stderr returns EINVAL on some platforms.
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

// Build creates the application's dependencies.
func Build(_ context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(cfg, logger)
}

// BuildWithLogger wires the application around an existing logger.
func BuildWithLogger(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	metrics.Init()

	upstream, err := backend.New(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		AnalyzeTimeout: cfg.TimeoutFor(repothread.KindAnalyze),
		ConvertTimeout: cfg.TimeoutFor(repothread.KindConvert),
		StatusTimeout:  cfg.StatusTimeout(),
		AnalyzeMode:    cfg.ModeFor(repothread.KindAnalyze),
		ConvertMode:    cfg.ModeFor(repothread.KindConvert),
	}, app.logger.Named("backend"))
	if err != nil {
		return nil, fmt.Errorf("backend client init failed: %w", err)
	}

	app.apiServer = gateway.NewServer(
		upstream,
		uuid.NewUUIDGenerator(),
		*cfg,
		app.logger.Named("gateway"),
	)
	return app, nil
}
