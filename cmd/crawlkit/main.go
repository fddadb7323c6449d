package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/crawlkit/api"
	"github.com/use-agent/crawlkit/browserpool"
	"github.com/use-agent/crawlkit/config"
	"github.com/use-agent/crawlkit/eventbus"
	"github.com/use-agent/crawlkit/proxyconf"
	"github.com/use-agent/crawlkit/store"
	"github.com/use-agent/crawlkit/sysmon"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("crawlkit starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"useBrowser", cfg.Crawler.UseBrowser,
	)

	// ── 3. Shared state store and event bus ─────────────────────────
	st := store.NewMemoryStore(24 * time.Hour)
	bus := eventbus.New()

	// ── 4. System status + snapshotter ───────────────────────────────
	status := sysmon.NewSystemStatus(sysmon.StatusConfig{
		CurrentWindow:      cfg.Snapshotter.CurrentWindow,
		HistoricalWindow:   cfg.Snapshotter.HistoricalWindow,
		MaxOverloadedRatio: cfg.Snapshotter.MaxOverloadedRatio,
	})
	snapshotter := sysmon.NewSnapshotter(sysmon.Config{
		Interval:           cfg.Snapshotter.Interval,
		MaxMemoryBytes:     cfg.Snapshotter.MaxMemoryBytes,
		MaxEventLoopDelay:  cfg.Snapshotter.MaxEventLoopDelay,
		MaxClientErrorRate: cfg.Snapshotter.MaxClientErrorRate,
	}, status)
	snapshotter.Start()
	defer snapshotter.Stop()

	// ── 5. Proxy configuration (optional) ────────────────────────────
	var proxyConf *proxyconf.Configuration
	if len(cfg.Proxy.URLs) > 0 {
		var err error
		proxyConf, err = proxyconf.New(cfg.Proxy.URLs, cfg.Proxy.IsManInTheMiddle)
		if err != nil {
			slog.Error("failed to initialise proxy configuration", "error", err)
			os.Exit(1)
		}
	}

	// ── 6. Browser pool (launches browsers lazily on first page) ────
	pool := browserpool.New(browserpool.Config{
		Headless:                      cfg.BrowserPool.Headless,
		NoSandbox:                     cfg.BrowserPool.NoSandbox,
		BrowserBin:                    cfg.BrowserPool.BrowserBin,
		MaxOpenPagesPerBrowser:        cfg.BrowserPool.MaxOpenPagesPerBrowser,
		RetireBrowserAfterPageCount:   cfg.BrowserPool.RetireBrowserAfterPageCount,
		CloseInactiveBrowserAfterSecs: cfg.BrowserPool.CloseInactiveBrowserAfterSecs,
		InactivitySweepInterval:       cfg.BrowserPool.InactivitySweepInterval,
		EnableFingerprinting:          cfg.BrowserPool.EnableFingerprinting,
		FingerprintCacheSize:          cfg.BrowserPool.FingerprintCacheSize,
		BlockedResourceTypes:          cfg.BrowserPool.BlockedResourceTypes,
	}, browserpool.Hooks{}, bus, nil)
	defer pool.Destroy()

	// ── 7. Control-plane dependencies ────────────────────────────────
	jobs := api.NewJobStore(time.Hour)
	defer jobs.Stop()

	startTime := time.Now()
	deps := &api.Deps{
		Config:       cfg,
		Store:        st,
		Bus:          bus,
		SystemStatus: status,
		BrowserPool:  pool,
		ProxyConf:    proxyConf,
		Jobs:         jobs,
		StartTime:    startTime,
	}

	// ── 8. Setup router ───────────────────────────────────────────────
	router := api.NewRouter(deps)

	// ── 9. Start HTTP server ───────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 10. Graceful shutdown ───────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	bus.Emit(eventbus.Migrating, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	slog.Info("crawlkit stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
