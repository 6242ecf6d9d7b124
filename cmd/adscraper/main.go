package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/use-agent/adscraper/internal/adminapi"
	"github.com/use-agent/adscraper/internal/cachestore"
	"github.com/use-agent/adscraper/internal/config"
	"github.com/use-agent/adscraper/internal/directclient"
	"github.com/use-agent/adscraper/internal/extractor"
	"github.com/use-agent/adscraper/internal/interceptor"
	"github.com/use-agent/adscraper/internal/proxy"
	"github.com/use-agent/adscraper/internal/queue"
	"github.com/use-agent/adscraper/internal/rpc"
	"github.com/use-agent/adscraper/internal/session"
	"github.com/use-agent/adscraper/internal/worker"
)

// cliFlags is the worker harness's flag surface. Flags override the
// corresponding config.Config fields; config.Load's env/file layers still
// apply beneath them.
type cliFlags struct {
	configFile     string
	maxConcurrent  int
	batchSize      int
	maxURLs        int
	noProxy        bool
	partialProxy   bool
	enableRotation bool
	verbose        bool
	adminAddr      string
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configFile, "config", "", "path to an optional YAML config file")
	flag.IntVar(&f.maxConcurrent, "max-concurrent", 0, "number of concurrent worker loops (0 = use config)")
	flag.IntVar(&f.batchSize, "batch-size", 0, "rows claimed per batch (0 = use config)")
	flag.IntVar(&f.maxURLs, "max-urls", -1, "total rows to process before stopping (-1 = use config)")
	flag.BoolVar(&f.noProxy, "no-proxy", false, "disable proxy acquisition regardless of config")
	flag.BoolVar(&f.partialProxy, "partial-proxy", false, "route only script-body fetches through the direct client, bypassing the proxy")
	flag.BoolVar(&f.enableRotation, "enable-rotation", false, "periodically reacquire proxy credentials per worker")
	flag.BoolVar(&f.verbose, "verbose", false, "debug-level logging regardless of config")
	flag.StringVar(&f.adminAddr, "admin-addr", "127.0.0.1:9090", "address for the admin/metrics HTTP surface")
	flag.Parse()
	return f
}

func main() {
	os.Exit(run())
}

func run() int {
	f := parseFlags()

	cfg, err := config.Load(f.configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return 2
	}
	applyFlagOverrides(&cfg, f)

	initLogger(cfg.Log, f.verbose)
	slog.Info("adscraper starting",
		"worker_concurrency", cfg.Worker.Concurrency,
		"batch_size", cfg.Worker.BatchSize,
		"max_urls", cfg.Worker.MaxURLs,
		"proxy_enabled", cfg.Proxy.Enabled,
	)

	db, err := sql.Open("pgx", cfg.Queue.DSN)
	if err != nil {
		slog.Error("failed to open queue database", "error", err)
		return 1
	}
	defer db.Close()
	repo := queue.New(db)

	cache, err := cachestore.New(cachestore.Config{
		Dir:         cfg.Cache.Dir,
		MaxMemBytes: cfg.Cache.MaxMemBytes,
		MaxAge:      cfg.Cache.MaxAge,
		Strategy:    cfg.Cache.Strategy,
	})
	if err != nil {
		slog.Error("failed to open cache store", "error", err)
		return 1
	}

	browser, browserCleanup, err := launchBrowser(cfg.Browser)
	if err != nil {
		slog.Error("failed to launch browser", "error", err)
		return 1
	}
	defer browserCleanup()

	var proxyMgr *proxy.Manager
	if cfg.Proxy.Enabled {
		proxyMgr = proxy.NewManager(proxy.Config{
			AcquireURL:  cfg.Proxy.AcquireURL,
			BearerToken: cfg.Proxy.BearerToken,
			MaxAttempts: cfg.Proxy.MaxAttempts,
			BaseBackoff: cfg.Proxy.BaseBackoff,
			MaxBackoff:  cfg.Proxy.MaxBackoff,
		})
	}

	reqSchema := rpc.DefaultSchema()
	respSchema := extractor.DefaultResponseSchema()
	limiter := rpc.NewLimiter(cfg.RPC.RPS, cfg.RPC.Burst)

	icCfg := interceptor.Config{
		TrackerPatterns: defaultTrackerPatterns(),
		CacheableScript: defaultCacheableScriptPattern(),
		RPCEndpoint:     defaultRPCPattern(),
		PartialProxy:    cfg.Proxy.Partial,
	}
	sessCfg := session.Config{
		OriginURL:        cfg.RPC.OriginURL,
		RPCBaseURL:       cfg.RPC.BaseURL,
		PageLoadTimeout:  cfg.Scraper.PageLoadTimeout,
		SmartWaitPoll:    cfg.Scraper.SmartWaitPoll,
		SearchCrossCheck: cfg.Scraper.SearchCrossCheck,
		PartialProxy:     cfg.Proxy.Partial,
	}

	factory := func(ctx context.Context, creds *proxy.Credentials) (worker.Session, error) {
		var direct *directclient.Client
		if cfg.Proxy.Partial {
			// The direct client bypasses the proxy, so it gets no proxy URL.
			d, err := directclient.New("", userAgent(cfg.Browser), "")
			if err != nil {
				return nil, err
			}
			direct = d
		}
		return session.New(browser, cache, icCfg, sessCfg, reqSchema, respSchema, limiter, direct)
	}

	fleet := worker.NewFleet(repo, proxyMgr, factory, worker.Config{
		Concurrency:  cfg.Worker.Concurrency,
		BatchSize:    cfg.Worker.BatchSize,
		MaxURLs:      cfg.Worker.MaxURLs,
		ProxyEnabled: cfg.Proxy.Enabled,
		ProxyRotate:  cfg.Proxy.Rotate,
		RotateEvery:  cfg.Proxy.RotateEvery,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startTime := time.Now()
	adminSrv := &http.Server{
		Addr:    f.adminAddr,
		Handler: adminapi.NewRouter(fleet, cache, startTime),
	}
	go func() {
		slog.Info("admin server listening", "addr", f.adminAddr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server error", "error", err)
		}
	}()

	go runSweeper(ctx, repo, cfg.Queue.StuckAfter, cfg.Queue.SweepInterval)

	done := make(chan struct{})
	go func() {
		fleet.Run(ctx)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig.String())
		cancel()
		<-done
	case <-done:
		slog.Info("queue drained or cap reached, fleet stopped")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin server forced shutdown", "error", err)
	}

	snap := fleet.Counters()
	slog.Info("adscraper stopped",
		"processed", snap.Processed,
		"success", snap.Success,
		"failed", snap.Failed,
		"retry", snap.Retry,
		"bad_ad", snap.BadAd,
		"bytes_in", snap.BytesIn,
		"bytes_out", snap.BytesOut,
	)
	return 0
}

func applyFlagOverrides(cfg *config.Config, f cliFlags) {
	if f.maxConcurrent > 0 {
		cfg.Worker.Concurrency = f.maxConcurrent
	}
	if f.batchSize > 0 {
		cfg.Worker.BatchSize = f.batchSize
	}
	if f.maxURLs >= 0 {
		cfg.Worker.MaxURLs = f.maxURLs
	}
	if f.noProxy {
		cfg.Proxy.Enabled = false
	}
	if f.partialProxy {
		cfg.Proxy.Partial = true
	}
	if f.enableRotation {
		cfg.Proxy.Rotate = true
	}
}

// runSweeper periodically reclaims rows stuck in "processing" after a
// worker crash, until ctx is canceled.
func runSweeper(ctx context.Context, repo *queue.Repository, staleAfter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.SweepStuck(ctx, staleAfter)
			if err != nil {
				slog.Error("stuck-row sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("reclaimed stuck rows", "count", n)
			}
		}
	}
}

// launchBrowser starts a headless Chrome instance the way the teacher's
// scraper.NewScraper does — stealth-oriented launcher flags, connect, and a
// cleanup func the caller defers.
func launchBrowser(cfg config.BrowserConfig) (*rod.Browser, func(), error) {
	l := launcher.New().Headless(cfg.Headless).NoSandbox(true)
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, nil, fmt.Errorf("connect to browser: %w", err)
	}

	return browser, func() {
		if err := browser.Close(); err != nil {
			slog.Debug("browser close", "error", err)
		}
		l.Cleanup()
	}, nil
}

func userAgent(cfg config.BrowserConfig) string {
	if len(cfg.UserAgentPool) == 0 {
		return ""
	}
	return cfg.UserAgentPool[0]
}

func initLogger(cfg config.LogConfig, verbose bool) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
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
