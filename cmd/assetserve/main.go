package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/tapestrydocs/asset-engine/internal/cfg"
	"github.com/tapestrydocs/asset-engine/internal/cryptoutil"
	"github.com/tapestrydocs/asset-engine/internal/health"
	"github.com/tapestrydocs/asset-engine/internal/log"
	"github.com/tapestrydocs/asset-engine/internal/manifest"
	"github.com/tapestrydocs/asset-engine/internal/metrics"
	"github.com/tapestrydocs/asset-engine/internal/otelx"
	"github.com/tapestrydocs/asset-engine/internal/prof"
	"github.com/tapestrydocs/asset-engine/internal/ratelimit"
	"github.com/tapestrydocs/asset-engine/internal/resolve"
	"github.com/tapestrydocs/asset-engine/internal/serve"
	v "github.com/tapestrydocs/asset-engine/internal/version"
)

const appName = "assetserve"

// manifestInfo adapts the cache to the response-header middleware.
type manifestInfo struct {
	cache *manifest.Cache
}

func (mi manifestInfo) ManifestVersion() string {
	if info, ok := mi.cache.Info(); ok {
		return info.Version
	}
	return ""
}

func (mi manifestInfo) ManifestSHA256() string {
	if info, ok := mi.cache.Info(); ok {
		return info.SHA256
	}
	return ""
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.Serve
	var showVersion bool

	cfg.RegisterServe(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_date=%s, go=%s, dirty=%v)\n",
			appName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	warnf := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, warnf)
	if err := cfg.FillFromFile(flag.CommandLine, conf.ConfigFile, warnf); err != nil {
		fmt.Fprintln(os.Stderr, "config file error:", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServe(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid log level:", err)
		os.Exit(1)
	}
	stLvl := slog.LevelError
	if conf.StacktraceLevel != "" {
		if stLvl, err = log.ParseLevel(conf.StacktraceLevel); err != nil {
			fmt.Fprintln(os.Stderr, "invalid stacktrace level:", err)
			os.Exit(1)
		}
	}
	lg, err := log.New(log.Options{
		App:               appName,
		Level:             lvl,
		StacktraceLevel:   stLvl,
		JSON:              conf.LogJSON,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		MaxErrorLinks:     conf.MaxErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "serve")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing asset origin",
		"version", vi.Version,
		"commit", vi.Commit,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"base_dir", conf.BaseDir,
		"public_root", conf.PublicRoot,
		"default_locale", conf.DefaultLocale,
		"verify_key_arn", conf.VerifyKeyARN,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
	)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       appName,
			"component": "serve",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Insecure is true because the collector is expected on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: "serve",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, "serve", &vi)
	m.SetProfilingActive(conf.EnablePyroscope)

	// Manifest signature verification is opt-in; without a key the cache
	// trusts whatever the build wrote.
	var verifier manifest.Verifier
	if conf.VerifyKeyARN != "" {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
		verifier = cryptoutil.NewKMSVerifier(kms.NewFromConfig(awsCfg), conf.VerifyKeyARN)
	}

	manifestPath := filepath.Join(conf.BaseDir, filepath.FromSlash(conf.PublicRoot), manifest.Filename)
	cache := manifest.NewCache(manifest.CacheOptions{
		Path:     manifestPath,
		Verifier: verifier,
		Logger:   L,
	})

	// Load eagerly so a bad deploy fails readiness immediately instead of
	// on the first request. A missing manifest is not fatal: the watcher
	// picks it up when the first build lands.
	if _, err := cache.Get(ctx); err != nil {
		L.Error(ctx, err, "initial manifest load failed, serving will start unready", "path", manifestPath)
	} else if info, ok := cache.Info(); ok {
		m.SetManifest(info.SHA256, info.Assets, info.LoadedAt)
		L.Info(ctx, "manifest loaded",
			"manifest_version", info.Version,
			"manifest_sha256", info.SHA256,
			"assets", info.Assets,
		)
	}

	watcher := manifest.NewWatcher(manifest.WatcherOptions{
		Logger:  L,
		Cache:   cache,
		Metrics: m,
		OnSwap: func(info manifest.Info) {
			m.SetManifest(info.SHA256, info.Assets, info.LoadedAt)
			m.IncManifestReload()
		},
	})
	go watcher.Run(ctx)

	resolver := resolve.New(resolve.Options{
		DefaultLocale: conf.DefaultLocale,
		PublicRoot:    conf.PublicRoot,
	})

	api := serve.NewAPI(serve.APIOptions{
		Cache:    cache,
		Resolver: resolver,
		Logger:   L,
		Metrics:  m,
	})

	static, err := serve.NewStatic(serve.StaticOptions{BaseDir: conf.BaseDir})
	if err != nil {
		L.Error(ctx, err, "failed to create static handler")
		os.Exit(1)
	}

	var gate health.ShutdownGate

	// Ready only when a manifest snapshot is loaded and we are not draining.
	readiness := health.All(
		gate.Probe(),
		health.CheckFunc(func(ctx context.Context) error {
			_, err := cache.Get(ctx)
			return err
		}),
	)

	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateRPS, conf.RateBurst),
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	httpStop, err := serve.Start(ctx, serve.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		AssetHandler: static,
		APIRoutes:    api.RegisterRoutes,
		Health:       health.Healthy(),
		Readiness:    readiness,
		ManifestInfo: manifestInfo{cache: cache},
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MaxBodyBytes: conf.MaxBodyBytes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = httpStop(context.Background()) }()

	adminStop, err := serve.StartAdmin(ctx, L, &serve.AdminOptions{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Healthy(),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start admin listener")
		os.Exit(1)
	}
	defer func() { _ = adminStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// block until ctrl+c / sigterm
	sigCtx, stopSig := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSig()
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer drains us before we close
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining")

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(30 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := httpStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "http server shutdown")
	}
	if err := adminStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "admin server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit is Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
