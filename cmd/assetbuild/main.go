package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/tapestrydocs/asset-engine/internal/cfg"
	"github.com/tapestrydocs/asset-engine/internal/cryptoutil"
	"github.com/tapestrydocs/asset-engine/internal/discover"
	"github.com/tapestrydocs/asset-engine/internal/imageopt"
	"github.com/tapestrydocs/asset-engine/internal/log"
	"github.com/tapestrydocs/asset-engine/internal/metrics"
	"github.com/tapestrydocs/asset-engine/internal/otelx"
	"github.com/tapestrydocs/asset-engine/internal/pipeline"
	"github.com/tapestrydocs/asset-engine/internal/process"
	"github.com/tapestrydocs/asset-engine/internal/publish"
	"github.com/tapestrydocs/asset-engine/internal/security"
	v "github.com/tapestrydocs/asset-engine/internal/version"
)

const appName = "assetbuild"

func main() {
	os.Exit(run())
}

// run carries the exit code out so deferred cleanup still executes.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.Build
	var showVersion bool

	cfg.RegisterBuild(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_date=%s, go=%s, dirty=%v)\n",
			appName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return 0
	}

	warnf := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, warnf)
	if err := cfg.FillFromFile(flag.CommandLine, conf.ConfigFile, warnf); err != nil {
		fmt.Fprintln(os.Stderr, "config file error:", err)
		return 1
	}
	if err := cfg.ValidateBuild(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid log level:", err)
		return 1
	}
	stLvl := slog.LevelError
	if conf.StacktraceLevel != "" {
		if stLvl, err = log.ParseLevel(conf.StacktraceLevel); err != nil {
			fmt.Fprintln(os.Stderr, "invalid stacktrace level:", err)
			return 1
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
		return 1
	}
	defer lg.Sync()
	L := lg.With("component", "build")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "starting asset build",
		"version", vi.Version,
		"commit", vi.Commit,
		"go_version", vi.GoVersion,
		"content_root", conf.ContentRoot,
		"output_dir", conf.OutputDir,
		"public_root", conf.PublicRoot,
		"default_locale", conf.DefaultLocale,
		"workers", conf.Workers,
		"max_file_size", conf.MaxFileSize,
		"strict_paths", conf.StrictPaths,
		"optimize_images", conf.OptimizeImages,
		"modern_formats", conf.ModernFormats,
		"s3_bucket", conf.S3Bucket,
		"ssm_param", conf.SSMParam,
		"sign_key_arn", conf.SignKeyARN,
	)

	// Insecure is true because the collector is expected on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: "build",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.NewPipeline()
	m.SetBuildInfoFromVersion(appName, "build", &vi)

	// AWS clients only when a remote concern is configured; local-only
	// builds must not require credentials.
	var signer publish.Signer
	var mirror pipeline.Mirror
	var pointer pipeline.Pointer
	if conf.S3Bucket != "" || conf.SSMParam != "" || conf.SignKeyARN != "" {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			return 1
		}
		if conf.SignKeyARN != "" {
			signer = cryptoutil.NewKMSSigner(kms.NewFromConfig(awsCfg), conf.SignKeyARN)
		}
		if conf.S3Bucket != "" {
			mirror = publish.NewS3Mirror(s3.NewFromConfig(awsCfg), publish.S3Options{
				Bucket:    conf.S3Bucket,
				Prefix:    conf.S3Prefix,
				UploadRPS: conf.S3UploadRPS,
				Logger:    L,
			})
		}
		if conf.SSMParam != "" {
			pointer = publish.NewPointer(ssm.NewFromConfig(awsCfg), conf.SSMParam, L)
		}
	}

	var optimizer imageopt.Optimizer
	if conf.OptimizeImages {
		optimizer = imageopt.NewLocal(L)
	}

	runner := pipeline.New(pipeline.Options{
		OutputDir:       conf.OutputDir,
		ManifestVersion: conf.ManifestVersion,
		Workers:         conf.Workers,
		LockTimeout:     conf.LockTimeout,
		Scanner: discover.New(discover.Options{
			ContentRoot: conf.ContentRoot,
			Logger:      L,
		}),
		Validator: security.New(security.Options{
			MaxFileSize: conf.MaxFileSize,
			StrictPaths: conf.StrictPaths,
			Workers:     conf.Workers,
			Logger:      L,
		}),
		Processor: process.New(process.Options{
			PublicRoot:    conf.PublicRoot,
			Optimizer:     optimizer,
			ModernFormats: conf.ModernFormats,
			Logger:        L,
		}),
		Publisher: publish.New(publish.Options{
			BaseDir:    conf.OutputDir,
			PublicRoot: conf.PublicRoot,
			Workers:    conf.Workers,
			Signer:     signer,
			Logger:     L,
		}),
		Mirror:  mirror,
		Pointer: pointer,
		Metrics: m,
		Logger:  L,
	})

	sum, runErr := runner.Run(ctx)

	if conf.PushgatewayURL != "" && sum != nil {
		if err := m.Push(conf.PushgatewayURL, appName, sum.RunID); err != nil {
			L.Warn(ctx, "failed to push run metrics", "url", conf.PushgatewayURL, "error", err)
		}
	}

	if runErr != nil {
		L.Error(ctx, runErr, "asset build failed")
		return 1
	}

	L.Info(ctx, "asset build succeeded",
		"run_id", sum.RunID,
		"published", sum.Published,
		"manifest", sum.ManifestPath,
		"duration", sum.Duration,
	)
	return 0
}
