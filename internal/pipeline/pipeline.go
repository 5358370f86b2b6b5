// Package pipeline orchestrates one asset build: discover the content
// tree, validate, process, aggregate the manifest, and publish. The run
// is one-shot; a failed run is re-executed by the caller, never retried
// piecemeal.
package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tapestrydocs/asset-engine/internal/asset"
	"github.com/tapestrydocs/asset-engine/internal/log"
	"github.com/tapestrydocs/asset-engine/internal/manifest"
	"github.com/tapestrydocs/asset-engine/internal/metrics"
	"github.com/tapestrydocs/asset-engine/internal/otelx"
	"github.com/tapestrydocs/asset-engine/internal/process"
	"github.com/tapestrydocs/asset-engine/internal/security"
	"github.com/tapestrydocs/asset-engine/internal/xerrors"
)

// lockFilename sits under the output directory so concurrent builds of
// the same tree exclude each other no matter where they were launched.
const lockFilename = ".assetbuild.lock"

// lockRetryDelay is how often a blocked Run re-attempts the build lock
// while its timeout budget lasts.
const lockRetryDelay = 250 * time.Millisecond

// Scanner walks the content tree and yields asset references.
type Scanner interface {
	Discover(ctx context.Context) ([]asset.Reference, error)
}

// Validator screens discovered source paths before any processing.
type Validator interface {
	ValidateBatch(ctx context.Context, paths []string) map[string]security.Result
}

// Processor hashes and enriches validated references.
type Processor interface {
	ProcessAll(ctx context.Context, refs []asset.Reference, workers int) ([]asset.Processed, []error)
}

// Publisher materializes the processed set and the manifest on disk.
type Publisher interface {
	CopyAssets(ctx context.Context, processed []asset.Processed) error
	WriteManifest(ctx context.Context, m *manifest.Manifest) error
	ManifestPath() string
}

// Mirror replicates the published tree to remote storage.
type Mirror interface {
	MirrorTree(ctx context.Context, root string) (uploaded, skipped int, err error)
}

// Pointer records the manifest hash of the latest successful run.
type Pointer interface {
	Update(ctx context.Context, manifestHash string) error
}

type Options struct {
	// OutputDir is the publish root; the build lock lives under it.
	OutputDir string
	// ManifestVersion is stamped into the generated manifest.
	ManifestVersion string
	// Workers bounds the parallel stages. Zero means GOMAXPROCS.
	Workers int
	// LockTimeout bounds how long Run waits for the build lock.
	// Zero or negative means a single non-blocking attempt.
	LockTimeout time.Duration

	Scanner   Scanner
	Validator Validator
	Processor Processor
	Publisher Publisher
	// Mirror and Pointer are optional; nil skips those stages.
	Mirror  Mirror
	Pointer Pointer
	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.PipelineMetrics
	Logger  log.Logger
}

// Summary is what one completed run reports. Rejected counts assets the
// validator dropped, Failed counts assets that passed validation but
// could not be processed; neither aborts the run.
type Summary struct {
	RunID          string
	Discovered     int
	Validated      int
	Rejected       int
	Processed      int
	Failed         int
	Published      int
	Derivatives    int
	MirrorUploaded int
	MirrorSkipped  int
	Locales        []string
	Versions       []string
	ManifestPath   string
	ManifestHash   string
	Duration       time.Duration
}

// Runner executes builds. Construct with New; zero value is not usable.
type Runner struct {
	outputDir       string
	manifestVersion string
	workers         int
	lockTimeout     time.Duration

	scan Scanner
	val  Validator
	proc Processor
	pub  Publisher
	mir  Mirror
	ptr  Pointer
	met  *metrics.PipelineMetrics
	logr log.Logger
}

func New(opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Runner{
		outputDir:       opts.OutputDir,
		manifestVersion: opts.ManifestVersion,
		workers:         opts.Workers,
		lockTimeout:     opts.LockTimeout,
		scan:            opts.Scanner,
		val:             opts.Validator,
		proc:            opts.Processor,
		pub:             opts.Publisher,
		mir:             opts.Mirror,
		ptr:             opts.Pointer,
		met:             opts.Metrics,
		logr:            opts.Logger,
	}
}

// Run executes one build end to end and returns its summary. A non-nil
// error means the published tree must not be trusted; discovery, lock,
// publish, mirror, and pointer failures are all fatal, while validation
// and processing failures only drop the affected assets.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	runID := uuid.NewString()

	ctx, span := otelx.Start(ctx, "build.run")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", runID))

	sum, err := r.run(ctx, runID)
	if r.met != nil {
		r.met.FinishRun(err == nil, time.Now())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return sum, nil
}

func (r *Runner) run(ctx context.Context, runID string) (*Summary, error) {
	start := time.Now()
	sum := &Summary{RunID: runID}
	logr := r.logr.With("run_id", runID)

	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return nil, xerrors.Wrapf(err, "create output dir %s", r.outputDir)
	}
	lock := flock.New(filepath.Join(r.outputDir, lockFilename))
	locked, err := r.acquireLock(ctx, lock)
	if err != nil {
		return nil, xerrors.Wrap(err, "acquire build lock")
	}
	if !locked {
		return nil, xerrors.Newf("another build is already running (lock %s held)", lock.Path())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logr.Warn(ctx, "failed to release build lock", "path", lock.Path(), "error", err)
		}
	}()

	// discover
	var refs []asset.Reference
	err = r.stage(ctx, "discover", func(ctx context.Context) error {
		var err error
		refs, err = r.scan.Discover(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	sum.Discovered = len(refs)
	if r.met != nil {
		r.met.SetDiscovered(len(refs))
	}
	logr.Info(ctx, "assets discovered", "count", len(refs))

	// validate; rejected assets drop out here and never reach processing
	_ = r.stage(ctx, "validate", func(ctx context.Context) error {
		refs = r.validate(ctx, logr, refs)
		return nil
	})
	sum.Validated = len(refs)
	sum.Rejected = sum.Discovered - sum.Validated
	if r.met != nil {
		r.met.SetValidation(sum.Validated, sum.Rejected)
	}

	// process
	var processed []asset.Processed
	var procErrs []error
	_ = r.stage(ctx, "process", func(ctx context.Context) error {
		processed, procErrs = r.proc.ProcessAll(ctx, refs, r.workers)
		return nil
	})
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Wrap(err, "build interrupted")
	}
	for _, e := range procErrs {
		logr.Warn(ctx, "asset processing failed", "error", e)
	}
	derivatives := 0
	for i := range processed {
		processed[i].SecurityScanned = true
		derivatives += len(processed[i].Derivatives)
	}
	sum.Processed = len(processed)
	sum.Failed = len(procErrs)
	sum.Derivatives = derivatives
	if r.met != nil {
		r.met.SetProcessed(sum.Processed, sum.Failed, derivatives)
	}

	// manifest build
	var man *manifest.Manifest
	_ = r.stage(ctx, "manifest", func(context.Context) error {
		man = manifest.Build(processed, r.manifestVersion)
		return nil
	})
	sum.Locales = man.Locales
	sum.Versions = man.Versions

	// publish; any failure here is fatal for the whole run
	err = r.stage(ctx, "publish", func(ctx context.Context) error {
		if err := r.pub.CopyAssets(ctx, processed); err != nil {
			return err
		}
		return r.pub.WriteManifest(ctx, man)
	})
	if err != nil {
		return nil, err
	}
	sum.Published = len(processed)
	sum.ManifestPath = r.pub.ManifestPath()

	hash, _, err := process.HashFile(sum.ManifestPath)
	if err != nil {
		return nil, xerrors.Wrap(err, "hash published manifest")
	}
	sum.ManifestHash = hash

	if r.mir != nil {
		err = r.stage(ctx, "mirror", func(ctx context.Context) error {
			up, skip, err := r.mir.MirrorTree(ctx, r.outputDir)
			sum.MirrorUploaded, sum.MirrorSkipped = up, skip
			if r.met != nil {
				r.met.SetMirror(up, skip)
			}
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	if r.ptr != nil {
		err = r.stage(ctx, "pointer", func(ctx context.Context) error {
			return r.ptr.Update(ctx, sum.ManifestHash)
		})
		if err != nil {
			return nil, err
		}
	}

	sum.Duration = time.Since(start)
	logr.Info(ctx, "build complete",
		"discovered", sum.Discovered,
		"validated", sum.Validated,
		"rejected", sum.Rejected,
		"processed", sum.Processed,
		"failed", sum.Failed,
		"derivatives", sum.Derivatives,
		"locales", sum.Locales,
		"versions", sum.Versions,
		"manifest", sum.ManifestPath,
		"manifest_sha256", sum.ManifestHash,
		"duration", sum.Duration,
	)
	return sum, nil
}

// validate screens refs through the validator and returns the survivors
// in their original order.
func (r *Runner) validate(ctx context.Context, logr log.Logger, refs []asset.Reference) []asset.Reference {
	if len(refs) == 0 {
		return refs
	}
	paths := make([]string, len(refs))
	for i, ref := range refs {
		paths[i] = ref.SourcePath
	}
	results := r.val.ValidateBatch(ctx, paths)

	kept := make([]asset.Reference, 0, len(refs))
	for _, ref := range refs {
		res := results[ref.SourcePath]
		if !res.Valid {
			logr.Warn(ctx, "asset rejected",
				"path", ref.RelativePath,
				"errors", res.Errors,
			)
			continue
		}
		for _, w := range res.Warnings {
			logr.Warn(ctx, "asset validation warning", "path", ref.RelativePath, "warning", w)
		}
		kept = append(kept, ref)
	}
	return kept
}

// stage runs fn inside a span and records its wall time.
func (r *Runner) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := otelx.Start(ctx, "build."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if r.met != nil {
		r.met.ObserveStage(name, time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return xerrors.Wrapf(err, "%s stage", name)
	}
	return nil
}

// acquireLock tries for the build lock, retrying until the timeout when
// one is configured. Timing out reports contention, not an error.
func (r *Runner) acquireLock(ctx context.Context, lock *flock.Flock) (bool, error) {
	if r.lockTimeout <= 0 {
		return lock.TryLock()
	}
	ctx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}
	return locked, err
}
