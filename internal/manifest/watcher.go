package manifest

import (
	"context"
	"math"
	"os"
	"time"

	"github.com/tapestrydocs/asset-engine/internal/cryptoutil"
	"github.com/tapestrydocs/asset-engine/internal/log"
	"github.com/tapestrydocs/asset-engine/internal/xerrors"
)

const (
	// DefaultPollInterval is how often the watcher re-hashes the manifest
	// file looking for a new publish.
	DefaultPollInterval = 30 * time.Second

	// maxBackoff caps exponential backoff on consecutive read errors.
	maxBackoff = 5 * time.Minute
)

// pollResult describes what happened during a single poll cycle.
type pollResult int

const (
	pollNoChange  pollResult = iota // file hash matches current, nothing to do
	pollSwapped                     // new hash detected, manifest reloaded and swapped
	pollReadError                   // file unreadable, caller should back off
	pollLoadError                   // file readable but reload (parse/verify) failed
)

// WatcherMetrics is implemented by the metrics package to observe watcher
// behavior.
type WatcherMetrics interface {
	IncWatcherPolls()
	IncWatcherSwaps()
	IncWatcherError(errType string)
	SetWatcherLastSuccess(unixSeconds float64)
	SetWatcherStale(stale bool)
}

// WatcherOptions configures the manifest file watcher.
type WatcherOptions struct {
	Logger       log.Logger
	Cache        *Cache
	PollInterval time.Duration

	// OnSwap is called after a successful hot-swap, synchronously on the
	// poll goroutine. Use it to update gauges or bust downstream caches.
	OnSwap func(info Info)

	// Metrics receives watcher observability signals.
	Metrics WatcherMetrics

	// StaleThreshold is how long since the last successful check before
	// the watcher raises a staleness error. Zero defaults to 30 minutes.
	StaleThreshold time.Duration
}

// Watcher polls the published manifest file and hot-swaps the cache when a
// new build lands. Each build replaces the file atomically (temp+rename),
// so a changed content hash always means a complete new manifest.
type Watcher struct {
	cache    *Cache
	logger   log.Logger
	interval time.Duration
	onSwap   func(info Info)
	metrics  WatcherMetrics

	// hash of the manifest file backing the live snapshot
	currentHash string

	consecutiveErrs int

	staleThreshold time.Duration
	lastSuccessAt  time.Time
	staleLogged    bool

	pollCount int64
	swapCount int64
}

// NewWatcher creates a manifest watcher. Call Run to start the poll loop.
func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	// seed from the cache so the first poll doesn't reload what startup
	// already loaded
	currentHash := ""
	if info, ok := opts.Cache.Info(); ok {
		currentHash = info.SHA256
	}

	staleThreshold := opts.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = 30 * time.Minute
	}

	return &Watcher{
		cache:          opts.Cache,
		logger:         opts.Logger,
		interval:       interval,
		onSwap:         opts.OnSwap,
		metrics:        opts.Metrics,
		currentHash:    currentHash,
		staleThreshold: staleThreshold,
		lastSuccessAt:  time.Now(),
	}
}

// Run starts the poll loop and blocks until ctx is cancelled. Intended to
// be launched as: go watcher.Run(ctx)
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "manifest watcher starting",
		"path", w.cache.Path(),
		"poll_interval", w.interval.String(),
		"current_hash", truncHash(w.currentHash),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "manifest watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"swaps", w.swapCount,
			)
			return ctx.Err()
		case <-ticker.C:
			result := w.checkOnce(ctx)

			if result == pollReadError {
				w.consecutiveErrs++
				backoff := w.backoffDuration()
				w.logger.Warn(ctx, "manifest watcher: backing off",
					"consecutive_errors", w.consecutiveErrs,
					"next_poll_in", backoff.String(),
				)
				ticker.Reset(backoff)
			} else if w.consecutiveErrs > 0 {
				w.logger.Info(ctx, "manifest watcher: recovered, resuming normal interval",
					"had_consecutive_errors", w.consecutiveErrs,
				)
				w.consecutiveErrs = 0
				ticker.Reset(w.interval)
			}

			// raise the staleness error once per episode
			if result != pollReadError {
				if w.staleLogged {
					w.logger.Info(ctx, "manifest watcher: staleness recovered")
					w.staleLogged = false
					if w.metrics != nil {
						w.metrics.SetWatcherStale(false)
					}
				}
			} else if time.Since(w.lastSuccessAt) > w.staleThreshold {
				if !w.staleLogged {
					w.logger.Error(ctx, xerrors.Newf("last successful manifest check was %s ago", time.Since(w.lastSuccessAt).Truncate(time.Second)),
						"manifest watcher: manifest is stale, unable to verify freshness",
					)
					w.staleLogged = true
					if w.metrics != nil {
						w.metrics.SetWatcherStale(true)
					}
				}
			}
		}
	}
}

// checkOnce performs a single hash-compare-swap cycle and reports what
// happened so Run can adjust timing.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncWatcherPolls()
	}

	data, err := os.ReadFile(w.cache.Path())
	if err != nil {
		w.logger.Error(ctx, err, "manifest watcher: read failed", "path", w.cache.Path())
		if w.metrics != nil {
			w.metrics.IncWatcherError("read")
		}
		return pollReadError
	}

	now := time.Now()
	w.lastSuccessAt = now
	if w.metrics != nil {
		w.metrics.SetWatcherLastSuccess(float64(now.Unix()))
	}

	hash := cryptoutil.SHA256Hex(data)
	if cryptoutil.HashEqual(hash, w.currentHash) {
		return pollNoChange
	}

	w.logger.Info(ctx, "manifest watcher: new manifest detected",
		"old_hash", truncHash(w.currentHash),
		"new_hash", truncHash(hash),
	)

	// Reload parses and verifies before swapping; a broken file leaves
	// the current snapshot serving.
	m, err := w.cache.Reload(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "manifest watcher: reload failed, keeping current manifest",
			"rejected_hash", truncHash(hash),
			"current_hash", truncHash(w.currentHash),
		)
		if w.metrics != nil {
			w.metrics.IncWatcherError("load")
		}
		return pollLoadError
	}

	oldHash := w.currentHash
	// the cache re-reads the file, so record what it actually loaded
	info, _ := w.cache.Info()
	w.currentHash = info.SHA256
	w.swapCount++

	w.logger.Info(ctx, "manifest watcher: manifest swapped",
		"old_hash", truncHash(oldHash),
		"new_hash", truncHash(w.currentHash),
		"assets", len(m.Assets),
		"total_swaps", w.swapCount,
	)

	if w.metrics != nil {
		w.metrics.IncWatcherSwaps()
	}

	if w.onSwap != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error(ctx, xerrors.Newf("OnSwap panic: %v", r),
						"manifest watcher: OnSwap callback panicked, continuing",
						"hash", truncHash(w.currentHash),
					)
				}
			}()
			w.onSwap(info)
		}()
	}

	return pollSwapped
}

// backoffDuration computes exponential backoff capped at maxBackoff:
// 2x interval after the first error, 4x after the second, and so on.
func (w *Watcher) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(w.consecutiveErrs))
	d := time.Duration(float64(w.interval) * mult)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// truncHash returns the first 12 characters of a hash for logging.
func truncHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
