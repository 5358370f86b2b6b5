// Package security validates assets before they enter the publish
// pipeline: extension allow-listing, path sanitization, size limits, and a
// leading-bytes content scan for executable and injection payloads.
package security

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/tapestrydocs/asset-engine/internal/asset"
	"github.com/tapestrydocs/asset-engine/internal/log"
)

// DefaultMaxFileSize is the per-asset size limit when Options does not
// override it.
const DefaultMaxFileSize = 10 * 1024 * 1024

type Options struct {
	// MaxFileSize rejects files larger than this many bytes. Zero means
	// DefaultMaxFileSize.
	MaxFileSize int64
	// StrictPaths selects reject (true) or strip (false) sanitization.
	StrictPaths bool
	// Workers bounds ValidateBatch parallelism. Zero means GOMAXPROCS.
	Workers int
	Logger  log.Logger
}

// Result is the aggregated outcome of validating one path. Ordinary
// failures populate Errors; Valid is true only when Errors is empty.
type Result struct {
	Valid         bool
	Errors        []string
	Warnings      []string
	SanitizedPath string
}

type Validator struct {
	maxFileSize int64
	strict      bool
	workers     int
	logr        log.Logger
}

func New(opts Options) *Validator {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Validator{
		maxFileSize: opts.MaxFileSize,
		strict:      opts.StrictPaths,
		workers:     opts.Workers,
		logr:        opts.Logger,
	}
}

// MaxFileSize reports the configured per-asset size limit.
func (v *Validator) MaxFileSize() int64 { return v.maxFileSize }

// ValidateFileType reports whether the path's extension maps to an
// allow-listed MIME type.
func (v *Validator) ValidateFileType(path string) bool {
	return asset.TypeForPath(path) != asset.TypeUnknown
}

// CheckFileSize reports whether the file exists, is regular, and is within
// the size limit. Paths that cannot be stat'ed fail.
func (v *Validator) CheckFileSize(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	if !fi.Mode().IsRegular() {
		return false
	}
	return fi.Size() <= v.maxFileSize
}

// ScanContent reports whether the file's leading bytes pass the malicious
// content scan. Script extensions (.js, .mjs, .cjs) are exempt from the
// script-marker check since their content is script by definition; every
// other check still applies to them.
func (v *Validator) ScanContent(path string) bool {
	return len(scanIssues(path)) == 0
}

// ValidateAsset runs every check against one path and aggregates the
// outcome. It never fails as a call; problems land in Result.Errors.
func (v *Validator) ValidateAsset(ctx context.Context, path string) Result {
	res := Result{SanitizedPath: path}

	sanitized, err := SanitizePath(path, v.strict)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
	} else {
		if !v.strict && sanitized != normalizeSeparators(path) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("path segments stripped: %q -> %q", path, sanitized))
		}
		res.SanitizedPath = sanitized
	}

	fi, statErr := os.Stat(path)
	switch {
	case statErr != nil:
		res.Errors = append(res.Errors, fmt.Sprintf("file does not exist: %s", path))
	case !fi.Mode().IsRegular():
		res.Errors = append(res.Errors, fmt.Sprintf("not a regular file: %s", path))
	case fi.Size() > v.maxFileSize:
		res.Errors = append(res.Errors, fmt.Sprintf("file exceeds size limit: %d > %d bytes", fi.Size(), v.maxFileSize))
	}

	if !v.ValidateFileType(path) {
		res.Errors = append(res.Errors, fmt.Sprintf("file type not allowed: %s", path))
	}

	// content scan needs a readable regular file
	if statErr == nil && fi.Mode().IsRegular() {
		for _, issue := range scanIssues(path) {
			res.Errors = append(res.Errors, issue)
		}
	}

	res.Valid = len(res.Errors) == 0
	if !res.Valid {
		v.logr.Debug(ctx, "asset rejected", "path", path, "errors", res.Errors)
	}
	return res
}

// ValidateBatch validates many paths concurrently. Results are fully
// independent: every input path gets an entry regardless of how the
// others fared.
func (v *Validator) ValidateBatch(ctx context.Context, paths []string) map[string]Result {
	out := make(map[string]Result, len(paths))
	if len(paths) == 0 {
		return out
	}

	workers := v.workers
	if workers > len(paths) {
		workers = len(paths)
	}

	type item struct {
		path string
		res  Result
	}
	jobs := make(chan string)
	results := make(chan item, len(paths))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				results <- item{path: p, res: v.ValidateAsset(ctx, p)}
			}
		}()
	}

	for _, p := range paths {
		jobs <- p
	}
	close(jobs)
	wg.Wait()
	close(results)

	for it := range results {
		out[it.path] = it.res
	}
	return out
}
