// Package process turns discovered asset references into content-addressed
// processed records: SHA-256 hashing, hashed filenames, scoped public
// paths, and best-effort image enrichment.
package process

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/tapestrydocs/asset-engine/internal/asset"
	"github.com/tapestrydocs/asset-engine/internal/cryptoutil"
	"github.com/tapestrydocs/asset-engine/internal/imageopt"
	"github.com/tapestrydocs/asset-engine/internal/log"
	"github.com/tapestrydocs/asset-engine/internal/xerrors"
)

// hashPrefixLen is how many hash characters embed into hashed filenames.
const hashPrefixLen = 8

// ContentHash returns the SHA-256 digest of data as 64 lowercase hex
// characters.
func ContentHash(data []byte) string {
	return cryptoutil.SHA256Hex(data)
}

// HashFile streams path through SHA-256 without loading it whole,
// returning the digest and byte count.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, xerrors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, xerrors.Wrapf(err, "hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashedFilename derives "{base}.{hash8}{ext}" from a filename and its
// content hash.
func HashedFilename(filename, contentHash string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filepath.Base(filename), ext)
	return base + "." + contentHash[:hashPrefixLen] + ext
}

type Options struct {
	// PublicRoot is the URL root segment published assets live under,
	// e.g. "public/assets". Leading/trailing slashes are ignored.
	PublicRoot string
	// Optimizer enriches image assets. Nil disables enrichment.
	Optimizer imageopt.Optimizer
	// ModernFormats also asks the optimizer for webp/avif conversion.
	ModernFormats bool
	Logger        log.Logger
}

type Processor struct {
	publicRoot string
	opt        imageopt.Optimizer
	modern     bool
	logr       log.Logger
}

func New(opts Options) *Processor {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Processor{
		publicRoot: strings.Trim(opts.PublicRoot, "/"),
		opt:        opts.Optimizer,
		modern:     opts.ModernFormats,
		logr:       opts.Logger,
	}
}

// PublicPath builds the published URL path for a hashed filename in the
// given context.
func (p *Processor) PublicPath(locale, version string, t asset.Type, hashedFilename string) string {
	return "/" + path.Join(p.publicRoot, locale, version, t.Subdir(), hashedFilename)
}

// Process reads the referenced file once and produces its processed
// record. Identical bytes at the same relative path yield an identical
// record every call. Image enrichment failures degrade to warnings.
func (p *Processor) Process(ctx context.Context, ref asset.Reference) (asset.Processed, error) {
	fi, err := os.Stat(ref.SourcePath)
	if err != nil {
		return asset.Processed{}, xerrors.Wrapf(err, "stat asset %s", ref.SourcePath)
	}
	data, err := os.ReadFile(ref.SourcePath)
	if err != nil {
		return asset.Processed{}, xerrors.Wrapf(err, "read asset %s", ref.SourcePath)
	}

	hash := ContentHash(data)
	hashed := HashedFilename(ref.RelativePath, hash)

	out := asset.Processed{
		Reference:      ref,
		PublicPath:     p.PublicPath(ref.Locale, ref.Version, ref.Type, hashed),
		HashedFilename: hashed,
		ContentHash:    hash,
		FileSize:       int64(len(data)),
		MimeType:       asset.MIMEForPath(ref.RelativePath),
		LastModified:   fi.ModTime().UTC(),
	}

	if ref.Type == asset.TypeImage && p.opt != nil {
		p.enrich(ctx, &out, data)
	}
	return out, nil
}

// enrich asks the optimizer for dimensions and derivatives. Best-effort:
// every failure is logged and skipped.
func (p *Processor) enrich(ctx context.Context, out *asset.Processed, data []byte) {
	dims, err := p.opt.Dimensions(ctx, out.SourcePath)
	if err != nil {
		p.logr.Warn(ctx, "dimension probe failed", "path", out.RelativePath, "err", err.Error())
	} else {
		out.Dimensions = &dims
		out.Optimized = true
	}

	rens, err := p.opt.ResponsiveVariants(ctx, out.SourcePath, data)
	if err != nil {
		p.logr.Warn(ctx, "responsive variants failed", "path", out.RelativePath, "err", err.Error())
	}

	if p.modern {
		modern, err := p.opt.ModernFormats(ctx, out.SourcePath, data)
		if err != nil {
			p.logr.Warn(ctx, "modern format conversion failed", "path", out.RelativePath, "err", err.Error())
		} else {
			rens = append(rens, modern...)
		}
	}

	for _, ren := range rens {
		out.Derivatives = append(out.Derivatives, p.derivative(out, ren))
		out.Optimized = true
	}
}

// derivative hashes a rendition and names it like the parent:
// "{base}{variant}.{hash8}{ext}".
func (p *Processor) derivative(parent *asset.Processed, ren imageopt.Rendition) asset.Derivative {
	srcExt := filepath.Ext(parent.RelativePath)
	ext := ren.Ext
	if ext == "" {
		ext = srcExt
	}
	base := strings.TrimSuffix(filepath.Base(parent.RelativePath), srcExt)

	dhash := ContentHash(ren.Data)
	name := base + ren.Variant + "." + dhash[:hashPrefixLen] + ext
	dims := ren.Dimensions

	return asset.Derivative{
		Variant:        ren.Variant,
		PublicPath:     p.PublicPath(parent.Locale, parent.Version, parent.Type, name),
		HashedFilename: name,
		FileSize:       int64(len(ren.Data)),
		Dimensions:     &dims,
		Data:           ren.Data,
	}
}

// ProcessAll processes refs over a bounded worker pool. One asset's
// failure never aborts the batch; failures come back as wrapped errors in
// the second return, and successes keep input order.
func (p *Processor) ProcessAll(ctx context.Context, refs []asset.Reference, workers int) ([]asset.Processed, []error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(refs) {
		workers = len(refs)
	}

	results := make([]asset.Processed, len(refs))
	failures := make([]error, len(refs))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				out, err := p.Process(ctx, refs[idx])
				if err != nil {
					failures[idx] = xerrors.Wrapf(err, "process %s", refs[idx].RelativePath)
					continue
				}
				results[idx] = out
			}
		}()
	}
	for i := range refs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	processed := make([]asset.Processed, 0, len(refs))
	var errs []error
	for i := range refs {
		if failures[i] != nil {
			errs = append(errs, failures[i])
			continue
		}
		processed = append(processed, results[i])
	}
	return processed, errs
}
