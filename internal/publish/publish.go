// Package publish materializes processed assets into the output tree and
// optionally mirrors them to S3, signs the manifest, and advances the SSM
// release pointer.
package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/tapestrydocs/asset-engine/internal/asset"
	"github.com/tapestrydocs/asset-engine/internal/log"
	"github.com/tapestrydocs/asset-engine/internal/manifest"
	"github.com/tapestrydocs/asset-engine/internal/xerrors"
)

// Signer produces a detached signature over the manifest bytes.
// *cryptoutil.KMSSigner satisfies it.
type Signer interface {
	Sign(ctx context.Context, message []byte) ([]byte, error)
}

type Options struct {
	// BaseDir is the local output root the public tree is written under,
	// e.g. "dist".
	BaseDir string
	// PublicRoot locates the manifest inside BaseDir, e.g. "public/assets".
	PublicRoot string
	// Workers bounds concurrent file copies. <=0 means GOMAXPROCS.
	Workers int
	// Signer, when set, writes a detached signature sidecar next to the
	// manifest.
	Signer Signer
	Logger log.Logger
}

type Publisher struct {
	baseDir    string
	publicRoot string
	workers    int
	signer     Signer
	logr       log.Logger
}

func New(opts Options) *Publisher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Publisher{
		baseDir:    opts.BaseDir,
		publicRoot: strings.Trim(opts.PublicRoot, "/"),
		workers:    opts.Workers,
		signer:     opts.Signer,
		logr:       opts.Logger,
	}
}

// ManifestPath is the manifest's fixed location under the output root.
func (p *Publisher) ManifestPath() string {
	return filepath.Join(p.baseDir, filepath.FromSlash(p.publicRoot), manifest.Filename)
}

// dest maps a public path ("/public/assets/...") to its location under
// BaseDir.
func (p *Publisher) dest(publicPath string) string {
	return filepath.Join(p.baseDir, filepath.FromSlash(strings.TrimPrefix(publicPath, "/")))
}

// copyJob is one file materialization: either a source copy or a
// derivative blob write.
type copyJob struct {
	src  string // source file path; empty when data is inline
	data []byte
	dst  string
}

// CopyAssets writes every processed asset and derivative to its public
// path under BaseDir. Copies run concurrently; one failure never blocks
// the others, but every failure is aggregated into the returned error.
// A non-nil return means the publish is incomplete.
func (p *Publisher) CopyAssets(ctx context.Context, processed []asset.Processed) error {
	var jobs []copyJob
	for _, a := range processed {
		jobs = append(jobs, copyJob{src: a.SourcePath, dst: p.dest(a.PublicPath)})
		for _, d := range a.Derivatives {
			if len(d.Data) == 0 {
				continue
			}
			jobs = append(jobs, copyJob{data: d.Data, dst: p.dest(d.PublicPath)})
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	workers := p.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	failures := make([]error, len(jobs))
	idx := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range idx {
				failures[j] = p.runJob(jobs[j])
			}
		}()
	}
	for i := range jobs {
		idx <- i
	}
	close(idx)
	wg.Wait()

	var errs []error
	copied := 0
	for _, err := range failures {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		copied++
	}
	p.logr.Info(ctx, "assets published", "copied", copied, "failed", len(errs), "base_dir", p.baseDir)
	return errors.Join(errs...)
}

func (p *Publisher) runJob(j copyJob) error {
	if err := os.MkdirAll(filepath.Dir(j.dst), 0o755); err != nil {
		return xerrors.Wrapf(err, "create dir for %s", j.dst)
	}
	if j.src == "" {
		if err := os.WriteFile(j.dst, j.data, 0o644); err != nil {
			return xerrors.Wrapf(err, "write derivative %s", j.dst)
		}
		return nil
	}
	return copyFile(j.src, j.dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return xerrors.Wrapf(err, "open source %s", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return xerrors.Wrapf(err, "create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return xerrors.Wrapf(err, "copy %s to %s", src, dst)
	}
	if err := out.Close(); err != nil {
		return xerrors.Wrapf(err, "close %s", dst)
	}
	return nil
}

// WriteManifest persists the manifest at its well-known location and,
// when a signer is configured, a detached signature sidecar over the
// exact on-disk bytes. Any failure here is build-fatal for the caller.
func (p *Publisher) WriteManifest(ctx context.Context, m *manifest.Manifest) error {
	path := p.ManifestPath()
	if err := manifest.Write(path, m); err != nil {
		return xerrors.Wrapf(err, "write manifest %s", path)
	}
	p.logr.Info(ctx, "manifest written", "path", path, "assets", len(m.Assets))

	if p.signer == nil {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Wrapf(err, "read back manifest %s for signing", path)
	}
	sig, err := p.signer.Sign(ctx, data)
	if err != nil {
		return xerrors.Wrap(err, "sign manifest")
	}
	sigPath := path + manifest.SigSuffix
	if err := os.WriteFile(sigPath, sig, 0o644); err != nil {
		return xerrors.Wrapf(err, "write manifest signature %s", sigPath)
	}
	p.logr.Info(ctx, "manifest signed", "path", sigPath)
	return nil
}
