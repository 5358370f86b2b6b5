package publish

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/time/rate"

	"github.com/tapestrydocs/asset-engine/internal/asset"
	"github.com/tapestrydocs/asset-engine/internal/log"
	"github.com/tapestrydocs/asset-engine/internal/manifest"
	"github.com/tapestrydocs/asset-engine/internal/xerrors"
)

// Cache-control values by key mutability. Content-addressed names never
// change, so CDNs may hold them for a year; the manifest and its
// signature live at fixed keys and must always be revalidated.
const (
	immutableCacheControl = "public, max-age=31536000, immutable"
	mutableCacheControl   = "no-cache"
)

// s3API is the S3 surface the mirror needs. Extracted for tests.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Options struct {
	Bucket string
	// Prefix is prepended to every object key.
	Prefix string
	// UploadRPS throttles S3 API calls. <=0 defaults to 32.
	UploadRPS float64
	Logger    log.Logger
}

// S3Mirror uploads the published tree to a bucket so a CDN or render
// fleet can pull it without touching the build host.
type S3Mirror struct {
	client  s3API
	bucket  string
	prefix  string
	limiter *rate.Limiter
	logr    log.Logger
}

func NewS3Mirror(client *s3.Client, opts S3Options) *S3Mirror {
	return newS3Mirror(client, opts)
}

func newS3Mirror(client s3API, opts S3Options) *S3Mirror {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	rps := opts.UploadRPS
	if rps <= 0 {
		rps = 32
	}
	return &S3Mirror{
		client:  client,
		bucket:  opts.Bucket,
		prefix:  strings.Trim(opts.Prefix, "/"),
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
		logr:    opts.Logger,
	}
}

func (m *S3Mirror) key(rel string) string {
	if m.prefix == "" {
		return rel
	}
	return m.prefix + "/" + rel
}

// mutableKey reports whether rel is one of the fixed-location files that
// must be re-uploaded every build.
func mutableKey(rel string) bool {
	base := path.Base(rel)
	return base == manifest.Filename || strings.HasSuffix(base, manifest.SigSuffix)
}

// MirrorTree uploads every regular file under root, keyed by its slash
// path relative to root. Content-addressed keys already present in the
// bucket are skipped via HeadObject. Per-file failures are aggregated;
// the walk always covers the whole tree.
func (m *S3Mirror) MirrorTree(ctx context.Context, root string) (uploaded, skipped int, err error) {
	var errs []error
	walkErr := fs.WalkDir(os.DirFS(root), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		// hidden entries (the build lock, editor droppings) never mirror
		if p != "." && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		did, upErr := m.mirrorFile(ctx, filepath.Join(root, filepath.FromSlash(p)), p)
		if upErr != nil {
			// context errors abort the walk, everything else aggregates
			if errors.Is(upErr, context.Canceled) || errors.Is(upErr, context.DeadlineExceeded) {
				return upErr
			}
			errs = append(errs, upErr)
			return nil
		}
		if did {
			uploaded++
		} else {
			skipped++
		}
		return nil
	})
	if walkErr != nil {
		errs = append(errs, xerrors.Wrapf(walkErr, "walk publish tree %s", root))
	}
	m.logr.Info(ctx, "s3 mirror complete",
		"bucket", m.bucket,
		"uploaded", uploaded,
		"skipped", skipped,
		"failed", len(errs),
	)
	return uploaded, skipped, errors.Join(errs...)
}

// mirrorFile uploads one file unless its immutable key already exists.
func (m *S3Mirror) mirrorFile(ctx context.Context, local, rel string) (bool, error) {
	key := m.key(rel)

	if !mutableKey(rel) {
		if err := m.limiter.Wait(ctx); err != nil {
			return false, err
		}
		_, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(m.bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			return false, nil
		}
		var nf *s3types.NotFound
		if !errors.As(err, &nf) {
			return false, xerrors.Wrapf(err, "head s3://%s/%s", m.bucket, key)
		}
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return false, err
	}
	f, err := os.Open(local)
	if err != nil {
		return false, xerrors.Wrapf(err, "open %s", local)
	}
	defer f.Close()

	cacheControl := immutableCacheControl
	if mutableKey(rel) {
		cacheControl = mutableCacheControl
	}
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(m.bucket),
		Key:          aws.String(key),
		Body:         f,
		ContentType:  aws.String(asset.MIMEForPath(rel)),
		CacheControl: aws.String(cacheControl),
	})
	if err != nil {
		return false, xerrors.Wrapf(err, "put s3://%s/%s", m.bucket, key)
	}
	return true, nil
}
