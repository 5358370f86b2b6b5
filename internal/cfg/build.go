package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/tapestrydocs/asset-engine/internal/log"
)

// Build holds configuration for the one-shot assetbuild pipeline.
type Build struct {
	ContentRoot     string
	OutputDir       string
	PublicRoot      string
	DefaultLocale   string
	ManifestVersion string
	Workers         int
	MaxFileSize     int64
	StrictPaths     bool
	OptimizeImages  bool
	ModernFormats   bool
	LockTimeout     time.Duration

	ConfigFile string

	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	EnableTracing bool
	OTLPEndpoint  string
	TraceSample   float64

	PushgatewayURL string

	S3Bucket    string
	S3Prefix    string
	S3UploadRPS float64
	SSMParam    string
	SignKeyARN  string
}

// RegisterBuild binds all assetbuild config fields to fs with defaults inline.
func RegisterBuild(fs *flag.FlagSet, c *Build) {
	fs.StringVar(&c.ContentRoot, "content-root", "content", "root of the {locale}/{version}/assets content tree")
	fs.StringVar(&c.OutputDir, "output-dir", "dist", "directory the published tree is written under")
	fs.StringVar(&c.PublicRoot, "public-root", "public/assets", "URL root segment for published assets (no leading slash)")
	fs.StringVar(&c.DefaultLocale, "default-locale", "en", "locale used for fallback resolution")
	fs.StringVar(&c.ManifestVersion, "manifest-version", "1.0.0", "version string stamped into the manifest")
	fs.IntVar(&c.Workers, "workers", 0, "parallel workers per stage (0 = number of CPUs)")
	fs.Int64Var(&c.MaxFileSize, "max-file-size", 10*1024*1024, "per-asset size limit in bytes")
	fs.BoolVar(&c.StrictPaths, "strict-paths", true, "reject (true) or strip (false) dangerous path segments")
	fs.BoolVar(&c.OptimizeImages, "optimize-images", true, "probe dimensions and generate responsive variants for images")
	fs.BoolVar(&c.ModernFormats, "modern-formats", false, "attempt webp/avif conversion for images")
	fs.DurationVar(&c.LockTimeout, "lock-timeout", 30*time.Second, "how long to wait for the build lock")
	fs.StringVar(&c.ConfigFile, "config", "", "optional TOML config file (flat kebab-case keys)")
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PushgatewayURL, "pushgateway-url", "", "prometheus pushgateway to push run metrics to")
	fs.StringVar(&c.S3Bucket, "s3-bucket", "", "s3 bucket to mirror the published tree to")
	fs.StringVar(&c.S3Prefix, "s3-prefix", "", "s3 key prefix for the mirror")
	fs.Float64Var(&c.S3UploadRPS, "s3-upload-rps", 32, "s3 upload rate limit (requests/second)")
	fs.StringVar(&c.SSMParam, "ssm-param", "", "ssm parameter to write the manifest digest to after publish")
	fs.StringVar(&c.SignKeyARN, "sign-key-arn", "", "KMS key ARN for signing the manifest")
}

// ValidateBuild checks ranges and cross-field requirements, returning all
// problems at once.
func ValidateBuild(c Build) error {
	var errs []error

	if c.ContentRoot == "" {
		errs = append(errs, fmt.Errorf("CONTENT_ROOT is required"))
	}
	if c.OutputDir == "" {
		errs = append(errs, fmt.Errorf("OUTPUT_DIR is required"))
	}
	if root := strings.Trim(c.PublicRoot, "/"); root == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_ROOT must be a non-empty path segment (got %q)", c.PublicRoot))
	}
	if c.DefaultLocale == "" {
		errs = append(errs, fmt.Errorf("DEFAULT_LOCALE is required"))
	}
	if c.Workers < 0 || c.Workers > 256 {
		errs = append(errs, fmt.Errorf("invalid WORKERS %d (must be 0..256)", c.Workers))
	}
	if c.MaxFileSize < 1 {
		errs = append(errs, fmt.Errorf("invalid MAX_FILE_SIZE %d (must be >= 1)", c.MaxFileSize))
	}
	if c.LockTimeout < 0 {
		errs = append(errs, fmt.Errorf("invalid LOCK_TIMEOUT %s (must be >= 0)", c.LockTimeout))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.PushgatewayURL != "" {
		if u, err := url.Parse(c.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PUSHGATEWAY_URL must be a URL (got %q)", c.PushgatewayURL))
		}
	}

	if c.S3Prefix != "" && c.S3Bucket == "" {
		errs = append(errs, fmt.Errorf("S3_BUCKET required when S3_PREFIX is set"))
	}
	if c.S3Bucket != "" && c.S3UploadRPS <= 0 {
		errs = append(errs, fmt.Errorf("S3_UPLOAD_RPS must be > 0 when mirroring (got %g)", c.S3UploadRPS))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
