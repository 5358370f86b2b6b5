package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/tapestrydocs/asset-engine/internal/log"
)

// Serve holds configuration for the assetserve origin server.
type Serve struct {
	HTTPPort      int
	AdminPort     int
	BaseDir       string
	PublicRoot    string
	DefaultLocale string
	VerifyKeyARN  string

	ConfigFile string

	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	EnablePprof     bool
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string

	EnableTracing bool
	OTLPEndpoint  string
	TraceSample   float64

	RateRPS      float64
	RateBurst    int
	MaxBodyBytes int64
}

// RegisterServe binds all assetserve config fields to fs with defaults inline.
func RegisterServe(fs *flag.FlagSet, c *Serve) {
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.StringVar(&c.BaseDir, "base-dir", "dist", "directory holding the published asset tree")
	fs.StringVar(&c.PublicRoot, "public-root", "public/assets", "URL root segment the tree was published under")
	fs.StringVar(&c.DefaultLocale, "default-locale", "en", "locale used for fallback resolution")
	fs.StringVar(&c.VerifyKeyARN, "verify-key-arn", "", "KMS key ARN for manifest signature verification")
	fs.StringVar(&c.ConfigFile, "config", "", "optional TOML config file (flat kebab-case keys)")
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "enable pprof handlers (admin port only)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "enable pushing pyroscope data to -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.Float64Var(&c.RateRPS, "rate-rps", 50, "per-client request rate limit (requests/second)")
	fs.IntVar(&c.RateBurst, "rate-burst", 100, "per-client request burst")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 1024*1024, "request body size limit in bytes")
}

// ValidateServe checks ranges and cross-field requirements, returning all
// problems at once.
func ValidateServe(c Serve) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if c.BaseDir == "" {
		errs = append(errs, fmt.Errorf("BASE_DIR is required"))
	}
	if root := strings.Trim(c.PublicRoot, "/"); root == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_ROOT must be a non-empty path segment (got %q)", c.PublicRoot))
	}
	if c.DefaultLocale == "" {
		errs = append(errs, fmt.Errorf("DEFAULT_LOCALE is required"))
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

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
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

	if c.RateRPS <= 0 {
		errs = append(errs, fmt.Errorf("RATE_RPS must be > 0 (got %g)", c.RateRPS))
	}
	if c.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_BURST must be >= 1 (got %d)", c.RateBurst))
	}
	if c.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be >= 1 (got %d)", c.MaxBodyBytes))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
