// Package cfg holds runtime configuration: flag registration, env-var fill
// and validation. Precedence is cli flag > env var > default, with env keys
// derived from flag names under the QUOTDD_ prefix (so -port honors
// QUOTDD_PORT).
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/quotd/internal/log"
)

// EnvPrefix is the prefix for all environment configuration keys.
const EnvPrefix = "QUOTDD_"

type App struct {
	LogJSON  bool
	LogLevel string

	// Port is the QOTD listen port. 0 binds an ephemeral port.
	Port      int
	AdminPort int

	QuotesFile string

	// Rate limiter tuning. Threshold and decay are equal by default so one
	// decay period exactly cancels having been at the admission boundary.
	RateThreshold int
	RateDecay     int
	DecayInterval time.Duration

	// FailFast restores terminate-on-first-handler-error behavior.
	FailFast     bool
	WriteTimeout time.Duration

	EnablePprof     bool
	EnableTracing   bool
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.Port, "port", 17, "QOTD listen TCP port (0..65535, 0 = ephemeral)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.StringVar(&c.QuotesFile, "quotes-file", "", "newline-delimited quotes file (empty = embedded defaults)")
	fs.IntVar(&c.RateThreshold, "rate-threshold", 10, "connections admitted per source per decay period")
	fs.IntVar(&c.RateDecay, "rate-decay", 10, "amount subtracted from each source counter per decay pass")
	fs.DurationVar(&c.DecayInterval, "decay-interval", 60*time.Second, "rate limiter decay period")
	fs.BoolVar(&c.FailFast, "fail-fast", false, "terminate the service on any per-connection I/O error")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", 0, "per-connection write deadline (0 = none)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
//
// An env value that fails to parse is a hard error - a malformed
// QUOTDD_PORT must stop startup, not silently fall back to the default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) error {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	var errs []error
	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		if err := fs.Set(f.Name, envVal); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s=%q for flag -%s: %w", key, envVal, f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports. Port 0 is a valid uint16 and binds ephemerally, which the
	// end-to-end tests rely on.
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT %d (must be 0..65535)", c.Port))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.Port != 0 && c.AdminPort == c.Port {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and PORT must differ (both %d)", c.Port))
	}

	// Log level
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}

	// Rate limiter
	if c.RateThreshold < 1 {
		errs = append(errs, fmt.Errorf("RATE_THRESHOLD must be >= 1 (got %d)", c.RateThreshold))
	}
	if c.RateDecay < 1 {
		errs = append(errs, fmt.Errorf("RATE_DECAY must be >= 1 (got %d)", c.RateDecay))
	}
	if c.DecayInterval <= 0 {
		errs = append(errs, fmt.Errorf("DECAY_INTERVAL must be positive (got %v)", c.DecayInterval))
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("WRITE_TIMEOUT must be >= 0 (got %v)", c.WriteTimeout))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
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

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
