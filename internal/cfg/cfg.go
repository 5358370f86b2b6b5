// Package cfg wires configuration for the asset-engine binaries. Flags own
// the defaults; FillFromEnv and FillFromFile layer environment variables and
// an optional TOML file underneath explicit CLI values.
//
// Precedence: cli flag > env var > config file > default.
package cfg

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/tapestrydocs/asset-engine/internal/xerrors"
)

// EnvPrefix is the prefix for all environment variable overrides.
// Flag "foo-bar" maps to TAPESTRY_FOO_BAR.
const EnvPrefix = "TAPESTRY_"

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

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
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// FillFromFile sets any flag not already assigned (by CLI or env) from a
// TOML file of flat kebab-case keys matching flag names:
//
//	content-root = "docs/content"
//	workers = 8
//	strict-paths = true
//
// Call after FillFromEnv; fs.Set marks flags as visited, which is what
// keeps the cli > env > file ordering honest. Unknown keys error so typos
// do not silently fall back to defaults.
func FillFromFile(fs *flag.FlagSet, path string, logf func(string, ...any)) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Wrapf(err, "read config file %s", path)
	}
	var values map[string]any
	if err := toml.Unmarshal(raw, &values); err != nil {
		return xerrors.Wrapf(err, "parse config file %s", path)
	}

	assigned := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { assigned[f.Name] = true })

	known := make(map[string]bool)
	fs.VisitAll(func(f *flag.Flag) { known[f.Name] = true })

	for key, val := range values {
		if !known[key] {
			return xerrors.Newf("config file %s: unknown key %q", path, key)
		}
		if assigned[key] {
			if logf != nil {
				logf("config key %s: overridden by cli or env", key)
			}
			continue
		}
		if err := fs.Set(key, fmt.Sprint(val)); err != nil {
			return xerrors.Wrapf(err, "config file %s: invalid value for %q", path, key)
		}
	}
	return nil
}
