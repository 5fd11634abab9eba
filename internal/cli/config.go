package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/matzehuels/vpmlisting/pkg/errors"
)

// A config file sets flag defaults. Top-level keys are flag names; a table
// prefixes its keys, so
//
//	concurrency = 8
//	retry-on = [429, 503]
//
//	[redis]
//	addr = "localhost:6379"
//
// sets --concurrency, --retry-on and --redis-addr. Flags given on the command
// line always win.

// loadConfig applies the config file to cmd's flags. A missing file at the
// default location is not an error.
func (c *CLI) loadConfig(cmd *cobra.Command) error {
	path, explicit := c.configPath, c.configPath != ""
	if !explicit {
		dir, err := configDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(dir, configFileName)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil
		}
	}

	values, err := readConfig(path)
	if err != nil {
		return err
	}
	loggerFromContext(cmd.Context()).Debug("loaded config", "path", path, "keys", len(values))
	return applyConfig(cmd, values)
}

// readConfig decodes the TOML file at path into flag name -> value.
func readConfig(path string) (map[string]string, error) {
	var doc map[string]any
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "read config %s", path)
	}
	values := make(map[string]string)
	if err := flatten(values, "", doc); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "config %s", path)
	}
	return values, nil
}

func flatten(out map[string]string, prefix string, doc map[string]any) error {
	for k, v := range doc {
		name := k
		if prefix != "" {
			name = prefix + "-" + k
		}
		if table, ok := v.(map[string]any); ok {
			if err := flatten(out, name, table); err != nil {
				return err
			}
			continue
		}
		s, err := configString(v)
		if err != nil {
			return fmt.Errorf("key %s: %w", name, err)
		}
		out[name] = s
	}
	return nil
}

func configString(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			s, err := configString(e)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("unsupported value %v (%T)", v, v)
	}
}

// applyConfig sets every flag of cmd named in values that was not given on
// the command line. Keys that match no flag of any command are rejected.
func applyConfig(cmd *cobra.Command, values map[string]string) error {
	known := allFlags(cmd.Root())
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, ok := known[k]; !ok {
			return errors.New(errors.ErrCodeInvalidConfig, "unknown config key %q", k)
		}
		f := cmd.Flags().Lookup(k)
		if f == nil || f.Changed {
			continue
		}
		if err := cmd.Flags().Set(k, values[k]); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "config key %s", k)
		}
	}
	return nil
}

func allFlags(root *cobra.Command) map[string]struct{} {
	names := make(map[string]struct{})
	var walk func(*cobra.Command)
	walk = func(c *cobra.Command) {
		visit := func(f *pflag.Flag) { names[f.Name] = struct{}{} }
		c.LocalFlags().VisitAll(visit)
		c.PersistentFlags().VisitAll(visit)
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(root)
	return names
}
