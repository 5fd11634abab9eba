package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/matzehuels/vpmlisting/pkg/errors"
)

func TestReadConfig(t *testing.T) {
	path := writeFile(t, "config.toml", `
concurrency = 8
no-sha256 = true
retry-delay = "250ms"
retry-on = [429, 503]

[redis]
addr = "localhost:6379"
ttl = "1h"
`)
	got, err := readConfig(path)
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	want := map[string]string{
		"concurrency": "8",
		"no-sha256":   "true",
		"retry-delay": "250ms",
		"retry-on":    "429,503",
		"redis-addr":  "localhost:6379",
		"redis-ttl":   "1h",
	}
	if len(got) != len(want) {
		t.Fatalf("readConfig = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestReadConfigInvalid(t *testing.T) {
	path := writeFile(t, "config.toml", "concurrency = \n")
	if _, err := readConfig(path); !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("err = %v, want invalid config", err)
	}
}

func testCommand() (*cobra.Command, *cobra.Command) {
	root := &cobra.Command{Use: "root"}
	sub := &cobra.Command{Use: "sub", Run: func(*cobra.Command, []string) {}}
	sub.Flags().Int("concurrency", 4, "")
	sub.Flags().String("redis-addr", "", "")
	root.AddCommand(sub)
	return root, sub
}

func TestApplyConfig(t *testing.T) {
	_, sub := testCommand()
	if err := sub.ParseFlags([]string{"--concurrency", "2"}); err != nil {
		t.Fatal(err)
	}
	err := applyConfig(sub, map[string]string{"concurrency": "8", "redis-addr": "cache:6379"})
	if err != nil {
		t.Fatalf("applyConfig: %v", err)
	}
	if got, _ := sub.Flags().GetInt("concurrency"); got != 2 {
		t.Errorf("concurrency = %d, want the command line value 2", got)
	}
	if got, _ := sub.Flags().GetString("redis-addr"); got != "cache:6379" {
		t.Errorf("redis-addr = %q, want the config value", got)
	}
}

func TestApplyConfigUnknownKey(t *testing.T) {
	_, sub := testCommand()
	err := applyConfig(sub, map[string]string{"concurency": "8"})
	if !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("err = %v, want invalid config", err)
	}
}

func TestApplyConfigBadValue(t *testing.T) {
	_, sub := testCommand()
	err := applyConfig(sub, map[string]string{"concurrency": "many"})
	if !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("err = %v, want invalid config", err)
	}
}

func TestLoadConfigMissingDefault(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	_, _, err := execute(t, "validate", "source", writeFile(t, "source.json", testSource))
	if err != nil {
		t.Errorf("missing default config should be ignored: %v", err)
	}
}

func TestLoadConfigDefaultLocation(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	dir := filepath.Join(home, appName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, configFileName), []byte("bogus = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, _, err := execute(t, "validate", "source", writeFile(t, "source.json", testSource))
	if !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("err = %v, want the default config to be read", err)
	}
}

func TestLoadConfigExplicitMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	missing := filepath.Join(t.TempDir(), "nope.toml")
	_, _, err := execute(t, "--config", missing, "validate", "source", writeFile(t, "source.json", testSource))
	if !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("err = %v, want invalid config", err)
	}
}
