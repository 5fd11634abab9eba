package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")

	dir, err := configDir()
	if err != nil {
		t.Fatalf("configDir() error: %v", err)
	}

	home, _ := os.UserHomeDir()
	if !strings.HasPrefix(dir, home) {
		t.Errorf("configDir() = %q, should be under home %q", dir, home)
	}
	if want := filepath.Join(".config", appName); !strings.HasSuffix(dir, want) {
		t.Errorf("configDir() = %q, should end with %q", dir, want)
	}
}

func TestConfigDirXDG(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	dir, err := configDir()
	if err != nil {
		t.Fatalf("configDir() error: %v", err)
	}
	if want := filepath.Join(xdg, appName); dir != want {
		t.Errorf("configDir() = %q, want %q", dir, want)
	}
}
