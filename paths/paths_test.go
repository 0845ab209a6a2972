package paths

import (
	"os"
	"path/filepath"
	"testing"
)

// setupTestHome creates a temp directory, sets HOME to it, and resets the path cache.
func setupTestHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	Reset()
	t.Cleanup(Reset)
	return tmpDir
}

func TestFreshInstallNoXDG(t *testing.T) {
	home := setupTestHome(t)
	expected := filepath.Join(home, ".plural-editor")

	configDir, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir: %v", err)
	}
	if configDir != expected {
		t.Errorf("ConfigDir = %q, want %q", configDir, expected)
	}

	stateDir, err := StateDir()
	if err != nil {
		t.Fatalf("StateDir: %v", err)
	}
	if stateDir != expected {
		t.Errorf("StateDir = %q, want %q", stateDir, expected)
	}

	if !IsFlatLayout() {
		t.Error("IsFlatLayout should be true for fresh install without XDG")
	}
}

func TestFlatDirTakesPrecedenceOverXDG(t *testing.T) {
	home := setupTestHome(t)
	flatDir := filepath.Join(home, ".plural-editor")
	if err := os.MkdirAll(flatDir, 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "xdg-config"))
	Reset()

	configDir, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir: %v", err)
	}
	if configDir != flatDir {
		t.Errorf("ConfigDir = %q, want %q", configDir, flatDir)
	}
}

func TestXDGVars(t *testing.T) {
	home := setupTestHome(t)
	xdgConfig := filepath.Join(home, "cfg")
	xdgState := filepath.Join(home, "st")
	t.Setenv("XDG_CONFIG_HOME", xdgConfig)
	t.Setenv("XDG_STATE_HOME", xdgState)
	Reset()

	configDir, _ := ConfigDir()
	if want := filepath.Join(xdgConfig, "plural-editor"); configDir != want {
		t.Errorf("ConfigDir = %q, want %q", configDir, want)
	}
	stateDir, _ := StateDir()
	if want := filepath.Join(xdgState, "plural-editor"); stateDir != want {
		t.Errorf("StateDir = %q, want %q", stateDir, want)
	}
	if IsFlatLayout() {
		t.Error("IsFlatLayout should be false with XDG vars set")
	}
}

func TestXDGPartialVars(t *testing.T) {
	home := setupTestHome(t)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "cfg"))
	Reset()

	stateDir, err := StateDir()
	if err != nil {
		t.Fatalf("StateDir: %v", err)
	}
	if want := filepath.Join(home, ".local", "state", "plural-editor"); stateDir != want {
		t.Errorf("StateDir = %q, want %q", stateDir, want)
	}
}

func TestDerivedPaths(t *testing.T) {
	home := setupTestHome(t)
	base := filepath.Join(home, ".plural-editor")

	tests := []struct {
		name string
		fn   func() (string, error)
		want string
	}{
		{"ConfigFilePath", ConfigFilePath, filepath.Join(base, "config.yaml")},
		{"ExtensionsDir", ExtensionsDir, filepath.Join(base, "extensions")},
		{"LogsDir", LogsDir, filepath.Join(base, "logs")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn()
			if err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestResetClearsCache(t *testing.T) {
	home := setupTestHome(t)
	first, _ := ConfigDir()

	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "other"))
	second, _ := ConfigDir()
	if first != second {
		t.Error("resolution should be cached until Reset")
	}

	Reset()
	third, _ := ConfigDir()
	if third == first {
		t.Error("Reset should force re-resolution")
	}
}
