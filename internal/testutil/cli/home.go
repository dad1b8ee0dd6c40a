package cli

import (
	"os"
	"path/filepath"
	"testing"
)

// Home is an isolated docgate installation rooted in a test temp dir.
type Home struct {
	t *testing.T

	// Dir is the fake home directory. HOME and the XDG base directories
	// point inside it for the rest of the test.
	Dir string
	// StateDir holds the session, database, device settings and signing
	// certificate.
	StateDir string
	// ConfigPath is set by WriteConfig.
	ConfigPath string
}

// NewHome creates the home and state directories and redirects HOME and
// XDG_{DATA,CONFIG,CACHE}_HOME into it. Tests using it cannot run in parallel.
func NewHome(t *testing.T) *Home {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, ".local", "share"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, ".cache"))

	stateDir := filepath.Join(dir, "state")
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		t.Fatalf("failed to create state dir: %v", err)
	}
	return &Home{t: t, Dir: dir, StateDir: stateDir}
}

// WriteConfig writes content to $XDG_CONFIG_HOME/docgate/config.yaml and
// records the path in ConfigPath.
func (h *Home) WriteConfig(content string) string {
	h.t.Helper()
	dir := filepath.Join(h.Dir, ".config", "docgate")
	if err := os.MkdirAll(dir, 0700); err != nil {
		h.t.Fatalf("failed to create config dir: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		h.t.Fatalf("failed to write config file: %v", err)
	}
	h.ConfigPath = path
	return path
}

// StatePath returns the path of name inside StateDir.
func (h *Home) StatePath(name string) string {
	return filepath.Join(h.StateDir, name)
}

// WriteState writes a 0600 file into StateDir and returns its path.
func (h *Home) WriteState(name string, data []byte) string {
	h.t.Helper()
	path := h.StatePath(name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		h.t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// ReadState returns the contents of a file in StateDir.
func (h *Home) ReadState(name string) []byte {
	h.t.Helper()
	data, err := os.ReadFile(h.StatePath(name))
	if err != nil {
		h.t.Fatalf("failed to read %s: %v", name, err)
	}
	return data
}
