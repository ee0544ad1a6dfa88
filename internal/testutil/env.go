// Package testutil provides utilities for testing tow in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Env holds the isolated directories created by SetupTestEnv.
type Env struct {
	Home        string
	BinariesDir string
	StoreDir    string
	ConfigDir   string
}

// towVars are cleared so a developer's own settings never leak into tests.
var towVars = []string{
	"TOW_BINARIES_DIR",
	"TOW_STORE_DIR",
	"TOW_LOG_LEVEL",
	"TOW_LOG_FORMAT",
	"TOW_LOG_FILE",
	"TOW_DOWNLOAD_TIMEOUT",
	"TOW_DOWNLOAD_HEADER_TIMEOUT",
	"TOW_DOWNLOAD_USER_AGENT",
}

// SetupTestEnv points HOME and the XDG directories at a fresh temp dir so
// tow tests never touch the user's real binaries or store.
//
// The cleanup is handled by t.TempDir and t.Setenv.
func SetupTestEnv(t *testing.T) Env {
	t.Helper()

	tmpDir := t.TempDir()
	env := Env{
		Home:        filepath.Join(tmpDir, "home"),
		BinariesDir: filepath.Join(tmpDir, "home", ".local", "bin"),
		StoreDir:    filepath.Join(tmpDir, "home", ".local", "share", "tow"),
		ConfigDir:   filepath.Join(tmpDir, "home", ".config", "tow"),
	}

	t.Setenv("HOME", env.Home)
	t.Setenv("XDG_BIN_HOME", env.BinariesDir)
	t.Setenv("XDG_DATA_HOME", filepath.Dir(env.StoreDir))
	t.Setenv("XDG_CONFIG_HOME", filepath.Dir(env.ConfigDir))
	for _, name := range towVars {
		t.Setenv(name, "")
	}

	for _, dir := range []string{env.BinariesDir, env.ConfigDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	return env
}
