package testutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ZebulonRouseFrantzich/tow/internal/testutil"
)

func TestSetupTestEnv(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	if got := os.Getenv("HOME"); got != env.Home {
		t.Errorf("HOME = %q, want %q", got, env.Home)
	}
	if got := os.Getenv("XDG_BIN_HOME"); got != env.BinariesDir {
		t.Errorf("XDG_BIN_HOME = %q, want %q", got, env.BinariesDir)
	}
	if got := filepath.Join(os.Getenv("XDG_DATA_HOME"), "tow"); got != env.StoreDir {
		t.Errorf("store dir from XDG_DATA_HOME = %q, want %q", got, env.StoreDir)
	}
	if got := os.Getenv("TOW_BINARIES_DIR"); got != "" {
		t.Errorf("TOW_BINARIES_DIR = %q, want empty", got)
	}

	for _, dir := range []string{env.BinariesDir, env.ConfigDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("directory %s not created: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}

	// The store dir is left for tow to create.
	if _, err := os.Stat(env.StoreDir); !os.IsNotExist(err) {
		t.Errorf("store dir should not exist yet, stat err = %v", err)
	}
}

func TestSetupTestEnv_Isolation(t *testing.T) {
	var first, second testutil.Env

	t.Run("first", func(t *testing.T) {
		first = testutil.SetupTestEnv(t)
	})
	t.Run("second", func(t *testing.T) {
		second = testutil.SetupTestEnv(t)
	})

	if first.Home == second.Home {
		t.Errorf("tests share a home directory: %s", first.Home)
	}
}
