package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/tow/internal/config"
	"github.com/ZebulonRouseFrantzich/tow/internal/download"
	"github.com/ZebulonRouseFrantzich/tow/internal/lock"
	"github.com/ZebulonRouseFrantzich/tow/internal/platform"
	"github.com/ZebulonRouseFrantzich/tow/internal/store"
	"github.com/ZebulonRouseFrantzich/tow/internal/towerr"
)

var testHost = platform.Info{OS: "linux", Arch: "amd64", ArchRaw: "x86_64"}

type served struct {
	filename string
	body     []byte
}

// newServer serves each path with a Content-Disposition filename.
func newServer(t *testing.T, files map[string]served) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="`+f.filename+`"`)
		w.Write(f.body)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestInstaller(t *testing.T, now func() time.Time) (*Installer, config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Config{
		BinariesDir: filepath.Join(root, "bin"),
		StoreDir:    filepath.Join(root, "store"),
		Download: config.DownloadConfig{
			Timeout:       time.Minute,
			HeaderTimeout: 5 * time.Second,
		},
	}

	log, _ := logtest.NewNullLogger()
	d := download.New(download.Options{Logger: log})

	opts := []Option{WithLogger(log)}
	if now != nil {
		opts = append(opts, WithNow(now))
	}
	return NewInstaller(cfg, testHost, d, opts...), cfg
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// assertNoStaging checks that no staging directory survived.
func assertNoStaging(t *testing.T, binDir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(binDir, stagingPattern))
	require.NoError(t, err)
	assert.Empty(t, matches, "staging directories left behind")
}

func TestInstall(t *testing.T) {
	body := []byte("#!/bin/sh\necho tool\n")
	server := newServer(t, map[string]served{
		"/dl/tool": {"tool-linux-amd64", body},
	})

	inst, cfg := newTestInstaller(t, nil)
	ctx := context.Background()

	res, err := inst.Install(ctx, InstallRequest{
		URL:     server.URL + "/dl/tool",
		Name:    "tool",
		Version: "1.2.0",
		SHA256:  digest(body),
	})
	require.NoError(t, err)

	want := store.BinaryEntry{
		Name:    "tool",
		Version: "1.2.0",
		Path:    filepath.Join(cfg.BinariesDir, "tool-linux-amd64"),
		Source:  server.URL + "/dl/tool",
	}
	assert.Equal(t, want, res.Entry)
	assert.Equal(t, digest(body), res.SHA256)
	assert.Equal(t, []string{"sha256"}, res.Verified)

	info, err := os.Stat(want.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(BinaryPermissions), info.Mode().Perm())

	content, err := os.ReadFile(want.Path)
	require.NoError(t, err)
	assert.Equal(t, body, content)

	assertNoStaging(t, cfg.BinariesDir)
	_, err = os.Stat(filepath.Join(cfg.StoreDir, lock.Filename))
	assert.True(t, os.IsNotExist(err), "lock must be released")

	entries, err := inst.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.BinaryEntry{want}, entries)

	raw, err := os.ReadFile(filepath.Join(cfg.StoreDir, store.RegistryFilename))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"system": "linux"`)
	assert.Contains(t, string(raw), `"architecture": "x86_64"`)
}

func TestInstall_Defaults(t *testing.T) {
	server := newServer(t, map[string]served{
		"/latest": {"kubectl", []byte("bin")},
	})

	inst, _ := newTestInstaller(t, nil)
	res, err := inst.Install(context.Background(), InstallRequest{URL: server.URL + "/latest"})
	require.NoError(t, err)

	assert.Equal(t, "kubectl", res.Entry.Name)
	assert.Equal(t, DefaultVersion, res.Entry.Version)
	assert.Empty(t, res.Verified)
}

func TestInstall_Duration(t *testing.T) {
	server := newServer(t, map[string]served{
		"/x": {"x", []byte("x")},
	})

	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	inst, _ := newTestInstaller(t, func() time.Time { return fixed })

	res, err := inst.Install(context.Background(), InstallRequest{URL: server.URL + "/x"})
	require.NoError(t, err)
	assert.Zero(t, res.Duration)
}

func TestInstall_ChecksumMismatch(t *testing.T) {
	server := newServer(t, map[string]served{
		"/tool": {"tool", []byte("tampered")},
	})

	inst, cfg := newTestInstaller(t, nil)
	ctx := context.Background()

	_, err := inst.Install(ctx, InstallRequest{
		URL:    server.URL + "/tool",
		SHA256: digest([]byte("original")),
	})
	require.Error(t, err)
	assert.True(t, towerr.Is(err, towerr.Verification), "got %v", err)

	assertNoStaging(t, cfg.BinariesDir)
	_, err = os.Stat(filepath.Join(cfg.BinariesDir, "tool"))
	assert.True(t, os.IsNotExist(err), "unverified binary must not be installed")

	entries, err := inst.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInstall_DownloadFailure(t *testing.T) {
	server := newServer(t, nil)
	inst, cfg := newTestInstaller(t, nil)

	_, err := inst.Install(context.Background(), InstallRequest{URL: server.URL + "/missing"})
	require.Error(t, err)
	assert.True(t, towerr.Is(err, towerr.Network), "got %v", err)
	assertNoStaging(t, cfg.BinariesDir)
}

func TestInstall_AlreadyExists(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Disposition", "attachment; filename=tool-"+strings.TrimPrefix(r.URL.Path, "/"))
		w.Write([]byte("bin"))
	}))
	defer server.Close()

	inst, _ := newTestInstaller(t, nil)
	ctx := context.Background()

	_, err := inst.Install(ctx, InstallRequest{URL: server.URL + "/a", Name: "tool", Version: "1.0"})
	require.NoError(t, err)

	_, err = inst.Install(ctx, InstallRequest{URL: server.URL + "/b", Name: "tool", Version: "1.0"})
	require.Error(t, err)
	assert.True(t, towerr.Is(err, towerr.AlreadyExists), "got %v", err)
	assert.Equal(t, int32(1), requests.Load(), "a known name/version must not be downloaded again")
}

func TestInstall_SameFilenameDifferentVersion(t *testing.T) {
	server := newServer(t, map[string]served{
		"/v1": {"tool", []byte("v1")},
		"/v2": {"tool", []byte("v2")},
	})

	inst, cfg := newTestInstaller(t, nil)
	ctx := context.Background()

	_, err := inst.Install(ctx, InstallRequest{URL: server.URL + "/v1", Name: "tool", Version: "1"})
	require.NoError(t, err)

	_, err = inst.Install(ctx, InstallRequest{URL: server.URL + "/v2", Name: "tool", Version: "2"})
	require.Error(t, err)
	assert.True(t, towerr.Is(err, towerr.AlreadyExists), "got %v", err)

	content, err := os.ReadFile(filepath.Join(cfg.BinariesDir, "tool"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(content), "existing binary must not be overwritten")
	assertNoStaging(t, cfg.BinariesDir)
}

func TestInstall_Locked(t *testing.T) {
	server := newServer(t, map[string]served{"/x": {"x", []byte("x")}})
	inst, cfg := newTestInstaller(t, nil)
	ctx := context.Background()

	held, err := lock.Acquire(ctx, cfg.StoreDir)
	require.NoError(t, err)
	defer held.Release()

	_, err = inst.Install(ctx, InstallRequest{URL: server.URL + "/x"})
	require.Error(t, err)
	assert.True(t, IsLocked(err), "got %v", err)
	assertNoStaging(t, cfg.BinariesDir)
	_, err = os.Stat(filepath.Join(cfg.BinariesDir, "x"))
	assert.True(t, os.IsNotExist(err), "nothing may be installed without the lock")

	_, err = inst.Uninstall(ctx, "x", DefaultVersion)
	assert.True(t, IsLocked(err), "got %v", err)
}

func TestInstall_LockNotHeldDuringDownload(t *testing.T) {
	inst, cfg := newTestInstaller(t, nil)
	lockPath := filepath.Join(cfg.StoreDir, lock.Filename)

	var lockedDuringDownload atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := os.Stat(lockPath); err == nil {
			lockedDuringDownload.Store(true)
		}
		w.Header().Set("Content-Disposition", `attachment; filename="slow"`)
		w.Write([]byte("slow"))
	}))
	defer server.Close()

	res, err := inst.Install(context.Background(), InstallRequest{URL: server.URL + "/slow", Version: "1"})
	require.NoError(t, err)
	assert.False(t, lockedDuringDownload.Load(), "store lock held while downloading")
	assert.Equal(t, filepath.Join(cfg.BinariesDir, "slow"), res.Entry.Path)

	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err), "lock must be released")
}

func TestInstall_LockTakenDuringDownload(t *testing.T) {
	inst, cfg := newTestInstaller(t, nil)

	// Another process grabs the store while this download is in flight.
	var other atomic.Pointer[lock.Lock]
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l, err := lock.Acquire(r.Context(), cfg.StoreDir)
		if err == nil {
			other.Store(l)
		}
		w.Header().Set("Content-Disposition", `attachment; filename="tool"`)
		w.Write([]byte("bin"))
	}))
	defer server.Close()

	_, err := inst.Install(context.Background(), InstallRequest{URL: server.URL + "/tool"})
	held := other.Load()
	require.NotNil(t, held, "download must not hold the store lock")
	defer held.Release()
	require.Error(t, err)
	assert.True(t, IsLocked(err), "got %v", err)
	assertNoStaging(t, cfg.BinariesDir)
}

func TestInstall_InvalidRequest(t *testing.T) {
	inst, _ := newTestInstaller(t, nil)
	ctx := context.Background()

	_, err := inst.Install(ctx, InstallRequest{})
	assert.True(t, towerr.Is(err, towerr.URLParse), "got %v", err)

	_, err = inst.Install(ctx, InstallRequest{URL: "http://example.com/x", SignatureURL: "http://example.com/x.sig"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keyring")
}

func TestInstall_Signature(t *testing.T) {
	body := []byte("signed tool")

	entity, err := openpgp.NewEntity("tow test", "", "test@example.com", nil)
	require.NoError(t, err)

	var sig bytes.Buffer
	require.NoError(t, openpgp.ArmoredDetachSign(&sig, entity, bytes.NewReader(body), nil))

	var pub bytes.Buffer
	w, err := armor.Encode(&pub, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(w))
	require.NoError(t, w.Close())

	keyring := filepath.Join(t.TempDir(), "keyring.asc")
	require.NoError(t, os.WriteFile(keyring, pub.Bytes(), 0644))

	// The signature shares the binary's file name on purpose.
	server := newServer(t, map[string]served{
		"/tool":     {"tool", body},
		"/tool.asc": {"tool", sig.Bytes()},
		"/bad.asc":  {"tool", []byte("not a signature")},
	})

	t.Run("valid", func(t *testing.T) {
		inst, cfg := newTestInstaller(t, nil)
		res, err := inst.Install(context.Background(), InstallRequest{
			URL:          server.URL + "/tool",
			SHA256:       digest(body),
			SignatureURL: server.URL + "/tool.asc",
			Keyring:      keyring,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"sha256", "gpg"}, res.Verified)

		content, err := os.ReadFile(res.Entry.Path)
		require.NoError(t, err)
		assert.Equal(t, body, content)
		assertNoStaging(t, cfg.BinariesDir)
	})

	t.Run("invalid", func(t *testing.T) {
		inst, cfg := newTestInstaller(t, nil)
		_, err := inst.Install(context.Background(), InstallRequest{
			URL:          server.URL + "/tool",
			SignatureURL: server.URL + "/bad.asc",
			Keyring:      keyring,
		})
		require.Error(t, err)
		assert.True(t, towerr.Is(err, towerr.Verification), "got %v", err)
		assertNoStaging(t, cfg.BinariesDir)
	})
}

func TestUninstall(t *testing.T) {
	server := newServer(t, map[string]served{"/tool": {"tool", []byte("bin")}})
	inst, _ := newTestInstaller(t, nil)
	ctx := context.Background()

	res, err := inst.Install(ctx, InstallRequest{URL: server.URL + "/tool", Version: "2.0"})
	require.NoError(t, err)

	removed, err := inst.Uninstall(ctx, "tool", "2.0")
	require.NoError(t, err)
	assert.Equal(t, res.Entry, removed)

	_, err = os.Stat(res.Entry.Path)
	assert.True(t, os.IsNotExist(err))

	entries, err := inst.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = inst.Uninstall(ctx, "tool", "2.0")
	require.Error(t, err)
	assert.True(t, towerr.Is(err, towerr.NotFound), "got %v", err)
}

func TestUninstall_FileDeletedOutsideTow(t *testing.T) {
	server := newServer(t, map[string]served{"/tool": {"tool", []byte("bin")}})
	inst, _ := newTestInstaller(t, nil)
	ctx := context.Background()

	res, err := inst.Install(ctx, InstallRequest{URL: server.URL + "/tool", Version: "1.0"})
	require.NoError(t, err)
	require.NoError(t, os.Remove(res.Entry.Path))

	removed, err := inst.Uninstall(ctx, "tool", "1.0")
	require.NoError(t, err)
	assert.Equal(t, res.Entry, removed)

	entries, err := inst.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries, "stale entry must be dropped")
}

func TestVersions(t *testing.T) {
	server := newServer(t, map[string]served{
		"/a": {"tool-a", []byte("a")},
		"/b": {"tool-b", []byte("b")},
		"/c": {"other", []byte("c")},
	})
	inst, _ := newTestInstaller(t, nil)
	ctx := context.Background()

	for _, req := range []InstallRequest{
		{URL: server.URL + "/b", Name: "tool", Version: "2.0"},
		{URL: server.URL + "/a", Name: "tool", Version: "1.0"},
		{URL: server.URL + "/c", Name: "other", Version: "1.0"},
	} {
		_, err := inst.Install(ctx, req)
		require.NoError(t, err)
	}

	entries, err := inst.Versions(ctx, "tool")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "1.0", entries[0].Version)
	assert.Equal(t, "2.0", entries[1].Version)

	_, err = inst.Versions(ctx, "missing")
	assert.True(t, towerr.Is(err, towerr.NotFound), "got %v", err)

	all, err := inst.List(ctx)
	require.NoError(t, err)
	keys := make([]string, len(all))
	for i, e := range all {
		keys[i] = e.Key()
	}
	assert.Equal(t, []string{"other-1.0", "tool-1.0", "tool-2.0"}, keys)
}

func TestList_CancelledContext(t *testing.T) {
	inst, _ := newTestInstaller(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := inst.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
