package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ZebulonRouseFrantzich/tow/internal/config"
	"github.com/ZebulonRouseFrantzich/tow/internal/lock"
	"github.com/ZebulonRouseFrantzich/tow/internal/platform"
	"github.com/ZebulonRouseFrantzich/tow/internal/store"
	"github.com/ZebulonRouseFrantzich/tow/internal/towerr"
	"github.com/ZebulonRouseFrantzich/tow/internal/verify"
)

const (
	// DefaultVersion is recorded when an install does not name a version.
	DefaultVersion = "latest"
	// BinaryPermissions is applied to every installed binary.
	BinaryPermissions = 0755
	// BinariesDirPermissions is used when the binaries dir has to be created.
	BinariesDirPermissions = 0755
	// stagingPattern names the temp dirs downloads land in before the move.
	stagingPattern = ".tow-staging-*"
)

// Downloader fetches a URL into a directory and returns the file written.
type Downloader interface {
	Download(ctx context.Context, url, destDir string) (string, error)
}

// Installer orchestrates installs and removals against the local store.
type Installer struct {
	cfg        config.Config
	host       platform.Info
	downloader Downloader
	now        func() time.Time
	log        logrus.FieldLogger
}

// Option customizes an Installer.
type Option func(*Installer)

// WithNow replaces the time source used to measure installs.
func WithNow(now func() time.Time) Option {
	return func(i *Installer) { i.now = now }
}

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(i *Installer) { i.log = log }
}

// NewInstaller creates an Installer. host is recorded in a newly created
// registry.
func NewInstaller(cfg config.Config, host platform.Info, downloader Downloader, opts ...Option) *Installer {
	i := &Installer{
		cfg:        cfg,
		host:       host,
		downloader: downloader,
		now:        time.Now,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.log = i.log.WithField("component", "service")
	return i
}

// InstallRequest contains the parameters of an install.
type InstallRequest struct {
	URL string
	// Name defaults to the downloaded file name.
	Name string
	// Version defaults to DefaultVersion.
	Version string
	// SHA256 is the expected hex digest of the download. Empty skips the check.
	SHA256 string
	// SignatureURL points at a detached OpenPGP signature of the download.
	// Keyring is required with it.
	SignatureURL string
	Keyring      string
}

// InstallResult describes a completed install.
type InstallResult struct {
	Entry    store.BinaryEntry
	SHA256   string
	Verified []string
	Duration time.Duration
}

// Install downloads req.URL, optionally verifies it and records it in the
// store. The store lock is taken only once the file is ready. The staging
// directory is removed whatever the outcome.
func (i *Installer) Install(ctx context.Context, req InstallRequest) (*InstallResult, error) {
	start := i.now()

	if req.URL == "" {
		return nil, towerr.New(towerr.URLParse, "empty URL")
	}
	if req.SignatureURL != "" && req.Keyring == "" {
		return nil, fmt.Errorf("signature verification requires a keyring")
	}

	if i.cfg.Download.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.Download.Timeout)
		defer cancel()
	}

	version := req.Version
	if version == "" {
		version = DefaultVersion
	}
	if req.Name != "" {
		// Unlocked read to skip a pointless download. AddBinary checks
		// again under the lock.
		st, err := i.open()
		if err != nil {
			return nil, err
		}
		if _, ok := st.Entry(store.EntryKey(req.Name, version)); ok {
			return nil, towerr.New(towerr.AlreadyExists, store.EntryKey(req.Name, version))
		}
	}

	binDir, err := filepath.Abs(i.cfg.BinariesDir)
	if err != nil {
		return nil, towerr.Wrap(towerr.IO, i.cfg.BinariesDir, err)
	}
	if err := os.MkdirAll(binDir, BinariesDirPermissions); err != nil {
		return nil, towerr.Wrap(towerr.IO, binDir, err)
	}
	// Staging inside the binaries dir keeps the final move a rename on one
	// filesystem.
	staging, err := os.MkdirTemp(binDir, stagingPattern)
	if err != nil {
		return nil, towerr.Wrap(towerr.IO, binDir, err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			i.log.WithError(err).WithField("path", staging).Warn("cannot remove staging directory")
		}
	}()

	path, err := i.downloader.Download(ctx, req.URL, staging)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	name := req.Name
	if name == "" {
		name = filepath.Base(path)
	}

	result := &InstallResult{}
	if result.Verified, err = i.verify(ctx, path, staging, req); err != nil {
		return nil, err
	}
	if result.SHA256, err = verify.FileSHA256(path); err != nil {
		return nil, err
	}

	if err := os.Chmod(path, BinaryPermissions); err != nil {
		return nil, towerr.Wrap(towerr.IO, path, err)
	}

	// The lock covers only load, add and save. Downloads can outlast
	// lock.StaleLockThreshold.
	l, err := lock.Acquire(ctx, i.cfg.StoreDir)
	if err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	defer func() { _ = l.Release() }()

	st, err := i.open()
	if err != nil {
		return nil, err
	}

	cmd := store.AddBinaryCmd{
		Name:    name,
		Version: version,
		Path:    path,
		Source:  req.URL,
	}
	if err := st.AddBinary(cmd); err != nil {
		return nil, fmt.Errorf("add binary: %w", err)
	}

	entry, ok := st.Entry(cmd.Key())
	if !ok {
		return nil, fmt.Errorf("entry %s missing after add", cmd.Key())
	}
	result.Entry = entry
	result.Duration = i.now().Sub(start)

	i.log.WithFields(logrus.Fields{
		"key":      cmd.Key(),
		"path":     entry.Path,
		"sha256":   result.SHA256,
		"verified": result.Verified,
	}).Info("installed")

	return result, nil
}

// verify runs the checks requested by req and returns their names.
func (i *Installer) verify(ctx context.Context, path, staging string, req InstallRequest) ([]string, error) {
	var done []string

	if req.SHA256 != "" {
		if err := verify.SHA256(path, req.SHA256); err != nil {
			return nil, err
		}
		done = append(done, "sha256")
	}

	if req.SignatureURL != "" {
		// A separate dir keeps the signature from clobbering a download
		// with the same name.
		sigDir, err := os.MkdirTemp(staging, "sig-*")
		if err != nil {
			return nil, towerr.Wrap(towerr.IO, staging, err)
		}
		sigPath, err := i.downloader.Download(ctx, req.SignatureURL, sigDir)
		if err != nil {
			return nil, fmt.Errorf("download signature: %w", err)
		}
		if err := verify.Signature(path, sigPath, req.Keyring); err != nil {
			return nil, err
		}
		done = append(done, "gpg")
	}

	return done, nil
}

// Uninstall removes the name/version entry and deletes its file.
func (i *Installer) Uninstall(ctx context.Context, name, version string) (store.BinaryEntry, error) {
	l, err := lock.Acquire(ctx, i.cfg.StoreDir)
	if err != nil {
		return store.BinaryEntry{}, fmt.Errorf("acquire store lock: %w", err)
	}
	defer func() { _ = l.Release() }()

	st, err := i.open()
	if err != nil {
		return store.BinaryEntry{}, err
	}

	cmd := store.RemoveBinaryCmd{Name: name, Version: version}
	entry, ok := st.Entry(cmd.Key())
	if ok {
		if _, err := os.Lstat(entry.Path); errors.Is(err, fs.ErrNotExist) {
			i.log.WithField("path", entry.Path).Warn("binary already deleted, dropping entry")
			if err := st.ForgetBinary(cmd); err != nil {
				return store.BinaryEntry{}, fmt.Errorf("forget binary: %w", err)
			}
			return entry, nil
		}
	}
	if err := st.RemoveBinary(cmd); err != nil {
		return store.BinaryEntry{}, fmt.Errorf("remove binary: %w", err)
	}
	return entry, nil
}

// List returns every installed binary ordered by key.
func (i *Installer) List(ctx context.Context) ([]store.BinaryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := i.open()
	if err != nil {
		return nil, err
	}
	return store.Sorted(st.ListBinaries()), nil
}

// Versions returns the installed versions of name. It fails with NotFound
// when there are none.
func (i *Installer) Versions(ctx context.Context, name string) ([]store.BinaryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := i.open()
	if err != nil {
		return nil, err
	}
	entries := st.Versions(name)
	if len(entries) == 0 {
		return nil, towerr.New(towerr.NotFound, name)
	}
	return entries, nil
}

func (i *Installer) open() (*store.LocalStore, error) {
	st, err := store.LoadOrCreate(store.Options{
		BinariesDir: i.cfg.BinariesDir,
		StoreDir:    i.cfg.StoreDir,
		Host:        i.host,
		Logger:      i.log.WithField("component", "store"),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// IsLocked reports whether err means another tow process holds the store.
func IsLocked(err error) bool {
	return errors.Is(err, lock.ErrLocked)
}
