package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/ZebulonRouseFrantzich/tow/internal/platform"
	"github.com/ZebulonRouseFrantzich/tow/internal/towerr"
)

const (
	// RegistryFilename is the registry file inside the store dir.
	RegistryFilename = "towstore.json"
	// BackupFilename is the single backup slot next to the registry file.
	BackupFilename = RegistryFilename + ".bak"
)

// Options configures LoadOrCreate.
type Options struct {
	BinariesDir string
	StoreDir    string
	// Host is recorded as system/architecture when a new registry is created.
	Host   platform.Info
	Logger logrus.FieldLogger
}

// registry is the on-disk shape of the store.
type registry struct {
	Binaries     map[string]BinaryEntry `json:"binaries"`
	System       string                 `json:"system"`
	Architecture string                 `json:"architecture"`
	BinariesDir  string                 `json:"binaries_dir"`
	StoreDir     string                 `json:"store_dir"`
}

// LocalStore keeps the registry in a JSON file and the binaries in a
// directory on the local filesystem.
//
// LocalStore is not safe for concurrent use. Callers serialize access, and
// processes sharing a store dir must hold an external lock around
// load-mutate-save.
type LocalStore struct {
	reg registry
	log logrus.FieldLogger
}

var _ Store = (*LocalStore)(nil)

// LoadOrCreate reads the registry from StoreDir if one exists, otherwise it
// returns an empty store. Nothing is written to disk until the first
// successful mutation.
//
// When the stored binaries or store dir differs from opts, the new value wins
// in memory. Paths of existing entries are left as they are.
func LoadOrCreate(opts Options) (*LocalStore, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.WithField("component", "store")
	}

	binariesDir, err := filepath.Abs(opts.BinariesDir)
	if err != nil {
		return nil, towerr.Wrap(towerr.IO, opts.BinariesDir, err)
	}
	storeDir, err := filepath.Abs(opts.StoreDir)
	if err != nil {
		return nil, towerr.Wrap(towerr.IO, opts.StoreDir, err)
	}

	registryPath := filepath.Join(storeDir, RegistryFilename)
	info, err := os.Stat(registryPath)
	switch {
	case err == nil && info.Mode().IsRegular():
		s, err := load(registryPath, log)
		if err != nil {
			return nil, err
		}
		s.changeBinariesDirIfNeeded(binariesDir)
		s.changeStoreDirIfNeeded(storeDir)
		return s, nil
	case err == nil:
		return nil, towerr.New(towerr.IO, registryPath+" is not a regular file")
	case !errors.Is(err, fs.ErrNotExist):
		return nil, towerr.Wrap(towerr.IO, registryPath, err)
	}

	log.WithField("store_dir", storeDir).Debug("no registry found, starting empty")
	return &LocalStore{
		reg: registry{
			Binaries:     map[string]BinaryEntry{},
			System:       opts.Host.OS,
			Architecture: opts.Host.ArchRaw,
			BinariesDir:  binariesDir,
			StoreDir:     storeDir,
		},
		log: log,
	}, nil
}

func load(registryPath string, log logrus.FieldLogger) (*LocalStore, error) {
	data, err := os.ReadFile(registryPath)
	if err != nil {
		return nil, towerr.Wrap(towerr.IO, registryPath, err)
	}

	var reg registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, towerr.Wrap(towerr.Serialization, registryPath, err)
	}
	if reg.Binaries == nil {
		reg.Binaries = map[string]BinaryEntry{}
	}

	log.WithFields(logrus.Fields{
		"path":    registryPath,
		"entries": len(reg.Binaries),
	}).Debug("registry loaded")

	return &LocalStore{reg: reg, log: log}, nil
}

func (s *LocalStore) changeBinariesDirIfNeeded(binariesDir string) {
	if s.reg.BinariesDir == binariesDir {
		return
	}
	s.log.WithFields(logrus.Fields{
		"from": s.reg.BinariesDir,
		"to":   binariesDir,
	}).Warn("changing binaries_dir")
	s.reg.BinariesDir = binariesDir
}

// changeStoreDirIfNeeded points saves at the directory the registry was
// actually read from.
func (s *LocalStore) changeStoreDirIfNeeded(storeDir string) {
	if s.reg.StoreDir == storeDir {
		return
	}
	s.log.WithFields(logrus.Fields{
		"from": s.reg.StoreDir,
		"to":   storeDir,
	}).Warn("changing store_dir")
	s.reg.StoreDir = storeDir
}

// AddBinary moves cmd.Path into the binaries dir and records it.
//
// If the registry cannot be saved afterwards, the entry is dropped and the
// moved file deleted before the save error is returned, so the directory and
// the registry never disagree.
func (s *LocalStore) AddBinary(cmd AddBinaryCmd) error {
	key := cmd.Key()
	if _, ok := s.reg.Binaries[key]; ok {
		return towerr.New(towerr.AlreadyExists, key)
	}

	fileName := filepath.Base(cmd.Path)
	if fileName == "." || fileName == string(filepath.Separator) {
		return towerr.New(towerr.IO, "cannot get file name from "+cmd.Path)
	}
	newPath := filepath.Join(s.reg.BinariesDir, fileName)

	if err := s.moveIn(cmd.Path, newPath); err != nil {
		return err
	}

	entry := BinaryEntry{
		Name:    cmd.Name,
		Version: cmd.Version,
		Path:    newPath,
		Source:  cmd.Source,
	}
	s.reg.Binaries[key] = entry

	if err := s.save(); err != nil {
		s.log.WithError(err).WithField("key", key).Error("save failed, rolling back add")
		delete(s.reg.Binaries, key)
		if rmErr := os.Remove(newPath); rmErr != nil {
			s.log.WithError(rmErr).WithField("path", newPath).Error("rollback could not delete binary")
		}
		return err
	}

	s.log.WithFields(logrus.Fields{
		"key":  key,
		"path": newPath,
	}).Info("added to the store")
	return nil
}

// moveIn renames src to dst. Both are expected on the same filesystem; a
// cross-device rename fails with an IO error. dst must not exist yet unless
// it is src itself.
func (s *LocalStore) moveIn(src, dst string) error {
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return towerr.Wrap(towerr.IO, src, err)
	}
	if absSrc == dst {
		if _, err := os.Stat(dst); err != nil {
			return towerr.Wrap(towerr.IO, dst, err)
		}
		return nil
	}

	if _, err := os.Lstat(dst); err == nil {
		return towerr.New(towerr.AlreadyExists, dst)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return towerr.Wrap(towerr.IO, dst, err)
	}

	if err := os.Rename(absSrc, dst); err != nil {
		return towerr.Wrap(towerr.IO, dst, err)
	}
	return nil
}

// RemoveBinary forgets an entry and deletes its file.
//
// The entry leaves the in-memory map before the file is deleted. A failed
// delete is returned as an IO error and is not undone, and the registry is
// not saved in that case.
func (s *LocalStore) RemoveBinary(cmd RemoveBinaryCmd) error {
	key := cmd.Key()
	entry, ok := s.reg.Binaries[key]
	if !ok {
		return towerr.New(towerr.NotFound, key)
	}

	delete(s.reg.Binaries, key)

	if err := os.Remove(entry.Path); err != nil {
		return towerr.Wrap(towerr.IO, entry.Path, err)
	}

	if err := s.save(); err != nil {
		return err
	}

	s.log.WithField("key", key).Info("removed from the store")
	return nil
}

// ForgetBinary drops an entry and saves without touching any file. It is
// meant for entries whose binary was deleted outside tow.
func (s *LocalStore) ForgetBinary(cmd RemoveBinaryCmd) error {
	key := cmd.Key()
	entry, ok := s.reg.Binaries[key]
	if !ok {
		return towerr.New(towerr.NotFound, key)
	}

	delete(s.reg.Binaries, key)
	if err := s.save(); err != nil {
		s.reg.Binaries[key] = entry
		return err
	}

	s.log.WithField("key", key).Warn("forgot entry without deleting a file")
	return nil
}

// ListBinaries returns every entry in no particular order.
func (s *LocalStore) ListBinaries() []BinaryEntry {
	entries := make([]BinaryEntry, 0, len(s.reg.Binaries))
	for _, e := range s.reg.Binaries {
		entries = append(entries, e)
	}
	return entries
}

// Entry returns the entry stored under key.
func (s *LocalStore) Entry(key string) (BinaryEntry, bool) {
	e, ok := s.reg.Binaries[key]
	return e, ok
}

// Versions returns the entries for name ordered by version string.
func (s *LocalStore) Versions(name string) []BinaryEntry {
	var entries []BinaryEntry
	for _, e := range s.reg.Binaries {
		if e.Name == name {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Version < entries[j].Version
	})
	return entries
}

// System returns the OS recorded when the registry was created.
func (s *LocalStore) System() string { return s.reg.System }

// Architecture returns the architecture recorded when the registry was created.
func (s *LocalStore) Architecture() string { return s.reg.Architecture }

// BinariesDir returns the directory binaries are moved into.
func (s *LocalStore) BinariesDir() string { return s.reg.BinariesDir }

// StoreDir returns the directory holding the registry file.
func (s *LocalStore) StoreDir() string { return s.reg.StoreDir }

// RegistryPath returns the registry file location.
func (s *LocalStore) RegistryPath() string {
	return filepath.Join(s.reg.StoreDir, RegistryFilename)
}

// Sorted returns entries ordered by entry key.
func Sorted(entries []BinaryEntry) []BinaryEntry {
	out := make([]BinaryEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key() < out[j].Key()
	})
	return out
}
