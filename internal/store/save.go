package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZebulonRouseFrantzich/tow/internal/towerr"
)

// save persists the registry.
//
// An existing registry file is first copied into the backup slot; a failed
// backup is logged and does not stop the save. The new content is written to
// a temporary file and renamed over the registry, so a crash leaves either
// the old or the new registry in place.
func (s *LocalStore) save() error {
	if err := os.MkdirAll(s.reg.StoreDir, 0755); err != nil {
		return towerr.Wrap(towerr.IO, s.reg.StoreDir, err)
	}

	registryPath := s.RegistryPath()
	if info, err := os.Stat(registryPath); err == nil && info.Mode().IsRegular() {
		backupPath := filepath.Join(s.reg.StoreDir, BackupFilename)
		if err := copyFile(registryPath, backupPath); err != nil {
			s.log.WithError(err).Error("cannot backup previous registry file")
		}
	}

	data, err := json.MarshalIndent(s.reg, "", "  ")
	if err != nil {
		return towerr.Wrap(towerr.Serialization, registryPath, err)
	}
	data = append(data, '\n')

	tmpPath := registryPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		os.Remove(tmpPath)
		return towerr.Wrap(towerr.IO, tmpPath, err)
	}

	if err := os.Rename(tmpPath, registryPath); err != nil {
		os.Remove(tmpPath)
		return towerr.Wrap(towerr.IO, registryPath, err)
	}

	return nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a file", src)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	if err := os.WriteFile(dst, data, info.Mode().Perm()); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
