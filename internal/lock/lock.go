// Package lock provides the advisory lock tow holds around every
// load-mutate-save of the registry, so two tow processes sharing a store
// directory do not overwrite each other's changes.
package lock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Filename is the lock file created inside the locked directory.
	Filename = "tow.lock"
	// StaleLockThreshold is the maximum age of a lock before it's considered stale.
	StaleLockThreshold = 10 * time.Minute
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("store is locked: another tow process may be running")

// Lock is a held lock file.
type Lock struct {
	path  string
	token string
	file  *os.File
}

// Acquire takes the lock in dir, creating dir if needed. A lock file older
// than StaleLockThreshold is assumed abandoned and replaced once.
func Acquire(ctx context.Context, dir string) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lockPath := filepath.Join(dir, Filename)

	file, err := createExclusive(lockPath)
	if os.IsExist(err) && abandoned(lockPath) {
		os.Remove(lockPath)
		file, err = createExclusive(lockPath)
	}
	switch {
	case os.IsExist(err):
		return nil, ErrLocked
	case err != nil:
		return nil, fmt.Errorf("create lock file: %w", err)
	}

	l := &Lock{path: lockPath, token: uuid.New().String(), file: file}
	if err := l.writeOwner(); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, err
	}
	return l, nil
}

// writeOwner records who holds the lock. The token is what Release checks.
func (l *Lock) writeOwner() error {
	owner := fmt.Sprintf("pid=%d\ntimestamp=%s\ntoken=%s\n",
		os.Getpid(), time.Now().UTC().Format(time.RFC3339), l.token)
	if _, err := l.file.WriteString(owner); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Release removes the lock file. A lock file that no longer carries this
// lock's token belongs to someone who took over a stale lock and is left
// alone. Release is idempotent.
func (l *Lock) Release() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	if l.path == "" {
		return nil
	}
	path := l.path
	l.path = ""

	owner, err := readToken(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read lock file: %w", err)
	}
	if owner != l.token {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

func readToken(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if v, ok := strings.CutPrefix(scanner.Text(), "token="); ok {
			return v, nil
		}
	}
	return "", scanner.Err()
}

func createExclusive(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
}

// abandoned reports whether the lock file at path is older than
// StaleLockThreshold.
func abandoned(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > StaleLockThreshold
}
