// Package lockfile serializes mutating runs per environment with a
// single-host advisory lock file. The lock is acquired before backup
// creation and held until verification or rollback completes; no two
// remediation or rollback runs may interleave against the same
// environment's state file.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrHeld means another run holds the environment lock.
var ErrHeld = errors.New("environment lock already held")

// Lock is a held advisory lock.
type Lock struct {
	path string
}

// Acquire takes the lock for an environment, failing immediately if it
// is held. The lock file records the holder's pid for diagnosis.
func Acquire(dir, environment string) (*Lock, error) {
	path := filepath.Join(dir, fmt.Sprintf("veer-%s.lock", environment))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) // #nosec G304 -- path built from config dir
	if err != nil {
		if os.IsExist(err) {
			holder := readHolder(path)
			return nil, fmt.Errorf("%w by %s (%s)", ErrHeld, holder, path)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	fmt.Fprintf(file, "%d %s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	return &Lock{path: path}, nil
}

// Release removes the lock file. Safe to call once.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func readHolder(path string) string {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return "unknown holder"
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "unknown holder"
	}
	if _, err := strconv.Atoi(fields[0]); err == nil {
		return "pid " + fields[0]
	}
	return strings.TrimSpace(string(data))
}
