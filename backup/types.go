package backup

import (
	"fmt"
	"time"
)

const (
	dirPrefix       = "backup_"
	idLayout        = "20060102_150405"
	stateFileName   = "terraform.tfstate"
	inventoryName   = "inventory.json"
	manifestName    = "manifest.json"
	archiveSuffix   = ".tar.gz"
	dirPermissions  = 0o755
	filePermissions = 0o644
)

// Backup is an addressable, restorable snapshot of mutable state taken
// before remediation. Read-only once created; retained until explicitly
// pruned.
type Backup struct {
	ID             string    `json:"id"`
	Path           string    `json:"path"`
	CreatedAt      time.Time `json:"created_at"`
	HasStateFile   bool      `json:"has_state_file"`
	HasInventory   bool      `json:"has_inventory"`
	VolumeArchives []string  `json:"volume_archives"`
	// MissingArtifacts records best-effort captures that failed; a
	// backup with entries here is partial but still usable.
	MissingArtifacts []string `json:"missing_artifacts,omitempty"`
}

// manifest is the persisted record of what a backup captured. The
// directory layout itself is the source of truth for present artifacts;
// the manifest adds what was attempted and missed.
type manifest struct {
	ID               string    `json:"id"`
	Environment      string    `json:"environment"`
	CreatedAt        time.Time `json:"created_at"`
	MissingArtifacts []string  `json:"missing_artifacts,omitempty"`
}

// ParseID extracts the creation time from a backup identifier.
func ParseID(id string) (time.Time, error) {
	if len(id) <= len(dirPrefix) || id[:len(dirPrefix)] != dirPrefix {
		return time.Time{}, fmt.Errorf("invalid backup id: %q", id)
	}
	ts, err := time.ParseInLocation(idLayout, id[len(dirPrefix):], time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid backup id %q: %w", id, err)
	}
	return ts, nil
}

func newID(now time.Time) string {
	return dirPrefix + now.Format(idLayout)
}
