// Package backup snapshots mutable state (planning-tool state file,
// labeled volumes, live inventory) into a directory-per-backup store.
// The layout is stable: rollback planning reads it directly.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/veerhq/veer/telemetry"
	"github.com/veerhq/veer/types"
	"github.com/veerhq/veer/wal"
)

// Engine is the subset of the container-engine client the backup
// manager needs.
type Engine interface {
	ListVolumes(ctx context.Context) ([]types.VolumeInfo, error)
	ArchiveVolume(ctx context.Context, volume, destDir string) error
	Snapshot(ctx context.Context) (*types.InventorySnapshot, error)
}

// Manager creates and enumerates backups for one environment.
type Manager struct {
	environment string
	stateFile   string
	dir         string
	engine      Engine
	trail       *wal.WAL
	logger      *telemetry.Logger
	now         func() time.Time
}

// Options configure a Manager.
type Options struct {
	Environment string
	StateFile   string
	Dir         string
	Engine      Engine
	Trail       *wal.WAL
}

// NewManager creates a backup manager.
func NewManager(opts Options, logger *telemetry.Logger) *Manager {
	return &Manager{
		environment: opts.Environment,
		stateFile:   opts.StateFile,
		dir:         opts.Dir,
		engine:      opts.Engine,
		trail:       opts.Trail,
		logger:      logger,
		now:         time.Now,
	}
}

// Create takes a synchronous snapshot of all mutable state. It fails
// hard when the state-file copy cannot be made; volume and inventory
// capture degrade to warnings recorded in the manifest.
func (m *Manager) Create(ctx context.Context) (*Backup, error) {
	createdAt := m.now()
	id := newID(createdAt)
	path := filepath.Join(m.dir, id)

	if err := os.MkdirAll(path, dirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	b := &Backup{
		ID:        id,
		Path:      path,
		CreatedAt: createdAt,
	}

	if err := m.captureStateFile(ctx, b); err != nil {
		return nil, err
	}
	m.captureVolumes(ctx, b)
	m.captureInventory(ctx, b)

	if err := m.writeManifest(b); err != nil {
		return nil, err
	}

	if m.trail != nil {
		if err := m.trail.Append(wal.EntryBackupCreated, id, b); err != nil {
			m.logWarn(ctx, "failed to record backup in audit trail", err)
		}
	}

	return b, nil
}

// captureStateFile copies the state file into the backup. A missing
// state file is recorded, not an error; a failed copy aborts the backup.
func (m *Manager) captureStateFile(ctx context.Context, b *Backup) error {
	if _, err := os.Stat(m.stateFile); os.IsNotExist(err) {
		return nil
	}
	if err := copyFile(m.stateFile, filepath.Join(b.Path, stateFileName)); err != nil {
		return fmt.Errorf("failed to copy state file: %w", err)
	}
	b.HasStateFile = true
	return nil
}

// captureVolumes archives every volume labeled for this environment.
// Individual failures degrade the backup, they do not abort it.
func (m *Manager) captureVolumes(ctx context.Context, b *Backup) {
	volumes, err := m.engine.ListVolumes(ctx)
	if err != nil {
		m.logWarn(ctx, "volume listing failed, backup has no volume archives", err)
		b.MissingArtifacts = append(b.MissingArtifacts, "volumes")
		return
	}

	for _, volume := range volumes {
		if err := m.engine.ArchiveVolume(ctx, volume.Name, b.Path); err != nil {
			m.logWarn(ctx, "volume archive failed", err)
			b.MissingArtifacts = append(b.MissingArtifacts, "volume:"+volume.Name)
			continue
		}
		b.VolumeArchives = append(b.VolumeArchives, volume.Name)
	}
}

func (m *Manager) captureInventory(ctx context.Context, b *Backup) {
	snapshot, err := m.engine.Snapshot(ctx)
	if err != nil {
		m.logWarn(ctx, "inventory snapshot failed", err)
		b.MissingArtifacts = append(b.MissingArtifacts, "inventory")
		return
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		m.logWarn(ctx, "inventory snapshot marshal failed", err)
		b.MissingArtifacts = append(b.MissingArtifacts, "inventory")
		return
	}
	if err := os.WriteFile(filepath.Join(b.Path, inventoryName), data, filePermissions); err != nil {
		m.logWarn(ctx, "inventory snapshot write failed", err)
		b.MissingArtifacts = append(b.MissingArtifacts, "inventory")
		return
	}
	b.HasInventory = true
}

func (m *Manager) writeManifest(b *Backup) error {
	data, err := json.MarshalIndent(manifest{
		ID:               b.ID,
		Environment:      m.environment,
		CreatedAt:        b.CreatedAt,
		MissingArtifacts: b.MissingArtifacts,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(b.Path, manifestName), data, filePermissions); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// List enumerates backups newest-first. Directories that do not parse
// as backup identifiers are skipped.
func (m *Manager) List() ([]Backup, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []Backup
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		b, err := m.Inspect(entry.Name())
		if err != nil {
			continue
		}
		backups = append(backups, *b)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// Inspect reads one backup's contents from disk.
func (m *Manager) Inspect(id string) (*Backup, error) {
	createdAt, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(m.dir, id)
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("backup %s not found: %w", id, err)
	}

	b := &Backup{ID: id, Path: path, CreatedAt: createdAt}
	for _, entry := range entries {
		switch name := entry.Name(); {
		case name == stateFileName:
			b.HasStateFile = true
		case name == inventoryName:
			b.HasInventory = true
		case strings.HasSuffix(name, archiveSuffix):
			b.VolumeArchives = append(b.VolumeArchives, strings.TrimSuffix(name, archiveSuffix))
		}
	}
	sort.Strings(b.VolumeArchives)

	if mf, err := m.readManifest(path); err == nil {
		b.MissingArtifacts = mf.MissingArtifacts
		b.CreatedAt = mf.CreatedAt
	}
	return b, nil
}

func (m *Manager) readManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(path, manifestName)) // #nosec G304 -- path under the backup dir
	if err != nil {
		return nil, err
	}
	var mf manifest
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, err
	}
	return &mf, nil
}

// StateFilePath returns where a backup's state-file copy lives.
func (b *Backup) StateFilePath() string {
	return filepath.Join(b.Path, stateFileName)
}

// ArchivePath returns where a volume archive lives inside the backup.
func (b *Backup) ArchivePath(volume string) string {
	return filepath.Join(b.Path, volume+archiveSuffix)
}

// Prune removes all but the newest keep backups. It is only ever
// invoked explicitly; nothing prunes mid-run.
func (m *Manager) Prune(keep int) ([]string, error) {
	if keep < 1 {
		return nil, fmt.Errorf("retention must keep at least one backup")
	}

	backups, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(backups) <= keep {
		return nil, nil
	}

	var removed []string
	for _, b := range backups[keep:] {
		if err := os.RemoveAll(b.Path); err != nil {
			return removed, fmt.Errorf("failed to remove backup %s: %w", b.ID, err)
		}
		removed = append(removed, b.ID)
	}
	return removed, nil
}

func (m *Manager) logWarn(ctx context.Context, msg string, err error) {
	if m.logger == nil {
		return
	}
	m.logger.WithContext(ctx).Warn().Err(err).Msg(msg)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 -- both paths come from config
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePermissions) // #nosec G304
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
