package backup

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veerhq/veer/types"
)

// fakeEngine serves canned volume listings and writes fake archives.
type fakeEngine struct {
	volumes     []types.VolumeInfo
	volumesErr  error
	archiveErr  map[string]error
	snapshot    *types.InventorySnapshot
	snapshotErr error
}

func (f *fakeEngine) ListVolumes(ctx context.Context) ([]types.VolumeInfo, error) {
	return f.volumes, f.volumesErr
}

func (f *fakeEngine) ArchiveVolume(ctx context.Context, volume, destDir string) error {
	if err := f.archiveErr[volume]; err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(destDir, volume+archiveSuffix), []byte("archive:"+volume), 0o644)
}

func (f *fakeEngine) Snapshot(ctx context.Context) (*types.InventorySnapshot, error) {
	return f.snapshot, f.snapshotErr
}

func newTestManager(t *testing.T, eng Engine, stateFile string) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m := NewManager(Options{
		Environment: "dev",
		StateFile:   stateFile,
		Dir:         dir,
		Engine:      eng,
	}, nil)
	return m, dir
}

func TestCreate_FullBackup(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "terraform.tfstate")
	stateContent := []byte(`{"version":4,"serial":17}`)
	require.NoError(t, os.WriteFile(stateFile, stateContent, 0o644))

	eng := &fakeEngine{
		volumes:  []types.VolumeInfo{{Name: "dev_pgdata"}, {Name: "dev_cache"}},
		snapshot: &types.InventorySnapshot{Containers: []types.ContainerInfo{{Name: "web-1"}}},
	}
	m, _ := newTestManager(t, eng, stateFile)

	b, err := m.Create(context.Background())
	require.NoError(t, err)

	assert.True(t, b.HasStateFile)
	assert.True(t, b.HasInventory)
	assert.ElementsMatch(t, []string{"dev_pgdata", "dev_cache"}, b.VolumeArchives)
	assert.Empty(t, b.MissingArtifacts)

	// The state-file copy is byte-identical to the source.
	copied, err := os.ReadFile(b.StateFilePath())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(stateContent, copied), "state file copy must be byte-identical")

	// The manifest is on disk alongside the artifacts.
	_, err = os.Stat(filepath.Join(b.Path, manifestName))
	assert.NoError(t, err)
}

func TestCreate_MissingStateFileIsNotAnError(t *testing.T) {
	eng := &fakeEngine{snapshot: &types.InventorySnapshot{}}
	m, _ := newTestManager(t, eng, filepath.Join(t.TempDir(), "does-not-exist.tfstate"))

	b, err := m.Create(context.Background())
	require.NoError(t, err)
	assert.False(t, b.HasStateFile)
}

func TestCreate_PartialBackupDegrades(t *testing.T) {
	eng := &fakeEngine{
		volumes: []types.VolumeInfo{{Name: "dev_pgdata"}, {Name: "dev_cache"}},
		archiveErr: map[string]error{
			"dev_cache": errors.New("helper image pull failed"),
		},
		snapshotErr: errors.New("daemon unreachable"),
	}
	m, _ := newTestManager(t, eng, filepath.Join(t.TempDir(), "none.tfstate"))

	b, err := m.Create(context.Background())
	require.NoError(t, err, "partial capture degrades, it does not abort")

	assert.Equal(t, []string{"dev_pgdata"}, b.VolumeArchives)
	assert.Contains(t, b.MissingArtifacts, "volume:dev_cache")
	assert.Contains(t, b.MissingArtifacts, "inventory")
	assert.False(t, b.HasInventory)
}

func TestListAndInspect_RoundTrip(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "terraform.tfstate")
	require.NoError(t, os.WriteFile(stateFile, []byte("{}"), 0o644))

	eng := &fakeEngine{
		volumes:  []types.VolumeInfo{{Name: "dev_pgdata"}},
		snapshot: &types.InventorySnapshot{},
	}
	m, _ := newTestManager(t, eng, stateFile)

	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	clock := base
	m.now = func() time.Time { return clock }

	first, err := m.Create(context.Background())
	require.NoError(t, err)
	clock = base.Add(time.Minute)
	second, err := m.Create(context.Background())
	require.NoError(t, err)

	backups, err := m.List()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, second.ID, backups[0].ID, "newest first")
	assert.Equal(t, first.ID, backups[1].ID)

	inspected, err := m.Inspect(first.ID)
	require.NoError(t, err)
	assert.True(t, inspected.HasStateFile)
	assert.True(t, inspected.HasInventory)
	assert.Equal(t, []string{"dev_pgdata"}, inspected.VolumeArchives)
}

func TestList_SkipsForeignDirectories(t *testing.T) {
	eng := &fakeEngine{snapshot: &types.InventorySnapshot{}}
	m, dir := newTestManager(t, eng, filepath.Join(t.TempDir(), "none.tfstate"))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rollback-logs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o644))

	backups, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestPrune_KeepsNewest(t *testing.T) {
	eng := &fakeEngine{snapshot: &types.InventorySnapshot{}}
	m, _ := newTestManager(t, eng, filepath.Join(t.TempDir(), "none.tfstate"))

	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	clock := base
	m.now = func() time.Time { return clock }

	var ids []string
	for i := 0; i < 5; i++ {
		b, err := m.Create(context.Background())
		require.NoError(t, err)
		ids = append(ids, b.ID)
		clock = clock.Add(time.Minute)
	}

	removed, err := m.Prune(2)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids[:3], removed, "oldest three removed")

	backups, err := m.List()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, ids[4], backups[0].ID)
	assert.Equal(t, ids[3], backups[1].ID)
}

func TestPrune_NothingToDo(t *testing.T) {
	eng := &fakeEngine{snapshot: &types.InventorySnapshot{}}
	m, _ := newTestManager(t, eng, filepath.Join(t.TempDir(), "none.tfstate"))

	removed, err := m.Prune(10)
	require.NoError(t, err)
	assert.Empty(t, removed)

	_, err = m.Prune(0)
	assert.Error(t, err, "retention below one is rejected")
}

func TestParseID(t *testing.T) {
	ts, err := ParseID("backup_20260820_100000")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 20, 10, 0, 0, 0, time.Local), ts)

	_, err = ParseID("not-a-backup")
	assert.Error(t, err)

	_, err = ParseID("backup_garbage")
	assert.Error(t, err)
}
