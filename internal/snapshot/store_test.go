package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/model/modeltest"
)

func newFileStore(t *testing.T, cfg config.SnapshotConfig) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	require.NoError(t, err)
	if cfg.MaxAuto == 0 {
		cfg.MaxAuto = 20
	}
	return NewStore(backend, cfg, zap.NewNop()), dir
}

func TestCreateThenDeleteLeavesStatsUnchanged(t *testing.T) {
	ctx := context.Background()
	store, _ := newFileStore(t, config.SnapshotConfig{})

	_, err := store.Create(ctx, "p1", modeltest.Scripted(2), "first", "", model.SnapshotManual)
	require.NoError(t, err)
	before, err := store.Stats(ctx, "p1")
	require.NoError(t, err)

	snap, err := store.Create(ctx, "p1", modeltest.Scripted(3), "second", "desc", model.SnapshotCheckpoint)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, snap.ID))

	after, err := store.Stats(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, after.TotalSnapshots)
	assert.Equal(t, 1, after.ManualSnapshots)
}

func TestAutoSnapshotsAreCapped(t *testing.T) {
	ctx := context.Background()
	store, _ := newFileStore(t, config.SnapshotConfig{MaxAuto: 20})

	var first string
	for i := 0; i < 25; i++ {
		snap, err := store.Create(ctx, "p1", modeltest.Scripted(1), "auto", "", model.SnapshotAuto)
		require.NoError(t, err)
		if i == 0 {
			first = snap.ID
		}
	}
	_, err := store.Create(ctx, "p1", modeltest.Scripted(1), "keep", "", model.SnapshotManual)
	require.NoError(t, err)

	stats, err := store.Stats(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 20, stats.AutoSnapshots)
	assert.Equal(t, 1, stats.ManualSnapshots)

	_, err = store.Get(ctx, first)
	assert.True(t, model.IsKind(err, model.KindNotFound))
}

func TestOversizedSnapshotIsRefused(t *testing.T) {
	store, _ := newFileStore(t, config.SnapshotConfig{MaxBytes: 64})

	_, err := store.Create(context.Background(), "p1", modeltest.Scripted(3), "big", "", model.SnapshotAuto)
	assert.True(t, model.IsKind(err, model.KindQuota))
}

func TestRoundTripPreservesState(t *testing.T) {
	ctx := context.Background()
	store, _ := newFileStore(t, config.SnapshotConfig{})

	st := modeltest.Storyboarded(2, 2)
	st.Extra = map[string]json.RawMessage{"futureField": json.RawMessage(`{"a":1}`)}

	snap, err := store.Create(ctx, "p1", st, "full", "", model.SnapshotManual)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Metadata.SceneCount)
	assert.Equal(t, 4, snap.Metadata.ShotCount)
	assert.Equal(t, model.StageStoryboard, snap.Metadata.Step)

	got, err := store.Get(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, st, got.State)
	assert.Equal(t, snap.SnapshotInfo, got.SnapshotInfo)
}

func TestListIsNewestFirstAndFiltered(t *testing.T) {
	ctx := context.Background()
	store, _ := newFileStore(t, config.SnapshotConfig{})
	fixed := time.UnixMilli(1_700_000_000_000)
	store.now = func() time.Time { return fixed }

	a, err := store.Create(ctx, "p1", modeltest.Scripted(1), "a", "", model.SnapshotManual)
	require.NoError(t, err)
	b, err := store.Create(ctx, "p1", modeltest.Scripted(1), "b", "", model.SnapshotAuto)
	require.NoError(t, err)
	c, err := store.Create(ctx, "p1", modeltest.Scripted(1), "c", "", model.SnapshotManual)
	require.NoError(t, err)
	_, err = store.Create(ctx, "other", modeltest.Scripted(1), "x", "", model.SnapshotManual)
	require.NoError(t, err)

	assert.Less(t, a.Timestamp, b.Timestamp)
	assert.Less(t, b.Timestamp, c.Timestamp)

	infos, err := store.List(ctx, "p1", model.ListOptions{})
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, []string{infos[0].ID, infos[1].ID, infos[2].ID})

	manual, err := store.List(ctx, "p1", model.ListOptions{Type: model.SnapshotManual, Limit: 1})
	require.NoError(t, err)
	require.Len(t, manual, 1)
	assert.Equal(t, c.ID, manual[0].ID)

	latest, err := store.Latest(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, latest.ID)
}

func TestLatestWithoutSnapshots(t *testing.T) {
	store, _ := newFileStore(t, config.SnapshotConfig{})

	_, err := store.Latest(context.Background(), "empty")
	assert.True(t, model.IsKind(err, model.KindNotFound))
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	store, _ := newFileStore(t, config.SnapshotConfig{})

	snap, err := store.Create(ctx, "p1", modeltest.Scripted(1), "old", "", model.SnapshotManual)
	require.NoError(t, err)
	require.NoError(t, store.Rename(ctx, snap.ID, "new name"))

	got, err := store.Get(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "new name", got.Name)
	assert.Equal(t, snap.Timestamp, got.Timestamp)

	err = store.Rename(ctx, "missing", "x")
	assert.True(t, model.IsKind(err, model.KindNotFound))
}

func TestCorruptDocuments(t *testing.T) {
	ctx := context.Background()
	store, dir := newFileStore(t, config.SnapshotConfig{})

	good, err := store.Create(ctx, "p1", modeltest.Scripted(1), "ok", "", model.SnapshotManual)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p1", "broken.json"), []byte("{not json"), 0o644))

	infos, err := store.List(ctx, "p1", model.ListOptions{})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, good.ID, infos[0].ID)

	_, err = store.Get(ctx, "broken")
	assert.True(t, model.IsKind(err, model.KindCorrupt))

	future := `{"schemaVersion":2,"id":"future","projectId":"p1","state":{}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p1", "future.json"), []byte(future), 0o644))
	_, err = store.Get(ctx, "future")
	assert.True(t, model.IsKind(err, model.KindCorrupt))

	stateless := `{"schemaVersion":1,"id":"empty","projectId":"p1","state":null}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p1", "empty.json"), []byte(stateless), 0o644))
	_, err = store.Get(ctx, "empty")
	assert.True(t, model.IsKind(err, model.KindCorrupt))
}

func TestUnknownSnapshot(t *testing.T) {
	ctx := context.Background()
	store, _ := newFileStore(t, config.SnapshotConfig{})

	_, err := store.Get(ctx, "nope")
	assert.True(t, model.IsKind(err, model.KindNotFound))
	assert.True(t, model.IsKind(store.Delete(ctx, "nope"), model.KindNotFound))
	assert.True(t, model.IsKind(store.Delete(ctx, "../escape"), model.KindNotFound))
}

func TestInvalidType(t *testing.T) {
	store, _ := newFileStore(t, config.SnapshotConfig{})

	_, err := store.Create(context.Background(), "p1", modeltest.Scripted(1), "x", "", model.SnapshotType("nightly"))
	assert.True(t, model.IsKind(err, model.KindInvalidRequest))
}
