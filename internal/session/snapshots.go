package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/model"
)

// autoSnapshot is the save function of the autosaver.
func (s *Session) autoSnapshot(ctx context.Context) error {
	st := s.store.Read()
	name := fmt.Sprintf("Auto-save: %s", st.CurrentStep)
	snap, err := s.snapshots.Create(ctx, s.id, st, name, "", model.SnapshotAuto)
	if err != nil {
		return err
	}
	s.blobs.Pin(snap.ID, st)
	s.saved()

	// older auto snapshots may have been pruned
	infos, err := s.snapshots.List(ctx, s.id, model.ListOptions{})
	if err != nil {
		s.logger.Warn("Failed to list snapshots", zap.Error(err))
		return nil
	}
	ids := make(map[string]bool, len(infos))
	for _, info := range infos {
		ids[info.ID] = true
	}
	s.blobs.Retain(ids)
	return nil
}

// CreateSnapshot stores a manual snapshot of the current state.
func (s *Session) CreateSnapshot(ctx context.Context, name, description string) (*model.SnapshotInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, s.finish("create snapshot", model.NewError(model.KindInvalidRequest, "snapshot name is required"), nil)
	}
	st := s.store.Read()
	snap, err := s.snapshots.Create(ctx, s.id, st, name, description, model.SnapshotManual)
	if err != nil {
		return nil, s.finish("create snapshot", err, nil)
	}
	s.blobs.Pin(snap.ID, st)
	s.saved()
	s.logger.Info("Snapshot created", zap.String("snapshot", snap.ID), zap.String("name", name))
	return &snap.SnapshotInfo, nil
}

// saved notes that the project now exists in the snapshot store.
func (s *Session) saved() {
	if s.meta != nil {
		s.meta.release()
	}
}

// owned fetches a snapshot of this project.
func (s *Session) owned(ctx context.Context, id string) (*model.Snapshot, error) {
	snap, err := s.snapshots.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap.ProjectID != s.id {
		return nil, model.NewError(model.KindNotFound, "snapshot %s not found", id)
	}
	return snap, nil
}

// RestoreSnapshot replaces the state with a snapshot. The restore is undoable.
func (s *Session) RestoreSnapshot(ctx context.Context, id string) error {
	err := s.idle()
	if err == nil {
		var snap *model.Snapshot
		snap, err = s.owned(ctx, id)
		if err == nil {
			restored := snap.State.Clone()
			if lost := s.blobs.DropLost(restored); len(lost) > 0 {
				s.Warn(model.StageNarration, fmt.Sprintf("narration of %d scene(s) is no longer available and will be generated again", len(lost)))
			}
			err = s.store.Replace(fmt.Sprintf("restore %q", snap.Name), restored)
		}
		if err == nil {
			s.logger.Info("Snapshot restored", zap.String("snapshot", id), zap.String("step", string(snap.State.CurrentStep)))
		}
	}
	return s.finish("restore snapshot", err, nil)
}

// ListSnapshots lists the project's snapshots newest first.
func (s *Session) ListSnapshots(ctx context.Context, opts model.ListOptions) ([]model.SnapshotInfo, error) {
	infos, err := s.snapshots.List(ctx, s.id, opts)
	if err != nil {
		return nil, s.finish("list snapshots", err, nil)
	}
	return infos, nil
}

// DeleteSnapshot removes a snapshot and releases the blobs only it held.
func (s *Session) DeleteSnapshot(ctx context.Context, id string) error {
	_, err := s.owned(ctx, id)
	if err == nil {
		err = s.snapshots.Delete(ctx, id)
	}
	if err == nil {
		s.blobs.Unpin(id)
	}
	return s.finish("delete snapshot", err, nil)
}

// RenameSnapshot changes the name of a snapshot.
func (s *Session) RenameSnapshot(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return s.finish("rename snapshot", model.NewError(model.KindInvalidRequest, "snapshot name is required"), nil)
	}
	_, err := s.owned(ctx, id)
	if err == nil {
		err = s.snapshots.Rename(ctx, id, name)
	}
	return s.finish("rename snapshot", err, nil)
}

// SnapshotStats aggregates the project's snapshots.
func (s *Session) SnapshotStats(ctx context.Context) (model.SnapshotStats, error) {
	stats, err := s.snapshots.Stats(ctx, s.id)
	if err != nil {
		return stats, s.finish("snapshot stats", err, nil)
	}
	return stats, nil
}
