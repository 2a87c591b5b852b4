package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/model"
)

// Backend persists serialized snapshot documents. Get and Delete return a
// NotFound error for unknown ids.
type Backend interface {
	Put(ctx context.Context, projectID, id string, doc []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	List(ctx context.Context, projectID string) ([][]byte, error)
	Delete(ctx context.Context, id string) error
}

// Store manages project snapshots and their retention
type Store struct {
	backend  Backend
	maxAuto  int
	maxBytes int64
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	lastTS int64
}

func NewStore(backend Backend, cfg config.SnapshotConfig, logger *zap.Logger) *Store {
	return &Store{
		backend:  backend,
		maxAuto:  cfg.MaxAuto,
		maxBytes: cfg.MaxBytes,
		logger:   logger.Named("snapshot"),
		now:      time.Now,
	}
}

// timestamp returns a strictly increasing millisecond timestamp.
func (s *Store) timestamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UTC().UnixMilli()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	return ts
}

// Create persists a copy of st. Oversized states are refused with Quota; auto
// snapshots beyond the retention cap are pruned oldest first.
func (s *Store) Create(ctx context.Context, projectID string, st *model.ProjectState, name, description string, typ model.SnapshotType) (*model.Snapshot, error) {
	if !typ.Valid() {
		return nil, model.NewError(model.KindInvalidRequest, "unknown snapshot type %q", typ)
	}
	stateJSON, err := json.Marshal(st)
	if err != nil {
		return nil, model.WrapError(model.KindCorrupt, err, "failed to serialize state")
	}
	size := int64(len(stateJSON))
	if s.maxBytes > 0 && size > s.maxBytes {
		return nil, model.NewError(model.KindQuota, "snapshot of %d bytes exceeds the %d byte limit", size, s.maxBytes)
	}

	snap := &model.Snapshot{
		SnapshotInfo: model.SnapshotInfo{
			SchemaVersion: model.SnapshotSchemaVersion,
			ID:            uuid.NewString(),
			ProjectID:     projectID,
			Name:          name,
			Description:   description,
			Type:          typ,
			Timestamp:     s.timestamp(),
			Metadata: model.SnapshotMetadata{
				SceneCount: len(st.Breakdown),
				ShotCount:  len(st.Shots),
				Step:       st.CurrentStep,
				SizeBytes:  size,
			},
		},
		State: st.Clone(),
	}
	doc, err := encode(snap, stateJSON)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Put(ctx, projectID, snap.ID, doc); err != nil {
		return nil, storageError(err, "failed to write snapshot")
	}

	s.logger.Debug("Snapshot created",
		zap.String("project", projectID),
		zap.String("id", snap.ID),
		zap.String("type", string(typ)),
		zap.Int64("size", size),
	)

	if typ == model.SnapshotAuto {
		if err := s.pruneAuto(ctx, projectID); err != nil {
			s.logger.Warn("Failed to prune auto snapshots", zap.String("project", projectID), zap.Error(err))
		}
	}
	return snap, nil
}

func (s *Store) pruneAuto(ctx context.Context, projectID string) error {
	infos, err := s.List(ctx, projectID, model.ListOptions{Type: model.SnapshotAuto})
	if err != nil {
		return err
	}
	for i := s.maxAuto; s.maxAuto > 0 && i < len(infos); i++ {
		if err := s.backend.Delete(ctx, infos[i].ID); err != nil && !model.IsKind(err, model.KindNotFound) {
			return err
		}
	}
	return nil
}

// List returns snapshot descriptions newest first. Unreadable documents are skipped.
func (s *Store) List(ctx context.Context, projectID string, opts model.ListOptions) ([]model.SnapshotInfo, error) {
	docs, err := s.backend.List(ctx, projectID)
	if err != nil {
		return nil, storageError(err, "failed to list snapshots")
	}
	infos := make([]model.SnapshotInfo, 0, len(docs))
	for _, doc := range docs {
		info, err := decodeInfo(doc)
		if err != nil {
			s.logger.Warn("Skipping unreadable snapshot", zap.String("project", projectID), zap.Error(err))
			continue
		}
		if opts.Type != "" && info.Type != opts.Type {
			continue
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Timestamp != infos[j].Timestamp {
			return infos[i].Timestamp > infos[j].Timestamp
		}
		return infos[i].ID > infos[j].ID
	})
	if opts.Limit > 0 && len(infos) > opts.Limit {
		infos = infos[:opts.Limit]
	}
	return infos, nil
}

// Get loads a full snapshot.
func (s *Store) Get(ctx context.Context, id string) (*model.Snapshot, error) {
	doc, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, storageError(err, "failed to read snapshot")
	}
	return decode(doc)
}

// Latest returns the most recent snapshot of a project of any type.
func (s *Store) Latest(ctx context.Context, projectID string) (*model.Snapshot, error) {
	infos, err := s.List(ctx, projectID, model.ListOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, model.NewError(model.KindNotFound, "project %s has no snapshots", projectID)
	}
	return s.Get(ctx, infos[0].ID)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, id); err != nil {
		return storageError(err, "failed to delete snapshot")
	}
	return nil
}

// Rename changes the display name of a snapshot.
func (s *Store) Rename(ctx context.Context, id, name string) error {
	doc, err := s.backend.Get(ctx, id)
	if err != nil {
		return storageError(err, "failed to read snapshot")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return model.WrapError(model.KindCorrupt, err, "snapshot %s is unreadable", id)
	}
	info, err := decodeInfo(doc)
	if err != nil {
		return err
	}
	raw, _ := json.Marshal(name)
	fields["name"] = raw
	doc, err = json.Marshal(fields)
	if err != nil {
		return model.WrapError(model.KindCorrupt, err, "failed to encode snapshot %s", id)
	}
	if err := s.backend.Put(ctx, info.ProjectID, id, doc); err != nil {
		return storageError(err, "failed to write snapshot")
	}
	return nil
}

// Stats aggregates the snapshots of a project.
func (s *Store) Stats(ctx context.Context, projectID string) (model.SnapshotStats, error) {
	infos, err := s.List(ctx, projectID, model.ListOptions{})
	if err != nil {
		return model.SnapshotStats{}, err
	}
	var st model.SnapshotStats
	for _, info := range infos {
		st.TotalSnapshots++
		st.TotalSizeBytes += info.Metadata.SizeBytes
		switch info.Type {
		case model.SnapshotManual:
			st.ManualSnapshots++
		case model.SnapshotAuto:
			st.AutoSnapshots++
		case model.SnapshotCheckpoint:
			st.CheckpointSnapshots++
		}
	}
	return st, nil
}

// storageError keeps typed errors and classifies the rest as Unavailable.
func storageError(err error, msg string) error {
	var me *model.Error
	if errors.As(err, &me) {
		return err
	}
	return model.WrapError(model.KindUnavailable, err, "%s", msg)
}
