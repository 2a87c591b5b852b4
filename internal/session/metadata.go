package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/model"
)

// MetadataSyncer receives the changed metadata fields of a project
type MetadataSyncer interface {
	UpdateMetadata(ctx context.Context, projectID string, changes map[string]interface{}) error
}

// metadataSync pushes registry metadata from a background goroutine.
// Observations are coalesced; only the newest one is sent.
type metadataSync struct {
	client    MetadataSyncer
	projectID string
	logger    *zap.Logger

	mu     sync.Mutex
	latest model.ProjectMetadata
	synced model.ProjectMetadata
	// held syncs wait for the project's first saved snapshot
	held bool
	wake chan struct{}
	done chan struct{}
}

// newMetadataSync starts from initial as already synced. A held sync starts
// from nothing synced and sends the full metadata once released.
func newMetadataSync(client MetadataSyncer, projectID string, initial model.ProjectMetadata, held bool, logger *zap.Logger) *metadataSync {
	m := &metadataSync{
		client:    client,
		projectID: projectID,
		logger:    logger,
		latest:    initial,
		synced:    initial,
		held:      held,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if held {
		m.synced = model.ProjectMetadata{}
	}
	return m
}

// release lets a held sync send.
func (m *metadataSync) release() {
	m.mu.Lock()
	was := m.held
	m.held = false
	m.mu.Unlock()
	if was {
		m.poke()
	}
}

func (m *metadataSync) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// observe records the metadata of a committed state.
func (m *metadataSync) observe(st *model.ProjectState) {
	md := model.MetadataOf(st)
	m.mu.Lock()
	changed := md != m.latest
	m.latest = md
	m.mu.Unlock()
	if !changed {
		return
	}
	m.poke()
}

func (m *metadataSync) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}
		m.flush(ctx)
	}
}

func (m *metadataSync) flush(ctx context.Context) {
	m.mu.Lock()
	next, synced, held := m.latest, m.synced, m.held
	m.mu.Unlock()
	if held {
		return
	}

	changes := synced.Diff(next)
	if len(changes) == 0 {
		return
	}
	if err := m.client.UpdateMetadata(ctx, m.projectID, changes); err != nil {
		// synced stays behind, so the next change resends these fields
		m.logger.Warn("Metadata sync failed", zap.Error(err))
		return
	}
	m.mu.Lock()
	m.synced = next
	m.mu.Unlock()
	m.logger.Debug("Metadata synced", zap.Any("changes", changes))
}
