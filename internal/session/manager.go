package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/model"
)

// Manager keeps the one session the studio host serves. Opening a project
// closes the previous one.
type Manager struct {
	deps   Deps
	opts   []Option
	logger *zap.Logger

	mu      sync.Mutex
	current *Session
	// onOpen observers are told about every newly opened session
	onOpen []func(*Session)
}

func NewManager(deps Deps, opts ...Option) *Manager {
	return &Manager{deps: deps, opts: opts, logger: deps.Logger.Named("SessionManager")}
}

// OnOpen registers fn to be called with every session the manager opens.
func (m *Manager) OnOpen(fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOpen = append(m.onOpen, fn)
}

// Open opens projectID, or a new project when it is empty. An already open
// project is returned as is.
func (m *Manager) Open(ctx context.Context, projectID string) (*Session, error) {
	m.mu.Lock()
	if m.current != nil && projectID != "" && m.current.ID() == projectID {
		s := m.current
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s, err := Open(ctx, m.deps, projectID, m.opts...)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	prev := m.current
	m.current = s
	observers := append([]func(*Session){}, m.onOpen...)
	m.mu.Unlock()

	if prev != nil {
		m.logger.Info("Closing previous session", zap.String("project", prev.ID()))
		prev.Close()
	}
	for _, fn := range observers {
		fn(s)
	}
	m.logger.Info("Session opened", zap.String("project", s.ID()))
	return s, nil
}

// Get returns the open session of projectID.
func (m *Manager) Get(projectID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.ID() != projectID {
		return nil, model.NewError(model.KindNotFound, "project %s is not open", projectID)
	}
	return m.current, nil
}

// Close closes the open session.
func (m *Manager) Close() {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()
	if s != nil {
		s.Close()
	}
}
