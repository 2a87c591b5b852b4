package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/model"
)

const autosaveTimeout = 30 * time.Second

// autosaver takes auto snapshots after a quiet period, at most one per
// minInterval. Storage failures that will not heal disable it.
type autosaver struct {
	debounce    time.Duration
	minInterval time.Duration
	save        func(ctx context.Context) error
	onDisable   func(err error)
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	timer    *time.Timer
	pending  bool
	lastSave time.Time
	disabled bool
	closed   bool
}

func newAutosaver(cfg config.AutosaveConfig, save func(ctx context.Context) error, onDisable func(err error), logger *zap.Logger) *autosaver {
	return &autosaver{
		debounce:    cfg.Debounce,
		minInterval: cfg.MinInterval,
		save:        save,
		onDisable:   onDisable,
		logger:      logger,
		now:         time.Now,
	}
}

// touch records a mutation and restarts the quiet period.
func (a *autosaver) touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disabled || a.closed {
		return
	}
	a.pending = true
	a.schedule(a.debounce)
}

func (a *autosaver) schedule(d time.Duration) {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(d, a.fire)
}

func (a *autosaver) fire() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.pending || a.disabled || a.closed {
		return
	}
	if wait := a.minInterval - a.now().Sub(a.lastSave); !a.lastSave.IsZero() && wait > 0 {
		a.schedule(wait)
		return
	}
	a.run()
}

// saveNow snapshots immediately, ignoring the debounce and the interval.
func (a *autosaver) saveNow() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disabled || a.closed {
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.run()
}

// run saves under a.mu so saves never overlap.
func (a *autosaver) run() {
	a.pending = false
	ctx, cancel := context.WithTimeout(context.Background(), autosaveTimeout)
	defer cancel()

	err := a.save(ctx)
	if err == nil {
		a.lastSave = a.now()
		return
	}
	switch model.KindOf(err) {
	case model.KindQuota, model.KindCorrupt:
		a.disabled = true
		a.logger.Warn("Auto-save disabled", zap.Error(err))
		a.onDisable(err)
	default:
		a.logger.Warn("Auto-save failed", zap.Error(err))
	}
}

// Disabled reports whether a storage failure turned auto-save off.
func (a *autosaver) Disabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disabled
}

// close saves a pending change and stops the timer.
func (a *autosaver) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	if a.pending && !a.disabled {
		a.run()
	}
	a.closed = true
}
