// Package targets holds the coordinator's authoritative target set.
//
// The set is loaded from a JSON config file and atomically replaces the
// in-memory set on every successful load. A filesystem watcher reloads the
// file when it changes, debounced by a short stability window so a single
// editor save never triggers two reloads or exposes a half-written file.
// A failed reload is logged and leaves the previous set in place.
//
// Every successful load publishes a new version (wall-clock ms), which
// agents poll via HasChangesSince to detect config changes cheaply.
package targets

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/iRazvan2745/Storm/internal/metrics"
	"github.com/iRazvan2745/Storm/internal/model"
	"github.com/iRazvan2745/Storm/internal/storage"
)

// ErrNotFound is returned when a target id is not present in the set.
var ErrNotFound = errors.New("target not found")

// debounceWindow is the stability window for the file watcher: a reload only
// fires after this long with no further write events.
const debounceWindow = 300 * time.Millisecond

// configFile is the on-disk shape of the targets config.
type configFile struct {
	Targets []model.Target `json:"targets"`
}

// Manager owns the in-memory target set and its backing config file.
// Safe for concurrent use.
type Manager struct {
	path   string
	logger *zap.Logger

	mu          sync.RWMutex
	targets     map[int]model.Target
	lastUpdated int64
}

// NewManager creates a Manager for the config file at path. Call Load before
// serving and Watch to follow file changes.
func NewManager(path string, logger *zap.Logger) *Manager {
	return &Manager{
		path:    path,
		logger:  logger.Named("targets"),
		targets: make(map[int]model.Target),
	}
}

// Load reads and validates the config file, replacing the current set on
// success. Entries that fail per-kind validation are skipped with a warning;
// duplicate ids fail the whole load because they would make the set
// ambiguous. On any failure the previous set stays in place.
func (m *Manager) Load() error {
	var cfg configFile
	found, err := storage.Load(m.path, &cfg)
	if err != nil {
		return fmt.Errorf("targets: %w", err)
	}
	if !found {
		return fmt.Errorf("targets: config file %s does not exist", m.path)
	}

	next := make(map[int]model.Target, len(cfg.Targets))
	for _, t := range cfg.Targets {
		if err := t.Validate(); err != nil {
			m.logger.Warn("skipping invalid target entry", zap.Error(err))
			continue
		}
		if _, dup := next[t.ID]; dup {
			return fmt.Errorf("targets: duplicate target id %d in %s", t.ID, m.path)
		}
		next[t.ID] = t
	}

	m.mu.Lock()
	m.targets = next
	m.lastUpdated = model.NowMs()
	version := m.lastUpdated
	m.mu.Unlock()

	metrics.TargetsConfigured.Set(float64(len(next)))
	m.logger.Info("target set loaded",
		zap.Int("targets", len(next)),
		zap.Int64("version", version),
	)
	return nil
}

// Watch follows the config file for modifications until ctx is cancelled.
// The parent directory is watched rather than the file itself so that
// editor rename-swap saves (vim, atomic writers) keep being observed.
// Watcher errors never stop the loop; it keeps listening for the next event.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("targets: failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("targets: failed to watch %s: %w", filepath.Dir(m.path), err)
	}

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		base := filepath.Base(m.path)

		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				// Collapse bursts of events into one reload: reset the timer
				// on each event, fire after the quiet period.
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceWindow, func() {
					if err := m.Load(); err != nil {
						m.logger.Warn("config reload failed, keeping previous target set", zap.Error(err))
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}()

	m.logger.Info("watching target config", zap.String("path", m.path))
	return nil
}

// List returns the current targets sorted by id, plus the set version.
func (m *Manager) List() ([]model.Target, int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Target, 0, len(m.targets))
	for _, t := range m.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, m.lastUpdated
}

// HasChangesSince reports whether the set has been (re)loaded after the
// client's version, and returns the current version.
func (m *Manager) HasChangesSince(clientVersion int64) (bool, int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUpdated > clientVersion, m.lastUpdated
}

// Get returns the target with the given id.
func (m *Manager) Get(id int) (model.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.targets[id]
	if !ok {
		return model.Target{}, ErrNotFound
	}
	return t, nil
}

// Upsert validates and inserts or replaces a target, persisting the whole
// set back to the config file atomically.
func (m *Manager) Upsert(t model.Target) error {
	if err := t.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, existed := m.targets[t.ID]
	m.targets[t.ID] = t
	if err := m.persistLocked(); err != nil {
		// Roll back so memory and disk stay consistent.
		if existed {
			m.targets[t.ID] = prev
		} else {
			delete(m.targets, t.ID)
		}
		return err
	}
	m.lastUpdated = model.NowMs()
	metrics.TargetsConfigured.Set(float64(len(m.targets)))

	m.logger.Info("target upserted",
		zap.Int("id", t.ID),
		zap.String("name", t.Name),
		zap.Bool("replaced", existed),
	)
	return nil
}

// Delete removes a target by id and persists the set.
func (m *Manager) Delete(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.targets[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.targets, id)
	if err := m.persistLocked(); err != nil {
		m.targets[id] = prev
		return err
	}
	m.lastUpdated = model.NowMs()
	metrics.TargetsConfigured.Set(float64(len(m.targets)))

	m.logger.Info("target deleted", zap.Int("id", id))
	return nil
}

// persistLocked writes the current set to the config file. Caller holds mu.
func (m *Manager) persistLocked() error {
	out := make([]model.Target, 0, len(m.targets))
	for _, t := range m.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return storage.Save(m.path, configFile{Targets: out})
}
