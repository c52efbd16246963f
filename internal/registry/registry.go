// Package registry maintains the coordinator's agent registry.
//
// Agents register by (name, location): a known name reclaims its existing
// id, an unknown name mints a new `agent-<N>` id where N is one past the
// highest suffix ever observed. Because the registry persists to disk after
// every mutation, ids are never recycled across coordinator restarts.
//
// Liveness is heartbeat-driven. A periodic sweep (owned by the coordinator
// main loop) is the only online → offline transition; register and heartbeat
// are the only offline → online transitions. On startup every persisted
// agent is reset to offline until it reheartbeats.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iRazvan2745/Storm/internal/model"
	"github.com/iRazvan2745/Storm/internal/storage"
)

// ErrUnknownAgent is returned for heartbeats or submissions from an id that
// is not in the registry. Agents treat it as a signal to re-register.
var ErrUnknownAgent = errors.New("unknown agent")

const (
	// SweepInterval is how often the liveness sweep should run.
	SweepInterval = 30 * time.Second

	// OfflineThreshold is how long an agent may go without a heartbeat
	// before the sweep marks it offline.
	OfflineThreshold = 120 * time.Second

	idPrefix = "agent-"
)

// registryFile is the on-disk shape of agents.json.
type registryFile struct {
	Agents []model.Agent `json:"agents"`
}

// Registry is the agent registry. Safe for concurrent use.
type Registry struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	agents map[string]*model.Agent
	byName map[string]string // name → id
}

// Load reads the persisted registry from path, resetting every agent to
// offline. A missing file starts an empty registry.
func Load(path string, logger *zap.Logger) (*Registry, error) {
	r := &Registry{
		path:   path,
		logger: logger.Named("registry"),
		agents: make(map[string]*model.Agent),
		byName: make(map[string]string),
	}

	var file registryFile
	found, err := storage.Load(path, &file)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if found {
		for i := range file.Agents {
			a := file.Agents[i]
			a.Status = model.AgentStatusOffline
			r.agents[a.ID] = &a
			r.byName[a.Name] = a.ID
		}
		r.logger.Info("registry loaded, all agents reset to offline",
			zap.Int("agents", len(r.agents)),
		)
	}
	return r, nil
}

// Register adds or reclaims an agent. A name match reuses the existing id so
// reconnecting agents keep their history; otherwise a fresh id is minted.
// The agent comes back online with lastSeen = now, and the registry is
// persisted before returning.
func (r *Registry) Register(name, location string) (model.Agent, error) {
	if name == "" {
		return model.Agent{}, errors.New("registry: agent name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := model.NowMs()

	if id, ok := r.byName[name]; ok {
		a := r.agents[id]
		a.Location = location
		a.Status = model.AgentStatusOnline
		a.LastSeen = now
		if err := r.persistLocked(); err != nil {
			return model.Agent{}, err
		}
		r.logger.Info("agent reconnected",
			zap.String("agent_id", a.ID),
			zap.String("name", name),
			zap.String("location", location),
		)
		return *a, nil
	}

	a := &model.Agent{
		ID:       idPrefix + strconv.Itoa(r.maxSeqLocked()+1),
		Name:     name,
		Location: location,
		Status:   model.AgentStatusOnline,
		LastSeen: now,
	}
	r.agents[a.ID] = a
	r.byName[name] = a.ID
	if err := r.persistLocked(); err != nil {
		delete(r.agents, a.ID)
		delete(r.byName, name)
		return model.Agent{}, err
	}

	r.logger.Info("agent registered",
		zap.String("agent_id", a.ID),
		zap.String("name", name),
		zap.String("location", location),
		zap.Int("total", len(r.agents)),
	)
	return *a, nil
}

// Heartbeat refreshes an agent's liveness and returns the heartbeat
// timestamp. Unknown ids return ErrUnknownAgent so the agent re-registers.
func (r *Registry) Heartbeat(id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}

	now := model.NowMs()
	a.Status = model.AgentStatusOnline
	a.LastSeen = now
	if err := r.persistLocked(); err != nil {
		return 0, err
	}
	return now, nil
}

// Know reports whether id is in the registry.
func (r *Registry) Know(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[id]
	return ok
}

// Get returns a copy of the agent with the given id.
func (r *Registry) Get(id string) (model.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return model.Agent{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return *a, nil
}

// List returns a snapshot of all agents sorted by id sequence.
func (r *Registry) List() []model.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return seq(out[i].ID) < seq(out[j].ID) })
	return out
}

// OnlineCount returns the number of agents currently marked online.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, a := range r.agents {
		if a.Status == model.AgentStatusOnline {
			n++
		}
	}
	return n
}

// Sweep marks agents offline whose last heartbeat is older than
// OfflineThreshold. Returns how many transitioned. This is the only
// online → offline path in the system.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := model.NowMs() - OfflineThreshold.Milliseconds()
	transitioned := 0
	for _, a := range r.agents {
		if a.Status == model.AgentStatusOnline && a.LastSeen < cutoff {
			a.Status = model.AgentStatusOffline
			transitioned++
			r.logger.Warn("agent marked offline",
				zap.String("agent_id", a.ID),
				zap.String("name", a.Name),
				zap.Int64("last_seen", a.LastSeen),
			)
		}
	}
	if transitioned > 0 {
		if err := r.persistLocked(); err != nil {
			r.logger.Error("failed to persist registry after sweep", zap.Error(err))
		}
	}
	return transitioned
}

// maxSeqLocked returns the highest agent-<N> suffix present. Caller holds mu.
func (r *Registry) maxSeqLocked() int {
	max := 0
	for id := range r.agents {
		if n := seq(id); n > max {
			max = n
		}
	}
	return max
}

// seq extracts N from an agent-<N> id; malformed ids sort first.
func seq(id string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(id, idPrefix))
	if err != nil {
		return 0
	}
	return n
}

// persistLocked writes the registry to disk. Caller holds mu.
func (r *Registry) persistLocked() error {
	out := make([]model.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return seq(out[i].ID) < seq(out[j].ID) })
	if err := storage.Save(r.path, registryFile{Agents: out}); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	return nil
}
