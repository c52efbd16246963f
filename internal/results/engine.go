package results

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iRazvan2745/Storm/internal/metrics"
	"github.com/iRazvan2745/Storm/internal/model"
)

// DefaultMinAgents is the number of agents that must report a target down
// before consensus flips, when two or more agents observe it. A single
// reporter is always authoritative.
const DefaultMinAgents = 2

// PruneInterval is how often the retention prune should run.
const PruneInterval = 24 * time.Hour

// Alerter delivers best-effort notifications on consensus transitions.
// Implementations must never block long or propagate failures.
type Alerter interface {
	Send(message string, target *model.Target, agent *model.Agent)
}

// TargetSource resolves target ids to their current config, used only to
// name targets in alert messages. May report targets as missing after a
// config reload; alerts then fall back to the numeric id.
type TargetSource interface {
	Get(id int) (model.Target, error)
}

// Engine owns the results tree and the derived per-target consensus map.
// All mutations serialise through a single writer lock; queries take read
// locks and return snapshots.
type Engine struct {
	path      string
	minAgents int
	targets   TargetSource
	alerter   Alerter
	logger    *zap.Logger

	mu      sync.RWMutex
	records map[string]map[int]map[string]*model.DailyRecord // agent → target → day
	status  map[int]*model.TargetStatus
}

// Open loads the results blob from path and rebuilds the consensus map.
// targets and alerter may be nil (alerts are then skipped).
func Open(path string, minAgents int, targets TargetSource, alerter Alerter, logger *zap.Logger) (*Engine, error) {
	if minAgents <= 0 {
		minAgents = DefaultMinAgents
	}
	e := &Engine{
		path:      path,
		minAgents: minAgents,
		targets:   targets,
		alerter:   alerter,
		logger:    logger.Named("results"),
		status:    make(map[int]*model.TargetStatus),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.loadLocked(); err != nil {
		return nil, err
	}
	e.rebuildStatusLocked()

	e.logger.Info("results store opened",
		zap.Int("agents", len(e.records)),
		zap.Int("targets_tracked", len(e.status)),
	)
	return e, nil
}

// Submit folds a batch of check results from one agent into the store:
// bucket aggregation, per-agent report update, consensus re-evaluation, and
// incident transitions, then persists the blob once for the whole batch.
func (e *Engine) Submit(agentID string, results []model.CheckResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range results {
		res := results[i]
		res.AgentID = agentID
		e.applyLocked(res)
	}
	return e.persistLocked()
}

// applyLocked runs the aggregation pipeline for a single result.
// Caller holds mu.
func (e *Engine) applyLocked(res model.CheckResult) {
	metrics.ChecksReceived.Inc()

	day := model.DayKey(res.Timestamp)
	rec := e.recordLocked(res.AgentID, res.TargetID, day, nil)

	if res.Success && res.ResponseTime > 0 {
		foldBucket(rec, res.Timestamp, res.ResponseTime)
	}

	// A result older than the open incident still contributes its response
	// time but must not rewind or reopen the incident timeline.
	if open := e.openRecordLocked(res.AgentID, res.TargetID); open != nil {
		if inc := open.OpenIncident(); inc != nil && res.Timestamp < inc.StartTime {
			return
		}
	}

	st := e.statusLocked(res.TargetID)
	st.AgentsReporting[res.AgentID] = !res.Success
	st.LastUpdated = res.Timestamp

	wasDown := st.IsDown
	st.IsDown = consensus(st.AgentsReporting, e.minAgents)

	e.transitionLocked(res.TargetID, st, res.Timestamp)

	if st.IsDown != wasDown {
		e.notify(res.TargetID, st.IsDown)
	}
}

// consensus computes the canonical isDown flag from the per-agent reports:
// a lone reporter is authoritative; with two or more reporters at least
// minAgents must agree the target is down.
func consensus(reports map[string]bool, minAgents int) bool {
	down := 0
	for _, d := range reports {
		if d {
			down++
		}
	}
	switch len(reports) {
	case 0:
		return false
	case 1:
		return down == 1
	default:
		return down >= minAgents
	}
}

// transitionLocked drives the per-(agent, target) incident state machines
// after a consensus re-evaluation. An incident opens on every agent record
// whose own report is down while consensus is down; it closes only once
// consensus is up AND that agent itself reports up, so an agent that still
// sees the target down keeps its incident open. Caller holds mu.
func (e *Engine) transitionLocked(targetID int, st *model.TargetStatus, ts int64) {
	for agentID, down := range st.AgentsReporting {
		openRec := e.openRecordLocked(agentID, targetID)

		switch {
		case st.IsDown && down && openRec == nil:
			rec := e.recordLocked(agentID, targetID, model.DayKey(ts), nil)
			rec.Incidents = append(rec.Incidents, model.Incident{StartTime: ts})
			rec.IsDown = true
			metrics.IncidentsOpened.Inc()
			e.logger.Warn("incident opened",
				zap.Int("target_id", targetID),
				zap.String("agent_id", agentID),
				zap.Int64("start", ts),
			)

		case !st.IsDown && !down && openRec != nil:
			inc := openRec.OpenIncident()
			if ts < inc.StartTime {
				continue
			}
			end := ts
			inc.EndTime = &end
			openRec.DowntimeMs += end - inc.StartTime
			openRec.IsDown = false
			e.logger.Info("incident closed",
				zap.Int("target_id", targetID),
				zap.String("agent_id", agentID),
				zap.Int64("duration_ms", end-inc.StartTime),
			)
		}
	}
}

// statusLocked returns the TargetStatus for a target, creating it if needed.
// Caller holds mu.
func (e *Engine) statusLocked(targetID int) *model.TargetStatus {
	st, ok := e.status[targetID]
	if !ok {
		st = &model.TargetStatus{
			TargetID:        targetID,
			AgentsReporting: make(map[string]bool),
		}
		e.status[targetID] = st
	}
	return st
}

// rebuildStatusLocked reconstitutes the consensus map from the persisted
// records: each agent's most recent daily record contributes its cached
// isDown flag as that agent's current report. Caller holds mu.
func (e *Engine) rebuildStatusLocked() {
	e.status = make(map[int]*model.TargetStatus)
	now := model.NowMs()

	for agentID, byTarget := range e.records {
		for targetID, byDay := range byTarget {
			latestDay := ""
			for day := range byDay {
				if day > latestDay {
					latestDay = day
				}
			}
			if latestDay == "" {
				continue
			}
			st := e.statusLocked(targetID)
			st.AgentsReporting[agentID] = byDay[latestDay].IsDown
			st.LastUpdated = now
		}
	}
	for _, st := range e.status {
		st.IsDown = consensus(st.AgentsReporting, e.minAgents)
	}
}

// notify fires a fire-and-forget alert for a consensus flip. Runs the sink
// in a goroutine so delivery can never block the aggregation path.
func (e *Engine) notify(targetID int, down bool) {
	name := fmt.Sprintf("target %d", targetID)
	var tptr *model.Target
	if e.targets != nil {
		if t, err := e.targets.Get(targetID); err == nil {
			tc := t
			tptr = &tc
			name = t.Name
		}
	}

	var msg string
	if down {
		msg = fmt.Sprintf("%s is DOWN (consensus across reporting agents)", name)
	} else {
		msg = fmt.Sprintf("%s has RECOVERED", name)
	}
	e.logger.Warn("consensus transition",
		zap.Int("target_id", targetID),
		zap.Bool("is_down", down),
	)

	if e.alerter != nil {
		go e.alerter.Send(msg, tptr, nil)
	}
}

// TargetStatuses returns a snapshot of the consensus map sorted by target id.
func (e *Engine) TargetStatuses() []model.TargetStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.TargetStatus, 0, len(e.status))
	for _, st := range e.status {
		out = append(out, *st.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}

// Recheck forces a consensus re-evaluation from the current report maps.
// targetID 0 rechecks every target. Flips fire alerts and incident
// transitions exactly as a submission would.
func (e *Engine) Recheck(targetID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := model.NowMs()
	for id, st := range e.status {
		if targetID != 0 && id != targetID {
			continue
		}
		wasDown := st.IsDown
		st.IsDown = consensus(st.AgentsReporting, e.minAgents)
		st.LastUpdated = now
		e.transitionLocked(id, st, now)
		if st.IsDown != wasDown {
			e.notify(id, st.IsDown)
		}
	}
	return e.persistLocked()
}

// Reset wipes the persistent store and the in-memory maps.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.records = make(map[string]map[int]map[string]*model.DailyRecord)
	e.status = make(map[int]*model.TargetStatus)
	e.logger.Warn("results store reset")
	return e.persistLocked()
}

// Prune drops daily records older than horizonDays, returning how many day
// records were removed. Intended to run once a day.
func (e *Engine) Prune(horizonDays int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := model.DayKey(model.NowMs() - int64(horizonDays)*model.DayMs)
	removed := 0
	for agentID, byTarget := range e.records {
		for targetID, byDay := range byTarget {
			for day := range byDay {
				// Day keys are YYYY-MM-DD, so string order is date order.
				if day < cutoff {
					delete(byDay, day)
					removed++
				}
			}
			if len(byDay) == 0 {
				delete(byTarget, targetID)
			}
		}
		if len(byTarget) == 0 {
			delete(e.records, agentID)
		}
	}

	if removed > 0 {
		e.logger.Info("pruned old daily records",
			zap.Int("removed", removed),
			zap.String("cutoff", cutoff),
		)
		if err := e.persistLocked(); err != nil {
			e.logger.Error("failed to persist after prune", zap.Error(err))
		}
	}
	return removed
}

// Flush persists the current tree. Called on coordinator shutdown.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.persistLocked()
}
