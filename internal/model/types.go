// Package model defines shared domain types used by both the coordinator
// and the agent, plus the millisecond-epoch time helpers the aggregation
// engine is built on.
package model

import "fmt"

// TargetKind is the probe type for a monitored target.
type TargetKind string

const (
	TargetKindHTTP TargetKind = "http"
	TargetKindICMP TargetKind = "icmp"
)

// Target is a network endpoint to be probed. Targets are created, updated and
// deleted only through the coordinator's target configuration manager; agents
// receive read-only snapshots.
type Target struct {
	ID   int        `json:"id"`
	Name string     `json:"name"`
	Kind TargetKind `json:"kind"`

	// URL is the endpoint for http targets; Host for icmp targets.
	// Exactly one of the two is required, matching Kind.
	URL  string `json:"url,omitempty"`
	Host string `json:"host,omitempty"`

	// Interval and Timeout are in milliseconds. Timeout must not exceed
	// Interval so a check can never outlive its own tick.
	Interval int64 `json:"interval"`
	Timeout  int64 `json:"timeout"`
}

// Endpoint returns the probed address: URL for http targets, Host for icmp.
func (t Target) Endpoint() string {
	if t.Kind == TargetKindICMP {
		return t.Host
	}
	return t.URL
}

// Validate checks the per-kind required fields and the interval/timeout
// constraints. Used by the config manager on load and on programmatic edits.
func (t Target) Validate() error {
	if t.ID <= 0 {
		return fmt.Errorf("target %q: id must be a positive integer", t.Name)
	}
	if t.Name == "" {
		return fmt.Errorf("target %d: name is required", t.ID)
	}
	switch t.Kind {
	case TargetKindHTTP:
		if t.URL == "" {
			return fmt.Errorf("target %d (%s): http target requires url", t.ID, t.Name)
		}
	case TargetKindICMP:
		if t.Host == "" {
			return fmt.Errorf("target %d (%s): icmp target requires host", t.ID, t.Name)
		}
	default:
		return fmt.Errorf("target %d (%s): unknown kind %q", t.ID, t.Name, t.Kind)
	}
	if t.Interval <= 0 {
		return fmt.Errorf("target %d (%s): interval must be > 0", t.ID, t.Name)
	}
	if t.Timeout <= 0 || t.Timeout > t.Interval {
		return fmt.Errorf("target %d (%s): timeout must be > 0 and <= interval", t.ID, t.Name)
	}
	return nil
}

// AgentStatus is the coordinator's view of an agent's liveness.
type AgentStatus string

const (
	AgentStatusOnline  AgentStatus = "online"
	AgentStatusOffline AgentStatus = "offline"
)

// Agent is a remote probing worker as recorded in the coordinator registry.
// The ID is coordinator-assigned (`agent-<N>`) and stable across reconnects
// for the same Name.
type Agent struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Location string      `json:"location"`
	Status   AgentStatus `json:"status"`
	LastSeen int64       `json:"lastSeen"`
}

// CheckResult is one probe attempt against a target by an agent. Immutable
// once submitted. ResponseTime is only meaningful when Success is true.
type CheckResult struct {
	TargetID     int     `json:"targetId"`
	AgentID      string  `json:"agentId,omitempty"`
	Timestamp    int64   `json:"timestamp"`
	Success      bool    `json:"success"`
	ResponseTime float64 `json:"responseTime,omitempty"`
	StatusCode   int     `json:"statusCode,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Incident is a downtime interval on one (agent, target, day) record.
// EndTime is nil while the incident is still open.
type Incident struct {
	StartTime int64  `json:"startTime"`
	EndTime   *int64 `json:"endTime"`
}

// Open reports whether the incident has not been closed yet.
func (i Incident) Open() bool { return i.EndTime == nil }

// ResponseTimeInterval is a 30-minute aggregation bucket of successful
// response times, half-open [StartTime, EndTime) and aligned to local-day
// midnight.
type ResponseTimeInterval struct {
	StartTime       int64   `json:"startTime"`
	EndTime         int64   `json:"endTime"`
	AvgResponseTime float64 `json:"avgResponseTime"`
	Count           int     `json:"count"`
}

// DailyRecord is the persisted per-(agent, target, day) aggregate: closed
// downtime, the ordered incident list (newest last), the response-time
// buckets, and the cached isDown flag.
type DailyRecord struct {
	Date                  string                 `json:"date"`
	DowntimeMs            int64                  `json:"downtimeMs"`
	Incidents             []Incident             `json:"incidents"`
	ResponseTimeIntervals []ResponseTimeInterval `json:"responseTimeIntervals"`
	IsDown                bool                   `json:"isDown"`
}

// OpenIncident returns a pointer to the record's open incident, or nil.
// By construction at most one incident is open and it is the last element.
func (r *DailyRecord) OpenIncident() *Incident {
	if n := len(r.Incidents); n > 0 && r.Incidents[n-1].Open() {
		return &r.Incidents[n-1]
	}
	return nil
}

// Clone returns a deep copy safe to hand to readers outside the engine lock.
func (r *DailyRecord) Clone() *DailyRecord {
	cp := *r
	cp.Incidents = append([]Incident(nil), r.Incidents...)
	cp.ResponseTimeIntervals = append([]ResponseTimeInterval(nil), r.ResponseTimeIntervals...)
	return &cp
}

// TargetStatus is the derived consensus view of one target. It is rebuilt
// from the persisted records on load and never persisted itself.
type TargetStatus struct {
	TargetID        int             `json:"targetId"`
	IsDown          bool            `json:"isDown"`
	AgentsReporting map[string]bool `json:"agentsReporting"`
	LastUpdated     int64           `json:"lastUpdated"`
}

// Clone returns a deep copy of the status snapshot.
func (s *TargetStatus) Clone() *TargetStatus {
	cp := *s
	cp.AgentsReporting = make(map[string]bool, len(s.AgentsReporting))
	for k, v := range s.AgentsReporting {
		cp.AgentsReporting[k] = v
	}
	return &cp
}
