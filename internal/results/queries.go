package results

import (
	"math"
	"sort"
	"strconv"

	"github.com/iRazvan2745/Storm/internal/model"
)

// LatencyPoint is one entry of a response-time timeseries: the bucket start
// and its mean response time.
type LatencyPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// TargetUptime is the per-target daily aggregate returned by the uptime
// query: consensus flag, fused downtime, the day's uptime percentage, the
// weighted mean response time, and the raw per-agent reports.
type TargetUptime struct {
	IsDown           bool            `json:"isDown"`
	DowntimeMs       int64           `json:"downtimeMs"`
	UptimePercentage float64         `json:"uptimePercentage"`
	AvgResponseTime  float64         `json:"avgResponseTime"`
	AgentReports     map[string]bool `json:"agentReports"`
}

// Windows holds uptime percentages over the standard look-back windows.
type Windows struct {
	Day   float64 `json:"day"`
	Week  float64 `json:"week"`
	Month float64 `json:"month"`
	Year  float64 `json:"year"`
}

// lookbackDays bounds every window query; records older than this are not
// consulted even for the year window.
const lookbackDays = 45

// DailySummary returns agentId → targetId → total downtime in ms for one
// day. Closed downtime comes from the record; an incident still open on
// that day contributes (now − startTime).
func (e *Engine) DailySummary(day string, now int64) map[string]map[int]int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]map[int]int64)
	for agentID, byTarget := range e.records {
		for targetID, byDay := range byTarget {
			rec, ok := byDay[day]
			if !ok {
				continue
			}
			total := rec.DowntimeMs
			if inc := rec.OpenIncident(); inc != nil && now > inc.StartTime {
				total += now - inc.StartTime
			}
			if out[agentID] == nil {
				out[agentID] = make(map[int]int64)
			}
			out[agentID][targetID] = total
		}
	}
	return out
}

// LatencySeries returns the 30-minute response-time buckets merged across
// agents, keyed by target id. targetID 0 means all targets; an empty day
// means all retained days. Buckets sharing a start time are combined with a
// count-weighted mean.
func (e *Engine) LatencySeries(targetID int, day string) map[int][]LatencyPoint {
	e.mu.RLock()
	defer e.mu.RUnlock()

	type acc struct {
		sum   float64
		count int
	}
	merged := make(map[int]map[int64]*acc)

	for _, byTarget := range e.records {
		for id, byDay := range byTarget {
			if targetID != 0 && id != targetID {
				continue
			}
			for d, rec := range byDay {
				if day != "" && d != day {
					continue
				}
				for _, b := range rec.ResponseTimeIntervals {
					if merged[id] == nil {
						merged[id] = make(map[int64]*acc)
					}
					a, ok := merged[id][b.StartTime]
					if !ok {
						a = &acc{}
						merged[id][b.StartTime] = a
					}
					a.sum += b.AvgResponseTime * float64(b.Count)
					a.count += b.Count
				}
			}
		}
	}

	out := make(map[int][]LatencyPoint, len(merged))
	for id, buckets := range merged {
		points := make([]LatencyPoint, 0, len(buckets))
		for start, a := range buckets {
			points = append(points, LatencyPoint{
				Timestamp: start,
				Value:     round2(a.sum / float64(a.count)),
			})
		}
		sort.Slice(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
		out[id] = points
	}
	return out
}

// UptimeSummary returns the per-target daily aggregates for one day.
// targetID 0 includes every target with a record that day or a live status.
func (e *Engine) UptimeSummary(day string, targetID int, now int64) map[string]TargetUptime {
	e.mu.RLock()
	defer e.mu.RUnlock()

	dayStart, err := model.DayStartMs(day)
	if err != nil {
		return map[string]TargetUptime{}
	}
	dayEnd := dayStart + model.DayMs
	if dayEnd > now {
		dayEnd = now
	}

	ids := make(map[int]bool)
	for _, byTarget := range e.records {
		for id, byDay := range byTarget {
			if _, ok := byDay[day]; ok {
				ids[id] = true
			}
		}
	}
	for id := range e.status {
		ids[id] = true
	}

	out := make(map[string]TargetUptime, len(ids))
	for id := range ids {
		if targetID != 0 && id != targetID {
			continue
		}

		fused, _ := e.fuseLocked(id, dayStart, dayEnd)

		// The day percentage is always against the full day, so a partial
		// day (today) or sparse observations never inflate downtime.
		pct := 100 * (1 - float64(fused)/float64(model.DayMs))

		var sum float64
		var count int
		for _, byTarget := range e.records {
			byDay, ok := byTarget[id]
			if !ok {
				continue
			}
			rec, ok := byDay[day]
			if !ok {
				continue
			}
			for _, b := range rec.ResponseTimeIntervals {
				sum += b.AvgResponseTime * float64(b.Count)
				count += b.Count
			}
		}
		avg := 0.0
		if count > 0 {
			avg = round2(sum / float64(count))
		}

		tu := TargetUptime{
			DowntimeMs:       fused,
			UptimePercentage: round2(clampPct(pct)),
			AvgResponseTime:  avg,
			AgentReports:     map[string]bool{},
		}
		if st, ok := e.status[id]; ok {
			tu.IsDown = st.IsDown
			tu.AgentReports = st.Clone().AgentsReporting
		}
		out[strconv.Itoa(id)] = tu
	}
	return out
}

// UptimeWindows computes the day/week/month/year uptime percentages for a
// target, bounded by the 45-day look-back.
func (e *Engine) UptimeWindows(targetID int, now int64) Windows {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return Windows{
		Day:   e.uptimePctLocked(targetID, now-model.DayMs, now),
		Week:  e.uptimePctLocked(targetID, now-7*model.DayMs, now),
		Month: e.uptimePctLocked(targetID, now-30*model.DayMs, now),
		Year:  e.uptimePctLocked(targetID, now-365*model.DayMs, now),
	}
}

// uptimePctLocked computes the fused uptime percentage over [from, to).
// Days with no observations contribute neither uptime nor downtime: the
// denominator is the overlap of observed days with the window, and with no
// observed days at all the target reports 100%. Caller holds mu.
func (e *Engine) uptimePctLocked(targetID int, from, to int64) float64 {
	if lb := to - lookbackDays*model.DayMs; from < lb {
		from = lb
	}
	fused, observed := e.fuseLocked(targetID, from, to)
	if observed <= 0 {
		return 100
	}
	return round2(clampPct(100 * (1 - float64(fused)/float64(observed))))
}

// fuseLocked implements the multi-agent downtime fusion over [from, to):
// boundary events (+1 incident start, −1 incident end, open incidents end
// at the window end) are swept in time order, and every stretch where at
// least threshold agents are concurrently down counts as fused downtime.
// The threshold is MIN_AGENTS_FOR_DOWNTIME capped by the number of agents
// actually observing the target in the window, so a single-agent deployment
// keeps its authoritative lone reporter. Also returns the total overlap of
// observed days with the window. Caller holds mu.
func (e *Engine) fuseLocked(targetID int, from, to int64) (fused int64, observed int64) {
	type event struct {
		ts    int64
		delta int
	}
	var events []event
	agents := make(map[string]bool)
	days := make(map[string]int64) // day key → overlap with window

	for agentID, byTarget := range e.records {
		byDay, ok := byTarget[targetID]
		if !ok {
			continue
		}
		for day, rec := range byDay {
			dayStart, err := model.DayStartMs(day)
			if err != nil {
				continue
			}
			dayEnd := dayStart + model.DayMs
			if dayEnd <= from || dayStart >= to {
				continue
			}
			agents[agentID] = true
			days[day] = overlap(dayStart, dayEnd, from, to)

			for _, inc := range rec.Incidents {
				start, end := inc.StartTime, to
				if inc.EndTime != nil {
					end = *inc.EndTime
				}
				if start < from {
					start = from
				}
				if end > to {
					end = to
				}
				if end <= start {
					continue
				}
				events = append(events, event{start, +1}, event{end, -1})
			}
		}
	}

	if len(days) == 0 {
		return 0, 0
	}
	for _, d := range days {
		observed += d
	}

	threshold := e.minAgents
	if len(agents) < threshold {
		threshold = len(agents)
	}

	// Ends sort before starts at the same instant so back-to-back incidents
	// do not produce a phantom overlap.
	sort.Slice(events, func(i, j int) bool {
		if events[i].ts != events[j].ts {
			return events[i].ts < events[j].ts
		}
		return events[i].delta < events[j].delta
	})

	active := 0
	var prev int64
	for _, ev := range events {
		if active >= threshold {
			fused += ev.ts - prev
		}
		active += ev.delta
		prev = ev.ts
	}
	return fused, observed
}

// RawResults returns the filtered persisted tree for the raw-results query.
// Empty agentID, zero targetID, or empty day mean "no filter" on that axis.
// Records are deep-copied so callers can serialise without the engine lock.
func (e *Engine) RawResults(agentID string, targetID int, day string) map[string]map[string]map[string]*model.DailyRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]map[string]map[string]*model.DailyRecord)
	for aid, byTarget := range e.records {
		if agentID != "" && aid != agentID {
			continue
		}
		for tid, byDay := range byTarget {
			if targetID != 0 && tid != targetID {
				continue
			}
			for d, rec := range byDay {
				if day != "" && d != day {
					continue
				}
				if out[aid] == nil {
					out[aid] = make(map[string]map[string]*model.DailyRecord)
				}
				key := strconv.Itoa(tid)
				if out[aid][key] == nil {
					out[aid][key] = make(map[string]*model.DailyRecord)
				}
				out[aid][key][d] = rec.Clone()
			}
		}
	}
	return out
}

func overlap(aStart, aEnd, bStart, bEnd int64) int64 {
	start, end := aStart, aEnd
	if bStart > start {
		start = bStart
	}
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	return end - start
}

func clampPct(p float64) float64 {
	return math.Min(100, math.Max(0, p))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
