// Package results implements the coordinator's results store, the incident
// engine with multi-agent consensus, and the aggregated queries (daily
// downtime, response-time buckets, uptime windows with multi-agent fusion).
//
// All persisted state lives in a single JSON blob shaped as
// agentId → targetId → day → DailyRecord, written atomically after every
// submission. The derived per-target consensus map is rebuilt from the blob
// on load and never persisted.
package results

import (
	"fmt"
	"strconv"

	"github.com/iRazvan2745/Storm/internal/model"
	"github.com/iRazvan2745/Storm/internal/storage"
)

// persistedTree is the on-disk shape of results.json. Target ids become
// string keys because JSON objects cannot have integer keys.
type persistedTree map[string]map[string]map[string]*model.DailyRecord

// load reads the results blob into the in-memory tree. Missing file starts
// empty. Caller holds mu.
func (e *Engine) loadLocked() error {
	var tree persistedTree
	found, err := storage.Load(e.path, &tree)
	if err != nil {
		return fmt.Errorf("results: %w", err)
	}
	e.records = make(map[string]map[int]map[string]*model.DailyRecord)
	if !found {
		return nil
	}
	for agentID, byTarget := range tree {
		for targetKey, byDay := range byTarget {
			targetID, err := strconv.Atoi(targetKey)
			if err != nil {
				e.logger.Warn("dropping record with non-numeric target key: " + targetKey)
				continue
			}
			for day, rec := range byDay {
				if rec == nil {
					continue
				}
				e.recordLocked(agentID, targetID, day, rec)
			}
		}
	}
	return nil
}

// persistLocked writes the in-memory tree to disk atomically. Caller holds mu.
func (e *Engine) persistLocked() error {
	tree := make(persistedTree, len(e.records))
	for agentID, byTarget := range e.records {
		out := make(map[string]map[string]*model.DailyRecord, len(byTarget))
		for targetID, byDay := range byTarget {
			out[strconv.Itoa(targetID)] = byDay
		}
		tree[agentID] = out
	}
	if err := storage.Save(e.path, tree); err != nil {
		return fmt.Errorf("results: %w", err)
	}
	return nil
}

// recordLocked returns the DailyRecord for (agentID, targetID, day),
// inserting seed (or a fresh record when seed is nil) if absent.
// Caller holds mu.
func (e *Engine) recordLocked(agentID string, targetID int, day string, seed *model.DailyRecord) *model.DailyRecord {
	byTarget, ok := e.records[agentID]
	if !ok {
		byTarget = make(map[int]map[string]*model.DailyRecord)
		e.records[agentID] = byTarget
	}
	byDay, ok := byTarget[targetID]
	if !ok {
		byDay = make(map[string]*model.DailyRecord)
		byTarget[targetID] = byDay
	}
	rec, ok := byDay[day]
	if !ok {
		if seed != nil {
			rec = seed
		} else {
			rec = &model.DailyRecord{Date: day}
		}
		byDay[day] = rec
	}
	return rec
}

// openRecordLocked returns the record holding the agent's open incident for
// a target, or nil. By construction at most one incident per (agent, target)
// is open across all days. Caller holds mu.
func (e *Engine) openRecordLocked(agentID string, targetID int) *model.DailyRecord {
	byDay, ok := e.records[agentID][targetID]
	if !ok {
		return nil
	}
	for _, rec := range byDay {
		if rec.OpenIncident() != nil {
			return rec
		}
	}
	return nil
}

// foldBucket merges one successful response time into the record's
// 30-minute bucket containing ts, creating the bucket lazily.
func foldBucket(rec *model.DailyRecord, ts int64, responseTime float64) {
	start := model.BucketStartMs(ts)
	for i := range rec.ResponseTimeIntervals {
		b := &rec.ResponseTimeIntervals[i]
		if b.StartTime == start {
			b.AvgResponseTime = (b.AvgResponseTime*float64(b.Count) + responseTime) / float64(b.Count+1)
			b.Count++
			return
		}
	}
	rec.ResponseTimeIntervals = append(rec.ResponseTimeIntervals, model.ResponseTimeInterval{
		StartTime:       start,
		EndTime:         start + model.BucketSizeMs,
		AvgResponseTime: responseTime,
		Count:           1,
	})
}
