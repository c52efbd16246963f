package results

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iRazvan2745/Storm/internal/model"
)

// recordingAlerter captures Send calls for assertions.
type recordingAlerter struct {
	mu       sync.Mutex
	messages []string
}

func (a *recordingAlerter) Send(message string, _ *model.Target, _ *model.Agent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, message)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.messages)
}

func newTestEngine(t *testing.T) (*Engine, string, *recordingAlerter) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results.json")
	alerter := &recordingAlerter{}
	e, err := Open(path, DefaultMinAgents, nil, alerter, zap.NewNop())
	require.NoError(t, err)
	return e, path, alerter
}

// noonMs returns a fixed local-noon timestamp so nothing in a test crosses a
// day boundary.
func noonMs(t *testing.T) int64 {
	t.Helper()
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, time.Local).UnixMilli()
}

func check(targetID int, ts int64, success bool, responseTime float64) model.CheckResult {
	return model.CheckResult{
		TargetID:     targetID,
		Timestamp:    ts,
		Success:      success,
		ResponseTime: responseTime,
	}
}

func TestSubmit_SingleAgentIsAuthoritative(t *testing.T) {
	e, _, alerter := newTestEngine(t)
	base := noonMs(t)

	require.NoError(t, e.Submit("agent-1", []model.CheckResult{check(1, base, false, 0)}))

	statuses := e.TargetStatuses()
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].IsDown)

	rec := e.records["agent-1"][1][model.DayKey(base)]
	require.NotNil(t, rec)
	require.Len(t, rec.Incidents, 1)
	assert.True(t, rec.Incidents[0].Open())
	assert.True(t, rec.IsDown)

	require.Eventually(t, func() bool { return alerter.count() == 1 }, time.Second, 10*time.Millisecond)

	// Recovery closes the incident and accumulates the downtime.
	require.NoError(t, e.Submit("agent-1", []model.CheckResult{check(1, base+5*60_000, true, 120)}))

	statuses = e.TargetStatuses()
	assert.False(t, statuses[0].IsDown)
	assert.False(t, rec.Incidents[0].Open())
	assert.Equal(t, int64(5*60_000), rec.DowntimeMs)
	assert.False(t, rec.IsDown)

	require.Eventually(t, func() bool { return alerter.count() == 2 }, time.Second, 10*time.Millisecond)
}

func TestSubmit_TwoAgentsNeedConsensus(t *testing.T) {
	e, _, alerter := newTestEngine(t)
	base := noonMs(t)
	day := model.DayKey(base)

	// Both agents have reported up at least once.
	require.NoError(t, e.Submit("agent-1", []model.CheckResult{check(7, base, true, 100)}))
	require.NoError(t, e.Submit("agent-2", []model.CheckResult{check(7, base, true, 110)}))

	// One agent alone seeing it down does not flip consensus or open anything.
	require.NoError(t, e.Submit("agent-1", []model.CheckResult{check(7, base+60_000, false, 0)}))
	assert.False(t, e.TargetStatuses()[0].IsDown)
	assert.Nil(t, e.records["agent-1"][7][day].OpenIncident())
	assert.Equal(t, 0, alerter.count())

	// The second agent agreeing flips consensus; both down-reporting agents
	// get an incident.
	require.NoError(t, e.Submit("agent-2", []model.CheckResult{check(7, base+90_000, false, 0)}))
	assert.True(t, e.TargetStatuses()[0].IsDown)
	require.NotNil(t, e.records["agent-1"][7][day].OpenIncident())
	require.NotNil(t, e.records["agent-2"][7][day].OpenIncident())
	require.Eventually(t, func() bool { return alerter.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestSubmit_RecoveryClosesOnlyAgreeingAgents(t *testing.T) {
	e, _, _ := newTestEngine(t)
	base := noonMs(t)
	day := model.DayKey(base)

	require.NoError(t, e.Submit("agent-1", []model.CheckResult{check(7, base, false, 0)}))
	require.NoError(t, e.Submit("agent-2", []model.CheckResult{check(7, base+1000, false, 0)}))
	require.True(t, e.TargetStatuses()[0].IsDown)

	// Agent 1 sees recovery: consensus flips up (1 of 2 down), its incident
	// closes, but agent 2 still reports down and keeps its incident open.
	require.NoError(t, e.Submit("agent-1", []model.CheckResult{check(7, base+120_000, true, 90)}))

	assert.False(t, e.TargetStatuses()[0].IsDown)
	assert.Nil(t, e.records["agent-1"][7][day].OpenIncident())
	require.NotNil(t, e.records["agent-2"][7][day].OpenIncident())

	// Agent 2 catching up closes its incident too.
	require.NoError(t, e.Submit("agent-2", []model.CheckResult{check(7, base+150_000, true, 95)}))
	assert.Nil(t, e.records["agent-2"][7][day].OpenIncident())
	assert.Equal(t, base+150_000-(base+1000), e.records["agent-2"][7][day].DowntimeMs)
}

func TestSubmit_SuccessfulChecksFoldIntoBuckets(t *testing.T) {
	e, _, _ := newTestEngine(t)
	base := noonMs(t)
	day := model.DayKey(base)

	require.NoError(t, e.Submit("agent-1", []model.CheckResult{
		check(1, base, true, 100),
		check(1, base+60_000, true, 200),
		check(1, base+model.BucketSizeMs, true, 50),
	}))

	rec := e.records["agent-1"][1][day]
	require.Len(t, rec.ResponseTimeIntervals, 2)

	first := rec.ResponseTimeIntervals[0]
	assert.Equal(t, 2, first.Count)
	assert.InDelta(t, 150.0, first.AvgResponseTime, 0.001)
	assert.Equal(t, first.StartTime+model.BucketSizeMs, first.EndTime)

	second := rec.ResponseTimeIntervals[1]
	assert.Equal(t, 1, second.Count)
	assert.InDelta(t, 50.0, second.AvgResponseTime, 0.001)
}

func TestSubmit_FailedChecksDoNotTouchBuckets(t *testing.T) {
	e, _, _ := newTestEngine(t)
	base := noonMs(t)

	require.NoError(t, e.Submit("agent-1", []model.CheckResult{check(1, base, false, 0)}))

	rec := e.records["agent-1"][1][model.DayKey(base)]
	assert.Empty(t, rec.ResponseTimeIntervals)
}

func TestSubmit_StaleResultCannotRewindOpenIncident(t *testing.T) {
	e, _, _ := newTestEngine(t)
	base := noonMs(t)
	day := model.DayKey(base)

	require.NoError(t, e.Submit("agent-1", []model.CheckResult{check(1, base, false, 0)}))
	rec := e.records["agent-1"][1][day]
	require.NotNil(t, rec.OpenIncident())

	// A delayed success from before the incident started must not close it.
	require.NoError(t, e.Submit("agent-1", []model.CheckResult{check(1, base-60_000, true, 80)}))

	require.NotNil(t, rec.OpenIncident())
	assert.True(t, e.TargetStatuses()[0].IsDown)
	// The stale success still contributes its response time.
	assert.Len(t, rec.ResponseTimeIntervals, 1)
}

func TestSubmit_AtMostOneOpenIncidentPerAgentTarget(t *testing.T) {
	e, _, _ := newTestEngine(t)
	base := noonMs(t)
	day := model.DayKey(base)

	require.NoError(t, e.Submit("agent-1", []model.CheckResult{
		check(1, base, false, 0),
		check(1, base+30_000, false, 0),
		check(1, base+60_000, false, 0),
	}))

	rec := e.records["agent-1"][1][day]
	require.Len(t, rec.Incidents, 1)
	assert.True(t, rec.Incidents[0].Open())
}

func TestSubmit_IncidentSpanningMidnightStaysOnOriginalDay(t *testing.T) {
	e, _, _ := newTestEngine(t)

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	openedAt := midnight.AddDate(0, 0, -1).Add(23 * time.Hour).UnixMilli() // 23:00 yesterday
	stillDownAt := midnight.Add(1 * time.Hour).UnixMilli()                 // 01:00 today
	recoveredAt := midnight.Add(2 * time.Hour).UnixMilli()                 // 02:00 today

	firstDay := model.DayKey(openedAt)
	secondDay := model.DayKey(stillDownAt)
	require.NotEqual(t, firstDay, secondDay)

	require.NoError(t, e.Submit("agent-1", []model.CheckResult{check(1, openedAt, false, 0)}))
	require.NoError(t, e.Submit("agent-1", []model.CheckResult{check(1, stillDownAt, false, 0)}))

	// The incident stays attached to the day it opened on; the failure after
	// midnight must not open a second incident on the new day's record.
	firstRec := e.records["agent-1"][1][firstDay]
	require.NotNil(t, firstRec)
	require.Len(t, firstRec.Incidents, 1)
	assert.True(t, firstRec.Incidents[0].Open())

	secondRec := e.records["agent-1"][1][secondDay]
	require.NotNil(t, secondRec)
	assert.Empty(t, secondRec.Incidents)

	// Recovery closes the original incident and accrues the full cross-day
	// duration to the day it opened on.
	require.NoError(t, e.Submit("agent-1", []model.CheckResult{check(1, recoveredAt, true, 90)}))

	assert.False(t, firstRec.Incidents[0].Open())
	assert.Equal(t, recoveredAt-openedAt, firstRec.DowntimeMs)
	assert.Equal(t, int64(0), secondRec.DowntimeMs)
	assert.Empty(t, secondRec.Incidents)
	assert.False(t, e.TargetStatuses()[0].IsDown)
}

func TestOpen_RebuildsConsensusFromPersistedRecords(t *testing.T) {
	e, path, _ := newTestEngine(t)
	base := noonMs(t)

	require.NoError(t, e.Submit("agent-1", []model.CheckResult{check(1, base, false, 0)}))
	require.NoError(t, e.Submit("agent-2", []model.CheckResult{check(1, base+1000, false, 0)}))
	require.True(t, e.TargetStatuses()[0].IsDown)

	reopened, err := Open(path, DefaultMinAgents, nil, nil, zap.NewNop())
	require.NoError(t, err)

	statuses := reopened.TargetStatuses()
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].IsDown)
	assert.Equal(t, map[string]bool{"agent-1": true, "agent-2": true}, statuses[0].AgentsReporting)

	// The open incident survived the restart.
	require.NotNil(t, reopened.records["agent-1"][1][model.DayKey(base)].OpenIncident())
}

func TestReset(t *testing.T) {
	e, path, _ := newTestEngine(t)
	base := noonMs(t)

	require.NoError(t, e.Submit("agent-1", []model.CheckResult{check(1, base, true, 100)}))
	require.NoError(t, e.Reset())

	assert.Empty(t, e.TargetStatuses())
	assert.Empty(t, e.RawResults("", 0, ""))

	reopened, err := Open(path, DefaultMinAgents, nil, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, reopened.TargetStatuses())
}

func TestRecheck_ReappliesConsensus(t *testing.T) {
	e, _, _ := newTestEngine(t)
	base := noonMs(t)

	require.NoError(t, e.Submit("agent-1", []model.CheckResult{check(1, base, false, 0)}))
	require.True(t, e.TargetStatuses()[0].IsDown)

	// Simulate drift: force the flag up, then recheck restores it from the
	// per-agent reports.
	e.mu.Lock()
	e.status[1].IsDown = false
	e.mu.Unlock()

	require.NoError(t, e.Recheck(1))
	assert.True(t, e.TargetStatuses()[0].IsDown)
}

func TestPrune_DropsOldDays(t *testing.T) {
	e, _, _ := newTestEngine(t)
	base := noonMs(t)

	old := base - 10*model.DayMs
	require.NoError(t, e.Submit("agent-1", []model.CheckResult{
		check(1, old, true, 100),
		check(1, base, true, 100),
	}))

	removed := e.Prune(7)
	assert.Equal(t, 1, removed)

	_, oldKept := e.records["agent-1"][1][model.DayKey(old)]
	assert.False(t, oldKept)
	_, todayKept := e.records["agent-1"][1][model.DayKey(base)]
	assert.True(t, todayKept)

	assert.Equal(t, 0, e.Prune(7))
}

func TestConsensus(t *testing.T) {
	assert.False(t, consensus(map[string]bool{}, 2))
	assert.True(t, consensus(map[string]bool{"a": true}, 2))
	assert.False(t, consensus(map[string]bool{"a": false}, 2))
	assert.False(t, consensus(map[string]bool{"a": true, "b": false}, 2))
	assert.True(t, consensus(map[string]bool{"a": true, "b": true}, 2))
	assert.True(t, consensus(map[string]bool{"a": true, "b": true, "c": false}, 2))
}
