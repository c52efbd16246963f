package targets

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iRazvan2745/Storm/internal/metrics"
	"github.com/iRazvan2745/Storm/internal/model"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config", "targets.json")
	return NewManager(path, zap.NewNop()), path
}

func TestLoad_ValidConfig(t *testing.T) {
	m, path := newTestManager(t)
	writeConfig(t, path, `{"targets":[
		{"id":1,"name":"web","kind":"http","url":"https://example.com","interval":60000,"timeout":5000},
		{"id":2,"name":"gw","kind":"icmp","host":"10.0.0.1","interval":30000,"timeout":2000}
	]}`)

	require.NoError(t, m.Load())

	list, version := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].ID)
	assert.Equal(t, 2, list[1].ID)
	assert.Greater(t, version, int64(0))
}

func TestLoad_SkipsInvalidEntries(t *testing.T) {
	m, path := newTestManager(t)
	writeConfig(t, path, `{"targets":[
		{"id":1,"name":"web","kind":"http","url":"https://example.com","interval":60000,"timeout":5000},
		{"id":2,"name":"broken","kind":"http","interval":60000,"timeout":5000},
		{"id":3,"name":"bad-timeout","kind":"http","url":"https://x.com","interval":1000,"timeout":5000}
	]}`)

	require.NoError(t, m.Load())

	list, _ := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].ID)
}

func TestLoad_DuplicateIDFailsWholeLoad(t *testing.T) {
	m, path := newTestManager(t)
	writeConfig(t, path, `{"targets":[
		{"id":1,"name":"a","kind":"http","url":"https://a.com","interval":60000,"timeout":5000},
		{"id":1,"name":"b","kind":"http","url":"https://b.com","interval":60000,"timeout":5000}
	]}`)

	assert.Error(t, m.Load())
}

func TestLoad_FailureKeepsPreviousSet(t *testing.T) {
	m, path := newTestManager(t)
	writeConfig(t, path, `{"targets":[
		{"id":1,"name":"web","kind":"http","url":"https://example.com","interval":60000,"timeout":5000}
	]}`)
	require.NoError(t, m.Load())

	writeConfig(t, path, `{broken`)
	assert.Error(t, m.Load())

	list, _ := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, "web", list[0].Name)
}

func TestLoad_MissingFile(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Error(t, m.Load())
}

func TestHasChangesSince(t *testing.T) {
	m, path := newTestManager(t)
	writeConfig(t, path, `{"targets":[]}`)
	require.NoError(t, m.Load())

	_, version := m.List()

	changed, _ := m.HasChangesSince(version)
	assert.False(t, changed)

	changed, current := m.HasChangesSince(version - 1)
	assert.True(t, changed)
	assert.Equal(t, version, current)
}

func TestUpsert_PersistsAndBumpsVersion(t *testing.T) {
	m, path := newTestManager(t)
	writeConfig(t, path, `{"targets":[]}`)
	require.NoError(t, m.Load())
	_, before := m.List()

	time.Sleep(2 * time.Millisecond)
	err := m.Upsert(model.Target{
		ID: 5, Name: "api", Kind: model.TargetKindHTTP,
		URL: "https://api.example.com", Interval: 60000, Timeout: 5000,
	})
	require.NoError(t, err)

	got, err := m.Get(5)
	require.NoError(t, err)
	assert.Equal(t, "api", got.Name)

	_, after := m.List()
	assert.Greater(t, after, before)

	// The set survives a reload from disk.
	m2 := NewManager(path, zap.NewNop())
	require.NoError(t, m2.Load())
	_, err = m2.Get(5)
	assert.NoError(t, err)
}

func TestUpsert_RejectsInvalidTarget(t *testing.T) {
	m, path := newTestManager(t)
	writeConfig(t, path, `{"targets":[]}`)
	require.NoError(t, m.Load())

	err := m.Upsert(model.Target{ID: 1, Name: "x", Kind: "tcp", Interval: 1000, Timeout: 500})
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	m, path := newTestManager(t)
	writeConfig(t, path, `{"targets":[
		{"id":1,"name":"web","kind":"http","url":"https://example.com","interval":60000,"timeout":5000}
	]}`)
	require.NoError(t, m.Load())

	require.NoError(t, m.Delete(1))
	_, err := m.Get(1)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, m.Delete(1), ErrNotFound)
}

func TestTargetsGauge_TracksLoadAndEdits(t *testing.T) {
	m, path := newTestManager(t)
	writeConfig(t, path, `{"targets":[
		{"id":1,"name":"web","kind":"http","url":"https://example.com","interval":60000,"timeout":5000},
		{"id":2,"name":"gw","kind":"icmp","host":"10.0.0.1","interval":30000,"timeout":2000}
	]}`)

	require.NoError(t, m.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.TargetsConfigured))

	require.NoError(t, m.Delete(2))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TargetsConfigured))

	require.NoError(t, m.Upsert(model.Target{
		ID: 3, Name: "api", Kind: model.TargetKindHTTP,
		URL: "https://api.example.com", Interval: 60000, Timeout: 5000,
	}))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.TargetsConfigured))
}

func TestWatch_ReloadsAfterRewrite(t *testing.T) {
	m, path := newTestManager(t)
	writeConfig(t, path, `{"targets":[
		{"id":1,"name":"web","kind":"http","url":"https://example.com","interval":60000,"timeout":5000},
		{"id":2,"name":"gw","kind":"icmp","host":"10.0.0.1","interval":30000,"timeout":2000}
	]}`)
	require.NoError(t, m.Load())
	_, before := m.List()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))

	writeConfig(t, path, `{"targets":[
		{"id":1,"name":"web","kind":"http","url":"https://example.com","interval":60000,"timeout":5000},
		{"id":3,"name":"dns","kind":"icmp","host":"10.0.0.2","interval":30000,"timeout":2000}
	]}`)

	// The debounce window is 300 ms; give the reload time to land.
	require.Eventually(t, func() bool {
		changed, _ := m.HasChangesSince(before)
		return changed
	}, 3*time.Second, 50*time.Millisecond)

	_, err := m.Get(3)
	assert.NoError(t, err)
	_, err = m.Get(2)
	assert.ErrorIs(t, err, ErrNotFound)
}
