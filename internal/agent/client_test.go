package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iRazvan2745/Storm/internal/model"
)

func TestClient_RegisterStoresIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/register", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "eu-1", body["name"])
		assert.Equal(t, "Frankfurt", body["location"])

		json.NewEncoder(w).Encode(map[string]any{
			"success": true, "agentId": "agent-3", "serverId": "boot-1",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zap.NewNop())
	require.NoError(t, c.Register(context.Background(), "eu-1", "Frankfurt"))
	assert.Equal(t, "agent-3", c.AgentID())
}

func TestClient_AgentIDHeaderSentOnceRegistered(t *testing.T) {
	var sawHeartbeatID atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/register":
			json.NewEncoder(w).Encode(map[string]any{
				"success": true, "agentId": "agent-1", "serverId": "boot-1",
			})
		case "/api/heartbeat":
			sawHeartbeatID.Store(r.Header.Get("x-agent-id"))
			json.NewEncoder(w).Encode(map[string]any{"success": true, "timestamp": 1})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zap.NewNop())
	require.NoError(t, c.Register(context.Background(), "eu-1", ""))
	require.NoError(t, c.Heartbeat(context.Background()))

	assert.Equal(t, "agent-1", sawHeartbeatID.Load())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "boom"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "timestamp": 1})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zap.NewNop())
	err := c.Heartbeat(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "bad request"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zap.NewNop())
	err := c.SubmitResults(context.Background(), []model.CheckResult{{TargetID: 1, Timestamp: 1}})

	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_UnknownAgentIsDistinct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "unknown agent"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zap.NewNop())
	err := c.Heartbeat(context.Background())

	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestClient_FetchTargets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/targets", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"targets": []model.Target{
				{ID: 1, Name: "web", Kind: model.TargetKindHTTP, URL: "https://example.com", Interval: 60000, Timeout: 5000},
			},
			"lastUpdated": 1234,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zap.NewNop())
	targets, version, err := c.FetchTargets(context.Background())

	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "web", targets[0].Name)
	assert.Equal(t, int64(1234), version)
}

func TestClient_CheckUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/targets/check-updates", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("lastChecked"))
		json.NewEncoder(w).Encode(map[string]any{
			"success": true, "hasUpdates": true, "lastUpdated": 99,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zap.NewNop())
	changed, version, err := c.CheckUpdates(context.Background(), 42)

	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int64(99), version)
}

func TestClient_SubmitResultsWrapsBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Results []model.CheckResult `json:"results"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Results, 2)
		assert.Equal(t, 7, body.Results[0].TargetID)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "received": 2})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zap.NewNop())
	err := c.SubmitResults(context.Background(), []model.CheckResult{
		{TargetID: 7, Timestamp: 1, Success: true, ResponseTime: 10},
		{TargetID: 7, Timestamp: 2, Success: false},
	})

	assert.NoError(t, err)
}
