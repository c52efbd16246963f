package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/iRazvan2745/Storm/internal/model"
)

// ErrUnknownAgent is returned when the coordinator no longer recognises our
// agent id (e.g. after its registry was wiped). The runtime reacts by
// re-registering.
var ErrUnknownAgent = errors.New("coordinator does not know this agent")

const (
	// rpcTimeout bounds every agent→coordinator request.
	rpcTimeout = 10 * time.Second

	// maxRetries is how many times a failed RPC is retried on top of the
	// initial attempt, with backoff min(1000·2^n, 10000) ms.
	maxRetries = 3
)

// Client is the coordinator HTTP client. All calls carry the shared secret;
// once registered, the agent id rides along on every request.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	logger  *zap.Logger

	mu       sync.RWMutex
	agentID  string
	serverID string
}

// NewClient creates a coordinator client for the given base URL.
func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: rpcTimeout},
		logger:  logger.Named("client"),
	}
}

// AgentID returns the id assigned by the coordinator, empty before Register.
func (c *Client) AgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agentID
}

// Register obtains (or reclaims) our agent id from the coordinator.
func (c *Client) Register(ctx context.Context, name, location string) error {
	var resp struct {
		apiEnvelope
		AgentID  string `json:"agentId"`
		ServerID string `json:"serverId"`
	}
	body := map[string]string{"name": name, "location": location}

	if err := c.call(ctx, http.MethodPost, "/api/register", nil, body, &resp); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	c.mu.Lock()
	c.agentID = resp.AgentID
	c.serverID = resp.ServerID
	c.mu.Unlock()

	c.logger.Info("registered with coordinator",
		zap.String("agent_id", resp.AgentID),
		zap.String("server_id", resp.ServerID),
	)
	return nil
}

// Heartbeat refreshes our liveness with the coordinator.
func (c *Client) Heartbeat(ctx context.Context) error {
	var resp struct {
		apiEnvelope
		Timestamp int64 `json:"timestamp"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/heartbeat", nil, struct{}{}, &resp); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// FetchTargets retrieves the full target list and its version.
func (c *Client) FetchTargets(ctx context.Context) ([]model.Target, int64, error) {
	var resp struct {
		apiEnvelope
		Targets     []model.Target `json:"targets"`
		LastUpdated int64          `json:"lastUpdated"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/targets", nil, nil, &resp); err != nil {
		return nil, 0, fmt.Errorf("fetch targets: %w", err)
	}
	return resp.Targets, resp.LastUpdated, nil
}

// CheckUpdates asks whether the target set changed after lastChecked.
func (c *Client) CheckUpdates(ctx context.Context, lastChecked int64) (bool, int64, error) {
	var resp struct {
		apiEnvelope
		HasUpdates  bool  `json:"hasUpdates"`
		LastUpdated int64 `json:"lastUpdated"`
	}
	query := map[string]string{"lastChecked": strconv.FormatInt(lastChecked, 10)}
	if err := c.call(ctx, http.MethodGet, "/api/targets/check-updates", query, nil, &resp); err != nil {
		return false, 0, fmt.Errorf("check updates: %w", err)
	}
	return resp.HasUpdates, resp.LastUpdated, nil
}

// SubmitResults posts a batch of check results. Ordering within the batch
// follows the original check timestamps; the caller never reorders.
func (c *Client) SubmitResults(ctx context.Context, results []model.CheckResult) error {
	var resp apiEnvelope
	body := map[string]any{"results": results}
	if err := c.call(ctx, http.MethodPost, "/api/results", nil, body, &resp); err != nil {
		return fmt.Errorf("submit results: %w", err)
	}
	return nil
}

// apiEnvelope is the coordinator's standard response wrapper.
type apiEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// call performs one RPC with the retry policy: up to maxRetries retries on
// transport errors and 5xx responses, backoff 1 s doubling to a 10 s cap.
// 4xx responses are permanent; a 404 "unknown agent" maps to ErrUnknownAgent.
func (c *Client) call(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	op := func() error {
		err := c.do(ctx, method, path, query, body, out)
		if err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return backoff.Permanent(pe.err)
		}
		c.logger.Warn("rpc failed, will retry",
			zap.String("path", path),
			zap.Error(err),
		)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	return backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(b, ctx), maxRetries))
}

// permanentError wraps client-side (4xx) failures that retrying cannot fix.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// do performs a single HTTP request/response cycle.
func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	url := c.baseURL + path
	if len(query) > 0 {
		sep := "?"
		for k, v := range query {
			url += sep + k + "=" + v
			sep = "&"
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &permanentError{fmt.Errorf("marshal request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return &permanentError{err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerAPIKey, c.apiKey)
	if id := c.AgentID(); id != "" {
		req.Header.Set(headerAgentID, id)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var env apiEnvelope
	if jsonErr := json.Unmarshal(data, &env); jsonErr == nil && env.Error != "" {
		err = fmt.Errorf("%s: %s", resp.Status, env.Error)
	} else {
		err = fmt.Errorf("%s", resp.Status)
	}

	switch {
	case resp.StatusCode >= 500:
		return err
	case resp.StatusCode == http.StatusNotFound && env.Error == "unknown agent":
		return &permanentError{ErrUnknownAgent}
	case resp.StatusCode >= 400:
		return &permanentError{err}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

const (
	headerAPIKey  = "x-api-key"
	headerAgentID = "x-agent-id"
)
