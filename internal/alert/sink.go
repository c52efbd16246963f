// Package alert implements the fire-and-forget outbound webhook sink.
// Delivery failures are logged and swallowed; alerting must never block or
// fail the aggregation path. With no webhook URL configured every call is a
// silent no-op, so the sink can always be wired unconditionally.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/iRazvan2745/Storm/internal/metrics"
	"github.com/iRazvan2745/Storm/internal/model"
)

// payload is the JSON body posted to the webhook. The "content" field makes
// it directly consumable by Discord incoming webhooks; the structured fields
// carry the same information for custom receivers.
type payload struct {
	Content   string        `json:"content"`
	Target    *model.Target `json:"target,omitempty"`
	Agent     *model.Agent  `json:"agent,omitempty"`
	Timestamp string        `json:"timestamp"`
}

// Sink posts alert messages to a configured webhook URL.
type Sink struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewSink creates a Sink. url may be empty, in which case Send is a no-op.
func NewSink(url string, logger *zap.Logger) *Sink {
	return &Sink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.Named("alert"),
	}
}

// Send delivers one alert. It never returns an error: failures are logged
// and dropped.
func (s *Sink) Send(message string, target *model.Target, agent *model.Agent) {
	if s.url == "" {
		return
	}

	body, err := json.Marshal(payload{
		Content:   message,
		Target:    target,
		Agent:     agent,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Warn("failed to marshal alert payload", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("failed to build alert request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Storm-Alert/1.0")

	metrics.AlertsSent.Inc()

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("alert delivery failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("alert webhook returned non-2xx",
			zap.Int("status", resp.StatusCode),
		)
		return
	}

	s.logger.Info("alert delivered", zap.String("message", message))
}
