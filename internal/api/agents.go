package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/iRazvan2745/Storm/internal/model"
	"github.com/iRazvan2745/Storm/internal/registry"
)

// agentHandler groups the registration, heartbeat and registry endpoints.
type agentHandler struct {
	registry *registry.Registry
	serverID string
	logger   *zap.Logger
}

func newAgentHandler(reg *registry.Registry, serverID string, logger *zap.Logger) *agentHandler {
	return &agentHandler{
		registry: reg,
		serverID: serverID,
		logger:   logger.Named("agent_handler"),
	}
}

// registerRequest is the body of POST /api/register.
type registerRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Register handles POST /api/register. A known name reclaims its id.
func (h *agentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		fail(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Location == "" {
		req.Location = "Unknown"
	}

	agent, err := h.registry.Register(req.Name, req.Location)
	if err != nil {
		h.logger.Error("registration failed", zap.String("name", req.Name), zap.Error(err))
		fail(w, http.StatusInternalServerError, "failed to register agent")
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"agentId":  agent.ID,
		"serverId": h.serverID,
	})
}

// Heartbeat handles POST /api/heartbeat. Unknown ids get the distinct
// "unknown agent" error so the agent re-registers.
func (h *agentHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	id := agentID(r)
	if id == "" {
		fail(w, http.StatusBadRequest, "x-agent-id header is required")
		return
	}

	ts, err := h.registry.Heartbeat(id)
	if err != nil {
		if isUnknownAgent(err) {
			fail(w, http.StatusNotFound, "unknown agent")
			return
		}
		h.logger.Error("heartbeat failed", zap.String("agent_id", id), zap.Error(err))
		fail(w, http.StatusInternalServerError, "failed to record heartbeat")
		return
	}

	respond(w, http.StatusOK, map[string]any{"timestamp": ts})
}

// List handles GET /api/agents.
func (h *agentHandler) List(w http.ResponseWriter, r *http.Request) {
	agents := h.registry.List()
	if agents == nil {
		agents = []model.Agent{}
	}
	respond(w, http.StatusOK, map[string]any{"agents": agents})
}

// isUnknownAgent reports whether err is the registry's unknown-agent error.
func isUnknownAgent(err error) bool {
	return errors.Is(err, registry.ErrUnknownAgent)
}
