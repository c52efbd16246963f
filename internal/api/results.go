package api

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/iRazvan2745/Storm/internal/cache"
	"github.com/iRazvan2745/Storm/internal/model"
	"github.com/iRazvan2745/Storm/internal/registry"
	"github.com/iRazvan2745/Storm/internal/results"
)

// resultsHandler handles result ingestion and the raw-results query.
type resultsHandler struct {
	engine   *results.Engine
	registry *registry.Registry
	cache    *cache.Cache
	logger   *zap.Logger
}

func newResultsHandler(engine *results.Engine, reg *registry.Registry, c *cache.Cache, logger *zap.Logger) *resultsHandler {
	return &resultsHandler{
		engine:   engine,
		registry: reg,
		cache:    c,
		logger:   logger.Named("results_handler"),
	}
}

// submitRequest is the body of POST /api/results.
type submitRequest struct {
	Results []model.CheckResult `json:"results"`
}

// Submit handles POST /api/results. The submitting agent must be registered;
// unknown ids get the distinct "unknown agent" error so the agent
// re-registers before retrying.
func (h *resultsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id := agentID(r)
	if id == "" {
		fail(w, http.StatusBadRequest, "x-agent-id header is required")
		return
	}
	if !h.registry.Know(id) {
		fail(w, http.StatusNotFound, "unknown agent")
		return
	}

	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Results) == 0 {
		fail(w, http.StatusBadRequest, "results must not be empty")
		return
	}
	for _, res := range req.Results {
		if res.TargetID <= 0 || res.Timestamp <= 0 {
			fail(w, http.StatusBadRequest, "each result requires targetId and timestamp")
			return
		}
	}

	if err := h.engine.Submit(id, req.Results); err != nil {
		h.logger.Error("failed to persist results",
			zap.String("agent_id", id),
			zap.Int("count", len(req.Results)),
			zap.Error(err),
		)
		fail(w, http.StatusInternalServerError, "failed to persist results")
		return
	}

	// Aggregated reads must recompute after any submission.
	h.cache.Purge()

	respond(w, http.StatusOK, map[string]any{"received": len(req.Results)})
}

// Raw handles GET /api/results?agentId&targetId&date: the filtered
// persisted tree, for debugging and the dashboard's detail views.
func (h *resultsHandler) Raw(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	targetID := 0
	if raw := q.Get("targetId"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			fail(w, http.StatusBadRequest, "targetId must be an integer")
			return
		}
		targetID = n
	}

	tree := h.engine.RawResults(q.Get("agentId"), targetID, q.Get("date"))
	respond(w, http.StatusOK, map[string]any{"results": tree})
}
