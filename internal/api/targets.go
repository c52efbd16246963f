package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/iRazvan2745/Storm/internal/model"
	"github.com/iRazvan2745/Storm/internal/targets"
)

// targetHandler groups the target-set endpoints.
type targetHandler struct {
	targets *targets.Manager
	logger  *zap.Logger
}

func newTargetHandler(mgr *targets.Manager, logger *zap.Logger) *targetHandler {
	return &targetHandler{
		targets: mgr,
		logger:  logger.Named("target_handler"),
	}
}

// List handles GET /api/targets.
func (h *targetHandler) List(w http.ResponseWriter, r *http.Request) {
	list, version := h.targets.List()
	respond(w, http.StatusOK, map[string]any{
		"targets":     list,
		"lastUpdated": version,
	})
}

// CheckUpdates handles GET /api/targets/check-updates?lastChecked=N.
func (h *targetHandler) CheckUpdates(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("lastChecked")
	lastChecked, err := strconv.ParseInt(raw, 10, 64)
	if raw != "" && err != nil {
		fail(w, http.StatusBadRequest, "lastChecked must be a millisecond timestamp")
		return
	}

	changed, version := h.targets.HasChangesSince(lastChecked)
	respond(w, http.StatusOK, map[string]any{
		"hasUpdates":  changed,
		"lastUpdated": version,
	})
}

// Get handles GET /api/targets/{id}.
func (h *targetHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := targetParam(w, r)
	if !ok {
		return
	}

	t, err := h.targets.Get(id)
	if err != nil {
		fail(w, http.StatusNotFound, "target not found")
		return
	}
	respond(w, http.StatusOK, map[string]any{"target": t})
}

// Upsert handles POST /api/targets: validates and persists a target edit.
func (h *targetHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var t model.Target
	if !decodeJSON(w, r, &t) {
		return
	}

	if err := h.targets.Upsert(t); err != nil {
		if verr := t.Validate(); verr != nil {
			fail(w, http.StatusBadRequest, verr.Error())
			return
		}
		h.logger.Error("failed to persist target", zap.Int("id", t.ID), zap.Error(err))
		fail(w, http.StatusInternalServerError, "failed to persist target")
		return
	}

	respond(w, http.StatusOK, map[string]any{"target": t})
}

// Delete handles DELETE /api/targets/{id}.
func (h *targetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := targetParam(w, r)
	if !ok {
		return
	}

	if err := h.targets.Delete(id); err != nil {
		if errors.Is(err, targets.ErrNotFound) {
			fail(w, http.StatusNotFound, "target not found")
			return
		}
		h.logger.Error("failed to delete target", zap.Int("id", id), zap.Error(err))
		fail(w, http.StatusInternalServerError, "failed to delete target")
		return
	}

	respond(w, http.StatusOK, map[string]any{"deleted": id})
}

// targetParam parses the {id} path parameter. Writes a 400 and returns
// false on malformed input.
func targetParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		fail(w, http.StatusBadRequest, "invalid target id")
		return 0, false
	}
	return id, true
}
