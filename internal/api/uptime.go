package api

import (
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/iRazvan2745/Storm/internal/cache"
	"github.com/iRazvan2745/Storm/internal/model"
	"github.com/iRazvan2745/Storm/internal/results"
)

// uptimeHandler serves the aggregated queries: daily uptime, latency
// timeseries, consensus snapshot, window percentages, reset and recheck.
// The three expensive reads go through the TTL cache.
type uptimeHandler struct {
	engine *results.Engine
	cache  *cache.Cache
	logger *zap.Logger
}

func newUptimeHandler(engine *results.Engine, c *cache.Cache, logger *zap.Logger) *uptimeHandler {
	return &uptimeHandler{
		engine: engine,
		cache:  c,
		logger: logger.Named("uptime_handler"),
	}
}

// queryFilters reads the optional targetId and date query parameters,
// defaulting date to today.
func queryFilters(w http.ResponseWriter, r *http.Request) (targetID int, date string, ok bool) {
	q := r.URL.Query()
	if raw := q.Get("targetId"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			fail(w, http.StatusBadRequest, "targetId must be an integer")
			return 0, "", false
		}
		targetID = n
	}
	date = q.Get("date")
	if date == "" {
		date = model.DayKey(model.NowMs())
	}
	return targetID, date, true
}

// Daily handles GET /api/uptime?targetId?&date?.
func (h *uptimeHandler) Daily(w http.ResponseWriter, r *http.Request) {
	targetID, date, ok := queryFilters(w, r)
	if !ok {
		return
	}

	key := fmt.Sprintf("uptime:%d:%s", targetID, date)
	if v, hit := h.cache.Get(key); hit {
		respond(w, http.StatusOK, v.(map[string]any))
		return
	}

	summary := h.engine.UptimeSummary(date, targetID, model.NowMs())
	payload := map[string]any{
		"results": summary,
		"date":    date,
	}
	h.cache.Set(key, payload)
	respond(w, http.StatusOK, payload)
}

// Latency handles GET /api/latency?targetId?&date?.
func (h *uptimeHandler) Latency(w http.ResponseWriter, r *http.Request) {
	targetID, date, ok := queryFilters(w, r)
	if !ok {
		return
	}

	key := fmt.Sprintf("latency:%d:%s", targetID, date)
	if v, hit := h.cache.Get(key); hit {
		respond(w, http.StatusOK, v.(map[string]any))
		return
	}

	series := h.engine.LatencySeries(targetID, date)
	payload := map[string]any{
		"latencyData": series,
		"date":        date,
	}
	h.cache.Set(key, payload)
	respond(w, http.StatusOK, payload)
}

// Downtime handles GET /api/downtime?date?: per-agent downtime totals for
// one day, open incidents counted up to now.
func (h *uptimeHandler) Downtime(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = model.DayKey(model.NowMs())
	}

	key := "downtime:" + date
	if v, hit := h.cache.Get(key); hit {
		respond(w, http.StatusOK, v.(map[string]any))
		return
	}

	payload := map[string]any{
		"summary": h.engine.DailySummary(date, model.NowMs()),
		"date":    date,
	}
	h.cache.Set(key, payload)
	respond(w, http.StatusOK, payload)
}

// TargetStatus handles GET /api/target-status.
func (h *uptimeHandler) TargetStatus(w http.ResponseWriter, r *http.Request) {
	const key = "target-status"
	if v, hit := h.cache.Get(key); hit {
		respond(w, http.StatusOK, v.(map[string]any))
		return
	}

	statuses := h.engine.TargetStatuses()
	up, down := 0, 0
	for _, st := range statuses {
		if st.IsDown {
			down++
		} else {
			up++
		}
	}

	payload := map[string]any{
		"currentStatus": statuses,
		"summary": map[string]int{
			"total": len(statuses),
			"up":    up,
			"down":  down,
		},
	}
	h.cache.Set(key, payload)
	respond(w, http.StatusOK, payload)
}

// Windows handles GET /api/targets/{id}/uptime.
func (h *uptimeHandler) Windows(w http.ResponseWriter, r *http.Request) {
	id, ok := targetParam(w, r)
	if !ok {
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"uptime": h.engine.UptimeWindows(id, model.NowMs()),
	})
}

// Reset handles POST /api/uptime/reset: wipes the persistent store.
func (h *uptimeHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reset(); err != nil {
		h.logger.Error("reset failed", zap.Error(err))
		fail(w, http.StatusInternalServerError, "failed to reset uptime data")
		return
	}
	h.cache.Purge()
	respond(w, http.StatusOK, map[string]any{"reset": true})
}

// Recheck handles POST /api/uptime/check?targetId?, forcing a consensus
// re-evaluation from the current per-agent reports.
func (h *uptimeHandler) Recheck(w http.ResponseWriter, r *http.Request) {
	targetID := 0
	if raw := r.URL.Query().Get("targetId"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			fail(w, http.StatusBadRequest, "targetId must be an integer")
			return
		}
		targetID = n
	}

	if err := h.engine.Recheck(targetID); err != nil {
		h.logger.Error("recheck failed", zap.Int("target_id", targetID), zap.Error(err))
		fail(w, http.StatusInternalServerError, "failed to re-evaluate status")
		return
	}
	h.cache.Purge()
	respond(w, http.StatusOK, map[string]any{"checked": true})
}
