package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"streamtally/pkg/aggregator"
	"streamtally/pkg/service"
	"streamtally/pkg/types"
)

type Handler struct {
	svc    *service.Service
	logger *slog.Logger
}

func New(svc *service.Service, logger *slog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger,
	}
}

// HealthCheck is a bare liveness probe.
func (h *Handler) HealthCheck(c *echo.Context) error {
	return (*c).JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// ReadinessCheck reports whether the ingest pipeline is up.
func (h *Handler) ReadinessCheck(c *echo.Context) error {
	ready := h.svc.IsReady()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	return (*c).JSON(status, map[string]bool{"ready": ready})
}

// Ingest handles POST /api/ingest: the raw line is the entire body. The
// endpoint always returns success once the line is enqueued, even if it is
// later dropped as malformed — the queue is the commitment boundary, not
// the aggregator.
func (h *Handler) Ingest(c *echo.Context) error {
	req := (*c).Request()
	body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		return (*c).JSON(http.StatusBadRequest, types.ErrorResponse{
			Error: "invalid_body",
		})
	}
	if len(body) == 0 {
		return (*c).JSON(http.StatusBadRequest, types.ErrorResponse{
			Error: "empty_body",
		})
	}

	requestID := uuid.NewString()

	if err := h.svc.Ingest(string(body)); err != nil {
		utilization := h.svc.QueueUtilization()
		h.logger.Warn("ingest rejected",
			"request_id", requestID,
			"error", err,
			"queue_utilization", utilization,
		)
		resp := types.BackpressureResponse{
			Error:       "rate_limited",
			RetryAfter:  5,
			Utilization: utilization,
		}
		(*c).Response().Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
		return (*c).JSON(http.StatusTooManyRequests, resp)
	}

	h.logger.Debug("line enqueued", "request_id", requestID)
	return (*c).JSON(http.StatusOK, types.IngestAck{Status: "accepted"})
}

// TopK handles GET /api/topk — Q2, the sliding-window top-k.
func (h *Handler) TopK(c *echo.Context) error {
	k := queryInt(c, "k", 10)
	entries := h.svc.WindowTopK(k)
	return (*c).JSON(http.StatusOK, toTopKResponse(entries))
}

// History handles GET /api/history — Q1, the all-time top-k.
func (h *Handler) History(c *echo.Context) error {
	k := queryInt(c, "k", 20)
	entries := h.svc.TopK(k)
	return (*c).JSON(http.StatusOK, toTopKResponse(entries))
}

// Range handles GET /api/range — Q3, top-k over an arbitrary timestamp
// range.
func (h *Handler) Range(c *echo.Context) error {
	k := queryInt(c, "k", 10)
	start := queryInt64(c, "start", 0)
	end := queryInt64(c, "end", time.Now().UnixMilli())

	entries := h.svc.RangeTopK(start, end, k)
	return (*c).JSON(http.StatusOK, toTopKResponse(entries))
}

// Trending handles GET /api/trending — Q4, ranked by |slope|.
func (h *Handler) Trending(c *echo.Context) error {
	k := queryInt(c, "k", 3)
	threshold := queryInt64(c, "threshold", 5)

	entries := h.svc.Trending(k, threshold)
	points := make([]types.TrendPoint, 0, len(entries))
	for _, e := range entries {
		points = append(points, types.TrendPoint{
			Word:  e.Token,
			Slope: e.Slope,
			Count: e.Total,
			Tag:   trendTag(e.Slope),
		})
	}

	return (*c).JSON(http.StatusOK, types.TrendResponse{
		Status:    "ok",
		Timestamp: time.Now().UnixMilli(),
		Data:      points,
	})
}

// Debug handles GET /api/debug: aggregator and pool introspection.
func (h *Handler) Debug(c *echo.Context) error {
	agg, pool := h.svc.Debug()
	return (*c).JSON(http.StatusOK, types.DebugResponse{
		Aggregator: map[string]any{
			"bucket_count":       agg.BucketCount,
			"global_token_count": agg.GlobalTokenCount,
			"window_token_count": agg.WindowTokenCount,
			"window_start_idx":   agg.WindowStartIdx,
			"latest_bucket_ms":   agg.LatestBucketMS,
		},
		Pool: pool,
	})
}

// GetMetrics handles GET /api/admin/metrics.
func (h *Handler) GetMetrics(c *echo.Context) error {
	return (*c).JSON(http.StatusOK, h.svc.GetMetrics())
}

func trendTag(slope float64) string {
	switch {
	case slope > 1:
		return "rising"
	case slope < -1:
		return "falling"
	default:
		return "stable"
	}
}

func toTopKResponse(entries []aggregator.Entry) types.TopKResponse {
	data := make([]types.WordCount, 0, len(entries))
	for _, e := range entries {
		data = append(data, types.WordCount{Word: e.Token, Count: e.Count})
	}
	return types.TopKResponse{Status: "ok", Data: data}
}

func queryInt(c *echo.Context, name string, def int) int {
	v := (*c).QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryInt64(c *echo.Context, name string, def int64) int64 {
	v := (*c).QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
