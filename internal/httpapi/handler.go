// Package httpapi exposes market trends over HTTP with gin: one-shot queries,
// forced refreshes, a server-sent event stream of session snapshots and an
// inspection view of the shared cache.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/goliatone/go-market-trends/pkg/logging"
	"github.com/goliatone/go-market-trends/pkg/metrics"
	"github.com/goliatone/go-market-trends/session"
	"github.com/goliatone/go-market-trends/trends"
)

// DefaultHeartbeat is how often an idle stream sends a keep-alive event.
const DefaultHeartbeat = 15 * time.Second

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handler serves the market trends API.
type Handler struct {
	manager   *session.Manager
	logger    *zap.SugaredLogger
	metrics   metrics.Recorder
	exporter  http.Handler
	limiter   *RateLimiter
	health    HealthCheck
	heartbeat time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(h *Handler) {
		h.logger = logging.OrNop(l)
	}
}

// WithMetrics records request metrics and serves exporter on /metrics.
func WithMetrics(rec metrics.Recorder, exporter http.Handler) Option {
	return func(h *Handler) {
		h.metrics = metrics.OrNop(rec)
		h.exporter = exporter
	}
}

// WithRateLimiter limits the /api routes per client.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(h *Handler) {
		h.limiter = rl
	}
}

// WithHealthCheck makes /health report the result of check.
func WithHealthCheck(check HealthCheck) Option {
	return func(h *Handler) {
		h.health = check
	}
}

// WithHeartbeat sets the stream keep-alive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// New creates a Handler over manager.
func New(manager *session.Manager, opts ...Option) *Handler {
	h := &Handler{
		manager:   manager,
		logger:    logging.Nop(),
		metrics:   metrics.Nop(),
		heartbeat: DefaultHeartbeat,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), Logger(h.logger), Metrics(h.metrics))
	h.Register(r)
	return r
}

// Register adds the routes to r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.getHealth)
	if h.exporter != nil {
		r.GET("/metrics", gin.WrapH(h.exporter))
	}
	r.GET("/internal/cache", h.getInspection)

	api := r.Group("/api/market-trends")
	if h.limiter.Enabled() {
		api.Use(RateLimit(h.limiter))
	}
	api.GET("", h.getTrends)
	api.POST("/refresh", h.refreshTrends)
	api.GET("/stream", h.stream)
	api.GET("/sessions/:id", h.getSession)
	api.PUT("/sessions/:id/parameters", h.setSessionParameters)
	api.POST("/sessions/:id/refresh", h.refreshSession)
}

// trendsQuery is the query-string form of trends.QueryParameters.
type trendsQuery struct {
	LocationType        string `form:"location_type"`
	LocationName        string `form:"location_name"`
	ParentCity          string `form:"parent_city"`
	ParentArea          string `form:"parent_area"`
	ParentNeighbourhood string `form:"parent_neighbourhood"`
	PropertyType        string `form:"property_type"`
	Community           string `form:"community"`
	Years               int    `form:"years"`
}

func (q trendsQuery) params() trends.QueryParameters {
	return trends.QueryParameters{
		LocationType:        trends.LocationType(q.LocationType),
		LocationName:        q.LocationName,
		ParentCity:          q.ParentCity,
		ParentArea:          q.ParentArea,
		ParentNeighbourhood: q.ParentNeighbourhood,
		PropertyType:        q.PropertyType,
		Community:           q.Community,
		YearsOfHistory:      q.Years,
	}
}

func bindQuery(c *gin.Context) (trends.QueryParameters, error) {
	var q trendsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		return trends.QueryParameters{}, trends.NewError(trends.KindInvalidParameters, "bind", err)
	}
	return q.params(), nil
}

func bindParams(c *gin.Context) (trends.QueryParameters, error) {
	params, err := bindQuery(c)
	if err != nil {
		return trends.QueryParameters{}, err
	}
	if err := params.Validate(); err != nil {
		return trends.QueryParameters{}, err
	}
	return params.Normalize(), nil
}

func (h *Handler) getTrends(c *gin.Context) {
	h.serveRecord(c, false)
}

func (h *Handler) refreshTrends(c *gin.Context) {
	h.serveRecord(c, true)
}

func (h *Handler) serveRecord(c *gin.Context, force bool) {
	params, err := bindParams(c)
	if err != nil {
		writeError(c, err)
		return
	}

	record, err := h.manager.Get(c.Request.Context(), params, force)
	if err != nil {
		writeError(c, err)
		return
	}

	if record.Partial {
		c.Header("X-Partial-Result", "true")
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) getInspection(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Inspect())
}

func (h *Handler) getHealth(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) lookupSession(c *gin.Context) (*session.Session, bool) {
	s, ok := h.manager.Session(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody{
			Error: errorDetail{Message: "session not found", Kind: string(trends.KindNotFound)},
		})
		return nil, false
	}
	return s, true
}

func (h *Handler) getSession(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

func (h *Handler) setSessionParameters(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	params, err := bindQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}
	// Invalid parameters still move the session to Failed.
	if err := s.SetParameters(c.Request.Context(), params); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.Snapshot())
}

func (h *Handler) refreshSession(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	if err := s.Refresh(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.Snapshot())
}
