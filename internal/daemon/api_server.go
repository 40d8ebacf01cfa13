package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"crosspost/internal/api"
	"crosspost/internal/logging"
	"crosspost/internal/outbox"
	"crosspost/internal/services"
)

const (
	defaultOutboxLimit = 100
	maxOutboxLimit     = 1000
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	engine *gin.Engine

	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind string, d *Daemon, logger *slog.Logger) *apiServer {
	gin.SetMode(gin.ReleaseMode)
	s := &apiServer{
		bind:   strings.TrimSpace(bind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	router := gin.New()
	router.Use(s.requestID(), s.recovery(), s.accessLog())

	v1 := router.Group("/v1")
	v1.POST("/runs", s.handleSubmit)
	v1.GET("/runs/:id", s.handleRun)
	v1.POST("/runs/:id/cancel", s.handleCancel)
	v1.GET("/outbox", s.handleOutbox)
	v1.POST("/outbox/retry", s.handleRetry)
	v1.POST("/preflight/validate", s.handleValidate)
	router.GET("/healthz", s.handleHealth)
	if d.metrics != nil {
		router.GET("/metrics", gin.WrapH(d.metrics.Handler()))
	}

	s.engine = router
	s.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.listener == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.listener = nil
}

func (s *apiServer) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Request = c.Request.WithContext(services.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func (s *apiServer) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.ErrorWithContext(logging.WithContext(c.Request.Context(), s.logger), "request handler panic", "api_panic",
					logging.Any("panic", rec),
					logging.String("method", c.Request.Method),
					logging.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, api.ErrorResponse{Error: "internal error"})
			}
		}()
		c.Next()
	}
}

func (s *apiServer) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.WithContext(c.Request.Context(), s.logger).Debug("http request",
			logging.Int("status", c.Writer.Status()),
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Duration("latency", time.Since(start)),
			logging.String("client_ip", c.ClientIP()),
		)
	}
}

func (s *apiServer) handleSubmit(c *gin.Context) {
	var req api.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error(), services.KindValidation)
		return
	}
	runID, err := s.daemon.workflow.SubmitContent(c.Request.Context(), req.ToItem())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, api.SubmitResponse{RunID: runID})
}

func (s *apiServer) handleRun(c *gin.Context) {
	status, err := s.daemon.workflow.GetRunStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.RunResponse{Run: api.FromRunStatus(status)})
}

func (s *apiServer) handleCancel(c *gin.Context) {
	runID := c.Param("id")
	cancelled, err := s.daemon.workflow.CancelRun(c.Request.Context(), runID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.CancelResponse{RunID: runID, Cancelled: cancelled})
}

func (s *apiServer) handleOutbox(c *gin.Context) {
	filter := outbox.Filter{
		Status:    outbox.Status(strings.TrimSpace(c.Query("status"))),
		EventType: strings.TrimSpace(c.Query("event_type")),
		EntityID:  strings.TrimSpace(c.Query("entity_id")),
		Limit:     defaultOutboxLimit,
	}
	switch filter.Status {
	case "", outbox.StatusPending, outbox.StatusProcessing, outbox.StatusProcessed, outbox.StatusFailed:
	default:
		writeError(c, http.StatusBadRequest, fmt.Sprintf("unknown status %q", filter.Status), services.KindValidation)
		return
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(c, http.StatusBadRequest, "limit must be a positive integer", services.KindValidation)
			return
		}
		filter.Limit = min(limit, maxOutboxLimit)
	}
	events, err := s.daemon.outbox.List(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, services.Wrap(services.ErrTransient, "outbox", "list", "failed to list events", err))
		return
	}
	c.JSON(http.StatusOK, api.OutboxListResponse{Events: api.FromOutboxEvents(events)})
}

func (s *apiServer) handleRetry(c *gin.Context) {
	var req api.RetryRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error(), services.KindValidation)
			return
		}
	}
	n, err := s.daemon.workflow.RetryEvents(c.Request.Context(), req.IDs...)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.RetryResponse{Requeued: n})
}

func (s *apiServer) handleValidate(c *gin.Context) {
	if s.daemon.rules == nil {
		writeError(c, http.StatusServiceUnavailable, "preflight rules not loaded", services.KindConfiguration)
		return
	}
	var req api.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error(), services.KindValidation)
		return
	}
	platforms := req.Platforms
	if len(platforms) == 0 {
		platforms = s.daemon.cfg.Workflow.DefaultPlatforms
	}
	ctx := c.Request.Context()
	resp := api.ValidateResponse{Results: make([]api.ValidationResult, 0, len(platforms))}
	for _, platform := range platforms {
		platform = strings.ToLower(strings.TrimSpace(platform))
		if platform == "" {
			continue
		}
		result := s.daemon.rules.Validate(ctx, req.ToValidatePost(platform))
		resp.Results = append(resp.Results, api.FromValidation(result))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *apiServer) handleHealth(c *gin.Context) {
	status := s.daemon.Status(c.Request.Context())
	payload := api.DaemonStatus{
		Healthy:      status.Healthy(),
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		Workflow:     api.FromStatusSummary(status.Workflow),
		Checks:       api.FromCheckResults(status.Checks),
	}
	code := http.StatusOK
	if !payload.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, payload)
}

// fail maps a classified error to an HTTP status.
func (s *apiServer) fail(c *gin.Context, err error) {
	kind := services.KindOf(err)
	code := http.StatusInternalServerError
	switch kind {
	case services.KindValidation, services.KindAdvisory:
		code = http.StatusBadRequest
	case services.KindNotFound:
		code = http.StatusNotFound
	case services.KindRateLimited:
		code = http.StatusTooManyRequests
	case services.KindCancelled:
		code = http.StatusConflict
	}
	if code >= http.StatusInternalServerError {
		logging.WarnWithContext(logging.WithContext(c.Request.Context(), s.logger), "api request failed", "api_request_failed",
			logging.String("path", c.FullPath()),
			logging.String(logging.FieldErrorKind, string(kind)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check daemon logs and database access"),
			logging.String(logging.FieldImpact, "request not served"),
		)
	}
	writeError(c, code, services.Details(err).Message, kind)
}

func writeError(c *gin.Context, code int, message string, kind services.Kind) {
	c.AbortWithStatusJSON(code, api.ErrorResponse{Error: message, Kind: string(kind)})
}
