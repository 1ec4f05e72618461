package relayer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"cosmossdk.io/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"darkforge/internal/decrypt"
	"darkforge/internal/metrics"
	"darkforge/internal/types"
)

// Server exposes a Service over HTTP.
type Server struct {
	svc     *Service
	router  *gin.Engine
	http    *http.Server
	logger  log.Logger
	metrics *metrics.Metrics
}

func NewServer(addr string, svc *Service, logger log.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), m.Middleware())

	s := &Server{
		svc:     svc,
		router:  router,
		logger:  logger.With("module", "relayer-http"),
		metrics: m,
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := s.router.Group("/v1")
	v1.GET("/domain", s.handleDomain)
	v1.POST("/user-decrypt", s.handleUserDecrypt)
}

// Handler is the routed engine, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleDomain(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Domain())
}

func (s *Server) handleUserDecrypt(c *gin.Context) {
	reqID := c.GetHeader(decrypt.HeaderRequestID)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	c.Header(decrypt.HeaderRequestID, reqID)

	var req decrypt.UserDecryptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, decrypt.ErrorResponse{Code: "malformed_request", Message: "invalid request body"})
		return
	}
	resp, err := s.svc.UserDecrypt(c.Request.Context(), req)
	if err != nil {
		status, body := errorBody(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("user decrypt failed", "request_id", reqID, "err", err)
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func errorBody(err error) (int, decrypt.ErrorResponse) {
	switch {
	case errors.Is(err, types.ErrMalformedRequest):
		return http.StatusBadRequest, decrypt.ErrorResponse{Code: "malformed_request", Message: err.Error()}
	case errors.Is(err, types.ErrAuthorization):
		return http.StatusForbidden, decrypt.ErrorResponse{Code: "not_authorized", Message: "not authorized"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, decrypt.ErrorResponse{Code: "unavailable", Message: "request cancelled"}
	default:
		return http.StatusInternalServerError, decrypt.ErrorResponse{Code: "internal", Message: "internal error"}
	}
}

// Start listens in the background. The returned error covers bind failures only.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("relayer listening", "addr", ln.Addr().String())
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("relayer server stopped", "err", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(stopCtx); err != nil {
		return err
	}
	s.logger.Info("relayer stopped")
	return nil
}
