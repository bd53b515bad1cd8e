// Package server exposes the prediction service over JSON/HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"defect-predictor/internal/common"
	"defect-predictor/internal/explain"
	"defect-predictor/internal/service"
)

// MetricsInterface defines metrics methods needed by the HTTP layer
type MetricsInterface interface {
	HTTPRequestObserve(method, route string, status int, d time.Duration)
}

// Config configures the HTTP server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// CORSOrigins lists allowed origins. Empty allows all.
	CORSOrigins []string
	// Gatherer backs /metrics. Nil uses the default Prometheus registry.
	Gatherer prometheus.Gatherer
}

// Server wires the prediction service to gin routes.
type Server struct {
	svc     *service.Service
	metrics MetricsInterface
	engine  *gin.Engine
	server  *http.Server
}

// PredictRequest is the body of POST /predict.
type PredictRequest struct {
	ModuleID string         `json:"moduleId"`
	Features map[string]any `json:"features"`
}

// PredictResponse is the body returned by POST /predict.
type PredictResponse struct {
	ModuleID     string              `json:"moduleId"`
	Label        string              `json:"label"`
	Probability  float64             `json:"probability"`
	LimeFeatures explain.Explanation `json:"limeFeatures"`
}

// BatchRequest is the body of POST /predict-batch.
type BatchRequest struct {
	Modules []PredictRequest `json:"modules"`
}

// BatchPrediction is one entry of a batch response: a score or an error.
type BatchPrediction struct {
	ModuleID    string   `json:"moduleId"`
	Label       string   `json:"label,omitempty"`
	Probability *float64 `json:"probability,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// BatchResponse is the body returned by POST /predict-batch.
type BatchResponse struct {
	Predictions []BatchPrediction `json:"predictions"`
}

// HealthResponse is the body returned by GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"modelLoaded"`
}

// ErrorResponse carries any failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

// New builds the router. metrics may be nil.
func New(svc *service.Service, cfg Config, metrics MetricsInterface) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{svc: svc, metrics: metrics}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(s.accessLog())
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	r.GET("/health", s.handleHealth)
	r.POST("/predict", s.handlePredict)
	r.POST("/predict-batch", s.handlePredictBatch)
	r.GET("/model/info", s.handleModelInfo)
	r.GET("/model/drift", s.handleModelDrift)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	s.engine = r
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting prediction server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AllowHeaders = append(c.AllowHeaders, requestIDHeader)
	c.ExposeHeaders = []string{requestIDHeader}
	return c
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", ModelLoaded: s.svc.Loaded()})
}

func (s *Server) handlePredict(c *gin.Context) {
	if !s.svc.Loaded() {
		abortWithError(c, common.ErrModelNotLoaded)
		return
	}

	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, err)
		return
	}

	pred, err := s.svc.Predict(c.Request.Context(), req.ModuleID, req.Features)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, PredictResponse{
		ModuleID:     pred.ModuleID,
		Label:        pred.Label,
		Probability:  pred.Probability,
		LimeFeatures: pred.Explanation,
	})
}

func (s *Server) handlePredictBatch(c *gin.Context) {
	if !s.svc.Loaded() {
		abortWithError(c, common.ErrModelNotLoaded)
		return
	}

	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, err)
		return
	}

	items := make([]service.BatchItem, len(req.Modules))
	for i, m := range req.Modules {
		items[i] = service.BatchItem{ModuleID: m.ModuleID, Features: m.Features}
	}

	results, err := s.svc.PredictBatch(c.Request.Context(), items)
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := BatchResponse{Predictions: make([]BatchPrediction, len(results))}
	for i, r := range results {
		p := BatchPrediction{ModuleID: r.ModuleID}
		if r.Err != nil {
			p.Error = r.Err.Error()
		} else {
			prob := r.Probability
			p.Label, p.Probability = r.Label, &prob
		}
		resp.Predictions[i] = p
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleModelInfo(c *gin.Context) {
	rt, err := s.svc.Runtime()
	if err != nil {
		abortWithError(c, err)
		return
	}
	opts := s.svc.Options()
	c.JSON(http.StatusOK, gin.H{
		"metadata":        rt.Metadata,
		"loaded_at":       rt.LoadedAt,
		"explainer":       rt.Explainer != nil,
		"drift_monitor":   rt.Drift != nil,
		"top_k":           opts.TopK,
		"explain_timeout": opts.ExplainTimeout.String(),
		"threshold":       opts.Threshold,
	})
}

func (s *Server) handleModelDrift(c *gin.Context) {
	rep, err := s.svc.DriftReport()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// abortWithError writes the wire error. Every failure is a 500 to match what
// existing clients expect.
func abortWithError(c *gin.Context, err error) {
	msg := err.Error()
	if errors.Is(err, common.ErrModelNotLoaded) {
		msg = common.ErrMsgModelNotLoaded
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: msg})
}
