package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rezonia/cpe-emitter/internal/assembler"
	"github.com/rezonia/cpe-emitter/internal/cdr"
	"github.com/rezonia/cpe-emitter/internal/lifecycle"
	"github.com/rezonia/cpe-emitter/internal/model"
	"github.com/rezonia/cpe-emitter/internal/observability"
	"github.com/rezonia/cpe-emitter/internal/signature"
)

// Config holds server configuration
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Debug        bool
}

// Lifecycle is the controller surface the API exposes
type Lifecycle interface {
	Submit(ctx context.Context, documentID int64) (*lifecycle.Outcome, error)
	Retry(ctx context.Context, documentID int64) (*lifecycle.Outcome, error)
	Status(ctx context.Context, documentID int64) (*model.TaxDocument, error)
	SubmitSummary(ctx context.Context, req lifecycle.SummaryRequest) (*lifecycle.BatchOutcome, error)
	SubmitVoid(ctx context.Context, req lifecycle.VoidRequest) (*lifecycle.BatchOutcome, error)
	Poll(ctx context.Context, batchID int64) (*lifecycle.BatchOutcome, error)
}

// Server represents the HTTP API server
type Server struct {
	config    *Config
	router    *gin.Engine
	lifecycle Lifecycle
	assembler *assembler.Assembler
	parser    *cdr.Parser
	verifier  signature.Verifier
	gatherer  prometheus.Gatherer
	log       *zap.Logger
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the request and error logger
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithParser sets the parser behind /cdr/parse
func WithParser(p *cdr.Parser) Option {
	return func(s *Server) {
		s.parser = p
	}
}

// WithVerifier enables /verify
func WithVerifier(v signature.Verifier) Option {
	return func(s *Server) {
		s.verifier = v
	}
}

// WithGatherer sets the registry served on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// NewServer creates a new API server
func NewServer(config *Config, lc Lifecycle, opts ...Option) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:    config,
		lifecycle: lc,
		assembler: assembler.New(),
		gatherer:  prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = observability.OrNop(s.log)
	if s.parser == nil {
		s.parser = cdr.NewParser(cdr.WithLogger(s.log))
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(s.log, config.Debug))
	s.router = router

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	{
		// Document lifecycle
		v1.POST("/documents/:id/submit", s.handleSubmit)
		v1.POST("/documents/:id/retry", s.handleRetry)
		v1.GET("/documents/:id", s.handleStatus)

		// Batches
		v1.POST("/summaries", s.handleSummary)
		v1.POST("/voids", s.handleVoid)
		v1.POST("/batches/:id/poll", s.handlePoll)

		// Stateless helpers
		v1.POST("/assemble", s.handleAssemble)
		v1.POST("/cdr/parse", s.handleParseCDR)
		v1.POST("/verify", s.handleVerify)
	}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return srv.ListenAndServe()
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSubmit(c *gin.Context) {
	s.document(c, s.lifecycle.Submit)
}

func (s *Server) handleRetry(c *gin.Context) {
	s.document(c, s.lifecycle.Retry)
}

func (s *Server) document(c *gin.Context, op func(context.Context, int64) (*lifecycle.Outcome, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	out, err := op(ctx, id)
	if err != nil {
		s.fail(c, err, outcomeOrNil(out))
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	doc, err := s.lifecycle.Status(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, newStatusResponse(doc))
}

func (s *Server) handleSummary(c *gin.Context) {
	var req SummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}
	ref, err := time.Parse(dateLayout, req.ReferenceDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "reference_date must be YYYY-MM-DD", Details: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	out, err := s.lifecycle.SubmitSummary(ctx, lifecycle.SummaryRequest{
		EmitterID:     req.EmitterID,
		ReferenceDate: time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, assembler.Lima),
		DocumentIDs:   req.DocumentIDs,
		Modifications: req.Modifications,
		Voids:         req.Voids,
	})
	s.batch(c, out, err, http.StatusAccepted)
}

func (s *Server) handleVoid(c *gin.Context) {
	var req lifecycle.VoidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	out, err := s.lifecycle.SubmitVoid(ctx, req)
	s.batch(c, out, err, http.StatusAccepted)
}

func (s *Server) handlePoll(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Minute)
	defer cancel()

	out, err := s.lifecycle.Poll(ctx, id)
	s.batch(c, out, err, http.StatusOK)
}

func (s *Server) batch(c *gin.Context, out *lifecycle.BatchOutcome, err error, status int) {
	if err != nil {
		var body interface{}
		if out != nil {
			body = out
		}
		s.fail(c, err, body)
		return
	}
	c.JSON(status, out)
}

func (s *Server) handleAssemble(c *gin.Context) {
	var doc model.TaxDocument
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}
	for i := range doc.Lines {
		doc.Lines[i].Calculate()
	}
	doc.RecalculateTotals()

	xml, err := s.assembler.Assemble(&doc)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.Header("X-Artifact-Name", doc.ArtifactName())
	c.Data(http.StatusOK, "application/xml; charset=utf-8", xml)
}

func (s *Server) handleParseCDR(c *gin.Context) {
	body, ok := rawBody(c)
	if !ok {
		return
	}
	resp, err := s.parser.Parse(c.Request.Context(), body)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleVerify(c *gin.Context) {
	if s.verifier == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "signature verification is not configured"})
		return
	}
	body, ok := rawBody(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	result, err := s.verifier.Verify(ctx, body)
	if err != nil {
		s.fail(c, err, nil)
		return
	}

	response := newVerifyResponse(result)
	if result.Valid {
		c.JSON(http.StatusOK, response)
	} else {
		c.JSON(http.StatusUnprocessableEntity, response)
	}
}

// Helper functions

const dateLayout = "2006-01-02"

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func rawBody(c *gin.Context) ([]byte, bool) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		return nil, false
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty request body"})
		return nil, false
	}
	return body, true
}

func outcomeOrNil(out *lifecycle.Outcome) interface{} {
	if out == nil {
		return nil
	}
	return out
}
