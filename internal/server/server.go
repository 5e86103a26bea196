// Package server exposes the engine over HTTP
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rezonia/einvoice-engine/internal/codec"
	"github.com/rezonia/einvoice-engine/internal/delivery"
	"github.com/rezonia/einvoice-engine/internal/processor"
	"github.com/rezonia/einvoice-engine/internal/signature"
	"github.com/rezonia/einvoice-engine/internal/validation"
)

// Config holds server configuration
type Config struct {
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	Debug          bool
}

// Services are the engine components the handlers call into
type Services struct {
	Codec     *codec.Codec
	Validator *validation.Validator
	Verifier  signature.Verifier
	Pipeline  *processor.Pipeline
	Delivery  *delivery.Orchestrator
	Logger    logrus.FieldLogger
}

// Server represents the HTTP API server
type Server struct {
	config   *Config
	router   *gin.Engine
	services Services
	logger   logrus.FieldLogger
}

// NewServer creates a new API server
func NewServer(config *Config, services Services) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 60 * time.Second
	}
	if services.Codec == nil {
		services.Codec = codec.New()
	}
	if services.Validator == nil {
		services.Validator = validation.NewValidator()
	}
	logger := services.Logger
	if logger == nil {
		logger = logrus.StandardLogger().WithField("component", "server")
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if config.Debug {
		router.Use(gin.Logger())
	}

	s := &Server{
		config:   config,
		router:   router,
		services: services,
		logger:   logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/detect", s.handleDetect)
		v1.POST("/convert", s.handleConvert)
		v1.POST("/validate", s.handleValidate)
		v1.POST("/verify", s.handleVerify)

		v1.POST("/invoices", s.requirePipeline, s.handleProcessInvoice)
		v1.GET("/submissions/:registry", s.requireDelivery, s.handleSubmissionStatus)
		v1.POST("/submissions/:registry/cancel", s.requireDelivery, s.handleCancel)
	}
}

// Run starts the HTTP server and shuts it down when ctx is done
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("address", s.config.Address).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.config.RequestTimeout)
}

func (s *Server) requirePipeline(c *gin.Context) {
	if s.services.Pipeline == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{Error: "invoice processing is not configured"})
	}
}

func (s *Server) requireDelivery(c *gin.Context) {
	if s.services.Delivery == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{Error: "registry delivery is not configured"})
	}
}

// readBody returns the request body, aborting on empty input
func readBody(c *gin.Context) ([]byte, bool) {
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, "failed to read request body")
		return nil, false
	}
	if len(body) == 0 {
		badRequest(c, "empty request body")
		return nil, false
	}
	return body, true
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Truncate(time.Second),
	})
}

func (s *Server) handleDetect(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	resp := DetectResponse{
		Format: string(s.services.Codec.DetectFormat(body)),
		Size:   len(body),
	}
	if name, err := codec.RootName(body); err == nil {
		resp.Root = name.Local
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleConvert(c *gin.Context) {
	target, err := codec.ParseFormat(c.Query("target"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	body, ok := readBody(c)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	out, err := s.services.Codec.ConvertTo(ctx, body, target)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", out)
}

func (s *Server) handleValidate(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	format := s.services.Codec.DetectFormat(body)
	if q := c.Query("format"); q != "" {
		f, err := codec.ParseFormat(q)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		format = f
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	result := s.services.Validator.Validate(ctx, body, format)
	status := http.StatusOK
	if !result.Valid {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, ValidationResponse{Format: string(format), Result: result})
}

func (s *Server) handleVerify(c *gin.Context) {
	if s.services.Verifier == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{Error: "signature verification is not configured"})
		return
	}
	body, ok := readBody(c)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	result, err := s.services.Verifier.Verify(ctx, body)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if result.Valid {
		c.JSON(http.StatusOK, result)
	} else {
		c.JSON(http.StatusUnprocessableEntity, result)
	}
}

func (s *Server) handleProcessInvoice(c *gin.Context) {
	target, err := codec.ParseFormat(c.DefaultQuery("target", string(codec.FormatFacturae)))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	tenantID := c.Query("tenant")
	if tenantID == "" {
		badRequest(c, "tenant query parameter is required")
		return
	}

	var data map[string]any
	if err := c.ShouldBindJSON(&data); err != nil {
		badRequest(c, "invoice body must be a JSON object")
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	res, err := s.services.Pipeline.ProcessInvoice(ctx, data, target, tenantID)
	if err != nil {
		s.logger.WithError(err).WithField("tenant", tenantID).WithField("stage", res.Stage).Warn("Invoice processing failed")
		abortWithError(c, err)
		return
	}

	resp := InvoiceResponse{Result: res}
	if len(res.SignedXML) > 0 {
		resp.SignedXML = string(res.SignedXML)
	}

	switch {
	case res.OK():
		c.JSON(http.StatusCreated, resp)
	case res.Stage == processor.StageSubmit:
		// the registry answered and refused the document
		c.JSON(http.StatusConflict, resp)
	default:
		c.JSON(http.StatusUnprocessableEntity, resp)
	}
}

func (s *Server) handleSubmissionStatus(c *gin.Context) {
	tenantID := c.Query("tenant")
	if tenantID == "" {
		badRequest(c, "tenant query parameter is required")
		return
	}
	registry := c.Param("registry")

	ctx, cancel := s.requestContext(c)
	defer cancel()

	status, err := s.services.Delivery.Query(ctx, c.DefaultQuery("document", registry), registry, tenantID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, SubmissionResponse{Status: status})
}

func (s *Server) handleCancel(c *gin.Context) {
	tenantID := c.Query("tenant")
	if tenantID == "" {
		badRequest(c, "tenant query parameter is required")
		return
	}
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Reason == "" {
		badRequest(c, "a cancellation reason is required")
		return
	}
	registry := c.Param("registry")

	ctx, cancel := s.requestContext(c)
	defer cancel()

	sub, err := s.services.Delivery.Cancel(ctx, c.DefaultQuery("document", registry), registry, req.Reason, tenantID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	status := http.StatusOK
	if !sub.Success {
		status = http.StatusConflict
	}
	c.JSON(status, SubmissionResponse{Submission: sub})
}
