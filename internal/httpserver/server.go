package httpserver

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tinytelemetry/triage/internal/duckdb"
	"github.com/tinytelemetry/triage/internal/model"
	"github.com/tinytelemetry/triage/internal/pipeline"
	"github.com/tinytelemetry/triage/internal/workqueue"
)

const maxWindow = 1000

// SolutionStore is the narrow store contract required by the HTTP API.
type SolutionStore interface {
	RecentSolutions(ctx context.Context, f duckdb.SolutionFilter) ([]model.Solution, error)
	Counts(ctx context.Context) (duckdb.Counts, error)
}

// TemplateLister exposes the live template registry.
type TemplateLister interface {
	Len() int
	List() []model.Template
}

// Deps are the pipeline parts the API reads from. Nil fields disable the
// endpoints or stats that need them.
type Deps struct {
	Store     SolutionStore
	Reader    model.ContextReader
	Templates TemplateLister
	Queue     interface{ Stats() workqueue.Stats }
	Index     interface{ Len() int }
	Pipeline  interface{ Stats() pipeline.Stats }
	Logger    *zap.Logger
}

// Server provides a read-only HTTP API over the running pipeline.
type Server struct {
	addr      string
	deps      Deps
	logger    *zap.Logger
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, deps Deps) *Server {
	if addr == "" {
		addr = "127.0.0.1:3000"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		deps:      deps,
		logger:    logger.Named("httpserver"),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/stats", s.handleStats)
	r.GET("/api/templates", s.handleTemplates)
	r.GET("/api/context", s.handleContext)
	r.GET("/api/solutions", s.handleSolutions)
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	s.server = &http.Server{
		Handler:           s.routes(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.startTime = time.Now()
	s.logger.Info("http api listening", zap.String("addr", listener.Addr().String()))

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http api stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	body := gin.H{}
	if s.deps.Queue != nil {
		body["queue"] = s.deps.Queue.Stats()
	}
	if s.deps.Index != nil {
		body["indexed_entries"] = s.deps.Index.Len()
	}
	if s.deps.Templates != nil {
		body["templates"] = s.deps.Templates.Len()
	}
	if s.deps.Pipeline != nil {
		body["pipeline"] = s.deps.Pipeline.Stats()
	}
	if s.deps.Store != nil {
		counts, err := s.deps.Store.Counts(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read store counts"})
			return
		}
		body["store"] = counts
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleTemplates(c *gin.Context) {
	if s.deps.Templates == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "template registry not available"})
		return
	}
	templates := s.deps.Templates.List()
	c.JSON(http.StatusOK, gin.H{
		"templates": templates,
		"count":     len(templates),
	})
}

func (s *Server) handleContext(c *gin.Context) {
	if s.deps.Reader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "context retrieval not available"})
		return
	}

	source := c.Query("source")
	if source == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing source parameter"})
		return
	}
	seq, err := strconv.ParseInt(c.Query("seq"), 10, 64)
	if err != nil || seq <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seq must be a positive integer"})
		return
	}
	window := model.DefaultContextWindow
	if raw := c.Query("window"); raw != "" {
		window, err = strconv.Atoi(raw)
		if err != nil || window < 0 || window > maxWindow {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window must be between 0 and 1000"})
			return
		}
	}

	entries, err := s.deps.Reader.Window(c.Request.Context(), source, seq, window)
	if err != nil {
		s.logger.Warn("context retrieval failed", zap.String("source", source), zap.Int64("seq", seq), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "context retrieval failed"})
		return
	}
	if entries == nil {
		entries = []model.LogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"source_file": source,
		"seq":         seq,
		"window":      window,
		"entries":     entries,
		"count":       len(entries),
	})
}

func (s *Server) handleSolutions(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "solution store not available"})
		return
	}
	filter := duckdb.SolutionFilter{SourceID: c.Query("source")}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = limit
	}

	sols, err := s.deps.Store.RecentSolutions(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read solutions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"solutions": sols,
		"count":     len(sols),
	})
}
