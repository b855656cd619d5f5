package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/analysis"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/app"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/store"
)

// Server wires HTTP handlers to the analysis application.
type Server struct {
	app            *app.App
	allowedOrigins []string
	notifier       *AnalysisNotifier
	unsubscribe    func()
}

// NewServer constructs the API server and subscribes its websocket notifier
// to pipeline events.
func NewServer(a *app.App) (*Server, error) {
	if a == nil {
		return nil, errors.New("app is required")
	}
	notifier := NewAnalysisNotifier()
	server := &Server{
		app:            a,
		allowedOrigins: a.Config().AllowedOrigins,
		notifier:       notifier,
	}
	server.unsubscribe = a.Subscribe(notifier)
	return server, nil
}

// Close detaches the notifier and disconnects websocket clients.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.notifier.Close()
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/api/healthz", s.handleHealth)
	r.GET("/api/config", s.handleConfig)

	api := r.Group("/api")
	{
		api.POST("/analyze", s.handleAnalyze)
		api.GET("/analyze/stream", s.handleAnalyzeStream)
		api.GET("/analyses", s.handleListAnalyses)
		api.GET("/analyses/:id", s.handleGetAnalysis)
		api.GET("/cache/stats", s.handleCacheStats)
		api.POST("/cache/invalidate", s.handleCacheInvalidate)
		api.POST("/cache/purge", s.handleCachePurge)
		api.GET("/cost-model", s.handleCostModel)
		api.GET("/metrics", s.handleMetrics)
	}

	return r, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConfig(c *gin.Context) {
	cfg := s.app.Config()
	c.JSON(http.StatusOK, gin.H{
		"llm_dialect":          cfg.LLM.Dialect,
		"stage1_model":         cfg.Stage1Model,
		"stage2_model":         cfg.Stage2Model,
		"escalation_threshold": cfg.EscalationThreshold,
		"cache_enabled":        cfg.CacheEnabled,
		"cache_backend":        cfg.CacheBackend,
		"max_document_chars":   cfg.MaxDocumentChars,
		"single_flight":        cfg.SingleFlight,
	})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	res, err := s.app.Analyze(c.Request.Context(), analysis.Document{
		ID:       strings.TrimSpace(req.DocumentID),
		Text:     req.Text,
		Company:  strings.TrimSpace(req.Company),
		Industry: strings.TrimSpace(req.Industry),
	})

	var invalid *analysis.InputValidationError
	switch {
	case errors.As(err, &invalid):
		s.renderError(c, http.StatusBadRequest, err)
		return
	case res == nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		s.renderError(c, http.StatusRequestTimeout, err)
		return
	case res == nil:
		s.renderError(c, http.StatusInternalServerError, firstErr(err, errors.New("analysis produced no result")))
		return
	}

	resp := AnalyzeResponse{Result: res, Summary: res.Summary()}
	if err != nil {
		resp.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAnalyzeStream(c *gin.Context) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}

	client := s.notifier.Register(conn)
	logrus.WithField("remote", conn.RemoteAddr().String()).Info("analysis websocket connected")
	defer s.notifier.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("remote", conn.RemoteAddr().String()).Info("analysis websocket closed")
			} else {
				logrus.WithError(err).Warn("analysis websocket unexpected close")
			}
			break
		}
	}
}

func (s *Server) handleListAnalyses(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ := strconv.Atoi(c.Query("pageSize"))
	if pageSize <= 0 {
		pageSize = 25
	}
	if pageSize > 500 {
		pageSize = 500
	}

	query := store.AnalysisQuery{
		Query:  c.Query("q"),
		Risk:   strings.ToLower(strings.TrimSpace(c.Query("risk"))),
		Sort:   c.Query("sort"),
		Offset: page * pageSize,
		Limit:  pageSize,
	}
	if value := strings.TrimSpace(c.Query("stage")); value != "" {
		stage, err := strconv.Atoi(value)
		if err != nil || stage < 0 || stage > 2 {
			s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid stage %q", value))
			return
		}
		query.Stage = &stage
	}
	if value := strings.TrimSpace(c.Query("escalated")); value != "" {
		escalated, err := strconv.ParseBool(value)
		if err != nil {
			s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid escalated flag %q", value))
			return
		}
		query.Escalated = &escalated
	}

	rows, total, err := s.app.DB().ListAnalyses(c.Request.Context(), query)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]AnalysisDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, FromModel(row))
	}
	c.JSON(http.StatusOK, AnalysesResponse{Items: dtos, Total: total})
}

func (s *Server) handleGetAnalysis(c *gin.Context) {
	record, anomalies, err := s.app.DB().GetAnalysis(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.renderError(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	dto := FromModel(*record)
	dto.Summary = record.Summary()
	items := make([]AnomalyDTO, 0, len(anomalies))
	for _, a := range anomalies {
		items = append(items, AnomalyFromModel(a))
	}
	c.JSON(http.StatusOK, AnalysisDetailResponse{Analysis: dto, Anomalies: items})
}

func (s *Server) handleCacheStats(c *gin.Context) {
	manager := s.app.Cache()
	if manager == nil {
		c.JSON(http.StatusOK, CacheStatsResponse{Enabled: false})
		return
	}
	entries, err := s.app.CacheEntries(c.Request.Context())
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, CacheStatsResponse{
		Enabled: true,
		Backend: s.app.Config().CacheBackend,
		Entries: entries,
		Stats:   manager.Stats(),
	})
}

func (s *Server) handleCacheInvalidate(c *gin.Context) {
	manager := s.app.Cache()
	if manager == nil {
		s.renderError(c, http.StatusConflict, errors.New("cache is disabled"))
		return
	}
	var req InvalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invalidated": manager.Invalidate(c.Request.Context(), req.Text)})
}

func (s *Server) handleCachePurge(c *gin.Context) {
	removed, err := s.app.PurgeExpired(c.Request.Context())
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) handleCostModel(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Metrics().CostReport())
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.Header("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	c.Status(http.StatusOK)
	if err := s.app.Metrics().WritePrometheus(c.Writer); err != nil {
		logrus.WithError(err).Warn("write metrics")
	}
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
