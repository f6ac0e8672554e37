package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yourusername/blinkd/internal/account"
	"github.com/yourusername/blinkd/internal/client"
	"github.com/yourusername/blinkd/internal/livestream"
	"github.com/yourusername/blinkd/internal/metrics"
	"go.uber.org/zap"
)

// Server는 HTTP API 서버입니다
type Server struct {
	logger     *zap.Logger
	httpServer *http.Server
	router     *gin.Engine
	port       int

	account  *account.Account
	api      *client.Client
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	hub      *EventHub

	clientBuffer int

	mu       sync.Mutex
	sessions map[string]*liveSession
}

type liveSession struct {
	session *livestream.Session
	url     string
}

// ServerConfig는 API 서버 설정
type ServerConfig struct {
	Port         int
	Production   bool
	ClientBuffer int
	Logger       *zap.Logger
	Account      *account.Account
	Client       *client.Client
	Metrics      *metrics.Metrics
	Registry     *prometheus.Registry
	Hub          *EventHub
}

// NewServer는 새로운 API 서버를 생성합니다
func NewServer(config ServerConfig) *Server {
	if !config.Production {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(loggerMiddleware(config.Logger))

	server := &Server{
		logger:       config.Logger,
		router:       router,
		port:         config.Port,
		account:      config.Account,
		api:          config.Client,
		metrics:      config.Metrics,
		registry:     config.Registry,
		hub:          config.Hub,
		clientBuffer: config.ClientBuffer,
		sessions:     make(map[string]*liveSession),
	}

	server.setupRoutes()

	return server
}

// setupRoutes는 라우트를 설정합니다
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Prometheus
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/cameras", s.handleCameras)
		v1.GET("/cameras/:name", s.handleCamera)
		v1.GET("/cameras/:name/thumbnail", s.handleThumbnail)
		v1.POST("/cameras/:name/arm", s.handleCameraArm)
		v1.POST("/cameras/:name/liveview", s.handleLiveviewStart)
		v1.DELETE("/cameras/:name/liveview", s.handleLiveviewStop)
		v1.GET("/modules", s.handleModules)
		v1.POST("/modules/:name/arm", s.handleModuleArm)
	}

	// WebSocket events
	s.router.GET("/ws", gin.WrapF(s.hub.HandleWebSocket))
}

// Start는 API 서버를 시작합니다
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting API server",
		zap.String("addr", addr),
	)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop은 API 서버를 종료합니다
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	s.mu.Lock()
	for name, ls := range s.sessions {
		ls.session.Stop()
		delete(s.sessions, name)
	}
	s.mu.Unlock()

	s.hub.Close()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}

	return nil
}

// handleHealth는 헬스 체크를 처리합니다
func (s *Server) handleHealth(c *gin.Context) {
	modules := s.account.Modules()
	available := 0
	for _, mod := range modules {
		if mod.Available() {
			available++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"time":              time.Now().UTC(),
		"modules":           len(modules),
		"modules_available": available,
		"cameras":           s.account.Cameras().Len(),
		"event_clients":     s.hub.ClientCount(),
	})
}

// handleCameras는 카메라 목록을 반환합니다
func (s *Server) handleCameras(c *gin.Context) {
	cams := s.account.Cameras()
	out := make([]map[string]any, 0, cams.Len())
	for _, cam := range cams.All() {
		out = append(out, cam.Attributes())
	}
	c.JSON(http.StatusOK, gin.H{"cameras": out})
}

// handleCamera는 단일 카메라 정보를 반환합니다
func (s *Server) handleCamera(c *gin.Context) {
	cam, ok := s.account.Camera(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return
	}
	c.JSON(http.StatusOK, cam.Attributes())
}

// handleThumbnail은 캐시된 썸네일 이미지를 반환합니다
func (s *Server) handleThumbnail(c *gin.Context) {
	cam, ok := s.account.Camera(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return
	}
	image := cam.CachedImage()
	if image == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cached thumbnail"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", image)
}

type armRequest struct {
	Enabled bool `json:"enabled"`
}

// handleCameraArm은 카메라 모션 감지를 켜거나 끕니다
func (s *Server) handleCameraArm(c *gin.Context) {
	cam, ok := s.account.Camera(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return
	}

	var req armRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := cam.SetArm(c.Request.Context(), req.Enabled); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"camera": cam.Name(), "enabled": req.Enabled})
}

// handleLiveviewStart는 라이브뷰 릴레이 세션을 시작합니다
func (s *Server) handleLiveviewStart(c *gin.Context) {
	name := c.Param("name")
	cam, ok := s.account.Camera(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return
	}
	mod, ok := s.account.CameraModule(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera has no module"})
		return
	}

	s.mu.Lock()
	if ls, running := s.sessions[cam.Name()]; running {
		s.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"camera": cam.Name(), "url": ls.url})
		return
	}
	s.mu.Unlock()

	resp, err := cam.RequestLiveview(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	session, err := livestream.NewSession(s.api, mod.NetworkID(), resp, s.clientBuffer, s.logger)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	// The session must outlive this request.
	url, err := session.Start(context.Background())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.sessions[cam.Name()] = &liveSession{session: session, url: url}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RelayStartups.Inc()
		s.metrics.RelaySessions.Inc()
	}
	go s.reapSession(cam.Name(), session)

	c.JSON(http.StatusOK, gin.H{
		"camera":   cam.Name(),
		"url":      url,
		"duration": resp.Duration,
	})
}

// handleLiveviewStop은 실행 중인 릴레이 세션을 종료합니다
func (s *Server) handleLiveviewStop(c *gin.Context) {
	name := c.Param("name")
	cam, ok := s.account.Camera(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return
	}

	s.mu.Lock()
	ls, running := s.sessions[cam.Name()]
	s.mu.Unlock()
	if !running {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active liveview"})
		return
	}

	ls.session.Stop()
	c.JSON(http.StatusOK, gin.H{"camera": cam.Name(), "stopped": true})
}

// reapSession은 세션 종료 시 레지스트리와 게이지를 정리합니다
func (s *Server) reapSession(name string, session *livestream.Session) {
	<-session.Done()

	s.mu.Lock()
	if ls, ok := s.sessions[name]; ok && ls.session == session {
		delete(s.sessions, name)
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RelaySessions.Dec()
	}
}

// handleModules는 동기화 모듈 목록을 반환합니다
func (s *Server) handleModules(c *gin.Context) {
	modules := s.account.Modules()
	out := make([]map[string]any, 0, len(modules))
	for _, mod := range modules {
		out = append(out, mod.Attributes())
	}
	c.JSON(http.StatusOK, gin.H{"modules": out})
}

// handleModuleArm은 모듈 네트워크의 Arm 상태를 변경합니다
func (s *Server) handleModuleArm(c *gin.Context) {
	var req armRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.account.Arm(c.Request.Context(), c.Param("name"), req.Enabled); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"module": c.Param("name"), "armed": req.Enabled})
}

// corsMiddleware는 CORS 미들웨어입니다
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// loggerMiddleware는 로깅 미들웨어입니다
func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
