package server

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/liquidsax/epub-reader/internal/cache"
	"github.com/liquidsax/epub-reader/internal/config"
	"github.com/liquidsax/epub-reader/internal/epub"
	"github.com/liquidsax/epub-reader/internal/translate"
)

type Server struct {
	logger  *logrus.Logger
	parser  *epub.Parser
	builder *epub.Builder
	runner  *translate.Runner
	cache   *cache.Store
	router  *gin.Engine
	wsHub   *Hub

	cfgMu   sync.RWMutex
	cfg     *config.Config
	cfgPath string

	booksMu sync.RWMutex
	books   map[string]*epub.Book
}

func New(cfg *config.Config, cfgPath string, store *cache.Store, logger *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	builder := epub.NewBuilder(logger)

	wsHub := NewHub(logger)
	go wsHub.Run()

	s := &Server{
		logger:  logger,
		parser:  epub.NewParser(logger, cfg.App.TempDir),
		builder: builder,
		runner:  translate.NewRunner(store, builder, logger),
		cache:   store,
		wsHub:   wsHub,
		cfg:     cfg,
		cfgPath: cfgPath,
	}
	s.books = make(map[string]*epub.Book)

	s.setupRoutes()
	return s
}

func (s *Server) Handler() *gin.Engine {
	return s.router
}

// engineClient builds a translation client from the currently selected
// provider. Settings updates take effect on the next run.
func (s *Server) engineClient() *translate.Client {
	s.cfgMu.RLock()
	engine := s.cfg.ActiveEngine()
	s.cfgMu.RUnlock()

	return translate.NewClient(translate.EngineConfig{
		BaseURL:    engine.BaseURL,
		APIKey:     engine.APIKey,
		Model:      engine.Model,
		SourceLang: engine.SourceLang,
		TargetLang: engine.TargetLang,
		Style:      engine.Style,
	}, s.logger)
}

func (s *Server) getBook(id string) (*epub.Book, bool) {
	s.booksMu.RLock()
	defer s.booksMu.RUnlock()
	book, exists := s.books[id]
	return book, exists
}

func (s *Server) setupRoutes() {
	s.router = gin.New()

	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.corsMiddleware())
	s.router.Use(gin.Recovery())

	s.router.POST("/upload", s.handleUpload)
	s.router.GET("/api/books/:id", s.handleGetBook)
	s.router.DELETE("/api/books/:id", s.handleDeleteBook)
	s.router.GET("/api/books/:id/chapters/:index", s.handleGetChapter)
	s.router.POST("/api/books/:id/chapters/:index/translate", s.handleTranslateChapter)
	s.router.POST("/api/books/:id/translate", s.handleTranslateBook)
	s.router.POST("/api/runs/cancel/*scope", s.handleCancelRun)
	s.router.GET("/download/:name", s.handleDownload)

	s.router.GET("/api/cache/stats", s.handleCacheStats)
	s.router.POST("/api/cache/clear", s.handleCacheClear)
	s.router.GET("/api/settings", s.handleGetSettings)
	s.router.PUT("/api/settings", s.handleUpdateSettings)

	s.router.GET("/ws", s.HandleWebSocket)

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "websocket_clients": s.wsHub.GetClientCount()})
	})
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		s.logger.WithFields(logrus.Fields{
			"status":     param.StatusCode,
			"method":     param.Method,
			"path":       param.Path,
			"ip":         param.ClientIP,
			"user_agent": param.Request.UserAgent(),
			"latency":    param.Latency,
		}).Info("HTTP Request")
		return ""
	})
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
