package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/yuechangmingzou/nofx-engine/internal/bot"
	"github.com/yuechangmingzou/nofx-engine/internal/config"
	"github.com/yuechangmingzou/nofx-engine/internal/utils"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
	"go.uber.org/zap"
)

// Controller 控制面依赖的引擎操作
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Status() bot.Status
	UpdateConfig(ctx context.Context, p config.Partial) (*config.Snapshot, error)
	OpenOrders() []*types.TradeOrder
	CloseOrder(ctx context.Context, id string) (*types.TradeOrder, error)
}

// ConfigAuditor 运行时配置审计记录
type ConfigAuditor interface {
	Audit(ctx context.Context, limit int) ([]map[string]interface{}, error)
}

// HistoryReader 交易历史
type HistoryReader interface {
	History(ctx context.Context, limit int) ([]types.LedgerEvent, error)
}

// Option Server可选项
type Option func(*Server)

// WithRedis 就绪检查使用的Redis
func WithRedis(client *redis.Client) Option {
	return func(s *Server) { s.redis = client }
}

// WithConfigAuditor 配置审计
func WithConfigAuditor(a ConfigAuditor) Option {
	return func(s *Server) { s.auditor = a }
}

// WithHistory 交易历史
func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

// Server Web服务器
type Server struct {
	engine  *gin.Engine
	config  *config.Config
	logger  *zap.SugaredLogger
	ctrl    Controller
	redis   *redis.Client
	auditor ConfigAuditor
	history HistoryReader
	cache   *statusCache
}

// NewServer 创建Web服务器
func NewServer(cfg *config.Config, ctrl Controller, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine: gin.New(),
		config: cfg,
		logger: utils.GetLogger("web"),
		ctrl:   ctrl,
		cache:  newStatusCache(2 * time.Second),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// Handler HTTP处理器
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	s.engine.Use(s.recoveryMiddleware())
	s.engine.Use(s.loggerMiddleware())
	s.engine.Use(s.metricsMiddleware())

	// 无需认证
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/readyz", s.handleReadyz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	api.Use(s.basicAuthMiddleware())
	{
		api.GET("/status", s.handleStatus)

		api.POST("/engine/start", s.handleStart)
		api.POST("/engine/stop", s.handleStop)

		api.GET("/config", s.handleGetConfig)
		api.PATCH("/config", s.handlePatchConfig)
		api.GET("/config/audit", s.handleConfigAudit)

		api.GET("/orders", s.handleOrders)
		api.POST("/orders/:id/close", s.handleCloseOrder)

		api.GET("/history", s.handleHistory)
	}
}

// Run 启动服务器，ctx结束时优雅关闭
func (s *Server) Run(ctx context.Context) error {
	port := s.config.WebPort
	if port <= 0 {
		port = 8000
	}

	addr := fmt.Sprintf(":%d", port)
	s.logger.Infow("Web服务器启动", "addr", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("Web服务器正在关闭...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// basicAuthMiddleware BasicAuth中间件
func (s *Server) basicAuthMiddleware() gin.HandlerFunc {
	return gin.BasicAuth(gin.Accounts{
		s.config.WebBasicAuthUser: s.config.WebBasicAuthPass,
	})
}

// recoveryMiddleware 恢复中间件
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Errorw("请求处理panic",
					"error", err,
					"path", c.Request.URL.Path,
				)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "internal_server_error",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// loggerMiddleware 日志中间件
func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		if status >= 500 {
			s.logger.Warnw("HTTP请求",
				"status", status,
				"method", c.Request.Method,
				"path", path,
				"latency", time.Since(start),
				"ip", c.ClientIP(),
			)
		}
	}
}
