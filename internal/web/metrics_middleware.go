package web

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yuechangmingzou/nofx-engine/internal/metrics"
)

// metricsMiddleware 指标收集中间件（按路由模板聚合，避免订单ID撑爆标签）
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(path, c.Writer.Status(), time.Since(start))
	}
}
