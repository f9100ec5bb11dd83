package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yuechangmingzou/nofx-engine/internal/config"
	"github.com/yuechangmingzou/nofx-engine/internal/execution"
	"github.com/yuechangmingzou/nofx-engine/internal/utils"
)

// handleHealthz 存活检查
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleReadyz 就绪检查（配置了Redis时检查连通性）
func (s *Server) handleReadyz(c *gin.Context) {
	if s.redis != nil {
		ctx, cancel := utils.WithShortTimeout(c.Request.Context())
		defer cancel()
		if err := s.redis.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"redis":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// handleStatus 获取引擎状态（带缓存）
func (s *Server) handleStatus(c *gin.Context) {
	if cached, ok := s.cache.get(); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	status := s.ctrl.Status()
	s.cache.set(status)
	c.JSON(http.StatusOK, status)
}

// handleStart 启动调度
func (s *Server) handleStart(c *gin.Context) {
	if err := s.ctrl.Start(c.Request.Context()); err != nil {
		s.logger.Warnw("启动引擎失败", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.cache.clear()
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

// handleStop 停止调度（持仓保留）
func (s *Server) handleStop(c *gin.Context) {
	s.ctrl.Stop()
	s.cache.clear()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// handleGetConfig 获取当前运行时配置
func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Status().Config)
}

// handlePatchConfig 部分更新运行时配置
func (s *Server) handlePatchConfig(c *gin.Context) {
	var req config.Partial
	if err := c.ShouldBindJSON(&req); err != nil || len(req) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ctx, cancel := utils.WithShortTimeout(c.Request.Context())
	defer cancel()

	snap, err := s.ctrl.UpdateConfig(ctx, req)
	if err != nil {
		if errors.Is(err, config.ErrWriteDisabled) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.cache.clear()
	c.JSON(http.StatusOK, snap)
}

// handleConfigAudit 获取运行时配置审计日志
func (s *Server) handleConfigAudit(c *gin.Context) {
	if s.auditor == nil {
		c.JSON(http.StatusOK, gin.H{"items": []interface{}{}})
		return
	}

	ctx, cancel := utils.WithShortTimeout(c.Request.Context())
	defer cancel()

	items, err := s.auditor.Audit(ctx, queryLimit(c, 100, 2000))
	if err != nil {
		s.logger.Warnw("读取配置审计失败", "error", err)
		c.JSON(http.StatusOK, gin.H{"items": []interface{}{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// handleOrders 持仓订单列表
func (s *Server) handleOrders(c *gin.Context) {
	orders := s.ctrl.OpenOrders()
	c.JSON(http.StatusOK, gin.H{
		"items": orders,
		"count": len(orders),
	})
}

// handleCloseOrder 手动平仓
func (s *Server) handleCloseOrder(c *gin.Context) {
	id := c.Param("id")

	// 平仓不随客户端断开而中止
	ctx, cancel := utils.WithMediumTimeout(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	order, err := s.ctrl.CloseOrder(ctx, id)
	if err != nil {
		if errors.Is(err, execution.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.logger.Warnw("手动平仓失败", "order_id", id, "error", err)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	s.cache.clear()
	c.JSON(http.StatusOK, order)
}

// handleHistory 获取交易事件历史
func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusOK, gin.H{"items": []interface{}{}})
		return
	}

	ctx, cancel := utils.WithShortTimeout(c.Request.Context())
	defer cancel()

	items, err := s.history.History(ctx, queryLimit(c, 50, 500))
	if err != nil {
		s.logger.Warnw("读取交易历史失败", "error", err)
		c.JSON(http.StatusOK, gin.H{"items": []interface{}{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// queryLimit 解析limit参数，超出范围用默认值
func queryLimit(c *gin.Context, def, max int) int {
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= max {
			return l
		}
	}
	return def
}
