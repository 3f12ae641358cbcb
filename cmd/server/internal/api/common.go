package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/Totodore/doscenario-services/cmd/server/internal/docs"
	"github.com/Totodore/doscenario-services/cmd/server/internal/middleware"
	"github.com/Totodore/doscenario-services/cmd/server/internal/storage"
	"github.com/Totodore/doscenario-services/pkg/logger"
)

// currentUser 获取当前用户 id（由认证中间件注入）
func currentUser(c *gin.Context) string {
	if v, exists := c.Get(middleware.ContextUserKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// successResponse 返回成功响应
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(200, data)
}

// badRequestResponse 返回 400 响应
func badRequestResponse(c *gin.Context, message string) {
	c.JSON(400, gin.H{
		"error": message,
	})
}

// respondDocsError 把核心错误映射成 HTTP 响应
// 持久层错误对调用方保持不透明，原始错误只进日志
func respondDocsError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, docs.ErrDocNotCached):
		c.JSON(404, gin.H{"error": "document not found"})
	case errors.Is(err, docs.ErrInvalidChange):
		c.JSON(422, gin.H{"error": "invalid change in pending log"})
	default:
		logger.L().Error("internal error", "path", c.Request.URL.Path, "error", err)
		c.JSON(500, gin.H{"error": "internal server error"})
	}
}
