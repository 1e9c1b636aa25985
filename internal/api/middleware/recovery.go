package middleware

import (
	"runtime/debug"

	"portfwd/internal/api/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

/*
Recovery 错误恢复中间件
功能：捕获 handler 中的 panic，记录堆栈并返回 500
*/
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				zap.L().Named("api").Error("请求处理 panic",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString(RequestIDKey)),
					zap.ByteString("stack", debug.Stack()),
				)
				response.InternalError(c, "Internal server error")
			}
		}()

		c.Next()
	}
}
