package middleware

import (
	"net/http"

	"portfwd/internal/api/response"

	"github.com/gin-gonic/gin"
)

/*
BodyLimit 请求体大小限制
功能：规则表单只有几百字节，超过 maxBytes 直接返回 413；
未声明 Content-Length 的请求由 MaxBytesReader 截断，解码时报错
*/
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, response.Body{
				Success: false,
				Error:   "请求体过大",
			})
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
