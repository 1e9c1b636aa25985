package middleware

import (
	"net/netip"

	"portfwd/internal/api/response"

	"github.com/gin-gonic/gin"
)

/*
LocalOnly 本地访问限制
功能：仅允许回环地址访问，用于 /metrics 等运维端点
*/
func LocalOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr, err := netip.ParseAddr(c.ClientIP())
		if err != nil || !addr.Unmap().IsLoopback() {
			response.GinForbidden(c, "此端点仅允许本地访问")
			return
		}
		c.Next()
	}
}
