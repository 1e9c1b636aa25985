package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

/*
OriginPolicy 跨域来源白名单
功能：白名单为空时拒绝所有跨域来源；包含 "*" 时放行所有来源（仅建议开发环境使用）
*/
type OriginPolicy struct {
	allowAll bool
	origins  map[string]struct{}
}

/*
NewOriginPolicy 创建来源白名单，条目忽略大小写和末尾的 "/"
*/
func NewOriginPolicy(allowedOrigins []string) *OriginPolicy {
	p := &OriginPolicy{origins: make(map[string]struct{}, len(allowedOrigins))}
	for _, o := range allowedOrigins {
		o = normalizeOrigin(o)
		if o == "*" {
			p.allowAll = true
		}
		if o != "" {
			p.origins[o] = struct{}{}
		}
	}
	return p
}

func normalizeOrigin(o string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(o)), "/")
}

// Allowed 来源是否在白名单中
func (p *OriginPolicy) Allowed(origin string) bool {
	if p.allowAll {
		return true
	}
	_, ok := p.origins[normalizeOrigin(origin)]
	return ok
}

/*
CheckRequest 供 WebSocket 升级使用
功能：不带 Origin 头的请求来自非浏览器客户端，直接放行
*/
func (p *OriginPolicy) CheckRequest(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || p.Allowed(origin)
}

/*
CORS 跨域中间件
功能：控制 API 没有认证，任何网页都能向 127.0.0.1 发请求，
因此带 Origin 头且不在白名单中的请求一律 403；
白名单内的来源回显 CORS 响应头，预检请求直接返回 204
*/
func CORS(policy *OriginPolicy) gin.HandlerFunc {
	if policy.allowAll {
		zap.L().Named("api").Warn("CORS 允许所有来源，任何网页都能修改转发规则，生产环境请配置具体来源")
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		if !policy.Allowed(origin) {
			zap.L().Named("api").Debug("CORS 拒绝非白名单 Origin", zap.String("origin", origin))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "来源不被允许"})
			return
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Vary", "Origin")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
		c.Header("Access-Control-Expose-Headers", "Content-Length, X-Request-ID")
		c.Header("Access-Control-Max-Age", "3600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

/*
RequireJSON 写请求必须是 application/json
功能：浏览器发送 text/plain 等"简单请求"时不做预检，拒绝这类请求体
*/
func RequireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if c.ContentType() != gin.MIMEJSON {
				c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{
					"success": false,
					"error":   "Content-Type 必须为 application/json",
				})
				return
			}
		}
		c.Next()
	}
}
