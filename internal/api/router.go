/*
Package api 本地控制 API

表示层通过这里增删改查转发规则、做表单校验、列出网络接口。
*/
package api

import (
	"net/http"

	"portfwd/internal/api/handler"
	"portfwd/internal/api/middleware"
	"portfwd/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodyBytes 控制 API 请求体上限
const maxBodyBytes = 64 << 10

// App 路由依赖
type App struct {
	Mode       string
	Version    string
	Store      *store.Store
	Interfaces handler.InterfaceLister
	Bindings   handler.BindingLister
	Health     handler.HealthChecker
	/* Events 为空时不注册事件推送 */
	Events         handler.EventSource
	MaxSubscribers int
	/* AllowedOrigins 浏览器跨域来源白名单，为空时拒绝所有跨域请求 */
	AllowedOrigins []string
	/* Gatherer 为空时使用 prometheus 默认注册表 */
	Gatherer prometheus.Gatherer
}

// SetupRouter 设置路由
func SetupRouter(app *App) *gin.Engine {
	if app.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	origins := middleware.NewOriginPolicy(app.AllowedOrigins)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(origins))

	system := handler.NewSystemHandler(app.Store, app.Interfaces, app.Bindings, app.Health, app.Version)
	router.GET("/health", system.Health)

	gatherer := app.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", middleware.LocalOnly(), gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.BodyLimit(maxBodyBytes), middleware.RequireJSON())
	{
		rules := handler.NewRuleHandler(app.Store)
		v1.GET("/rules", rules.List)
		v1.GET("/rules/enabled", rules.ListEnabled)
		v1.GET("/rules/:id", rules.Get)
		v1.POST("/rules", rules.Create)
		v1.POST("/rules/validate", rules.Validate)
		v1.PUT("/rules/:id", rules.Update)
		v1.PATCH("/rules/:id/enabled", rules.SetEnabled)
		v1.DELETE("/rules/:id", rules.Delete)

		v1.GET("/interfaces", system.Interfaces)
		v1.GET("/forwarder/bindings", system.Bindings)

		if app.Events != nil {
			v1.GET("/events", handler.NewEventHandler(app.Events, app.MaxSubscribers, origins.CheckRequest).Stream)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Not found"})
	})
	return router
}
