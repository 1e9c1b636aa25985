package handler

import (
	"context"
	"net/http"

	"portfwd/internal/api/response"
	"portfwd/internal/forwarder"
	"portfwd/internal/netif"
	"portfwd/internal/store"

	"github.com/gin-gonic/gin"
)

// InterfaceLister 网络接口来源
type InterfaceLister interface {
	List(ctx context.Context) ([]netif.Interface, error)
}

// BindingLister 运行中的转发绑定来源
type BindingLister interface {
	Bindings() []forwarder.Status
}

// HealthChecker 数据库健康检查
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]interface{}
}

// SystemHandler 接口列表、转发状态与健康检查
type SystemHandler struct {
	store      *store.Store
	interfaces InterfaceLister
	bindings   BindingLister
	health     HealthChecker
	version    string
}

// NewSystemHandler 创建系统处理器，bindings 与 health 可以为空
func NewSystemHandler(s *store.Store, interfaces InterfaceLister, bindings BindingLister, health HealthChecker, version string) *SystemHandler {
	return &SystemHandler{store: s, interfaces: interfaces, bindings: bindings, health: health, version: version}
}

// Interfaces 本机网络接口，供选择规则的源接口
func (h *SystemHandler) Interfaces(c *gin.Context) {
	ifaces, err := h.interfaces.List(c.Request.Context())
	if err != nil {
		response.InternalError(c, "枚举网络接口失败")
		return
	}
	response.GinSuccess(c, gin.H{"interfaces": ifaces})
}

// Bindings 转发引擎当前运行的绑定
func (h *SystemHandler) Bindings(c *gin.Context) {
	var out []forwarder.Status
	if h.bindings != nil {
		out = h.bindings.Bindings()
	}
	response.GinSuccess(c, gin.H{"bindings": out, "total": len(out)})
}

// Health 健康检查
func (h *SystemHandler) Health(c *gin.Context) {
	body := gin.H{"status": "ok", "version": h.version}
	status := http.StatusOK

	if n, err := h.store.Count(); err != nil {
		body["status"] = "degraded"
		body["rules_error"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		body["rules"] = n
	}
	if h.bindings != nil {
		body["bindings"] = len(h.bindings.Bindings())
	}
	if h.health != nil {
		for k, v := range h.health.HealthCheck(c.Request.Context()) {
			body[k] = v
		}
	}
	c.JSON(status, body)
}
