package handler

import (
	"errors"
	"strconv"

	"portfwd/internal/api/response"
	"portfwd/internal/rule"
	"portfwd/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RuleHandler 转发规则接口
type RuleHandler struct {
	store  *store.Store
	logger *zap.Logger
}

// NewRuleHandler 创建规则处理器
func NewRuleHandler(s *store.Store) *RuleHandler {
	return &RuleHandler{store: s, logger: zap.L().Named("api")}
}

// SetEnabledRequest 启用/禁用请求
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// ValidateResponse 校验结果
type ValidateResponse struct {
	Valid  bool               `json:"valid"`
	Rule   *rule.Rule         `json:"rule,omitempty"`
	Fields []*rule.FieldError `json:"fields,omitempty"`
}

// List 全部规则，最新创建的在前
func (h *RuleHandler) List(c *gin.Context) {
	rules, err := h.store.GetAll()
	if err != nil {
		h.fail(c, err)
		return
	}
	response.GinSuccess(c, gin.H{"rules": rules, "total": len(rules)})
}

// ListEnabled 已启用的规则
func (h *RuleHandler) ListEnabled(c *gin.Context) {
	rules, err := h.store.GetEnabled()
	if err != nil {
		h.fail(c, err)
		return
	}
	response.GinSuccess(c, gin.H{"rules": rules, "total": len(rules)})
}

// Get 单条规则，附带表单形式便于编辑回填
func (h *RuleHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	r, err := h.store.Get(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.GinSuccess(c, gin.H{"rule": r, "form": rule.FormOf(r)})
}

// Create 新增规则
func (h *RuleHandler) Create(c *gin.Context) {
	var form rule.Form
	if err := c.ShouldBindJSON(&form); err != nil {
		response.GinBadRequest(c, "Invalid request: "+err.Error())
		return
	}
	form.ID = 0

	r, err := form.Parse(h.store.Validator())
	if err != nil {
		h.fail(c, err)
		return
	}
	id, err := h.store.Insert(r)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.GinCreated(c, gin.H{"id": id, "rule": r.WithID(id)})
}

// Update 整体覆盖规则
func (h *RuleHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var form rule.Form
	if err := c.ShouldBindJSON(&form); err != nil {
		response.GinBadRequest(c, "Invalid request: "+err.Error())
		return
	}
	form.ID = id

	r, err := form.Parse(h.store.Validator())
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.store.Update(r); err != nil {
		h.fail(c, err)
		return
	}
	response.GinSuccess(c, gin.H{"rule": r})
}

// SetEnabled 启用或禁用规则
func (h *RuleHandler) SetEnabled(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req SetEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		response.GinBadRequest(c, "请求体需要 enabled 字段")
		return
	}

	r, err := h.store.SetEnabled(id, *req.Enabled)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.GinSuccess(c, gin.H{"rule": r})
}

// Delete 删除规则，不存在的 ID 也返回成功
func (h *RuleHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	removed, err := h.store.Delete(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.GinSuccess(c, gin.H{"id": id, "removed": removed})
}

// Validate 只校验不保存，返回全部字段错误
func (h *RuleHandler) Validate(c *gin.Context) {
	var form rule.Form
	if err := c.ShouldBindJSON(&form); err != nil {
		response.GinBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	r, err := form.Parse(h.store.Validator())
	if err != nil {
		var verr *rule.ValidationError
		if !errors.As(err, &verr) {
			h.fail(c, err)
			return
		}
		response.GinSuccess(c, ValidateResponse{Valid: false, Fields: verr.Fields()})
		return
	}
	response.GinSuccess(c, ValidateResponse{Valid: true, Rule: &r})
}

/*
fail 按错误分类返回状态码
*/
func (h *RuleHandler) fail(c *gin.Context, err error) {
	switch store.FromError(err) {
	case store.KindInvalid:
		var verr *rule.ValidationError
		if errors.As(err, &verr) {
			response.GinValidationFailed(c, verr.Fields())
			return
		}
		response.GinBadRequest(c, err.Error())
	case store.KindNotFound:
		response.GinNotFound(c, err.Error())
	case store.KindDecode:
		h.logger.Error("规则数据损坏", zap.Error(err))
		response.InternalError(c, "规则数据损坏")
	default:
		h.logger.Error("规则存储操作失败", zap.Error(err))
		response.InternalError(c, "规则存储操作失败")
	}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.GinBadRequest(c, "无效的规则 ID")
		return 0, false
	}
	return id, true
}
