/*
Package response 统一的 JSON 响应格式

	{"success": true, "message": "...", "data": ...}
	{"success": false, "error": "...", "fields": [...]}
*/
package response

import (
	"net/http"

	"portfwd/internal/rule"

	"github.com/gin-gonic/gin"
)

// Body 响应体
type Body struct {
	Success bool               `json:"success"`
	Message string             `json:"message,omitempty"`
	Data    interface{}        `json:"data,omitempty"`
	Error   string             `json:"error,omitempty"`
	Fields  []*rule.FieldError `json:"fields,omitempty"`
}

// GinSuccess 200 成功响应
func GinSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// GinSuccessWithMessage 200 成功响应，附带提示
func GinSuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Message: message, Data: data})
}

// GinCreated 201 创建成功
func GinCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// GinBadRequest 400 请求错误
func GinBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Body{Error: message})
}

// GinValidationFailed 400 规则校验失败，逐字段返回原因
func GinValidationFailed(c *gin.Context, fields []*rule.FieldError) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Body{Error: "规则校验失败", Fields: fields})
}

// GinNotFound 404
func GinNotFound(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusNotFound, Body{Error: message})
}

// GinForbidden 403
func GinForbidden(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden, Body{Error: message})
}

// InternalError 500
func InternalError(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, Body{Error: message})
}
