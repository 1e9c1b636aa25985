package rule

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

/*
FieldCode 字段校验失败原因
*/
type FieldCode string

const (
	CodeEmpty      FieldCode = "EMPTY"        /* 必填字段为空 */
	CodeNotNumeric FieldCode = "NOT_NUMERIC"  /* 端口等数值字段无法解析为整数 */
	CodeOutOfRange FieldCode = "OUT_OF_RANGE" /* 数值超出允许范围 */
	CodeMalformed  FieldCode = "MALFORMED"    /* 格式错误（如非法 IP 字面量） */
)

/* 字段名，与 API / 表单字段保持一致 */
const (
	FieldName            = "name"
	FieldProtocol        = "protocol"
	FieldSourceInterface = "source_interface"
	FieldSourcePortMin   = "source_port_min"
	FieldSourcePortMax   = "source_port_max"
	FieldTargetIP        = "target_ip"
	FieldTargetPortMin   = "target_port_min"
)

// ErrInvalid 所有字段校验错误都匹配此哨兵错误
var ErrInvalid = errors.New("invalid rule")

/*
FieldError 单个字段的校验结果
功能：携带具体违反的约束，供表示层逐字段展示错误
*/
type FieldError struct {
	Field  string    `json:"field"`
	Code   FieldCode `json:"code"`
	Detail string    `json:"detail,omitempty"`
}

func (e *FieldError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Code)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Field, e.Code, e.Detail)
}

func (e *FieldError) Is(target error) bool {
	return target == ErrInvalid
}

func newFieldError(field string, code FieldCode, detail string) *FieldError {
	return &FieldError{Field: field, Code: code, Detail: detail}
}

/*
ValidationError 聚合的校验错误
功能：一次性返回全部非法字段，避免用户逐个修正
*/
type ValidationError struct {
	err error
}

/*
Fields 返回全部字段错误（按校验顺序）
*/
func (e *ValidationError) Fields() []*FieldError {
	var out []*FieldError
	for _, err := range multierr.Errors(e.err) {
		var fe *FieldError
		if errors.As(err, &fe) {
			out = append(out, fe)
		}
	}
	return out
}

/*
Field 查找指定字段的错误，不存在返回 nil
*/
func (e *ValidationError) Field(name string) *FieldError {
	for _, fe := range e.Fields() {
		if fe.Field == name {
			return fe
		}
	}
	return nil
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, 4)
	for _, fe := range e.Fields() {
		parts = append(parts, fe.Error())
	}
	return "规则校验失败: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() []error {
	return multierr.Errors(e.err)
}

/* collector 累积字段错误，最终转为 *ValidationError */
type collector struct {
	err error
}

func (c *collector) add(err error) {
	if err != nil {
		c.err = multierr.Append(c.err, err)
	}
}

func (c *collector) result() error {
	if c.err == nil {
		return nil
	}
	return &ValidationError{err: c.err}
}

/*
DecodeError 存储行无法还原为 Rule
功能：列缺失或数值超出可表示范围时返回，绝不回退为默认值
*/
type DecodeError struct {
	ID     int64
	Column string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("规则 #%d 解码失败 [%s]: %s", e.ID, e.Column, e.Reason)
}
