package rule

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
)

/* MaxPortNumber TCP/UDP 端口号上限 */
const MaxPortNumber = 65535

/* 文本字段长度上限（按字符计），与 rules 表的列宽一致 */
const (
	MaxNameLength      = 128
	MaxInterfaceLength = 64
	MaxTargetIPLength  = 64
)

/*
Limits 端口取值范围
功能：MinPort 约束源端口下限（默认 1024，非特权端口），
TargetMinPort 约束目标端口下限，MaxPort 约束两者上限
*/
type Limits struct {
	MinPort       int `yaml:"min_port" json:"min_port"`
	MaxPort       int `yaml:"max_port" json:"max_port"`
	TargetMinPort int `yaml:"target_min_port" json:"target_min_port"`
}

/*
DefaultLimits 返回默认端口范围
*/
func DefaultLimits() Limits {
	return Limits{
		MinPort:       1024,
		MaxPort:       MaxPortNumber,
		TargetMinPort: 1,
	}
}

/*
normalize 修正非法配置
功能：零值或越界的配置项回退到默认值，保证 1 <= min <= max <= 65535
*/
func (l Limits) normalize() Limits {
	def := DefaultLimits()
	if l.MaxPort <= 0 || l.MaxPort > MaxPortNumber {
		l.MaxPort = def.MaxPort
	}
	if l.MinPort <= 0 || l.MinPort > l.MaxPort {
		l.MinPort = def.MinPort
		if l.MinPort > l.MaxPort {
			l.MinPort = 1
		}
	}
	if l.TargetMinPort <= 0 || l.TargetMinPort > l.MaxPort {
		l.TargetMinPort = def.TargetMinPort
	}
	return l
}

/*
Validator 规则校验器
功能：无状态，持有端口范围配置。字段级校验用于交互输入的即时反馈，
IsValid/Validate 是存储层写入前必须通过的唯一关卡
*/
type Validator struct {
	limits   Limits
	validate *validator.Validate
}

/*
NewValidator 创建校验器
*/
func NewValidator(limits Limits) *Validator {
	return &Validator{
		limits:   limits.normalize(),
		validate: validator.New(),
	}
}

var defaultValidator = NewValidator(DefaultLimits())

/*
Default 返回使用默认端口范围的校验器
*/
func Default() *Validator {
	return defaultValidator
}

/* Limits 返回生效的端口范围 */
func (v *Validator) Limits() Limits {
	return v.limits
}

/*
ValidateName 校验规则名称
*/
func (v *Validator) ValidateName(s string) error {
	if s == "" {
		return newFieldError(FieldName, CodeEmpty, "")
	}
	return v.checkLength(FieldName, s, MaxNameLength)
}

/*
ValidateSourceInterface 校验源网卡名称
*/
func (v *Validator) ValidateSourceInterface(s string) error {
	if s == "" {
		return newFieldError(FieldSourceInterface, CodeEmpty, "")
	}
	return v.checkLength(FieldSourceInterface, s, MaxInterfaceLength)
}

/*
ValidateProtocols 校验协议选择：TCP 与 UDP 至少选一个
*/
func (v *Validator) ValidateProtocols(tcp, udp bool) error {
	if !tcp && !udp {
		return newFieldError(FieldProtocol, CodeEmpty, "至少选择 TCP 或 UDP")
	}
	return nil
}

/*
ValidateSourcePort 校验源端口文本
返回：解析后的端口号，失败时返回 *FieldError（NOT_NUMERIC / OUT_OF_RANGE）
*/
func (v *Validator) ValidateSourcePort(s string) (int, error) {
	return v.parsePort(FieldSourcePortMin, s, v.limits.MinPort)
}

/*
ValidateTargetPort 校验目标端口文本
*/
func (v *Validator) ValidateTargetPort(s string) (int, error) {
	return v.parsePort(FieldTargetPortMin, s, v.limits.TargetMinPort)
}

/*
ValidateTargetIP 校验目标 IP 字面量（IPv4 / IPv6）
*/
func (v *Validator) ValidateTargetIP(s string) error {
	if s == "" {
		return newFieldError(FieldTargetIP, CodeEmpty, "")
	}
	if err := v.checkLength(FieldTargetIP, s, MaxTargetIPLength); err != nil {
		return err
	}
	if err := v.validate.Var(s, "ip"); err != nil {
		return newFieldError(FieldTargetIP, CodeMalformed, s)
	}
	return nil
}

/* checkLength 按字符数校验长度上限 */
func (v *Validator) checkLength(field, s string, max int) error {
	if err := v.validate.Var(s, fmt.Sprintf("max=%d", max)); err != nil {
		return newFieldError(field, CodeOutOfRange, fmt.Sprintf("长度超过 %d", max))
	}
	return nil
}

func (v *Validator) parsePort(field, s string, lower int) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return 0, newFieldError(field, CodeOutOfRange, s)
		}
		return 0, newFieldError(field, CodeNotNumeric, s)
	}
	if err := v.checkRange(field, port, lower); err != nil {
		return 0, err
	}
	return port, nil
}

func (v *Validator) checkRange(field string, port, lower int) error {
	tag := fmt.Sprintf("gte=%d,lte=%d", lower, v.limits.MaxPort)
	if err := v.validate.Var(port, tag); err != nil {
		return newFieldError(field, CodeOutOfRange,
			fmt.Sprintf("%d 不在 [%d, %d] 范围内", port, lower, v.limits.MaxPort))
	}
	return nil
}

/*
Validate 一次遍历校验整条规则的全部不变量
返回：nil 或聚合了所有违规字段的 *ValidationError
*/
func (v *Validator) Validate(r Rule) error {
	var c collector

	c.add(v.ValidateName(r.name))
	c.add(v.ValidateProtocols(r.tcp, r.udp))
	c.add(v.ValidateSourceInterface(r.sourceInterface))
	c.add(v.checkRange(FieldSourcePortMin, r.sourcePortMin, v.limits.MinPort))

	/* 0 表示单端口；否则必须满足 min <= max <= MaxPort */
	if r.sourcePortMax != 0 {
		if r.sourcePortMax < r.sourcePortMin || r.sourcePortMax > v.limits.MaxPort {
			c.add(newFieldError(FieldSourcePortMax, CodeOutOfRange,
				fmt.Sprintf("%d 不在 [%d, %d] 范围内", r.sourcePortMax, r.sourcePortMin, v.limits.MaxPort)))
		}
	}

	c.add(v.checkRange(FieldTargetPortMin, r.targetPortMin, v.limits.TargetMinPort))

	if r.targetIP == "" {
		c.add(newFieldError(FieldTargetIP, CodeEmpty, ""))
	} else {
		c.add(v.checkLength(FieldTargetIP, r.targetIP, MaxTargetIPLength))
	}

	return c.result()
}

/*
IsValid 整条规则是否满足全部不变量
*/
func (v *Validator) IsValid(r Rule) bool {
	return v.Validate(r) == nil
}

/* 包级便捷函数，使用默认端口范围 */

func ValidateName(s string) error { return defaultValidator.ValidateName(s) }
func ValidateSourcePort(s string) (int, error) { return defaultValidator.ValidateSourcePort(s) }
func ValidateTargetIP(s string) error { return defaultValidator.ValidateTargetIP(s) }
func ValidateTargetPort(s string) (int, error) { return defaultValidator.ValidateTargetPort(s) }
func IsValid(r Rule) bool { return defaultValidator.IsValid(r) }
