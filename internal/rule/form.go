package rule

import (
	"errors"
	"strconv"
	"strings"
)

/*
Form 表示层提交的原始输入
功能：端口等字段保持文本形式，由 Parse 逐字段校验后转换为 Rule。
SourcePortMax 为空或 "0" 表示单端口规则；Enabled 为空时默认启用
*/
type Form struct {
	ID              int64  `json:"id,omitempty"`
	Name            string `json:"name"`
	TCP             bool   `json:"tcp"`
	UDP             bool   `json:"udp"`
	SourceInterface string `json:"source_interface"`
	SourcePortMin   string `json:"source_port_min"`
	SourcePortMax   string `json:"source_port_max"`
	TargetIP        string `json:"target_ip"`
	TargetPortMin   string `json:"target_port_min"`
	Enabled         *bool  `json:"enabled,omitempty"`
}

/*
Parse 校验全部字段并构造 Rule
功能：不会在第一个错误处停止，返回的 *ValidationError 包含所有非法字段
*/
func (f Form) Parse(v *Validator) (Rule, error) {
	if v == nil {
		v = defaultValidator
	}
	var c collector
	b := NewBuilder().ID(f.ID)

	name := strings.TrimSpace(f.Name)
	c.add(v.ValidateName(name))
	b.Name(name)

	c.add(v.ValidateProtocols(f.TCP, f.UDP))
	b.TCP(f.TCP).UDP(f.UDP)

	iface := strings.TrimSpace(f.SourceInterface)
	c.add(v.ValidateSourceInterface(iface))
	b.SourceInterface(iface)

	minPort, minErr := v.ValidateSourcePort(strings.TrimSpace(f.SourcePortMin))
	c.add(minErr)
	b.SourcePortMin(minPort)

	maxText := strings.TrimSpace(f.SourcePortMax)
	if maxText != "" && maxText != "0" {
		maxPort, err := v.ValidateSourcePort(maxText)
		switch {
		case err != nil:
			c.add(relabel(err, FieldSourcePortMax))
		case minErr == nil && maxPort < minPort:
			c.add(newFieldError(FieldSourcePortMax, CodeOutOfRange, "结束端口必须大于或等于起始端口"))
		default:
			b.SourcePortMax(maxPort)
		}
	}

	targetIP := strings.TrimSpace(f.TargetIP)
	c.add(v.ValidateTargetIP(targetIP))
	b.TargetIP(targetIP)

	targetPort, err := v.ValidateTargetPort(strings.TrimSpace(f.TargetPortMin))
	c.add(err)
	b.TargetPortMin(targetPort)

	if f.Enabled != nil {
		b.Enabled(*f.Enabled)
	}

	if err := c.result(); err != nil {
		return Rule{}, err
	}
	return b.Build(v)
}

/*
FormOf 将 Rule 转回表单，用于编辑界面回填
*/
func FormOf(r Rule) Form {
	enabled := r.enabled
	f := Form{
		ID:              r.id,
		Name:            r.name,
		TCP:             r.tcp,
		UDP:             r.udp,
		SourceInterface: r.sourceInterface,
		SourcePortMin:   strconv.Itoa(r.sourcePortMin),
		TargetIP:        r.targetIP,
		TargetPortMin:   strconv.Itoa(r.targetPortMin),
		Enabled:         &enabled,
	}
	if r.sourcePortMax != 0 {
		f.SourcePortMax = strconv.Itoa(r.sourcePortMax)
	}
	return f
}

func relabel(err error, field string) error {
	var fe *FieldError
	if errors.As(err, &fe) {
		return newFieldError(field, fe.Code, fe.Detail)
	}
	return err
}
