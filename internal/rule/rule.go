/*
Package rule 端口转发规则

Rule 是经过校验的不可变转发配置：协议、源网卡与源端口范围、目标 IP 与目标起始端口、启用状态。
Rule 只能通过 Builder（或 Form 解析）构造，构造时必须通过 Validator，
因此存储层和转发引擎永远拿不到半配置状态的规则。
*/
package rule

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
)

// ErrOffsetOutOfRange 端口偏移超出源端口范围
var ErrOffsetOutOfRange = errors.New("端口偏移超出规则范围")

/*
Rule 转发规则（不可变值）
功能：ID 由存储层分配，首次保存前为 0；
SourcePortMax 为 0 表示单端口规则
*/
type Rule struct {
	id              int64
	name            string
	tcp             bool
	udp             bool
	sourceInterface string
	sourcePortMin   int
	sourcePortMax   int
	targetIP        string
	targetPortMin   int
	enabled         bool
}

func (r Rule) ID() int64               { return r.id }
func (r Rule) Name() string            { return r.name }
func (r Rule) TCP() bool               { return r.tcp }
func (r Rule) UDP() bool               { return r.udp }
func (r Rule) SourceInterface() string { return r.sourceInterface }
func (r Rule) SourcePortMin() int      { return r.sourcePortMin }
func (r Rule) SourcePortMax() int      { return r.sourcePortMax }
func (r Rule) TargetIP() string        { return r.targetIP }
func (r Rule) TargetPortMin() int      { return r.targetPortMin }
func (r Rule) Enabled() bool           { return r.enabled }

/*
WithID 返回分配了 ID 的副本
*/
func (r Rule) WithID(id int64) Rule {
	r.id = id
	return r
}

/*
WithEnabled 返回修改了启用状态的副本
*/
func (r Rule) WithEnabled(enabled bool) Rule {
	r.enabled = enabled
	return r
}

/*
SourcePorts 返回源端口闭区间 [first, last]
单端口规则 first == last
*/
func (r Rule) SourcePorts() (first, last int) {
	if r.sourcePortMax == 0 {
		return r.sourcePortMin, r.sourcePortMin
	}
	return r.sourcePortMin, r.sourcePortMax
}

/* SourcePortCount 源端口数量 */
func (r Rule) SourcePortCount() int {
	first, last := r.SourcePorts()
	return last - first + 1
}

/*
TargetAddress 计算指定偏移对应的目标地址
功能：范围规则的第 offset 个源端口转发到 (targetIp, targetPortMin + offset)。
offset 0 对任何合法规则都有效
*/
func (r Rule) TargetAddress(offset int) (netip.AddrPort, error) {
	if offset < 0 || offset >= r.SourcePortCount() {
		return netip.AddrPort{}, fmt.Errorf("%w: offset=%d, 源端口数=%d", ErrOffsetOutOfRange, offset, r.SourcePortCount())
	}
	port := r.targetPortMin + offset
	if port <= 0 || port > MaxPortNumber {
		return netip.AddrPort{}, fmt.Errorf("%w: 目标端口 %d 超出上限", ErrOffsetOutOfRange, port)
	}
	addr, err := netip.ParseAddr(r.targetIP)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("解析目标 IP 失败 [%s]: %w", r.targetIP, err)
	}
	return netip.AddrPortFrom(addr, uint16(port)), nil
}

/*
ProtocolString 协议描述：TCP、UDP 或 BOTH
*/
func (r Rule) ProtocolString() string {
	switch {
	case r.tcp && r.udp:
		return "BOTH"
	case r.tcp:
		return "TCP"
	case r.udp:
		return "UDP"
	default:
		return ""
	}
}

/* ruleJSON 对外输出的 JSON 结构 */
type ruleJSON struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	TCP             bool   `json:"tcp"`
	UDP             bool   `json:"udp"`
	SourceInterface string `json:"source_interface"`
	SourcePortMin   int    `json:"source_port_min"`
	SourcePortMax   int    `json:"source_port_max"`
	TargetIP        string `json:"target_ip"`
	TargetPortMin   int    `json:"target_port_min"`
	Enabled         bool   `json:"enabled"`
	Protocol        string `json:"protocol"`
}

func (r Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(ruleJSON{
		ID:              r.id,
		Name:            r.name,
		TCP:             r.tcp,
		UDP:             r.udp,
		SourceInterface: r.sourceInterface,
		SourcePortMin:   r.sourcePortMin,
		SourcePortMax:   r.sourcePortMax,
		TargetIP:        r.targetIP,
		TargetPortMin:   r.targetPortMin,
		Enabled:         r.enabled,
		Protocol:        r.ProtocolString(),
	})
}

func (r Rule) String() string {
	first, last := r.SourcePorts()
	return fmt.Sprintf("#%d(%s) %s %s:%d-%d >> %s:%d", r.id, r.name, r.ProtocolString(),
		r.sourceInterface, first, last, r.targetIP, r.targetPortMin)
}
