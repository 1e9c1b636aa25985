package rule

import (
	"portfwd/internal/db/models"
)

/*
ToRow 将 Rule 映射为存储行（纯函数）
*/
func ToRow(r Rule) models.RuleRow {
	name := r.name
	tcp := r.tcp
	udp := r.udp
	iface := r.sourceInterface
	fromMin := int64(r.sourcePortMin)
	fromMax := int64(r.sourcePortMax)
	targetIP := r.targetIP
	targetPort := int64(r.targetPortMin)
	enabled := r.enabled

	return models.RuleRow{
		ID:                r.id,
		Name:              &name,
		IsTCP:             &tcp,
		IsUDP:             &udp,
		FromInterfaceName: &iface,
		FromPortMin:       &fromMin,
		FromPortMax:       &fromMax,
		TargetIPAddress:   &targetIP,
		TargetPortMin:     &targetPort,
		IsEnabled:         &enabled,
	}
}

/*
FromRow 将存储行还原为 Rule
功能：任一列缺失、ID 为负、端口超出 [0, 65535] 或起始端口为 0 时返回 *DecodeError，
不做任何默认值填充；业务不变量由写入路径保证，这里只负责形状
*/
func FromRow(row models.RuleRow) (Rule, error) {
	if row.ID < 0 {
		return Rule{}, &DecodeError{ID: row.ID, Column: "id", Reason: "主键不能为负数"}
	}
	fail := func(column, reason string) (Rule, error) {
		return Rule{}, &DecodeError{ID: row.ID, Column: column, Reason: reason}
	}

	switch {
	case row.Name == nil:
		return fail("name", "列缺失")
	case row.IsTCP == nil:
		return fail("is_tcp", "列缺失")
	case row.IsUDP == nil:
		return fail("is_udp", "列缺失")
	case row.FromInterfaceName == nil:
		return fail("from_interface_name", "列缺失")
	case row.FromPortMin == nil:
		return fail("from_port_min", "列缺失")
	case row.FromPortMax == nil:
		return fail("from_port_max", "列缺失")
	case row.TargetIPAddress == nil:
		return fail("target_ip_address", "列缺失")
	case row.TargetPortMin == nil:
		return fail("target_port_min", "列缺失")
	case row.IsEnabled == nil:
		return fail("is_enabled", "列缺失")
	}

	fromMin, ok := portValue(*row.FromPortMin)
	if !ok {
		return fail("from_port_min", "超出端口可表示范围")
	}
	if fromMin == 0 {
		return fail("from_port_min", "起始端口不能为 0")
	}
	fromMax, ok := portValue(*row.FromPortMax)
	if !ok {
		return fail("from_port_max", "超出端口可表示范围")
	}
	targetPort, ok := portValue(*row.TargetPortMin)
	if !ok {
		return fail("target_port_min", "超出端口可表示范围")
	}
	if targetPort == 0 {
		return fail("target_port_min", "目标端口不能为 0")
	}

	return Rule{
		id:              row.ID,
		name:            *row.Name,
		tcp:             *row.IsTCP,
		udp:             *row.IsUDP,
		sourceInterface: *row.FromInterfaceName,
		sourcePortMin:   fromMin,
		sourcePortMax:   fromMax,
		targetIP:        *row.TargetIPAddress,
		targetPortMin:   targetPort,
		enabled:         *row.IsEnabled,
	}, nil
}

func portValue(v int64) (int, bool) {
	if v < 0 || v > MaxPortNumber {
		return 0, false
	}
	return int(v), true
}
