package models

/*
RuleRow 转发规则存储行
功能：一条规则一行，列与 rule.Rule 字段一一对应，ID 由数据库自增生成。
除主键外所有列使用指针类型：读取到 NULL 时保持 nil，
由解码层判定为缺失列，而不是静默回退为零值。
文本列宽与 rule.MaxNameLength / MaxInterfaceLength / MaxTargetIPLength 一致
*/
type RuleRow struct {
	ID                int64   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name              *string `gorm:"column:name;type:varchar(128);not null" json:"name"`
	IsTCP             *bool   `gorm:"column:is_tcp;not null" json:"is_tcp"`
	IsUDP             *bool   `gorm:"column:is_udp;not null" json:"is_udp"`
	FromInterfaceName *string `gorm:"column:from_interface_name;type:varchar(64);not null" json:"from_interface_name"`
	FromPortMin       *int64  `gorm:"column:from_port_min;not null" json:"from_port_min"`
	FromPortMax       *int64  `gorm:"column:from_port_max;not null" json:"from_port_max"`
	TargetIPAddress   *string `gorm:"column:target_ip_address;type:varchar(64);not null" json:"target_ip_address"`
	TargetPortMin     *int64  `gorm:"column:target_port_min;not null" json:"target_port_min"`
	IsEnabled         *bool   `gorm:"column:is_enabled;not null;index" json:"is_enabled"`
}

func (RuleRow) TableName() string {
	return "rules"
}
