package rule

/*
Builder 可变的规则构造器
功能：仅供表示层在收集输入期间使用，Build 通过校验后产出不可变 Rule。
未显式设置的字段保持零值（Enabled 默认为 true），
更新规则时如需保留旧值，应从 FromRule 开始构造
*/
type Builder struct {
	r Rule
}

/*
NewBuilder 创建空构造器，新规则默认启用
*/
func NewBuilder() *Builder {
	return &Builder{r: Rule{enabled: true}}
}

/*
FromRule 以已有规则为起点构造（沿用全部字段，包括 ID）
*/
func FromRule(r Rule) *Builder {
	return &Builder{r: r}
}

func (b *Builder) ID(id int64) *Builder {
	b.r.id = id
	return b
}

func (b *Builder) Name(name string) *Builder {
	b.r.name = name
	return b
}

func (b *Builder) TCP(on bool) *Builder {
	b.r.tcp = on
	return b
}

func (b *Builder) UDP(on bool) *Builder {
	b.r.udp = on
	return b
}

func (b *Builder) SourceInterface(name string) *Builder {
	b.r.sourceInterface = name
	return b
}

func (b *Builder) SourcePortMin(port int) *Builder {
	b.r.sourcePortMin = port
	return b
}

func (b *Builder) SourcePortMax(port int) *Builder {
	b.r.sourcePortMax = port
	return b
}

func (b *Builder) TargetIP(ip string) *Builder {
	b.r.targetIP = ip
	return b
}

func (b *Builder) TargetPortMin(port int) *Builder {
	b.r.targetPortMin = port
	return b
}

func (b *Builder) Enabled(on bool) *Builder {
	b.r.enabled = on
	return b
}

/*
Build 校验并产出 Rule
参数 v 为 nil 时使用默认端口范围
*/
func (b *Builder) Build(v *Validator) (Rule, error) {
	if v == nil {
		v = defaultValidator
	}
	if err := v.Validate(b.r); err != nil {
		return Rule{}, err
	}
	return b.r, nil
}
