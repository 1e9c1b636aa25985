/*
Package store 转发规则的持久化存储

写操作（Insert/Update/Delete）在写锁内串行执行，且写入前必须通过规则校验；
读操作不加锁，直接读取数据库的语句级快照，可与写操作并发。
*/
package store

import (
	"sync"
	"time"

	"portfwd/internal/db/dao"
	"portfwd/internal/rule"
	"portfwd/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

/*
Options 存储可选项
*/
type Options struct {
	/* 写入前使用的校验器，为空时使用默认端口限制 */
	Validator *rule.Validator
	/* 规则变更事件接收端，为空时不上报 */
	Sink telemetry.Sink
	/* 指标注册器，为空时指标不对外暴露 */
	Registerer prometheus.Registerer
}

/*
Store 规则存储
*/
type Store struct {
	dao       *dao.DAO
	validator *rule.Validator
	sink      telemetry.Sink
	metrics   *metrics
	logger    *zap.Logger

	writeMu sync.Mutex
}

/*
New 创建规则存储
*/
func New(d *dao.DAO, opts Options) *Store {
	if opts.Validator == nil {
		opts.Validator = rule.Default()
	}
	if opts.Sink == nil {
		opts.Sink = telemetry.Nop{}
	}
	return &Store{
		dao:       d,
		validator: opts.Validator,
		sink:      opts.Sink,
		metrics:   newMetrics(opts.Registerer),
		logger:    zap.L().Named("rule-store"),
	}
}

/*
Validator 返回写入时使用的校验器
*/
func (s *Store) Validator() *rule.Validator {
	return s.validator
}

/*
Insert 新增规则
功能：校验失败时不写入；忽略规则携带的 ID，由数据库分配新 ID
返回：新规则 ID
*/
func (s *Store) Insert(r rule.Rule) (id int64, err error) {
	defer func(start time.Time) { s.metrics.observe("insert", start, err) }(time.Now())

	if err := s.validator.Validate(r); err != nil {
		s.logger.Warn("拒绝写入无效规则", append(ruleFields(r), zap.Error(err))...)
		return 0, invalidRule(err)
	}

	row := rule.ToRow(r)

	s.writeMu.Lock()
	err = s.dao.CreateRuleRow(&row)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Error("新增规则失败", append(ruleFields(r), zap.Error(err))...)
		return 0, storageErr("insert", err)
	}

	saved := r.WithID(row.ID)
	s.logger.Info("新增规则", ruleFields(saved)...)
	s.sink.Emit(telemetry.SavedEvent(saved))
	return row.ID, nil
}

/*
Update 按 ID 整行覆盖规则
功能：规则必须携带已分配的 ID 并通过校验；ID 不存在时返回 *NotFoundError
*/
func (s *Store) Update(r rule.Rule) (err error) {
	defer func(start time.Time) { s.metrics.observe("update", start, err) }(time.Now())

	if r.ID() <= 0 {
		return ErrMissingID
	}
	if err := s.validator.Validate(r); err != nil {
		s.logger.Warn("拒绝写入无效规则", append(ruleFields(r), zap.Error(err))...)
		return invalidRule(err)
	}

	row := rule.ToRow(r)

	s.writeMu.Lock()
	affected, err := s.dao.ReplaceRuleRow(&row)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Error("更新规则失败", append(ruleFields(r), zap.Error(err))...)
		return storageErr("update", err)
	}
	if affected == 0 {
		s.logger.Warn("更新的规则不存在", zap.Int64("id", r.ID()))
		return &NotFoundError{ID: r.ID()}
	}

	s.logger.Info("更新规则", ruleFields(r)...)
	s.sink.Emit(telemetry.SavedEvent(r))
	return nil
}

/*
SetEnabled 启用或禁用规则
功能：在写锁内读取当前行并整行写回，与并发的 Update 串行执行，
不会用旧内容覆盖已经提交的修改
返回：写入后的规则
*/
func (s *Store) SetEnabled(id int64, enabled bool) (r rule.Rule, err error) {
	defer func(start time.Time) { s.metrics.observe("set_enabled", start, err) }(time.Now())

	if id <= 0 {
		return rule.Rule{}, ErrMissingID
	}

	s.writeMu.Lock()
	r, err = s.setEnabledLocked(id, enabled)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Warn("切换规则启用状态失败", zap.Int64("id", id), zap.Bool("enabled", enabled), zap.Error(err))
		return rule.Rule{}, err
	}

	s.logger.Info("切换规则启用状态", ruleFields(r)...)
	s.sink.Emit(telemetry.SavedEvent(r))
	return r, nil
}

func (s *Store) setEnabledLocked(id int64, enabled bool) (rule.Rule, error) {
	row, err := s.dao.GetRuleRow(id)
	if err != nil {
		return rule.Rule{}, readErr("set_enabled", err)
	}
	if row == nil {
		return rule.Rule{}, &NotFoundError{ID: id}
	}
	current, err := rule.FromRow(*row)
	if err != nil {
		return rule.Rule{}, err
	}

	next := current.WithEnabled(enabled)
	if err := s.validator.Validate(next); err != nil {
		return rule.Rule{}, invalidRule(err)
	}

	updated := rule.ToRow(next)
	affected, err := s.dao.ReplaceRuleRow(&updated)
	if err != nil {
		return rule.Rule{}, storageErr("set_enabled", err)
	}
	if affected == 0 {
		return rule.Rule{}, &NotFoundError{ID: id}
	}
	return next, nil
}

/*
Get 按 ID 读取规则
*/
func (s *Store) Get(id int64) (r rule.Rule, err error) {
	defer func(start time.Time) { s.metrics.observe("get", start, err) }(time.Now())

	row, err := s.dao.GetRuleRow(id)
	if err != nil {
		s.logger.Error("读取规则失败", zap.Int64("id", id), zap.Error(err))
		return rule.Rule{}, readErr("get", err)
	}
	if row == nil {
		return rule.Rule{}, &NotFoundError{ID: id}
	}

	r, err = rule.FromRow(*row)
	if err != nil {
		s.logger.Error("规则解码失败", zap.Int64("id", id), zap.Error(err))
		return rule.Rule{}, err
	}

	s.logger.Debug("读取规则", ruleFields(r)...)
	return r, nil
}

/*
GetAll 读取全部规则
功能：按 ID 倒序（最新创建的在前）；任何一行解码失败则整个读取失败
*/
func (s *Store) GetAll() (rules []rule.Rule, err error) {
	defer func(start time.Time) { s.metrics.observe("get_all", start, err) }(time.Now())
	return s.list()
}

/*
GetEnabled 读取已启用的规则
功能：在 GetAll 的结果上过滤，转发引擎周期性调用
*/
func (s *Store) GetEnabled() (enabled []rule.Rule, err error) {
	defer func(start time.Time) { s.metrics.observe("get_enabled", start, err) }(time.Now())

	all, err := s.list()
	if err != nil {
		return nil, err
	}

	enabled = make([]rule.Rule, 0, len(all))
	for _, r := range all {
		if r.Enabled() {
			enabled = append(enabled, r)
		}
	}
	s.metrics.enabled.Set(float64(len(enabled)))
	s.logger.Debug("读取已启用规则", zap.Int("count", len(enabled)), zap.Int("total", len(all)))
	return enabled, nil
}

func (s *Store) list() ([]rule.Rule, error) {
	rows, err := s.dao.ListRuleRows()
	if err != nil {
		s.logger.Error("读取规则列表失败", zap.Error(err))
		return nil, readErr("list", err)
	}

	rules := make([]rule.Rule, 0, len(rows))
	for _, row := range rows {
		r, err := rule.FromRow(row)
		if err != nil {
			s.logger.Error("规则解码失败", zap.Int64("id", row.ID), zap.Error(err))
			return nil, err
		}
		rules = append(rules, r)
	}
	s.metrics.total.Set(float64(len(rules)))
	return rules, nil
}

/*
Delete 删除规则
功能：幂等，ID 不存在时返回 false 且不报错
*/
func (s *Store) Delete(id int64) (removed bool, err error) {
	defer func(start time.Time) { s.metrics.observe("delete", start, err) }(time.Now())

	s.writeMu.Lock()
	affected, err := s.dao.DeleteRuleRow(id)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Error("删除规则失败", zap.Int64("id", id), zap.Error(err))
		return false, storageErr("delete", err)
	}
	if affected == 0 {
		s.logger.Debug("删除的规则不存在", zap.Int64("id", id))
		return false, nil
	}

	s.logger.Info("删除规则", zap.Int64("id", id))
	s.sink.Emit(telemetry.DeletedEvent(id))
	return true, nil
}

/*
Count 规则总数
*/
func (s *Store) Count() (n int64, err error) {
	defer func(start time.Time) { s.metrics.observe("count", start, err) }(time.Now())

	n, err = s.dao.CountRuleRows()
	if err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

func ruleFields(r rule.Rule) []zap.Field {
	first, last := r.SourcePorts()
	return []zap.Field{
		zap.Int64("id", r.ID()),
		zap.String("name", r.Name()),
		zap.String("protocol", r.ProtocolString()),
		zap.String("source_interface", r.SourceInterface()),
		zap.Int("source_port_min", first),
		zap.Int("source_port_max", last),
		zap.String("target_ip", r.TargetIP()),
		zap.Int("target_port_min", r.TargetPortMin()),
		zap.Bool("enabled", r.Enabled()),
	}
}
