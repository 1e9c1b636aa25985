/*
Package forwarder 转发引擎

周期性读取已启用的规则，展开为 (协议, 源端口) 级别的绑定，
按差异启动或停止转发器，使运行中的转发器与规则保持一致。
*/
package forwarder

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"sync"
	"time"

	"portfwd/internal/netif"
	"portfwd/internal/relay"
	"portfwd/internal/rule"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

/*
Source 已启用规则的来源，通常是 store.Store
*/
type Source interface {
	GetEnabled() ([]rule.Rule, error)
}

/*
Config 转发引擎配置
*/
type Config struct {
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	relay.Options `yaml:",inline"`
}

/*
DefaultConfig 返回默认转发引擎配置
*/
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		Options:      relay.DefaultOptions(),
	}
}

/*
Binding 单个转发绑定
*/
type Binding struct {
	RuleID   int64          `json:"rule_id"`
	RuleName string         `json:"rule_name"`
	Protocol relay.Protocol `json:"protocol"`
	Listen   netip.AddrPort `json:"listen"`
	Target   netip.AddrPort `json:"target"`
}

type bindingKey struct {
	proto  relay.Protocol
	listen netip.AddrPort
}

func (b Binding) key() bindingKey { return bindingKey{proto: b.Protocol, listen: b.Listen} }

/*
Status 运行中的绑定及其统计
*/
type Status struct {
	Binding
	Stats relay.Snapshot `json:"stats"`
}

type entry struct {
	binding Binding
	relay   relay.Relay
}

/* relayFactory 与 relay.New 一致，测试中替换 */
type relayFactory func(proto relay.Protocol, cfg relay.Config) relay.Relay

/*
Manager 转发引擎
*/
type Manager struct {
	source   Source
	resolver netif.Resolver
	options  relay.Options
	factory  relayFactory
	logger   *zap.Logger

	pollInterval atomic.Duration
	intervalCh   chan struct{}

	mu     sync.Mutex
	active map[bindingKey]*entry

	reconciles atomic.Int64
	failures   atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

/*
NewManager 创建转发引擎
*/
func NewManager(source Source, resolver netif.Resolver, cfg Config) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	m := &Manager{
		source:     source,
		resolver:   resolver,
		options:    cfg.Options,
		factory:    relay.New,
		logger:     zap.L().Named("forwarder"),
		intervalCh: make(chan struct{}, 1),
		active:     make(map[bindingKey]*entry),
	}
	m.pollInterval.Store(cfg.PollInterval)
	return m
}

/*
Start 启动轮询
功能：立即同步一次，之后每个轮询周期同步一次，直到 ctx 取消或调用 Stop
*/
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(ctx)
	m.logger.Info("转发引擎已启动", zap.Duration("poll_interval", m.pollInterval.Load()))
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)

	m.reconcileAndLog(ctx)

	ticker := time.NewTicker(m.pollInterval.Load())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.intervalCh:
			ticker.Reset(m.pollInterval.Load())
		case <-ticker.C:
			m.reconcileAndLog(ctx)
		}
	}
}

func (m *Manager) reconcileAndLog(ctx context.Context) {
	if err := m.Reconcile(ctx); err != nil {
		m.logger.Error("同步转发规则失败", zap.Error(err))
	}
}

/*
SetPollInterval 修改轮询周期（配置热更新）
*/
func (m *Manager) SetPollInterval(d time.Duration) {
	if d <= 0 || d == m.pollInterval.Load() {
		return
	}
	m.pollInterval.Store(d)
	select {
	case m.intervalCh <- struct{}{}:
	default:
	}
	m.logger.Info("轮询周期已更新", zap.Duration("poll_interval", d))
}

/*
PollInterval 当前轮询周期
*/
func (m *Manager) PollInterval() time.Duration { return m.pollInterval.Load() }

/*
Reconcile 同步一次
功能：读取失败时保持现有转发器不变；单个绑定启动失败只记录日志，下个周期重试
*/
func (m *Manager) Reconcile(ctx context.Context) error {
	rules, err := m.source.GetEnabled()
	if err != nil {
		m.failures.Inc()
		return fmt.Errorf("读取已启用规则失败: %w", err)
	}
	m.reconciles.Inc()

	desired := m.expand(ctx, rules)

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, e := range m.active {
		want, ok := desired[key]
		if ok && want == e.binding {
			continue
		}
		m.stopEntry(e)
		delete(m.active, key)
	}

	keys := make([]bindingKey, 0, len(desired))
	for key := range desired {
		if _, ok := m.active[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].listen != keys[j].listen {
			return keys[i].listen.Compare(keys[j].listen) < 0
		}
		return keys[i].proto < keys[j].proto
	})

	for _, key := range keys {
		b := desired[key]
		r := m.factory(b.Protocol, m.options.Config(bindingName(b), b.Listen, b.Target))
		if err := r.Start(); err != nil {
			m.failures.Inc()
			m.logger.Warn("启动转发器失败",
				zap.Int64("rule_id", b.RuleID),
				zap.String("protocol", string(b.Protocol)),
				zap.String("listen", b.Listen.String()),
				zap.Error(err))
			continue
		}
		m.active[key] = &entry{binding: b, relay: r}
	}
	return nil
}

/*
expand 把规则展开为绑定
功能：规则按 ID 倒序给出，同一监听端口被多个规则占用时保留最新的规则
*/
func (m *Manager) expand(ctx context.Context, rules []rule.Rule) map[bindingKey]Binding {
	desired := make(map[bindingKey]Binding)

	for _, r := range rules {
		addr, err := m.resolver.ListenAddress(ctx, r.SourceInterface())
		if err != nil {
			m.logger.Warn("无法确定监听地址，跳过规则",
				zap.Int64("rule_id", r.ID()),
				zap.String("interface", r.SourceInterface()),
				zap.Error(err))
			continue
		}

		var protos []relay.Protocol
		if r.TCP() {
			protos = append(protos, relay.TCP)
		}
		if r.UDP() {
			protos = append(protos, relay.UDP)
		}

		first, _ := r.SourcePorts()
		for offset := 0; offset < r.SourcePortCount(); offset++ {
			target, err := r.TargetAddress(offset)
			if err != nil {
				m.logger.Warn("目标端口超出范围，截断规则",
					zap.Int64("rule_id", r.ID()),
					zap.Int("offset", offset),
					zap.Error(err))
				break
			}
			listen := netip.AddrPortFrom(addr, uint16(first+offset))

			for _, p := range protos {
				b := Binding{RuleID: r.ID(), RuleName: r.Name(), Protocol: p, Listen: listen, Target: target}
				if prev, taken := desired[b.key()]; taken {
					m.logger.Warn("监听端口冲突，忽略较早的规则",
						zap.Int64("rule_id", r.ID()),
						zap.Int64("kept_rule_id", prev.RuleID),
						zap.String("listen", listen.String()))
					continue
				}
				desired[b.key()] = b
			}
		}
	}
	return desired
}

func (m *Manager) stopEntry(e *entry) {
	if err := e.relay.Stop(); err != nil {
		m.logger.Debug("停止转发器", zap.String("listen", e.binding.Listen.String()), zap.Error(err))
	}
}

/*
Bindings 当前运行中的绑定
功能：按监听地址、协议排序
*/
func (m *Manager) Bindings() []Status {
	m.mu.Lock()
	out := make([]Status, 0, len(m.active))
	for _, e := range m.active {
		out = append(out, Status{Binding: e.binding, Stats: e.relay.Stats()})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Listen != out[j].Listen {
			return out[i].Listen.Compare(out[j].Listen) < 0
		}
		return out[i].Protocol < out[j].Protocol
	})
	return out
}

/*
Stop 停止轮询并关闭全部转发器
*/
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.active {
		m.stopEntry(e)
		delete(m.active, key)
	}
	m.logger.Info("转发引擎已停止")
}

func bindingName(b Binding) string {
	return "rule-" + strconv.FormatInt(b.RuleID, 10) + "/" + string(b.Protocol) + "/" + strconv.Itoa(int(b.Listen.Port()))
}
