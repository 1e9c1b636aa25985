/*
Package relay 单端口流量转发

每个转发器负责一个协议的一个源端口：在监听地址上接收流量并转发到固定目标。
转发规则的端口范围由上层（forwarder）展开为多个转发器。
*/
package relay

import (
	"errors"
	"net/netip"
	"time"

	"go.uber.org/atomic"
)

var ErrAlreadyStarted = errors.New("转发器已启动")

/*
Protocol 传输协议
*/
type Protocol string

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

/*
Config 转发器配置
*/
type Config struct {
	Name   string
	Listen netip.AddrPort
	Target netip.AddrPort

	BufferSize int
	/* TCP 为并发连接数上限，UDP 为会话数上限；0 表示不限制 */
	MaxConnections int
	IdleTimeout    time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
}

/*
Options 转发器可调参数，来自配置文件的 forwarder 段
*/
type Options struct {
	BufferSize     int           `yaml:"buffer_size" json:"buffer_size"`
	MaxConnections int           `yaml:"max_connections" json:"max_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

/*
DefaultOptions 返回默认转发参数
*/
func DefaultOptions() Options {
	return Options{
		BufferSize:     32 * 1024,
		MaxConnections: 1000,
		IdleTimeout:    5 * time.Minute,
		DialTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
	}
}

/*
Config 由参数生成单个转发器的配置
*/
func (o Options) Config(name string, listen, target netip.AddrPort) Config {
	return Config{
		Name:           name,
		Listen:         listen,
		Target:         target,
		BufferSize:     o.BufferSize,
		MaxConnections: o.MaxConnections,
		IdleTimeout:    o.IdleTimeout,
		DialTimeout:    o.DialTimeout,
		WriteTimeout:   o.WriteTimeout,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultOptions()
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	return c
}

/*
Relay 转发器
*/
type Relay interface {
	Start() error
	Stop() error
	Running() bool
	Stats() Snapshot
	/* Addr 返回实际监听地址（监听端口为 0 时由系统分配） */
	Addr() netip.AddrPort
}

/*
New 按协议创建转发器
*/
func New(proto Protocol, cfg Config) Relay {
	if proto == UDP {
		return NewUDPRelay(cfg)
	}
	return NewTCPRelay(cfg)
}

/*
Stats 转发器流量统计
*/
type Stats struct {
	BytesIn     atomic.Int64
	BytesOut    atomic.Int64
	TotalConns  atomic.Int64
	ActiveConns atomic.Int64
	FailedConns atomic.Int64
	StartTime   time.Time
}

/*
Snapshot 统计快照
*/
type Snapshot struct {
	BytesIn     int64 `json:"bytes_in"`
	BytesOut    int64 `json:"bytes_out"`
	TotalConns  int64 `json:"total_conns"`
	ActiveConns int64 `json:"active_conns"`
	FailedConns int64 `json:"failed_conns"`
	UptimeSecs  int64 `json:"uptime_secs"`
}

func (s *Stats) snapshot() Snapshot {
	return Snapshot{
		BytesIn:     s.BytesIn.Load(),
		BytesOut:    s.BytesOut.Load(),
		TotalConns:  s.TotalConns.Load(),
		ActiveConns: s.ActiveConns.Load(),
		FailedConns: s.FailedConns.Load(),
		UptimeSecs:  int64(time.Since(s.StartTime).Seconds()),
	}
}
