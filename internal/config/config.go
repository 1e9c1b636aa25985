package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"portfwd/internal/db/database"
	"portfwd/internal/forwarder"
	"portfwd/internal/pkg/logger"
	"portfwd/internal/rule"
	"portfwd/internal/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Database  database.Config      `yaml:"database"`
	Redis     database.RedisConfig `yaml:"redis"`
	Log       logger.Config        `yaml:"log"`
	Rules     rule.Limits          `yaml:"rules"`
	Forwarder forwarder.Config     `yaml:"forwarder"`
	Telemetry telemetry.Config     `yaml:"telemetry"`
}

// ServerConfig 本地控制 API 配置
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Mode         string `yaml:"mode"`          // debug, release
	ReadTimeout  int    `yaml:"read_timeout"`  // 秒
	WriteTimeout int    `yaml:"write_timeout"` // 秒

	/* 事件推送 WebSocket 订阅上限，0 表示不限制 */
	MaxEventSubscribers int `yaml:"max_event_subscribers"`
	/* 允许访问控制 API 的浏览器来源，如 http://localhost:5173；为空时拒绝所有跨域请求 */
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// Addr 监听地址
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8765,
			Mode:         "release",
			ReadTimeout:  30,
			WriteTimeout: 30,

			MaxEventSubscribers: 16,
		},
		Database: *database.DefaultConfig(),
		Redis:    *database.DefaultRedisConfig(),
		Log: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputPath: "./logs/portfwd.log",
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
		Rules:     rule.DefaultLimits(),
		Forwarder: forwarder.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LoadConfig 从文件加载配置，文件中缺少的项保留默认值
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.warnInsecureDefaults()
	return cfg, nil
}

/*
Validate 检查配置取值
*/
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > rule.MaxPortNumber {
		return fmt.Errorf("server.port 超出范围: %d", c.Server.Port)
	}
	if c.Rules.MinPort > c.Rules.MaxPort && c.Rules.MaxPort != 0 {
		return fmt.Errorf("rules.min_port (%d) 大于 rules.max_port (%d)", c.Rules.MinPort, c.Rules.MaxPort)
	}
	if c.Forwarder.PollInterval < 0 {
		return fmt.Errorf("forwarder.poll_interval 不能为负数")
	}
	return nil
}

/*
warnInsecureDefaults 控制 API 没有认证，监听非回环地址时给出警告
*/
func (c *Config) warnInsecureDefaults() {
	ip := net.ParseIP(c.Server.Host)
	if ip != nil && ip.IsLoopback() || c.Server.Host == "localhost" {
		return
	}
	fmt.Printf("[SECURITY WARNING] 控制 API 监听在 %s，任何可访问该地址的主机都能修改转发规则\n", c.Server.Host)
}

/*
RestartRequired 两份配置之间是否有只能重启后生效的变化
功能：端口限制、数据库、Redis 和控制 API 的配置在启动时固定
*/
func RestartRequired(old, next *Config) bool {
	return old.Rules != next.Rules ||
		old.Database != next.Database ||
		old.Redis != next.Redis ||
		!cmp.Equal(old.Server, next.Server, cmpopts.EquateEmpty())
}

// LoadConfigOrDefault 加载配置或使用默认值
func LoadConfigOrDefault(path string) *Config {
	if path == "" {
		return DefaultConfig()
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		fmt.Printf("加载配置失败: %v，使用默认配置\n", err)
		return DefaultConfig()
	}
	return cfg
}

// SaveConfig 保存配置到文件
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	/* 0600：配置中可能包含数据库与 Redis 密码 */
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}
