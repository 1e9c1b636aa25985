/*
Package telemetry 规则变更事件上报

事件只用于统计分析，发送失败或丢弃都不会影响规则的写入结果。
*/
package telemetry

import (
	"fmt"
	"time"

	"portfwd/internal/rule"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

/*
EventType 事件类型
*/
type EventType string

const (
	EventRuleSaved   EventType = "rule_saved"
	EventRuleDeleted EventType = "rule_deleted"
)

/*
Event 规则变更事件
*/
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	RuleID    int64     `json:"rule_id"`
	RuleName  string    `json:"rule_name,omitempty"`
	Protocol  string    `json:"protocol,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

/*
SavedEvent 构造规则保存事件
*/
func SavedEvent(r rule.Rule) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      EventRuleSaved,
		RuleID:    r.ID(),
		RuleName:  r.Name(),
		Protocol:  r.ProtocolString(),
		Timestamp: time.Now(),
	}
}

/*
DeletedEvent 构造规则删除事件
*/
func DeletedEvent(id int64) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      EventRuleDeleted,
		RuleID:    id,
		Timestamp: time.Now(),
	}
}

/*
Sink 事件接收端
功能：Emit 不得阻塞调用方，也不返回错误
*/
type Sink interface {
	Emit(e Event)
	Close() error
}

/*
Nop 丢弃所有事件
*/
type Nop struct{}

func (Nop) Emit(Event)   {}
func (Nop) Close() error { return nil }

/*
LogSink 把事件写入 zap 日志
*/
type LogSink struct {
	logger *zap.Logger
}

/*
NewLogSink 创建日志事件接收端
*/
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.L().Named("telemetry")
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(e Event) {
	s.logger.Info("规则事件",
		zap.String("event_id", e.ID),
		zap.String("type", string(e.Type)),
		zap.Int64("rule_id", e.RuleID),
		zap.String("rule_name", e.RuleName),
		zap.String("protocol", e.Protocol),
		zap.Time("timestamp", e.Timestamp))
}

func (s *LogSink) Close() error { return nil }

/*
Config 遥测配置
*/
type Config struct {
	/* none / log / redis */
	Sink       string `yaml:"sink" json:"sink"`
	Stream     string `yaml:"stream" json:"stream"`
	MaxLen     int64  `yaml:"max_len" json:"max_len"`
	BufferSize int    `yaml:"buffer_size" json:"buffer_size"`
}

/*
DefaultConfig 返回默认遥测配置
*/
func DefaultConfig() Config {
	return Config{
		Sink:       "log",
		Stream:     "portfwd:rule_events",
		MaxLen:     10000,
		BufferSize: 256,
	}
}

/*
New 按配置创建事件接收端
功能：配置为 redis 但没有可用的 Redis 连接时退回日志接收端
*/
func New(cfg Config, client *redis.Client) (Sink, error) {
	switch cfg.Sink {
	case "", "none":
		return Nop{}, nil
	case "log":
		return NewLogSink(nil), nil
	case "redis":
		if client == nil {
			zap.L().Named("telemetry").Warn("Redis 未配置，遥测事件改写入日志")
			return NewLogSink(nil), nil
		}
		return NewRedisSink(client, cfg), nil
	default:
		return nil, fmt.Errorf("不支持的遥测接收端: %s, 支持: none/log/redis", cfg.Sink)
	}
}
