package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const redisWriteTimeout = 3 * time.Second

/*
RedisSink 把事件写入 Redis Stream
功能：Emit 只把事件放入缓冲队列，由后台协程 XADD；队列满时直接丢弃
*/
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64

	events  chan Event
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	dropped atomic.Int64
	failed  atomic.Int64

	logger *zap.Logger
}

/*
NewRedisSink 创建 Redis 事件接收端并启动写入协程
*/
func NewRedisSink(client *redis.Client, cfg Config) *RedisSink {
	def := DefaultConfig()
	if cfg.Stream == "" {
		cfg.Stream = def.Stream
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	s := &RedisSink{
		client: client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
		events: make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
		logger: zap.L().Named("telemetry"),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *RedisSink) Emit(e Event) {
	select {
	case <-s.done:
		s.dropped.Inc()
		return
	default:
	}

	select {
	case s.events <- e:
	default:
		s.dropped.Inc()
	}
}

/*
Close 停止写入协程
功能：先写完队列中剩余的事件再返回
*/
func (s *RedisSink) Close() error {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
	if n := s.dropped.Load(); n > 0 {
		s.logger.Warn("部分遥测事件被丢弃", zap.Int64("dropped", n))
	}
	return nil
}

/*
Dropped 返回被丢弃的事件数
*/
func (s *RedisSink) Dropped() int64 { return s.dropped.Load() }

/*
Failed 返回写入 Redis 失败的事件数
*/
func (s *RedisSink) Failed() int64 { return s.failed.Load() }

func (s *RedisSink) run() {
	defer s.wg.Done()
	for {
		select {
		case e := <-s.events:
			s.write(e)
		case <-s.done:
			for {
				select {
				case e := <-s.events:
					s.write(e)
				default:
					return
				}
			}
		}
	}
}

func (s *RedisSink) write(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), redisWriteTimeout)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"id":        e.ID,
			"type":      string(e.Type),
			"rule_id":   e.RuleID,
			"rule_name": e.RuleName,
			"protocol":  e.Protocol,
			"timestamp": e.Timestamp.UnixMilli(),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		s.failed.Inc()
		s.logger.Debug("写入遥测事件失败", zap.String("event_id", e.ID), zap.Error(err))
	}
}
