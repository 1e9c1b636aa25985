package telemetry

import (
	"testing"
	"time"

	"portfwd/internal/rule"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func sampleRule(t *testing.T) rule.Rule {
	t.Helper()
	r, err := rule.NewBuilder().
		ID(7).
		Name("ssh").
		TCP(true).
		SourceInterface("eth0").
		SourcePortMin(2222).
		TargetIP("10.0.0.5").
		TargetPortMin(22).
		Build(nil)
	require.NoError(t, err)
	return r
}

func TestSavedEvent(t *testing.T) {
	e := SavedEvent(sampleRule(t))
	assert.Equal(t, EventRuleSaved, e.Type)
	assert.Equal(t, int64(7), e.RuleID)
	assert.Equal(t, "ssh", e.RuleName)
	assert.Equal(t, "TCP", e.Protocol)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())

	other := DeletedEvent(7)
	assert.Equal(t, EventRuleDeleted, other.Type)
	assert.NotEqual(t, e.ID, other.ID)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	sink.Emit(DeletedEvent(3))
	require.NoError(t, sink.Close())

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "rule_deleted", fields["type"])
	assert.Equal(t, int64(3), fields["rule_id"])
}

func TestNew(t *testing.T) {
	s, err := New(Config{Sink: "none"}, nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, s)

	s, err = New(Config{Sink: "log"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LogSink{}, s)

	/* 没有 Redis 连接时退回日志 */
	s, err = New(Config{Sink: "redis"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LogSink{}, s)

	_, err = New(Config{Sink: "kafka"}, nil)
	assert.Error(t, err)
}

func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisSink_FailuresDoNotBlock(t *testing.T) {
	sink := NewRedisSink(unreachableClient(t), Config{BufferSize: 8})

	start := time.Now()
	for i := 0; i < 3; i++ {
		sink.Emit(DeletedEvent(int64(i)))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond, "Emit 不应等待 Redis")

	require.NoError(t, sink.Close())
	assert.Equal(t, int64(3), sink.Failed()+sink.Dropped())
	assert.Equal(t, int64(0), sink.Dropped())
}

func TestRedisSink_DropsWhenFull(t *testing.T) {
	sink := NewRedisSink(unreachableClient(t), Config{BufferSize: 1})

	for i := 0; i < 200; i++ {
		sink.Emit(DeletedEvent(int64(i)))
	}
	require.NoError(t, sink.Close())
	assert.Greater(t, sink.Dropped(), int64(0))
	assert.Equal(t, int64(200), sink.Failed()+sink.Dropped())

	/* 关闭后的事件直接丢弃 */
	sink.Emit(DeletedEvent(1))
	assert.Equal(t, int64(201), sink.Failed()+sink.Dropped())
}
