package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

/*
RedisConfig Redis 连接配置
功能：Redis 仅用于遥测事件流，未配置地址时整体跳过
*/
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	/* 连接池配置 */
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" json:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

/*
DefaultRedisConfig 返回默认 Redis 配置（地址为空，即不启用）
*/
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "",
		DB:           0,
		PoolSize:     4,
		MinIdleConns: 1,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

/*
NewRedisClient 创建 Redis 客户端
功能：根据配置初始化连接并 Ping 验证；cfg 为空或地址为空时返回 nil, nil
*/
func NewRedisClient(ctx context.Context, cfg *RedisConfig) (*redis.Client, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redis 连接失败 [%s]: %w", cfg.Addr, err)
	}

	zap.L().Named("database").Info("✓ Redis 连接成功", zap.String("addr", cfg.Addr))
	return client, nil
}
