package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

/*
Manager 数据库管理器
功能：统一管理 GORM 数据库连接和可选的 Redis 连接，
提供初始化、迁移、关闭等生命周期管理
*/
type Manager struct {
	DB    *gorm.DB
	Redis *redis.Client

	dbConfig *Config
	logger   *zap.Logger
}

/*
ManagerConfig 管理器配置
*/
type ManagerConfig struct {
	Database *Config      `yaml:"database" json:"database"`
	Redis    *RedisConfig `yaml:"redis" json:"redis"`
}

/*
DefaultManagerConfig 返回默认管理器配置
*/
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		Database: DefaultConfig(),
		Redis:    DefaultRedisConfig(),
	}
}

/*
NewManager 创建数据库管理器
功能：初始化数据库连接并自动迁移；Redis 为可选组件，连接失败只记录警告
*/
func NewManager(ctx context.Context, cfg *ManagerConfig) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultManagerConfig()
	}
	if cfg.Database == nil {
		cfg.Database = DefaultConfig()
	}

	manager := &Manager{
		dbConfig: cfg.Database,
		logger:   zap.L().Named("database"),
	}

	db, err := NewDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	manager.DB = db

	if err := AutoMigrate(db); err != nil {
		_ = manager.Close()
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	if cfg.Redis != nil && cfg.Redis.Addr != "" {
		client, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			manager.logger.Warn("Redis 连接失败，遥测事件不会写入 Redis", zap.Error(err))
		} else {
			manager.Redis = client
		}
	}

	return manager, nil
}

/*
Close 关闭所有连接
*/
func (m *Manager) Close() error {
	var err error

	if m.DB != nil {
		if sqlDB, dbErr := m.DB.DB(); dbErr == nil {
			if closeErr := sqlDB.Close(); closeErr != nil {
				err = multierr.Append(err, fmt.Errorf("关闭数据库连接失败: %w", closeErr))
			}
		}
	}

	if m.Redis != nil {
		if closeErr := m.Redis.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("关闭 Redis 连接失败: %w", closeErr))
		}
	}

	if err == nil {
		m.logger.Info("✓ 所有数据库连接已关闭")
	}
	return err
}

/*
HealthCheck 健康检查
功能：检测数据库和 Redis 的连接状态
*/
func (m *Manager) HealthCheck(ctx context.Context) map[string]interface{} {
	result := map[string]interface{}{
		"database_type": string(m.dbConfig.Type),
	}

	if m.DB != nil {
		sqlDB, err := m.DB.DB()
		if err == nil {
			if err := sqlDB.PingContext(ctx); err == nil {
				result["database_status"] = "connected"
				stats := sqlDB.Stats()
				result["database_stats"] = map[string]interface{}{
					"open_connections": stats.OpenConnections,
					"in_use":           stats.InUse,
					"idle":             stats.Idle,
				}
			} else {
				result["database_status"] = "error"
				result["database_error"] = err.Error()
			}
		}
	}

	if m.Redis != nil {
		if err := m.Redis.Ping(ctx).Err(); err == nil {
			result["redis_status"] = "connected"
		} else {
			result["redis_status"] = "disconnected"
		}
	} else {
		result["redis_status"] = "not_configured"
	}

	return result
}
