package initializer

import (
	"fmt"
	"os"
	"path/filepath"

	"portfwd/internal/config"
	"portfwd/internal/pkg/logger"

	"go.uber.org/zap"
)

// IsFirstRun 检查是否首次运行（配置文件不存在）
func IsFirstRun(configPath string) bool {
	_, err := os.Stat(configPath)
	return os.IsNotExist(err)
}

// InitConfig 生成默认配置文件
func InitConfig(configPath string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := config.SaveConfig(cfg, configPath); err != nil {
		return nil, fmt.Errorf("保存配置文件失败: %w", err)
	}

	logger.Info("✓ 配置文件已生成", zap.String("path", configPath))
	return cfg, nil
}

/*
InitDirectories 创建配置中引用的目录
功能：SQLite 数据库目录和日志目录；内存数据库或未配置日志文件时跳过
*/
func InitDirectories(cfg *config.Config) error {
	var dirs []string
	if p := cfg.Database.SQLitePath; p != "" && p != ":memory:" {
		dirs = append(dirs, filepath.Dir(p))
	}
	if p := cfg.Log.OutputPath; p != "" {
		dirs = append(dirs, filepath.Dir(p))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败 %s: %w", dir, err)
		}
	}
	return nil
}

// PrintWelcome 打印启动信息
func PrintWelcome(version, apiAddr string) {
	fmt.Printf(`
  portfwd %s
  端口转发规则管理与转发引擎
  控制 API: http://%s/api/v1/rules

`, version, apiAddr)
}
