package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portfwd/internal/api"
	"portfwd/internal/config"
	"portfwd/internal/db/dao"
	"portfwd/internal/db/database"
	"portfwd/internal/forwarder"
	"portfwd/internal/netif"
	"portfwd/internal/pkg/initializer"
	"portfwd/internal/pkg/logger"
	"portfwd/internal/rule"
	"portfwd/internal/store"
	"portfwd/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var version = "dev"

var (
	configPath  = flag.String("config", "./config.yaml", "配置文件路径")
	port        = flag.Int("port", 0, "覆盖控制 API 端口")
	showVersion = flag.Bool("version", false, "打印版本并退出")
)

/*
main 程序入口
启动流程：
 1. 引导日志 → 首次运行生成默认配置
 2. 加载配置 → 用配置重新初始化日志
 3. 数据库（SQLite/MySQL/Postgres + 可选 Redis）→ 规则存储
 4. 转发引擎开始轮询已启用规则
 5. 控制 API + 配置热更新
 6. 等待 SIGINT/SIGTERM → 优雅关闭
*/
func main() {
	startupBegin := time.Now()
	flag.Parse()
	if *showVersion {
		fmt.Println(version)
		return
	}

	/* 阶段 1：引导日志 */
	if err := logger.Init(&logger.Config{Level: "info", Format: "console"}); err != nil {
		log.Fatalf("初始化日志系统失败: %v", err)
	}
	defer logger.Sync()

	var cfg *config.Config
	if initializer.IsFirstRun(*configPath) {
		generated, err := initializer.InitConfig(*configPath)
		if err != nil {
			logger.Fatal("初始化配置失败", zap.Error(err))
		}
		cfg = generated
	} else {
		cfg = config.LoadConfigOrDefault(*configPath)
	}
	/* 热更新比较的基准是文件内容，命令行覆盖不参与比较 */
	fileCfg := *cfg
	if *port > 0 {
		cfg.Server.Port = *port
	}

	/* 阶段 2：用配置重新初始化日志 */
	if err := initializer.InitDirectories(cfg); err != nil {
		logger.Fatal("初始化目录失败", zap.Error(err))
	}
	logCfg := cfg.Log
	if err := logger.Init(&logCfg); err != nil {
		logger.Fatal("重新初始化日志系统失败", zap.Error(err))
	}
	initializer.PrintWelcome(version, cfg.Server.Addr())

	/* 阶段 3：数据库与规则存储 */
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbStart := time.Now()
	dbCfg, redisCfg := cfg.Database, cfg.Redis
	dbManager, err := database.NewManager(ctx, &database.ManagerConfig{Database: &dbCfg, Redis: &redisCfg})
	if err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer dbManager.Close()
	logger.Info("✓ 数据库初始化完成", zap.Duration("耗时", time.Since(dbStart)))

	reporter, err := telemetry.New(cfg.Telemetry, dbManager.Redis)
	if err != nil {
		logger.Fatal("初始化遥测失败", zap.Error(err))
	}
	hub := telemetry.NewHub()
	sink := telemetry.Multi(reporter, hub)
	defer sink.Close()

	ruleStore := store.New(dao.New(dbManager.DB), store.Options{
		Validator:  rule.NewValidator(cfg.Rules),
		Sink:       sink,
		Registerer: prometheus.DefaultRegisterer,
	})
	if n, err := ruleStore.Count(); err == nil {
		logger.Info("✓ 规则存储就绪", zap.Int64("rules", n))
	}

	/* 阶段 4：转发引擎 */
	interfaces := netif.New()
	manager := forwarder.NewManager(ruleStore, interfaces, cfg.Forwarder)
	prometheus.MustRegister(manager)
	manager.Start(ctx)
	defer manager.Stop()

	/* 阶段 5：控制 API 与配置热更新 */
	router := api.SetupRouter(&api.App{
		Mode:       cfg.Server.Mode,
		Version:    version,
		Store:      ruleStore,
		Interfaces: interfaces,
		Bindings:   manager,
		Health:     dbManager,

		Events:         hub,
		MaxSubscribers: cfg.Server.MaxEventSubscribers,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
	go func() {
		logger.Info("✓ 控制 API 启动", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("控制 API 异常退出", zap.Error(err))
		}
	}()

	if watcher, err := config.NewWatcher(*configPath, &fileCfg); err != nil {
		logger.Warn("配置热更新不可用", zap.Error(err))
	} else {
		defer watcher.Close()
		watcher.Subscribe(func(old, next *config.Config) {
			logger.SetLevel(next.Log.Level)
			manager.SetPollInterval(next.Forwarder.PollInterval)
			if config.RestartRequired(old, next) {
				logger.Warn("端口限制、数据库和控制 API 的配置需要重启后生效")
			}
		})
	}

	logger.Info("✓ portfwd 启动完成", zap.Duration("总耗时", time.Since(startupBegin)))

	/* 阶段 6：等待退出信号 */
	<-ctx.Done()
	logger.Info("收到退出信号，正在优雅关闭...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("关闭控制 API 失败", zap.Error(err))
	}
	logger.Info("✓ 控制 API 已停止")
}
