package main

import (
	"binance-trade-bot-go/internal/app"
	"binance-trade-bot-go/internal/config"
	"binance-trade-bot-go/internal/logger"
	"binance-trade-bot-go/internal/metrics"
	"binance-trade-bot-go/internal/models"
	"binance-trade-bot-go/internal/scheduler"
	"binance-trade-bot-go/internal/web"
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	// 在加载配置之前先使用默认日志配置
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if config.LoadEnv() {
		logger.S().Info("成功从 .env 文件加载配置。")
	} else {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	log := logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mt := metrics.New()
	if err := mt.Register(prometheus.DefaultRegisterer); err != nil {
		logger.S().Fatalf("注册指标失败: %v", err)
	}

	a, err := app.New(ctx, cfg, config.LoadCredentials(), mt, log)
	if err != nil {
		logger.S().Fatalf("初始化失败: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("failed to close store", zap.Error(err))
		}
	}()

	sched := scheduler.New(mt, log)
	for _, job := range a.Jobs() {
		if err := sched.Add(job.Runner, job.Interval); err != nil {
			logger.S().Fatalf("无法添加任务: %v", err)
		}
	}
	if len(a.Jobs()) == 0 {
		logger.S().Warn("配置中没有启用任何机器人。")
	}

	var srv *web.Server
	if cfg.Web.Enabled {
		srv = web.NewServer(cfg.Web, a.Store, a.Ledger, a.GridSymbols(), prometheus.DefaultGatherer, log)
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				log.Error("status page stopped", zap.Error(err))
				stop()
			}
		}()
	}

	if cfg.PaperTrading {
		logger.S().Info("--- 启动模拟盘交易 ---")
	} else if cfg.IsTestnet {
		logger.S().Info("--- 使用币安测试网 ---")
	} else {
		logger.S().Info("--- 启动实时交易模式 ---")
	}
	sched.Start(ctx)

	<-ctx.Done()
	logger.S().Info("收到退出信号，正在停止...")

	sched.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("status page shutdown failed", zap.Error(err))
		}
	}
	logger.S().Info("机器人已成功停止。")
}
