package main

import (
	"binance-trade-bot-go/internal/app"
	"binance-trade-bot-go/internal/cli"
	"binance-trade-bot-go/internal/config"
	"binance-trade-bot-go/internal/logger"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	ucli "github.com/urfave/cli/v2"
)

func main() {
	config.LoadEnv()

	var opened *app.App
	load := func(c *ucli.Context) (*app.App, error) {
		if opened != nil {
			return opened, nil
		}
		cfg, err := config.LoadConfig(c.String("config"))
		if err != nil {
			return nil, fmt.Errorf("无法加载配置文件: %w", err)
		}
		if cfg.LogConfig.Output == "console" {
			cfg.LogConfig.Output = "stderr"
		}
		log := logger.InitLogger(cfg.LogConfig)
		a, err := app.New(c.Context, cfg, config.LoadCredentials(), nil, log)
		if err != nil {
			return nil, err
		}
		opened = a
		return a, nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cli.New(load, os.Stdout).RunContext(ctx, os.Args)
	stop()
	if opened != nil {
		if cerr := opened.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}
