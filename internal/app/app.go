// Package app 根据配置组装存储、交易所、市场服务和各个机器人, 供守护进程和命令行工具共用
package app

import (
	"binance-trade-bot-go/internal/bot"
	"binance-trade-bot-go/internal/bot/collective"
	"binance-trade-bot-go/internal/bot/grid"
	"binance-trade-bot-go/internal/bot/mint"
	"binance-trade-bot-go/internal/bot/splitshort"
	"binance-trade-bot-go/internal/config"
	"binance-trade-bot-go/internal/exchange"
	"binance-trade-bot-go/internal/ledger"
	"binance-trade-bot-go/internal/market"
	"binance-trade-bot-go/internal/metrics"
	"binance-trade-bot-go/internal/models"
	"binance-trade-bot-go/internal/persistence"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// App 持有所有组件
type App struct {
	Config   *models.Config
	Store    persistence.Store
	Exchange exchange.Exchange
	Market   *market.Service
	Metrics  *metrics.Metrics
	Ledger   *ledger.Ledger

	Grid       *grid.Bot
	Collective *collective.Bot
	Mint       *mint.Bot
	SplitShort *splitshort.Bot

	logger *zap.Logger
}

// Job 一个需要定时运行的机器人
type Job struct {
	Runner   bot.Runner
	Interval time.Duration
}

// OpenStore 根据配置打开状态存储
func OpenStore(ctx context.Context, cfg models.StoreConfig) (persistence.Store, error) {
	switch cfg.Backend {
	case "badger":
		return persistence.NewBadgerStore(cfg.DBPath)
	case "redis":
		return persistence.NewRedisStore(ctx, cfg.RedisURL)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// NewExchange 创建交易所客户端。模拟盘使用真实行情，订单在本地撮合。
func NewExchange(cfg *models.Config, creds config.Credentials, logger *zap.Logger) (exchange.Exchange, error) {
	live := exchange.NewBinanceExchange(creds.APIKey, creds.SecretKey, cfg.IsTestnet, logger)
	if cfg.PaperTrading {
		logger.Info("paper trading enabled, orders are matched locally")
		return exchange.NewPaperExchange(cfg.PaperBalances, cfg.TakerFeeRate, live), nil
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return nil, fmt.Errorf("BINANCE_API_KEY and BINANCE_SECRET_KEY are required for live trading")
	}
	return live, nil
}

// New 组装所有组件。mt 可以为 nil。
func New(ctx context.Context, cfg *models.Config, creds config.Credentials, mt *metrics.Metrics, logger *zap.Logger) (*App, error) {
	store, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	ex, err := NewExchange(cfg, creds, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return Assemble(cfg, store, ex, mt, logger), nil
}

// Assemble 在已有的存储和交易所之上创建市场服务和机器人
func Assemble(cfg *models.Config, store persistence.Store, ex exchange.Exchange, mt *metrics.Metrics, logger *zap.Logger) *App {
	svc := market.NewService(ex, store, market.OptionsFromConfig(cfg.Order), mt, logger)
	l := ledger.New(store)
	return &App{
		Config:     cfg,
		Store:      store,
		Exchange:   ex,
		Market:     svc,
		Metrics:    mt,
		Ledger:     l,
		Grid:       grid.New(cfg.Grid, svc, l, store, mt, logger),
		Collective: collective.New(cfg.Collective, svc, store, mt, logger),
		Mint:       mint.New(cfg.Mint, svc, store, mt, logger),
		SplitShort: splitshort.New(cfg.SplitShort, svc, store, mt, logger),
		logger:     logger,
	}
}

// Jobs 返回配置中启用的机器人
func (a *App) Jobs() []Job {
	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }
	var jobs []Job
	if a.Config.Grid.Enabled {
		jobs = append(jobs, Job{Runner: a.Grid, Interval: seconds(a.Config.Grid.IntervalSec)})
	}
	if a.Config.Collective.Enabled {
		jobs = append(jobs, Job{Runner: a.Collective, Interval: seconds(a.Config.Collective.IntervalSec)})
	}
	if a.Config.Mint.Enabled {
		jobs = append(jobs, Job{Runner: a.Mint, Interval: seconds(a.Config.Mint.IntervalSec)})
	}
	if a.Config.SplitShort.Enabled {
		jobs = append(jobs, Job{Runner: a.SplitShort, Interval: seconds(a.Config.SplitShort.IntervalSec)})
	}
	return jobs
}

// GridSymbols 网格机器人交易的交易对, 状态页展示它们的缓存价格
func (a *App) GridSymbols() []string {
	symbols := make([]string, 0, len(a.Config.Grid.Models))
	for _, m := range a.Config.Grid.Models {
		symbols = append(symbols, m.Symbol)
	}
	return symbols
}

// Logger 返回组装时使用的日志器
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Close 关闭存储
func (a *App) Close() error {
	return a.Store.Close()
}
