package models

import (
	"fmt"
	"time"
)

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	IsTestnet     bool               `json:"is_testnet"`     // 是否使用币安测试网
	PaperTrading  bool               `json:"paper_trading"`  // 模拟盘: 使用真实行情，但订单在本地撮合
	PaperBalances map[string]float64 `json:"paper_balances"` // 模拟盘初始余额, e.g. {"USDT": 1000}
	TakerFeeRate  float64            `json:"taker_fee_rate" default:"0.001"`

	Store      StoreConfig      `json:"store"`
	Order      OrderConfig      `json:"order"`
	Grid       GridConfig       `json:"grid"`
	Collective CollectiveConfig `json:"collective"`
	Mint       MintConfig       `json:"mint"`
	SplitShort SplitShortConfig `json:"split_short"`
	Web        WebConfig        `json:"web"`
	LogConfig  LogConfig        `json:"log"`
}

// StoreConfig 定义了状态存储的后端
type StoreConfig struct {
	Backend  string `json:"backend" default:"badger"`     // "badger" 或 "redis"
	DBPath   string `json:"db_path" default:"data/state"` // badger 数据目录
	RedisURL string `json:"redis_url" env:"REDIS_URL"`    // redis://:password@host:port/db
}

// OrderConfig 定义了下单及成交轮询相关的参数
type OrderConfig struct {
	PollIntervalMs       int     `json:"poll_interval_ms" default:"2000"`      // 首次轮询间隔
	MaxPollIntervalMs    int     `json:"max_poll_interval_ms" default:"30000"` // 指数退避的最大间隔
	MaxWaitSec           int     `json:"max_wait_sec" default:"600"`           // 等待成交的最长时间，超时后撤单
	LockTTLSec           int     `json:"lock_ttl_sec"`                         // 交易对锁的租约时长, 0 表示 max_wait_sec + 60
	BalanceBufferPercent float64 `json:"balance_buffer_percent" default:"1"`   // 余额检查时额外预留的比例
}

// PollInterval 返回首次轮询间隔
func (c OrderConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// MaxPollInterval 返回最大轮询间隔
func (c OrderConfig) MaxPollInterval() time.Duration {
	return time.Duration(c.MaxPollIntervalMs) * time.Millisecond
}

// MaxWait 返回等待订单成交的最长时间
func (c OrderConfig) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitSec) * time.Second
}

// LockTTL 返回交易对锁的租约时长，必须长于 MaxWait
func (c OrderConfig) LockTTL() time.Duration {
	if c.LockTTLSec > 0 {
		return time.Duration(c.LockTTLSec) * time.Second
	}
	return c.MaxWait() + time.Minute
}

// ModelPrice 是人工设定的基准价格，所有涨跌幅都以它为参照
type ModelPrice struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// GridConfig 多级网格策略
type GridConfig struct {
	Enabled     bool                        `json:"enabled"`
	IntervalSec int                         `json:"interval_sec" default:"15"`
	Concurrency int                         `json:"concurrency" default:"4"`
	Models      []ModelPrice                `json:"models"`
	Levels      map[Level]PurchaseLevelMeta `json:"levels"` // 为空时使用 DefaultPurchaseLevels
}

// PurchaseLevels 返回生效的档位配置, 未配置的档位使用默认值
func (c GridConfig) PurchaseLevels() map[Level]PurchaseLevelMeta {
	levels := DefaultPurchaseLevels()
	for level, meta := range c.Levels {
		levels[level] = meta
	}
	return levels
}

// CollectiveConfig 一篮子共同买卖策略
type CollectiveConfig struct {
	Enabled       bool               `json:"enabled"`
	IntervalSec   int                `json:"interval_sec" default:"60"`
	Symbols       []string           `json:"symbols"`
	ModelPrices   map[string]float64 `json:"model_prices"`
	Pot           float64            `json:"pot" default:"1000"`         // 投入的总资金 (USDT)
	Quorum        int                `json:"quorum" default:"4"`         // 至少多少个交易对低于阈值才买入
	DropPercent   float64            `json:"drop_percent" default:"3"`   // 相对基准价格的下跌比例
	ProfitPercent float64            `json:"profit_percent" default:"2"` // 整篮卖出的目标收益
}

// MintConfig 铸币策略
type MintConfig struct {
	Enabled           bool    `json:"enabled"`
	IntervalSec       int     `json:"interval_sec" default:"60"`
	Concurrency       int     `json:"concurrency" default:"4"`
	MaxMintCycles     int     `json:"max_mint_cycles" default:"5"`
	SellJumpPercent   float64 `json:"sell_jump_percent" default:"0.5"`
	CheckAfterMinutes int     `json:"check_after_minutes" default:"180"`
	DeferMinMinutes   int     `json:"defer_min_minutes" default:"10"`
	DeferMaxMinutes   int     `json:"defer_max_minutes" default:"120"`
}

// SplitShortConfig 分批做空策略
type SplitShortConfig struct {
	Enabled                  bool    `json:"enabled"`
	IntervalSec              int     `json:"interval_sec" default:"30"`
	SellActivatePercent      float64 `json:"sell_activate_percent" default:"5"`
	SellBelowActivatePercent float64 `json:"sell_below_activate_percent" default:"1"`
	BuyActivatePercent       float64 `json:"buy_activate_percent" default:"5"`
	BuyAboveActivatePercent  float64 `json:"buy_above_activate_percent" default:"1"`
	SellQuantityShare        float64 `json:"sell_quantity_share" default:"0.5"`
}

// WebConfig 状态页配置
type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr" default:":3000"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level" default:"info"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output" default:"console"`   // 输出模式: "console", "stderr", "file", "both"
	File       string `json:"file" default:"logs/tradebot.log"`
	MaxSize    int    `json:"max_size" default:"100"`     // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups" default:"5"`
	MaxAge     int    `json:"max_age" default:"30"`
	Compress   bool   `json:"compress"`
}

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderStatus 交易所订单状态
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusPendingCancel   OrderStatus = "PENDING_CANCEL"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal 订单是否已到达终态
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// Order 定义了订单信息
type Order struct {
	Symbol          string      `json:"symbol"`
	OrderID         int64       `json:"order_id"`
	ClientOrderID   string      `json:"client_order_id"`
	Side            Side        `json:"side"`
	Type            string      `json:"type"`
	Price           float64     `json:"price"`
	OrigQty         float64     `json:"orig_qty"`
	ExecutedQty     float64     `json:"executed_qty"`
	CumQuote        float64     `json:"cum_quote"`
	Commission      float64     `json:"commission"`
	CommissionAsset string      `json:"commission_asset"`
	Status          OrderStatus `json:"status"`
	Time            int64       `json:"time"`
	UpdateTime      int64       `json:"update_time"`
}

// Trade 定义了单次成交的信息
type Trade struct {
	Symbol          string  `json:"symbol"`
	ID              int64   `json:"id"`
	OrderID         int64   `json:"order_id"`
	Price           float64 `json:"price"`
	Qty             float64 `json:"qty"`
	QuoteQty        float64 `json:"quote_qty"`
	Commission      float64 `json:"commission"`
	CommissionAsset string  `json:"commission_asset"`
	Time            int64   `json:"time"`
	IsBuyer         bool    `json:"is_buyer"`
}

// Kline 一根K线
type Kline struct {
	OpenTime    int64   `json:"open_time"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	CloseTime   int64   `json:"close_time"`
	QuoteVolume float64 `json:"quote_volume"`
	TradeNum    int64   `json:"trade_num"`
}

// SymbolInfo holds trading rules for a single symbol
type SymbolInfo struct {
	Symbol      string `json:"symbol"`
	TickSize    string `json:"tick_size"`    // PRICE_FILTER
	StepSize    string `json:"step_size"`    // LOT_SIZE
	MinNotional string `json:"min_notional"` // NOTIONAL / MIN_NOTIONAL
}

// Error 定义了币安API返回的错误信息结构
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Error 方法使得 BinanceError 实现了 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("API Error: code=%d, msg=%s", e.Code, e.Msg)
}
