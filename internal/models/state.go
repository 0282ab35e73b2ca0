package models

import "time"

// Level 购买档位。档位严格有序: Single < Double < Tripple
type Level string

const (
	Single  Level = "single"
	Double  Level = "double"
	Tripple Level = "tripple"
)

// Levels 按升序列出所有档位
var Levels = []Level{Single, Double, Tripple}

// PurchaseLevelMeta 档位的触发条件与资金分配
type PurchaseLevelMeta struct {
	BuyAtDropPercent  float64 `json:"buy_at_drop_percent"`  // 相对基准价格下跌多少时买入
	USD               float64 `json:"usd"`                  // 投入的资金
	SellAtJumpPercent float64 `json:"sell_at_jump_percent"` // 相对成交价上涨多少时卖出
}

// DefaultPurchaseLevels 默认档位: 跌 2% 买 70U, 跌 5% 买 120U, 跌 10% 买 210U
func DefaultPurchaseLevels() map[Level]PurchaseLevelMeta {
	return map[Level]PurchaseLevelMeta{
		Single:  {BuyAtDropPercent: 2, USD: 70, SellAtJumpPercent: 1.5},
		Double:  {BuyAtDropPercent: 5, USD: 120, SellAtJumpPercent: 3.5},
		Tripple: {BuyAtDropPercent: 10, USD: 210, SellAtJumpPercent: 7},
	}
}

// LimitOrderRequest 限价单请求
type LimitOrderRequest struct {
	Symbol   string  `json:"symbol"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Side     Side    `json:"side"`
}

// LimitOrderResult 限价单最终成交结果
type LimitOrderResult struct {
	OrderID        int64   `json:"order_id"`
	Symbol         string  `json:"symbol"`
	Price          float64 `json:"price"`
	Quantity       float64 `json:"quantity"`
	Side           Side    `json:"side"`
	Commission     float64 `json:"commission"`
	FilledQuantity float64 `json:"filled_quantity"`
}

// BalanceSnapshot 最近一次查询到的账户余额, 缓存在存储中供 CLI 和状态页读取
type BalanceSnapshot struct {
	Balances  map[string]float64 `json:"balances"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// PurchaseInPlay 网格策略中已成交、等待卖出的一笔买入
type PurchaseInPlay struct {
	ID          int64            `json:"id"` // 交易所订单ID
	Symbol      string           `json:"symbol"`
	Level       Level            `json:"level"`
	SellAtPrice float64          `json:"sell_at_price"`
	Quantity    float64          `json:"quantity"` // 实际成交数量
	LimitOrder  LimitOrderResult `json:"limit_order"`
	Time        time.Time        `json:"time"`
}

// CollectivePurchaseItem 篮子中单个交易对的买入
type CollectivePurchaseItem struct {
	Symbol            string           `json:"symbol"`
	Price             float64          `json:"price"`
	FilledQuantity    float64          `json:"filled_quantity"`
	RequestedQuantity float64          `json:"requested_quantity"`
	Order             LimitOrderResult `json:"order"`
}

// CollectivePurchase 一篮子持仓，存在即表示持仓未平
type CollectivePurchase struct {
	Pot            float64                  `json:"pot"`
	SellAfterTotal float64                  `json:"sell_after_total"`
	Time           time.Time                `json:"time"`
	Items          []CollectivePurchaseItem `json:"items"`
	// Liquidating 表示整篮卖出已经触发，但仍有部分交易对未卖出
	Liquidating bool    `json:"liquidating"`
	SoldTotal   float64 `json:"sold_total"` // 已卖出部分的回款
}

// CollectiveItemStat 单个交易对的浮动盈亏
type CollectiveItemStat struct {
	Symbol string                 `json:"symbol"`
	Item   CollectivePurchaseItem `json:"item"`
	Profit float64                `json:"profit"`
}

// CollectivePurchaseStats 篮子整体的统计
type CollectivePurchaseStats struct {
	SellAfterTotal float64              `json:"sell_after_total"`
	CurrentTotal   float64              `json:"current_total"`
	Items          []CollectiveItemStat `json:"items"`
}

// Action 策略下一步的动作
type Action string

const (
	ActionPurchase Action = "PURCHASE"
	ActionSell     Action = "SELL"
)

// MintItem 铸币策略的单个条目
type MintItem struct {
	ID                 string    `json:"id"`
	Symbol             string    `json:"symbol"`
	RallyPrice         float64   `json:"rally_price"` // 低于该价格时买入
	USD                float64   `json:"usd"`
	NextAction         Action    `json:"next_action"`
	NextCheckAt        int64     `json:"next_check_at"` // unix 秒, 在此之前不做检查
	LastFilledQuantity float64   `json:"last_filled_quantity"`
	LastFillPrice      float64   `json:"last_fill_price"`
	Minted             []float64 `json:"minted"`
}

// NewMintItem 创建一个等待买入的条目, 可选字段均为零值
func NewMintItem(id, symbol string, rallyPrice, usd float64, now time.Time) MintItem {
	return MintItem{
		ID:          id,
		Symbol:      symbol,
		RallyPrice:  rallyPrice,
		USD:         usd,
		NextAction:  ActionPurchase,
		NextCheckAt: now.Unix(),
		Minted:      []float64{},
	}
}

// BuyTrigger 买入的两段式触发: 价格跌破 Activate 后设置 Above, 价格回升超过 Above 时买入。
// Above 为 0 表示尚未激活
type BuyTrigger struct {
	Activate float64 `json:"activate"`
	Above    float64 `json:"above,omitempty"`
}

// Armed 是否已经设置了具体的触发价
func (t *BuyTrigger) Armed() bool { return t != nil && t.Above > 0 }

// SellTrigger 卖出的两段式触发: 价格涨过 Activate 后设置 Below, 价格回落低于 Below 时卖出。
// Below 为 0 表示尚未激活
type SellTrigger struct {
	Activate float64 `json:"activate"`
	Below    float64 `json:"below,omitempty"`
}

// Armed 是否已经设置了具体的触发价
func (t *SellTrigger) Armed() bool { return t != nil && t.Below > 0 }

// SplitShortItem 分批做空策略的单个交易对
type SplitShortItem struct {
	ID          string       `json:"id"`
	Symbol      string       `json:"symbol"`
	NextAction  Action       `json:"next_action"`
	PurchaseUSD float64      `json:"purchase_usd,omitempty"`
	NextBuy     *BuyTrigger  `json:"next_buy,omitempty"`
	NextSell    *SellTrigger `json:"next_sell,omitempty"`
	Growth      []float64    `json:"growth"` // 每次买入后的币种余额
}

// NewSplitShortItem 创建一个等待卖出的条目
func NewSplitShortItem(id, symbol string, activateSell float64) SplitShortItem {
	return SplitShortItem{
		ID:         id,
		Symbol:     symbol,
		NextAction: ActionSell,
		NextSell:   &SellTrigger{Activate: activateSell},
		Growth:     []float64{},
	}
}
