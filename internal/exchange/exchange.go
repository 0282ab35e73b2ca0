package exchange

import (
	"binance-trade-bot-go/internal/models"
	"context"
	"time"
)

// Exchange 定义了所有交易所实现必须提供的通用方法。
// 这使得交易机器人可以在真实交易和模拟盘之间轻松切换。
// 数量和价格以字符串传入，调用方负责按交易规则取整。
type Exchange interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetAllPrices(ctx context.Context) (map[string]float64, error)
	// GetBalances 返回各币种的可用余额
	GetBalances(ctx context.Context) (map[string]float64, error)
	GetSymbolInfo(ctx context.Context, symbol string) (*models.SymbolInfo, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, quantity, price string) (*models.Order, error)
	GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*models.Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	GetTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error)
}

// PriceSource 只提供行情, 模拟盘用它获取真实价格
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetAllPrices(ctx context.Context) (map[string]float64, error)
}

// KlineSource 提供历史K线
type KlineSource interface {
	GetKlines(ctx context.Context, symbol, interval string, start time.Time, limit int) ([]models.Kline, error)
}
