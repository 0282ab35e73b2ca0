// Package bot 定义各个交易机器人共享的接口。
// 具体策略在子包中实现: grid, collective, mint, splitshort。
package bot

import (
	"binance-trade-bot-go/internal/models"
	"context"

	"go.uber.org/zap"
)

// Market 是机器人访问交易所的方式, 由 market.Service 实现
type Market interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetAllPrices(ctx context.Context) (map[string]float64, error)
	GetBalances(ctx context.Context) (map[string]float64, error)
	HasBalanceForPurchase(ctx context.Context, usd float64) (bool, error)
	// CreateLimitOrder 阻塞直到订单成交、被撤销或超时
	CreateLimitOrder(ctx context.Context, req models.LimitOrderRequest) (*models.LimitOrderResult, error)
	IsLocked(ctx context.Context, symbol string) (bool, error)
}

// Runner 是可以被调度器周期性调用的机器人。
// Run 只在出现无法按交易对隔离的错误时返回 error (例如读取状态失败)。
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// RecordFill 保存订单成交后的状态。订单已经成交, 即使 ctx 已取消也要写入。
// 写入失败时以 error 级别记录订单, 以便人工核对; 否则下一轮会重复下单。
func RecordFill(ctx context.Context, logger *zap.Logger, order *models.LimitOrderResult, save func(ctx context.Context) error) error {
	if err := save(context.WithoutCancel(ctx)); err != nil {
		logger.Error("filled order not recorded, reconcile manually",
			zap.String("symbol", order.Symbol),
			zap.String("side", string(order.Side)),
			zap.Int64("orderId", order.OrderID),
			zap.Float64("price", order.Price),
			zap.Float64("filledQuantity", order.FilledQuantity),
			zap.Error(err))
		return err
	}
	return nil
}
