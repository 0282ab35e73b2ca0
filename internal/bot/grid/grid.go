// Package grid 实现多级网格机器人: 价格相对基准价格每下跌一个档位就买入一次,
// 每笔买入在上涨到各自的目标价后单独卖出。
package grid

import (
	"binance-trade-bot-go/internal/bot"
	"binance-trade-bot-go/internal/calc"
	"binance-trade-bot-go/internal/ledger"
	"binance-trade-bot-go/internal/market"
	"binance-trade-bot-go/internal/metrics"
	"binance-trade-bot-go/internal/models"
	"binance-trade-bot-go/internal/persistence"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Bot 网格交易机器人
type Bot struct {
	market      bot.Market
	ledger      *ledger.Ledger
	store       persistence.Store
	models      []models.ModelPrice
	levels      map[models.Level]models.PurchaseLevelMeta
	concurrency int
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// New 创建一个新的网格机器人实例
func New(cfg models.GridConfig, m bot.Market, l *ledger.Ledger, store persistence.Store, mt *metrics.Metrics, logger *zap.Logger) *Bot {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Bot{
		market:      m,
		ledger:      l,
		store:       store,
		models:      cfg.Models,
		levels:      cfg.PurchaseLevels(),
		concurrency: concurrency,
		metrics:     mt,
		logger:      logger.Named("grid"),
		now:         time.Now,
	}
}

func (b *Bot) Name() string { return "grid" }

// PriceAtLevel 返回某个档位的目标买入价: modelPrice - modelPrice * dropPercent / 100
func PriceAtLevel(modelPrice float64, meta models.PurchaseLevelMeta) float64 {
	return modelPrice - modelPrice*meta.BuyAtDropPercent/100
}

// Run 并发检查每个交易对。单个交易对的失败只记录日志，不影响其它交易对。
func (b *Bot) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(b.concurrency)

	for _, model := range b.models {
		g.Go(func() error {
			if err := b.runSymbol(ctx, model); err != nil {
				b.logger.Error("grid run failed", zap.String("symbol", model.Symbol), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if all, err := b.ledger.ListAll(ctx); err == nil {
		b.metrics.SetPositionsOpen(b.Name(), len(all))
	}
	return nil
}

func (b *Bot) runSymbol(ctx context.Context, model models.ModelPrice) error {
	locked, err := b.market.IsLocked(ctx, model.Symbol)
	if err != nil {
		return err
	}
	if locked {
		b.logger.Debug("symbol locked, skipping", zap.String("symbol", model.Symbol))
		return nil
	}

	price, err := b.market.GetPrice(ctx, model.Symbol)
	if err != nil {
		return err
	}
	// 状态页读取这个价格
	if err := b.store.Set(ctx, persistence.PriceKey(model.Symbol), []byte(strconv.FormatFloat(price, 'f', -1, 64))); err != nil {
		b.logger.Warn("failed to cache price", zap.String("symbol", model.Symbol), zap.Error(err))
	}

	if err := b.checkForPurchase(ctx, model, price); err != nil {
		return fmt.Errorf("purchase check: %w", err)
	}
	if err := b.checkForSell(ctx, model.Symbol, price); err != nil {
		return fmt.Errorf("sell check: %w", err)
	}
	return nil
}

func (b *Bot) checkForPurchase(ctx context.Context, model models.ModelPrice, price float64) error {
	level, err := b.ledger.NextPurchaseLevel(ctx, model.Symbol)
	if err != nil {
		return err
	}
	if level == nil {
		// 所有档位都已买入
		return nil
	}

	meta, ok := b.levels[*level]
	if !ok {
		return fmt.Errorf("no settings for level %s", *level)
	}
	target := PriceAtLevel(model.Price, meta)
	if price > target {
		return nil
	}

	hasBalance, err := b.market.HasBalanceForPurchase(ctx, meta.USD)
	if err != nil {
		return err
	}
	if !hasBalance {
		b.logger.Info("insufficient balance for purchase",
			zap.String("symbol", model.Symbol),
			zap.String("level", string(*level)),
			zap.Float64("usd", meta.USD))
		return nil
	}

	order, err := b.market.CreateLimitOrder(ctx, models.LimitOrderRequest{
		Symbol:   model.Symbol,
		Price:    price,
		Quantity: meta.USD / target,
		Side:     models.Buy,
	})
	if errors.Is(err, market.ErrSymbolLocked) {
		b.logger.Info("symbol locked, purchase deferred", zap.String("symbol", model.Symbol))
		return nil
	}
	if err != nil {
		return err
	}

	purchase := models.PurchaseInPlay{
		ID:          order.OrderID,
		Symbol:      model.Symbol,
		Level:       *level,
		SellAtPrice: calc.IncreaseByPercent(order.Price, meta.SellAtJumpPercent),
		Quantity:    order.FilledQuantity,
		LimitOrder:  *order,
		Time:        b.now(),
	}
	err = bot.RecordFill(ctx, b.logger, order, func(ctx context.Context) error {
		return b.ledger.Save(ctx, purchase)
	})
	if err != nil {
		return fmt.Errorf("save purchase %d: %w", order.OrderID, err)
	}
	b.logger.Info("purchase recorded",
		zap.String("symbol", model.Symbol),
		zap.String("level", string(*level)),
		zap.Float64("price", order.Price),
		zap.Float64("quantity", purchase.Quantity),
		zap.Float64("sellAt", purchase.SellAtPrice))
	return nil
}

// checkForSell 每次最多卖出一笔已达到目标价的持仓
func (b *Bot) checkForSell(ctx context.Context, symbol string, price float64) error {
	purchases, err := b.ledger.ListFor(ctx, symbol)
	if err != nil {
		return err
	}

	var ready *models.PurchaseInPlay
	for i := range purchases {
		if purchases[i].SellAtPrice <= price {
			ready = &purchases[i]
			break
		}
	}
	if ready == nil {
		return nil
	}

	order, err := b.market.CreateLimitOrder(ctx, models.LimitOrderRequest{
		Symbol:   symbol,
		Price:    price,
		Quantity: ready.Quantity,
		Side:     models.Sell,
	})
	if errors.Is(err, market.ErrSymbolLocked) {
		b.logger.Info("symbol locked, sale deferred", zap.String("symbol", symbol))
		return nil
	}
	if err != nil {
		return err
	}

	err = bot.RecordFill(ctx, b.logger, order, func(ctx context.Context) error {
		_, err := b.ledger.Remove(ctx, ready.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("remove purchase %d: %w", ready.ID, err)
	}
	b.logger.Info("purchase sold",
		zap.String("symbol", symbol),
		zap.String("level", string(ready.Level)),
		zap.Float64("boughtAt", ready.LimitOrder.Price),
		zap.Float64("soldAt", order.Price),
		zap.Float64("quantity", order.FilledQuantity))
	return nil
}
