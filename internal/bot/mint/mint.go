// Package mint 实现铸币机器人: 价格低于集结价时买入，
// 上涨后只卖出与买入成本等值的部分，剩余的币就是"铸造"出来的持仓。
package mint

import (
	"binance-trade-bot-go/internal/bot"
	"binance-trade-bot-go/internal/calc"
	"binance-trade-bot-go/internal/ident"
	"binance-trade-bot-go/internal/market"
	"binance-trade-bot-go/internal/metrics"
	"binance-trade-bot-go/internal/models"
	"binance-trade-bot-go/internal/persistence"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// StatusMaxMinted 达到最大铸币次数后的状态
const StatusMaxMinted = "MAX MINTED (STOPPED)"

// ItemNotFoundError 条目不存在
type ItemNotFoundError struct {
	ID string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("mint item %s not found", e.ID)
}

// Bot 铸币机器人
type Bot struct {
	market  bot.Market
	store   persistence.Store
	cfg     models.MintConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func New(cfg models.MintConfig, m bot.Market, store persistence.Store, mt *metrics.Metrics, logger *zap.Logger) *Bot {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Bot{
		market:  m,
		store:   store,
		cfg:     cfg,
		metrics: mt,
		logger:  logger.Named("mint"),
		now:     time.Now,
	}
}

func (b *Bot) Name() string { return "mint" }

// StatusForItem 返回条目的显示状态
func (b *Bot) StatusForItem(item models.MintItem) string {
	if item.NextAction == models.ActionSell && len(item.Minted) >= b.cfg.MaxMintCycles {
		return StatusMaxMinted
	}
	return string(item.NextAction)
}

// Run 并发检查每个条目, 单个条目的失败只记录日志
func (b *Bot) Run(ctx context.Context) error {
	items, err := b.Items(ctx)
	if err != nil {
		return fmt.Errorf("load mint items: %w", err)
	}
	b.logger.Debug("mint run", zap.Int("count", len(items)))
	b.metrics.SetPositionsOpen(b.Name(), len(items))
	if len(items) == 0 {
		return nil
	}

	prices, err := b.market.GetAllPrices(ctx)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(b.cfg.Concurrency)
	for _, item := range items {
		g.Go(func() error {
			if err := b.runItem(ctx, item, prices); err != nil {
				b.logger.Error("mint item failed",
					zap.String("id", item.ID),
					zap.String("symbol", item.Symbol),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

func (b *Bot) runItem(ctx context.Context, item models.MintItem, prices map[string]float64) error {
	now := b.now()
	if item.NextCheckAt > now.Unix() {
		return nil
	}
	price, ok := prices[item.Symbol]
	if !ok {
		return fmt.Errorf("no price for %s", item.Symbol)
	}

	switch {
	case item.NextAction == models.ActionPurchase && price < item.RallyPrice:
		return b.purchase(ctx, item, price)
	case item.NextAction == models.ActionSell &&
		price > calc.IncreaseByPercent(item.LastFillPrice, b.cfg.SellJumpPercent) &&
		len(item.Minted) < b.cfg.MaxMintCycles:
		return b.sell(ctx, item, price)
	case item.NextAction == models.ActionSell:
		// 还不能卖出, 随机推迟下一次检查
		next := now.Add(calc.Jitter(b.cfg.DeferMinMinutes, b.cfg.DeferMaxMinutes)).Unix()
		return b.updateItem(ctx, item.ID, func(it *models.MintItem) {
			it.NextCheckAt = next
		})
	}
	return nil
}

func (b *Bot) purchase(ctx context.Context, item models.MintItem, price float64) error {
	hasBalance, err := b.market.HasBalanceForPurchase(ctx, item.USD)
	if err != nil {
		return err
	}
	if !hasBalance {
		b.logger.Info("insufficient balance for purchase",
			zap.String("symbol", item.Symbol),
			zap.Float64("usd", item.USD))
		return nil
	}

	order, err := b.market.CreateLimitOrder(ctx, models.LimitOrderRequest{
		Symbol:   item.Symbol,
		Price:    price,
		Quantity: item.USD / price,
		Side:     models.Buy,
	})
	if errors.Is(err, market.ErrSymbolLocked) {
		b.logger.Info("symbol locked, purchase deferred", zap.String("symbol", item.Symbol))
		return nil
	}
	if err != nil {
		return err
	}

	next := b.now().Add(b.checkAfter()).Unix()
	b.logger.Info("mint purchase",
		zap.String("symbol", item.Symbol),
		zap.Float64("price", order.Price),
		zap.Float64("quantity", order.FilledQuantity))
	return bot.RecordFill(ctx, b.logger, order, func(ctx context.Context) error {
		return b.updateItem(ctx, item.ID, func(it *models.MintItem) {
			it.NextAction = models.ActionSell
			it.LastFillPrice = order.Price
			it.LastFilledQuantity = order.FilledQuantity
			it.NextCheckAt = next
		})
	})
}

// sell 只卖出价值等于买入成本的数量，剩余部分记为铸造量
func (b *Bot) sell(ctx context.Context, item models.MintItem, price float64) error {
	quantity := item.LastFilledQuantity * item.LastFillPrice / price
	minted := item.LastFilledQuantity - quantity

	order, err := b.market.CreateLimitOrder(ctx, models.LimitOrderRequest{
		Symbol:   item.Symbol,
		Price:    price,
		Quantity: quantity,
		Side:     models.Sell,
	})
	if errors.Is(err, market.ErrSymbolLocked) {
		b.logger.Info("symbol locked, sale deferred", zap.String("symbol", item.Symbol))
		return nil
	}
	if err != nil {
		return err
	}

	next := b.now().Add(b.checkAfter()).Unix()
	b.logger.Info("mint sell",
		zap.String("symbol", item.Symbol),
		zap.Float64("price", price),
		zap.Float64("quantity", quantity),
		zap.Float64("minted", minted))
	return bot.RecordFill(ctx, b.logger, order, func(ctx context.Context) error {
		return b.updateItem(ctx, item.ID, func(it *models.MintItem) {
			it.NextAction = models.ActionPurchase
			it.Minted = append(it.Minted, minted)
			it.NextCheckAt = next
		})
	})
}

func (b *Bot) checkAfter() time.Duration {
	return time.Duration(b.cfg.CheckAfterMinutes) * time.Minute
}

// Items 返回所有条目, 没有时返回空切片
func (b *Bot) Items(ctx context.Context) ([]models.MintItem, error) {
	var items []models.MintItem
	if _, err := persistence.GetJSON(ctx, b.store, persistence.KeyMintItems, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.MintItem{}
	}
	return items, nil
}

// Item 按ID查找条目
func (b *Bot) Item(ctx context.Context, id string) (*models.MintItem, error) {
	items, err := b.Items(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			return &items[i], nil
		}
	}
	return nil, &ItemNotFoundError{ID: id}
}

// AddItem 以当前价格作为集结价添加一个条目
func (b *Bot) AddItem(ctx context.Context, symbol string, usd float64) (*models.MintItem, error) {
	if usd <= 0 {
		return nil, fmt.Errorf("usd must be positive, got %g", usd)
	}
	price, err := b.market.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	item := models.NewMintItem(ident.New(), symbol, price, usd, b.now())
	_, err = persistence.UpdateJSON(ctx, b.store, persistence.KeyMintItems,
		func(current *[]models.MintItem) (*[]models.MintItem, error) {
			var items []models.MintItem
			if current != nil {
				items = *current
			}
			items = append(items, item)
			return &items, nil
		})
	if err != nil {
		return nil, err
	}
	b.logger.Info("mint item added", zap.String("id", item.ID), zap.String("symbol", symbol), zap.Float64("rallyPrice", price))
	return &item, nil
}

// SetItem 用 item 替换同ID的条目
func (b *Bot) SetItem(ctx context.Context, item models.MintItem) error {
	return b.updateItem(ctx, item.ID, func(it *models.MintItem) { *it = item })
}

// RemoveItem 删除条目
func (b *Bot) RemoveItem(ctx context.Context, id string) error {
	_, err := persistence.UpdateJSON(ctx, b.store, persistence.KeyMintItems,
		func(current *[]models.MintItem) (*[]models.MintItem, error) {
			if current == nil {
				return nil, &ItemNotFoundError{ID: id}
			}
			items := make([]models.MintItem, 0, len(*current))
			for _, it := range *current {
				if it.ID != id {
					items = append(items, it)
				}
			}
			if len(items) == len(*current) {
				return nil, &ItemNotFoundError{ID: id}
			}
			return &items, nil
		})
	return err
}

// ShiftRallyPrice 修改集结价
func (b *Bot) ShiftRallyPrice(ctx context.Context, id string, price float64) error {
	if price <= 0 {
		return fmt.Errorf("rally price must be positive, got %g", price)
	}
	return b.updateItem(ctx, id, func(it *models.MintItem) { it.RallyPrice = price })
}

// ForceCheckin 让条目在下一次运行时立即被检查
func (b *Bot) ForceCheckin(ctx context.Context, id string) error {
	now := b.now().Unix()
	return b.updateItem(ctx, id, func(it *models.MintItem) { it.NextCheckAt = now })
}

// updateItem 在最新的条目列表上修改一个条目, 不会覆盖其它条目的并发修改
func (b *Bot) updateItem(ctx context.Context, id string, fn func(*models.MintItem)) error {
	_, err := persistence.UpdateJSON(ctx, b.store, persistence.KeyMintItems,
		func(current *[]models.MintItem) (*[]models.MintItem, error) {
			if current == nil {
				return nil, &ItemNotFoundError{ID: id}
			}
			for i := range *current {
				if (*current)[i].ID == id {
					fn(&(*current)[i])
					return current, nil
				}
			}
			return nil, &ItemNotFoundError{ID: id}
		})
	return err
}
