// Package collective 实现一篮子共同买卖的机器人:
// 篮子中足够多的交易对同时下跌时整篮买入，整篮市值达到目标后整篮卖出。
package collective

import (
	"binance-trade-bot-go/internal/bot"
	"binance-trade-bot-go/internal/calc"
	"binance-trade-bot-go/internal/metrics"
	"binance-trade-bot-go/internal/models"
	"binance-trade-bot-go/internal/persistence"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoPosition 当前没有持仓
var ErrNoPosition = errors.New("no collective purchase is open")

// Bot 一篮子机器人
type Bot struct {
	market  bot.Market
	store   persistence.Store
	cfg     models.CollectiveConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func New(cfg models.CollectiveConfig, m bot.Market, store persistence.Store, mt *metrics.Metrics, logger *zap.Logger) *Bot {
	return &Bot{
		market:  m,
		store:   store,
		cfg:     cfg,
		metrics: mt,
		logger:  logger.Named("collective"),
		now:     time.Now,
	}
}

func (b *Bot) Name() string { return "collective" }

// ThresholdPrice 低于该价格的交易对计入法定数: modelPrice * (1 - dropPercent/100)
func ThresholdPrice(modelPrice, dropPercent float64) float64 {
	return modelPrice * (1 - dropPercent/100)
}

// CountBelowThreshold 统计篮子中价格低于阈值的交易对数量。缺少基准价格或行情的交易对不计入。
func CountBelowThreshold(symbols []string, modelPrices, prices map[string]float64, dropPercent float64) int {
	below := 0
	for _, symbol := range symbols {
		model, ok := modelPrices[symbol]
		if !ok {
			continue
		}
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		if price < ThresholdPrice(model, dropPercent) {
			below++
		}
	}
	return below
}

// Get 返回当前持仓, 没有持仓时返回 nil
func (b *Bot) Get(ctx context.Context) (*models.CollectivePurchase, error) {
	var purchase models.CollectivePurchase
	found, err := persistence.GetJSON(ctx, b.store, persistence.KeyCollectivePurchase, &purchase)
	if err != nil || !found {
		return nil, err
	}
	return &purchase, nil
}

// Run 一次拉取所有行情，根据是否有持仓执行买入或卖出检查
func (b *Bot) Run(ctx context.Context) error {
	purchase, err := b.Get(ctx)
	if err != nil {
		return fmt.Errorf("load collective purchase: %w", err)
	}
	prices, err := b.market.GetAllPrices(ctx)
	if err != nil {
		return err
	}

	if purchase == nil {
		err = b.checkForPurchase(ctx, prices)
	} else {
		err = b.checkForSell(ctx, purchase, prices)
	}

	open := 0
	if p, _ := b.Get(ctx); p != nil {
		open = len(p.Items)
	}
	b.metrics.SetPositionsOpen(b.Name(), open)
	return err
}

func (b *Bot) checkForPurchase(ctx context.Context, prices map[string]float64) error {
	for _, symbol := range b.cfg.Symbols {
		if _, ok := b.cfg.ModelPrices[symbol]; !ok {
			b.logger.Error("missing model price", zap.String("symbol", symbol))
		}
	}

	below := CountBelowThreshold(b.cfg.Symbols, b.cfg.ModelPrices, prices, b.cfg.DropPercent)
	if below < b.cfg.Quorum {
		b.logger.Debug("quorum not reached", zap.Int("below", below), zap.Int("quorum", b.cfg.Quorum))
		return nil
	}

	hasBalance, err := b.market.HasBalanceForPurchase(ctx, b.cfg.Pot)
	if err != nil {
		return err
	}
	if !hasBalance {
		b.logger.Info("insufficient balance for collective purchase", zap.Float64("pot", b.cfg.Pot))
		return nil
	}

	share := b.cfg.Pot / float64(len(b.cfg.Symbols))
	var (
		mu    sync.Mutex
		items []models.CollectivePurchaseItem
		g     errgroup.Group
	)
	for _, symbol := range b.cfg.Symbols {
		price, ok := prices[symbol]
		if !ok || price <= 0 {
			b.logger.Error("no price for basket symbol", zap.String("symbol", symbol))
			continue
		}
		g.Go(func() error {
			quantity := share / price
			order, err := b.market.CreateLimitOrder(ctx, models.LimitOrderRequest{
				Symbol:   symbol,
				Price:    price,
				Quantity: quantity,
				Side:     models.Buy,
			})
			if err != nil {
				b.logger.Error("basket purchase failed", zap.String("symbol", symbol), zap.Error(err))
				return nil
			}
			mu.Lock()
			items = append(items, models.CollectivePurchaseItem{
				Symbol:            symbol,
				Price:             order.Price,
				FilledQuantity:    order.FilledQuantity,
				RequestedQuantity: quantity,
				Order:             *order,
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(items) == 0 {
		return fmt.Errorf("no basket purchase filled")
	}
	b.sortItems(items)

	pot := b.cfg.Pot
	if len(items) < len(b.cfg.Symbols) {
		// 只有部分成交时，以实际投入的份额计算目标
		pot = share * float64(len(items))
		b.logger.Warn("basket partially purchased", zap.Int("filled", len(items)), zap.Int("basket", len(b.cfg.Symbols)))
	}
	record := &models.CollectivePurchase{
		Pot:            pot,
		SellAfterTotal: calc.IncreaseByPercent(pot, b.cfg.ProfitPercent),
		Time:           b.now(),
		Items:          items,
	}
	// 订单已经成交, 即使 ctx 已取消也要保存
	_, err = persistence.UpdateJSON(context.WithoutCancel(ctx), b.store, persistence.KeyCollectivePurchase,
		func(current *models.CollectivePurchase) (*models.CollectivePurchase, error) {
			if current != nil {
				return nil, fmt.Errorf("a collective purchase is already open")
			}
			return record, nil
		})
	if err != nil {
		for _, item := range items {
			b.logger.Error("filled basket order not recorded, reconcile manually",
				zap.String("symbol", item.Symbol),
				zap.Int64("orderId", item.Order.OrderID),
				zap.Float64("filledQuantity", item.FilledQuantity))
		}
		return fmt.Errorf("save collective purchase: %w", err)
	}
	b.logger.Info("collective purchase opened",
		zap.Int("below", below),
		zap.Float64("pot", record.Pot),
		zap.Float64("sellAfterTotal", record.SellAfterTotal))
	return nil
}

// CurrentTotal 当前市值加上已卖出部分的回款。缺少行情时返回 error。
func CurrentTotal(purchase *models.CollectivePurchase, prices map[string]float64) (float64, error) {
	total := purchase.SoldTotal
	for _, item := range purchase.Items {
		price, ok := prices[item.Symbol]
		if !ok {
			return 0, fmt.Errorf("no price for %s", item.Symbol)
		}
		total += price * item.FilledQuantity
	}
	return total, nil
}

// checkForSell 整篮市值达到目标后卖出所有交易对。
// 如果部分卖出失败，已卖出的交易对从记录中移除并进入清算状态, 下次运行继续卖出剩余部分。
// 处于清算状态 (Liquidating) 的记录不再比较目标市值, 每次运行都会卖出。
func (b *Bot) checkForSell(ctx context.Context, purchase *models.CollectivePurchase, prices map[string]float64) error {
	total, err := CurrentTotal(purchase, prices)
	if err != nil {
		return err
	}
	if total < purchase.SellAfterTotal && !purchase.Liquidating {
		return nil
	}
	b.logger.Info("selling collective purchase",
		zap.Float64("total", total),
		zap.Float64("sellAfterTotal", purchase.SellAfterTotal),
		zap.Bool("liquidating", purchase.Liquidating))

	var (
		mu       sync.Mutex
		sold     = make(map[string]bool)
		proceeds float64
		g        errgroup.Group
	)
	for _, item := range purchase.Items {
		g.Go(func() error {
			order, err := b.market.CreateLimitOrder(ctx, models.LimitOrderRequest{
				Symbol:   item.Symbol,
				Price:    prices[item.Symbol],
				Quantity: item.FilledQuantity,
				Side:     models.Sell,
			})
			if err != nil {
				b.logger.Error("basket sale failed", zap.String("symbol", item.Symbol), zap.Error(err))
				return nil
			}
			mu.Lock()
			sold[item.Symbol] = true
			proceeds += order.Price * order.FilledQuantity
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(sold) == len(purchase.Items) {
		if err := b.store.Delete(context.WithoutCancel(ctx), persistence.KeyCollectivePurchase); err != nil {
			return fmt.Errorf("delete collective purchase: %w", err)
		}
		b.logger.Info("collective purchase closed", zap.Float64("proceeds", purchase.SoldTotal+proceeds))
		return nil
	}

	_, err = persistence.UpdateJSON(context.WithoutCancel(ctx), b.store, persistence.KeyCollectivePurchase,
		func(current *models.CollectivePurchase) (*models.CollectivePurchase, error) {
			if current == nil {
				return nil, ErrNoPosition
			}
			remaining := make([]models.CollectivePurchaseItem, 0, len(current.Items))
			for _, item := range current.Items {
				if !sold[item.Symbol] {
					remaining = append(remaining, item)
				}
			}
			current.Items = remaining
			current.Liquidating = true
			current.SoldTotal += proceeds
			return current, nil
		})
	if err != nil {
		return fmt.Errorf("update collective purchase: %w", err)
	}
	return fmt.Errorf("collective sale incomplete: %d of %d items sold", len(sold), len(purchase.Items))
}

// Stats 返回每个交易对的浮动盈亏, 没有持仓时返回 nil
func (b *Bot) Stats(ctx context.Context) (*models.CollectivePurchaseStats, error) {
	purchase, err := b.Get(ctx)
	if err != nil || purchase == nil {
		return nil, err
	}
	prices, err := b.market.GetAllPrices(ctx)
	if err != nil {
		return nil, err
	}
	total, err := CurrentTotal(purchase, prices)
	if err != nil {
		return nil, err
	}

	stats := &models.CollectivePurchaseStats{
		SellAfterTotal: purchase.SellAfterTotal,
		CurrentTotal:   total,
		Items:          make([]models.CollectiveItemStat, 0, len(purchase.Items)),
	}
	for _, item := range purchase.Items {
		stats.Items = append(stats.Items, models.CollectiveItemStat{
			Symbol: item.Symbol,
			Item:   item,
			Profit: (prices[item.Symbol] - item.Price) * item.FilledQuantity,
		})
	}
	return stats, nil
}

// SetSellAfterTotal 手动调整整篮卖出的目标市值
func (b *Bot) SetSellAfterTotal(ctx context.Context, total float64) (*models.CollectivePurchase, error) {
	if total <= 0 {
		return nil, fmt.Errorf("sell after total must be positive, got %g", total)
	}
	return persistence.UpdateJSON(ctx, b.store, persistence.KeyCollectivePurchase,
		func(current *models.CollectivePurchase) (*models.CollectivePurchase, error) {
			if current == nil {
				return nil, ErrNoPosition
			}
			current.SellAfterTotal = total
			return current, nil
		})
}

// sortItems 按配置中的顺序排列
func (b *Bot) sortItems(items []models.CollectivePurchaseItem) {
	order := make(map[string]int, len(b.cfg.Symbols))
	for i, s := range b.cfg.Symbols {
		order[s] = i
	}
	sort.Slice(items, func(i, j int) bool { return order[items[i].Symbol] < order[items[j].Symbol] })
}
