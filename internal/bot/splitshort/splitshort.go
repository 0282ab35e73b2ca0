// Package splitshort 实现分批做空机器人: 价格上涨并回落后卖出部分持仓,
// 价格下跌并反弹后用卖出所得重新买入。两个方向都使用两段式触发，触发价只朝有利方向移动。
package splitshort

import (
	"binance-trade-bot-go/internal/bot"
	"binance-trade-bot-go/internal/calc"
	"binance-trade-bot-go/internal/ident"
	"binance-trade-bot-go/internal/metrics"
	"binance-trade-bot-go/internal/models"
	"binance-trade-bot-go/internal/persistence"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
)

// ErrDuplicateSymbol 交易对已存在
var ErrDuplicateSymbol = errors.New("symbol is already present")

// SymbolNotFoundError 交易对不存在
type SymbolNotFoundError struct {
	Symbol string
}

func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("symbol %s is not present", e.Symbol)
}

// Bot 分批做空机器人
type Bot struct {
	market  bot.Market
	store   persistence.Store
	cfg     models.SplitShortConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(cfg models.SplitShortConfig, m bot.Market, store persistence.Store, mt *metrics.Metrics, logger *zap.Logger) *Bot {
	return &Bot{
		market:  m,
		store:   store,
		cfg:     cfg,
		metrics: mt,
		logger:  logger.Named("splitshort"),
	}
}

func (b *Bot) Name() string { return "splitshort" }

// Run 按交易对顺序依次检查, 被锁定的交易对跳过
func (b *Bot) Run(ctx context.Context) error {
	items, err := b.Items(ctx)
	if err != nil {
		return fmt.Errorf("load split short items: %w", err)
	}
	b.metrics.SetPositionsOpen(b.Name(), len(items))
	if len(items) == 0 {
		return nil
	}

	prices, err := b.market.GetAllPrices(ctx)
	if err != nil {
		return err
	}
	balances, err := b.market.GetBalances(ctx)
	if err != nil {
		return err
	}

	for _, item := range items {
		locked, err := b.market.IsLocked(ctx, item.Symbol)
		if err != nil {
			b.logger.Error("lock check failed", zap.String("symbol", item.Symbol), zap.Error(err))
			continue
		}
		if locked {
			b.logger.Info("symbol locked, skipping", zap.String("symbol", item.Symbol))
			continue
		}
		if err := b.runItem(ctx, item, prices, balances); err != nil {
			b.logger.Error("split short item failed", zap.String("symbol", item.Symbol), zap.Error(err))
		}
	}
	return nil
}

func (b *Bot) runItem(ctx context.Context, item models.SplitShortItem, prices, balances map[string]float64) error {
	price, ok := prices[item.Symbol]
	if !ok {
		return fmt.Errorf("no price for %s", item.Symbol)
	}
	b.logger.Debug("split short precheck",
		zap.String("symbol", item.Symbol),
		zap.String("action", string(item.NextAction)),
		zap.Float64("price", price))

	switch item.NextAction {
	case models.ActionPurchase:
		if item.NextBuy == nil {
			return fmt.Errorf("item %s is waiting to purchase without a buy trigger", item.Symbol)
		}
		if item.NextBuy.Armed() && price > item.NextBuy.Above {
			return b.purchaseAbove(ctx, item, price)
		}
		if price < item.NextBuy.Activate {
			return b.armBuy(ctx, item, price)
		}
	case models.ActionSell:
		if item.NextSell == nil {
			return nil
		}
		if item.NextSell.Armed() && price < item.NextSell.Below {
			return b.sellBelow(ctx, item, price, balances[calc.CoinFromSymbol(item.Symbol)])
		}
		if item.NextSell.Activate > 0 && price > item.NextSell.Activate {
			return b.armSell(ctx, item, price)
		}
	}
	return nil
}

func (b *Bot) purchaseAbove(ctx context.Context, item models.SplitShortItem, price float64) error {
	b.logger.Info("purchase above", zap.String("symbol", item.Symbol), zap.Float64("price", price), zap.Float64("usd", item.PurchaseUSD))
	if item.PurchaseUSD <= 0 {
		return fmt.Errorf("item %s has no purchase amount", item.Symbol)
	}
	order, err := b.market.CreateLimitOrder(ctx, models.LimitOrderRequest{
		Symbol:   item.Symbol,
		Price:    price,
		Quantity: item.PurchaseUSD / price,
		Side:     models.Buy,
	})
	if err != nil {
		return err
	}

	item.NextAction = models.ActionSell
	item.PurchaseUSD = 0
	item.NextBuy = nil
	item.NextSell = &models.SellTrigger{Activate: calc.IncreaseByPercent(price, b.cfg.SellActivatePercent)}
	// 余额刷新失败只影响 Growth 记录, 成交后的状态必须保存
	if balances, err := b.market.GetBalances(context.WithoutCancel(ctx)); err != nil {
		b.logger.Warn("failed to refresh balances, growth not recorded", zap.String("symbol", item.Symbol), zap.Error(err))
	} else {
		item.Growth = append(item.Growth, balances[calc.CoinFromSymbol(item.Symbol)])
	}
	return bot.RecordFill(ctx, b.logger, order, func(ctx context.Context) error {
		return b.UpdateItem(ctx, item)
	})
}

// armBuy 设置或下调反弹买入价
func (b *Bot) armBuy(ctx context.Context, item models.SplitShortItem, price float64) error {
	above := calc.IncreaseByPercent(price, b.cfg.BuyAboveActivatePercent)
	if item.NextBuy.Armed() {
		above = math.Min(above, item.NextBuy.Above)
	}
	if above == item.NextBuy.Above {
		return nil
	}
	b.logger.Info("purchase activate", zap.String("symbol", item.Symbol), zap.Float64("above", above))
	item.NextBuy = &models.BuyTrigger{Activate: item.NextBuy.Activate, Above: above}
	return b.UpdateItem(ctx, item)
}

func (b *Bot) sellBelow(ctx context.Context, item models.SplitShortItem, price, balance float64) error {
	quantity := balance * b.cfg.SellQuantityShare
	b.logger.Info("sell below", zap.String("symbol", item.Symbol), zap.Float64("price", price), zap.Float64("quantity", quantity))
	if quantity <= 0 {
		return fmt.Errorf("no %s balance to sell", calc.CoinFromSymbol(item.Symbol))
	}
	order, err := b.market.CreateLimitOrder(ctx, models.LimitOrderRequest{
		Symbol:   item.Symbol,
		Price:    price,
		Quantity: quantity,
		Side:     models.Sell,
	})
	if err != nil {
		return err
	}

	item.NextAction = models.ActionPurchase
	item.NextSell = nil
	item.NextBuy = &models.BuyTrigger{Activate: calc.IncreaseByPercent(price, -b.cfg.BuyActivatePercent)}
	item.PurchaseUSD = order.FilledQuantity * price
	return bot.RecordFill(ctx, b.logger, order, func(ctx context.Context) error {
		return b.UpdateItem(ctx, item)
	})
}

// armSell 设置或上调回落卖出价
func (b *Bot) armSell(ctx context.Context, item models.SplitShortItem, price float64) error {
	below := calc.IncreaseByPercent(price, -b.cfg.SellBelowActivatePercent)
	if item.NextSell.Armed() {
		below = math.Max(below, item.NextSell.Below)
	}
	if below == item.NextSell.Below {
		return nil
	}
	b.logger.Info("sell activate", zap.String("symbol", item.Symbol), zap.Float64("below", below))
	item.NextSell = &models.SellTrigger{Activate: item.NextSell.Activate, Below: below}
	return b.UpdateItem(ctx, item)
}

func (b *Bot) load(ctx context.Context) (map[string]models.SplitShortItem, error) {
	all := make(map[string]models.SplitShortItem)
	if _, err := persistence.GetJSON(ctx, b.store, persistence.KeySplitShortItems, &all); err != nil {
		return nil, err
	}
	return all, nil
}

// Items 返回按交易对排序的所有条目
func (b *Bot) Items(ctx context.Context) ([]models.SplitShortItem, error) {
	all, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]models.SplitShortItem, 0, len(all))
	for _, item := range all {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Symbol < items[j].Symbol })
	return items, nil
}

// BySymbol 返回交易对的条目
func (b *Bot) BySymbol(ctx context.Context, symbol string) (*models.SplitShortItem, error) {
	all, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	item, ok := all[symbol]
	if !ok {
		return nil, &SymbolNotFoundError{Symbol: symbol}
	}
	return &item, nil
}

// AddItem 添加一个等待卖出的交易对
func (b *Bot) AddItem(ctx context.Context, symbol string, activateSell float64) (*models.SplitShortItem, error) {
	if activateSell <= 0 {
		return nil, fmt.Errorf("activate sell price must be positive, got %g", activateSell)
	}
	item := models.NewSplitShortItem(ident.New(), symbol, activateSell)
	err := b.update(ctx, func(all map[string]models.SplitShortItem) error {
		if _, ok := all[symbol]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateSymbol, symbol)
		}
		all[symbol] = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.logger.Info("split short item added", zap.String("symbol", symbol), zap.Float64("activateSell", activateSell))
	return &item, nil
}

// UpdateItem 写入条目, 以交易对为键
func (b *Bot) UpdateItem(ctx context.Context, item models.SplitShortItem) error {
	return b.update(ctx, func(all map[string]models.SplitShortItem) error {
		all[item.Symbol] = item
		return nil
	})
}

// Remove 删除交易对
func (b *Bot) Remove(ctx context.Context, symbol string) error {
	err := b.update(ctx, func(all map[string]models.SplitShortItem) error {
		if _, ok := all[symbol]; !ok {
			return &SymbolNotFoundError{Symbol: symbol}
		}
		delete(all, symbol)
		return nil
	})
	if err == nil {
		b.logger.Info("split short item removed", zap.String("symbol", symbol))
	}
	return err
}

// UpdatePurchase 手动切换到买入阶段: 价格跌破 activate 后开始跟踪反弹
func (b *Bot) UpdatePurchase(ctx context.Context, symbol string, usd, activate float64) error {
	if usd <= 0 || activate <= 0 {
		return fmt.Errorf("usd and activate must be positive")
	}
	return b.modify(ctx, symbol, func(item *models.SplitShortItem) {
		item.NextAction = models.ActionPurchase
		item.PurchaseUSD = usd
		item.NextBuy = &models.BuyTrigger{Activate: activate}
		item.NextSell = nil
	})
}

// UpdateActivate 修改卖出的激活价, 已设置的回落价保持不变
func (b *Bot) UpdateActivate(ctx context.Context, symbol string, activateSell float64) error {
	if activateSell <= 0 {
		return fmt.Errorf("activate sell price must be positive, got %g", activateSell)
	}
	return b.modify(ctx, symbol, func(item *models.SplitShortItem) {
		sell := models.SellTrigger{}
		if item.NextSell != nil {
			sell = *item.NextSell
		}
		sell.Activate = activateSell
		item.NextSell = &sell
	})
}

func (b *Bot) modify(ctx context.Context, symbol string, fn func(*models.SplitShortItem)) error {
	return b.update(ctx, func(all map[string]models.SplitShortItem) error {
		item, ok := all[symbol]
		if !ok {
			return &SymbolNotFoundError{Symbol: symbol}
		}
		fn(&item)
		all[symbol] = item
		return nil
	})
}

func (b *Bot) update(ctx context.Context, fn func(map[string]models.SplitShortItem) error) error {
	_, err := persistence.UpdateJSON(ctx, b.store, persistence.KeySplitShortItems,
		func(current *map[string]models.SplitShortItem) (*map[string]models.SplitShortItem, error) {
			all := make(map[string]models.SplitShortItem)
			if current != nil && *current != nil {
				all = *current
			}
			if err := fn(all); err != nil {
				return nil, err
			}
			return &all, nil
		})
	return err
}
