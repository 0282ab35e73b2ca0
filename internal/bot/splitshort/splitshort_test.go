package splitshort

import (
	"binance-trade-bot-go/internal/bot/bottest"
	"binance-trade-bot-go/internal/models"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const symbol = "BNBUSDT"

func newTestBot(t *testing.T) (*Bot, *bottest.FakeMarket) {
	t.Helper()
	m := bottest.NewFakeMarket()
	m.SetBalance("USDT", 1000)
	m.SetBalance("BNB", 10)
	cfg := models.SplitShortConfig{
		SellActivatePercent:      5,
		SellBelowActivatePercent: 1,
		BuyActivatePercent:       5,
		BuyAboveActivatePercent:  1,
		SellQuantityShare:        0.5,
	}
	return New(cfg, m, bottest.NewStore(t), nil, zap.NewNop()), m
}

// tick 设置价格, 运行一次并返回最新的条目
func tick(t *testing.T, b *Bot, m *bottest.FakeMarket, price float64) *models.SplitShortItem {
	t.Helper()
	m.SetPrice(symbol, price)
	require.NoError(t, b.Run(context.Background()))
	item, err := b.BySymbol(context.Background(), symbol)
	require.NoError(t, err)
	return item
}

func TestSplitShort_FullCycle(t *testing.T) {
	b, m := newTestBot(t)
	_, err := b.AddItem(context.Background(), symbol, 300)
	require.NoError(t, err)

	item := tick(t, b, m, 290)
	assert.False(t, item.NextSell.Armed())

	// 涨过激活价后设置回落价
	item = tick(t, b, m, 310)
	assert.InDelta(t, 306.9, item.NextSell.Below, 1e-9)

	item = tick(t, b, m, 320)
	assert.InDelta(t, 316.8, item.NextSell.Below, 1e-9)

	// 回落价只上调不下调
	item = tick(t, b, m, 318)
	assert.InDelta(t, 316.8, item.NextSell.Below, 1e-9)
	assert.Empty(t, m.Orders())

	// 跌破回落价, 卖出一半持仓
	item = tick(t, b, m, 316)
	orders := m.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, models.Sell, orders[0].Side)
	assert.Equal(t, 5.0, orders[0].Quantity)
	assert.Equal(t, models.ActionPurchase, item.NextAction)
	assert.Nil(t, item.NextSell)
	require.NotNil(t, item.NextBuy)
	assert.InDelta(t, 300.2, item.NextBuy.Activate, 1e-9)
	assert.False(t, item.NextBuy.Armed())
	assert.InDelta(t, 1580.0, item.PurchaseUSD, 1e-9)

	item = tick(t, b, m, 305)
	assert.False(t, item.NextBuy.Armed())

	// 跌破买入激活价后设置反弹价, 反弹价只下调不上调
	item = tick(t, b, m, 300)
	assert.InDelta(t, 303.0, item.NextBuy.Above, 1e-9)
	item = tick(t, b, m, 295)
	assert.InDelta(t, 297.95, item.NextBuy.Above, 1e-9)
	item = tick(t, b, m, 297)
	assert.InDelta(t, 297.95, item.NextBuy.Above, 1e-9)
	assert.Len(t, m.Orders(), 1)

	// 反弹超过反弹价, 用卖出所得买回
	item = tick(t, b, m, 298)
	orders = m.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, models.Buy, orders[1].Side)
	assert.InDelta(t, 1580.0/298, orders[1].Quantity, 1e-12)

	assert.Equal(t, models.ActionSell, item.NextAction)
	assert.Nil(t, item.NextBuy)
	assert.Zero(t, item.PurchaseUSD)
	require.NotNil(t, item.NextSell)
	assert.InDelta(t, 312.9, item.NextSell.Activate, 1e-9)
	require.Len(t, item.Growth, 1)
	assert.InDelta(t, 5+1580.0/298, item.Growth[0], 1e-9)
}

func TestSplitShort_RatchetsAreMonotone(t *testing.T) {
	b, m := newTestBot(t)
	ctx := context.Background()
	_, err := b.AddItem(ctx, symbol, 100)
	require.NoError(t, err)

	// 始终高于回落价, 不会卖出
	last := 0.0
	for _, price := range []float64{110, 109, 115, 114, 120, 119} {
		item := tick(t, b, m, price)
		require.True(t, item.NextSell.Armed())
		assert.GreaterOrEqual(t, item.NextSell.Below, last, "price %v", price)
		last = item.NextSell.Below
	}
	assert.Empty(t, m.Orders())

	require.NoError(t, b.UpdatePurchase(ctx, symbol, 100, 90))
	last = 0
	for _, price := range []float64{89, 89.5, 85, 85.8, 84, 84.5} {
		item := tick(t, b, m, price)
		require.True(t, item.NextBuy.Armed())
		if last > 0 {
			assert.LessOrEqual(t, item.NextBuy.Above, last, "price %v", price)
		}
		last = item.NextBuy.Above
	}
	assert.Empty(t, m.Orders())
}

func TestSplitShort_LockedSymbolSkipped(t *testing.T) {
	b, m := newTestBot(t)
	_, err := b.AddItem(context.Background(), symbol, 300)
	require.NoError(t, err)
	m.Lock(symbol)

	item := tick(t, b, m, 350)
	assert.False(t, item.NextSell.Armed())
}

func TestSplitShort_PurchaseWithoutTriggerIsSkipped(t *testing.T) {
	b, m := newTestBot(t)
	ctx := context.Background()
	require.NoError(t, b.UpdateItem(ctx, models.SplitShortItem{ID: "x", Symbol: symbol, NextAction: models.ActionPurchase}))
	require.NoError(t, b.UpdateItem(ctx, models.SplitShortItem{ID: "y", Symbol: "ADAUSDT", NextAction: models.ActionSell, NextSell: &models.SellTrigger{Activate: 1}}))
	m.SetPrice("ADAUSDT", 2)

	tick(t, b, m, 100)
	ada, err := b.BySymbol(ctx, "ADAUSDT")
	require.NoError(t, err)
	assert.True(t, ada.NextSell.Armed(), "other symbols keep running")
}

func TestSplitShort_ItemOperations(t *testing.T) {
	b, _ := newTestBot(t)
	ctx := context.Background()

	items, err := b.Items(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = b.AddItem(ctx, symbol, 300)
	require.NoError(t, err)
	_, err = b.AddItem(ctx, "ADAUSDT", 1)
	require.NoError(t, err)
	_, err = b.AddItem(ctx, symbol, 310)
	assert.ErrorIs(t, err, ErrDuplicateSymbol)

	items, err = b.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "ADAUSDT", items[0].Symbol)
	assert.Equal(t, symbol, items[1].Symbol)

	require.NoError(t, b.UpdateActivate(ctx, symbol, 320))
	item, err := b.BySymbol(ctx, symbol)
	require.NoError(t, err)
	assert.Equal(t, 320.0, item.NextSell.Activate)

	require.NoError(t, b.UpdatePurchase(ctx, symbol, 500, 280))
	item, err = b.BySymbol(ctx, symbol)
	require.NoError(t, err)
	assert.Equal(t, models.ActionPurchase, item.NextAction)
	assert.Equal(t, 500.0, item.PurchaseUSD)
	assert.Equal(t, 280.0, item.NextBuy.Activate)
	assert.Nil(t, item.NextSell)

	require.NoError(t, b.Remove(ctx, symbol))
	var notFound *SymbolNotFoundError
	_, err = b.BySymbol(ctx, symbol)
	assert.ErrorAs(t, err, &notFound)
	assert.ErrorAs(t, b.Remove(ctx, symbol), &notFound)
	assert.ErrorAs(t, b.UpdateActivate(ctx, symbol, 1), &notFound)
}

func TestSplitShort_BalanceRefreshFailureStillRecordsPurchase(t *testing.T) {
	b, m := newTestBot(t)
	ctx := context.Background()
	item, err := b.AddItem(ctx, symbol, 300)
	require.NoError(t, err)
	item.NextAction = models.ActionPurchase
	item.PurchaseUSD = 100
	item.NextSell = nil
	item.NextBuy = &models.BuyTrigger{Activate: 110, Above: 99}
	require.NoError(t, b.UpdateItem(ctx, *item))

	// Run 的第一次余额查询成功, 成交后的刷新失败
	m.FailBalances(errors.New("connection reset"), 1)
	m.SetPrice(symbol, 100)
	require.NoError(t, b.Run(ctx))
	m.FailBalances(nil, 0)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Run(ctx))
	}

	assert.Len(t, m.Orders(), 1)
	got, err := b.BySymbol(ctx, symbol)
	require.NoError(t, err)
	assert.Equal(t, models.ActionSell, got.NextAction)
	assert.Nil(t, got.NextBuy)
	assert.InDelta(t, 105.0, got.NextSell.Activate, 1e-9)
	assert.Empty(t, got.Growth)
}
