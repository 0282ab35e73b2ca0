package collective

import (
	"binance-trade-bot-go/internal/bot/bottest"
	"binance-trade-bot-go/internal/models"
	"binance-trade-bot-go/internal/persistence"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var basket = []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT", "EUSDT"}

func newTestBot(t *testing.T) (*Bot, *bottest.FakeMarket, persistence.Store) {
	t.Helper()
	store := bottest.NewStore(t)
	m := bottest.NewFakeMarket()
	m.SetBalance("USDT", 5000)

	modelPrices := make(map[string]float64, len(basket))
	for _, s := range basket {
		modelPrices[s] = 100
	}
	cfg := models.CollectiveConfig{
		Symbols:       basket,
		ModelPrices:   modelPrices,
		Pot:           1000,
		Quorum:        4,
		DropPercent:   3,
		ProfitPercent: 2,
	}
	return New(cfg, m, store, nil, zap.NewNop()), m, store
}

func TestCountBelowThreshold(t *testing.T) {
	modelPrices := map[string]float64{"AUSDT": 100, "BUSDT": 100, "CUSDT": 100}
	prices := map[string]float64{"AUSDT": 96, "BUSDT": 97, "CUSDT": 50, "DUSDT": 1}

	// 97 等于阈值，不计入; DUSDT 没有基准价格
	assert.Equal(t, 2, CountBelowThreshold([]string{"AUSDT", "BUSDT", "CUSDT", "DUSDT"}, modelPrices, prices, 3))
	assert.InDelta(t, 97.0, ThresholdPrice(100, 3), 1e-9)
}

func TestCollective_QuorumTriggersPurchase(t *testing.T) {
	b, m, _ := newTestBot(t)
	ctx := context.Background()
	m.SetPrices(map[string]float64{"AUSDT": 96, "BUSDT": 96, "CUSDT": 96, "DUSDT": 96, "EUSDT": 100})

	require.NoError(t, b.Run(ctx))

	orders := m.Orders()
	require.Len(t, orders, 5, "every basket symbol is bought, not only the ones below threshold")
	for _, o := range orders {
		assert.Equal(t, models.Buy, o.Side)
		assert.InDelta(t, 200.0, o.Price*o.Quantity, 1e-9, o.Symbol)
	}

	purchase, err := b.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, purchase)
	assert.InDelta(t, 1020.0, purchase.SellAfterTotal, 1e-9)
	assert.Equal(t, 1000.0, purchase.Pot)
	require.Len(t, purchase.Items, 5)
	for i, item := range purchase.Items {
		assert.Equal(t, basket[i], item.Symbol)
	}
	assert.False(t, purchase.Liquidating)
}

func TestCollective_QuorumMinusOneDoesNothing(t *testing.T) {
	b, m, _ := newTestBot(t)
	ctx := context.Background()
	m.SetPrices(map[string]float64{"AUSDT": 96, "BUSDT": 96, "CUSDT": 96, "DUSDT": 99, "EUSDT": 100})

	require.NoError(t, b.Run(ctx))
	assert.Empty(t, m.Orders())

	purchase, err := b.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, purchase)
}

func TestCollective_InsufficientBalance(t *testing.T) {
	b, m, _ := newTestBot(t)
	m.SetBalance("USDT", 999)
	m.SetPrices(map[string]float64{"AUSDT": 90, "BUSDT": 90, "CUSDT": 90, "DUSDT": 90, "EUSDT": 90})

	require.NoError(t, b.Run(context.Background()))
	assert.Empty(t, m.Orders())
}

func TestCollective_SellsWhenTargetReached(t *testing.T) {
	b, m, store := newTestBot(t)
	ctx := context.Background()
	m.SetPrices(map[string]float64{"AUSDT": 96, "BUSDT": 96, "CUSDT": 96, "DUSDT": 96, "EUSDT": 100})
	require.NoError(t, b.Run(ctx))

	// 总市值 1018 < 1020, 继续持有
	m.SetPrices(map[string]float64{"AUSDT": 97.92, "BUSDT": 97.92, "CUSDT": 97.92, "DUSDT": 97.92, "EUSDT": 101})
	require.NoError(t, b.Run(ctx))
	assert.Len(t, m.Orders(), 5)

	// 总市值 1030 >= 1020, 整篮卖出
	m.SetPrices(map[string]float64{"AUSDT": 98.88, "BUSDT": 98.88, "CUSDT": 98.88, "DUSDT": 98.88, "EUSDT": 103})
	require.NoError(t, b.Run(ctx))

	orders := m.Orders()
	require.Len(t, orders, 10)
	for _, o := range orders[5:] {
		assert.Equal(t, models.Sell, o.Side)
	}

	raw, err := store.Get(ctx, persistence.KeyCollectivePurchase)
	require.NoError(t, err)
	assert.Nil(t, raw, "the record is removed once every item is sold")
	assert.InDelta(t, 5030.0, m.Balance("USDT"), 1e-6)
}

func TestCollective_PartialSaleIsResumed(t *testing.T) {
	b, m, _ := newTestBot(t)
	ctx := context.Background()
	m.SetPrices(map[string]float64{"AUSDT": 96, "BUSDT": 96, "CUSDT": 96, "DUSDT": 96, "EUSDT": 100})
	require.NoError(t, b.Run(ctx))

	m.SetPrices(map[string]float64{"AUSDT": 98.88, "BUSDT": 98.88, "CUSDT": 98.88, "DUSDT": 98.88, "EUSDT": 103})
	m.FailOrders("EUSDT", errors.New("order canceled"))
	assert.Error(t, b.Run(ctx))

	purchase, err := b.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, purchase)
	assert.True(t, purchase.Liquidating)
	require.Len(t, purchase.Items, 1)
	assert.Equal(t, "EUSDT", purchase.Items[0].Symbol)
	assert.InDelta(t, 824.0, purchase.SoldTotal, 1e-6)

	// 清算中的记录不再比较目标市值
	m.FailOrders("EUSDT", nil)
	m.SetPrice("EUSDT", 90)
	require.NoError(t, b.Run(ctx))

	purchase, err = b.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, purchase)
	assert.Len(t, m.OrdersFor("EUSDT"), 2)
}

func TestCollective_StatsAndSetSellAfterTotal(t *testing.T) {
	b, m, _ := newTestBot(t)
	ctx := context.Background()

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Nil(t, stats)
	_, err = b.SetSellAfterTotal(ctx, 1100)
	assert.ErrorIs(t, err, ErrNoPosition)

	m.SetPrices(map[string]float64{"AUSDT": 96, "BUSDT": 96, "CUSDT": 96, "DUSDT": 96, "EUSDT": 100})
	require.NoError(t, b.Run(ctx))

	m.SetPrice("EUSDT", 110)
	stats, err = b.Stats(ctx)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.InDelta(t, 1020.0, stats.SellAfterTotal, 1e-9)
	assert.InDelta(t, 1020.0, stats.CurrentTotal, 1e-6)
	require.Len(t, stats.Items, 5)
	assert.InDelta(t, 20.0, stats.Items[4].Profit, 1e-6)
	assert.InDelta(t, 0.0, stats.Items[0].Profit, 1e-6)

	updated, err := b.SetSellAfterTotal(ctx, 1100)
	require.NoError(t, err)
	assert.Equal(t, 1100.0, updated.SellAfterTotal)

	// 1020 < 1100, 不卖出
	require.NoError(t, b.Run(ctx))
	assert.Len(t, m.Orders(), 5)

	_, err = b.SetSellAfterTotal(ctx, 0)
	assert.Error(t, err)
}
