package exchange

import (
	"binance-trade-bot-go/internal/models"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPriceSource 是 PriceSource 接口的模拟实现
type mockPriceSource struct {
	mu     sync.Mutex
	prices map[string]float64
	calls  int
}

func (m *mockPriceSource) GetPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.prices[symbol], nil
}

func (m *mockPriceSource) GetAllPrices(ctx context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	cpy := make(map[string]float64, len(m.prices))
	for k, v := range m.prices {
		cpy[k] = v
	}
	return cpy, nil
}

func TestPaperExchange_MarketableBuyFillsImmediately(t *testing.T) {
	ctx := context.Background()
	ex := NewPaperExchange(map[string]float64{"USDT": 1000}, 0.001, nil)
	ex.SetPrice("ETHUSDT", 3920)

	order, err := ex.PlaceLimitOrder(ctx, "ETHUSDT", models.Buy, "0.02551", "3920")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, order.Status)
	assert.InDelta(t, 0.02551, order.ExecutedQty, 1e-12)
	assert.InDelta(t, 0.02551*0.001, order.Commission, 1e-12)
	assert.Equal(t, "ETH", order.CommissionAsset)

	balances, err := ex.GetBalances(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1000-0.02551*3920, balances["USDT"], 1e-9)
	assert.InDelta(t, 0.02551*(1-0.001), balances["ETH"], 1e-12)

	trades, err := ex.GetTrades(ctx, "ETHUSDT", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].IsBuyer)
	assert.Equal(t, order.OrderID, trades[0].OrderID)
}

func TestPaperExchange_RestingOrderFillsOnPriceMove(t *testing.T) {
	ctx := context.Background()
	ex := NewPaperExchange(map[string]float64{"BTC": 1}, 0, nil)
	ex.SetPrice("BTCUSDT", 60000)

	order, err := ex.PlaceLimitOrder(ctx, "BTCUSDT", models.Sell, "0.5", "61000")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusNew, order.Status)

	ex.SetPrice("BTCUSDT", 60500)
	status, err := ex.GetOrderStatus(ctx, "BTCUSDT", order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusNew, status.Status)

	ex.SetPrice("BTCUSDT", 61200)
	status, err = ex.GetOrderStatus(ctx, "BTCUSDT", order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, status.Status)
	// 以挂单价成交
	assert.InDelta(t, 30500.0, status.CumQuote, 1e-9)

	balances, _ := ex.GetBalances(ctx)
	assert.InDelta(t, 0.5, balances["BTC"], 1e-12)
	assert.InDelta(t, 30500.0, balances["USDT"], 1e-9)
}

func TestPaperExchange_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	ex := NewPaperExchange(map[string]float64{"USDT": 10}, 0, nil)
	ex.SetPrice("ETHUSDT", 3920)

	_, err := ex.PlaceLimitOrder(ctx, "ETHUSDT", models.Buy, "1", "3920")
	var apiErr *models.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, -2010, apiErr.Code)

	_, err = ex.PlaceLimitOrder(ctx, "ETHUSDT", models.Sell, "1", "3920")
	require.ErrorAs(t, err, &apiErr)
}

func TestPaperExchange_CancelOrder(t *testing.T) {
	ctx := context.Background()
	ex := NewPaperExchange(map[string]float64{"USDT": 1000}, 0, nil)
	ex.SetPrice("SOLUSDT", 150)

	order, err := ex.PlaceLimitOrder(ctx, "SOLUSDT", models.Buy, "1", "140")
	require.NoError(t, err)
	require.NoError(t, ex.CancelOrder(ctx, "SOLUSDT", order.OrderID))

	// 撤单后价格下跌也不会成交
	ex.SetPrice("SOLUSDT", 130)
	status, err := ex.GetOrderStatus(ctx, "SOLUSDT", order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCanceled, status.Status)

	assert.Error(t, ex.CancelOrder(ctx, "SOLUSDT", order.OrderID), "canceling twice must fail")
	assert.Len(t, ex.GetAllOrders(), 1)
}

func TestPaperExchange_UsesPriceSource(t *testing.T) {
	ctx := context.Background()
	src := &mockPriceSource{prices: map[string]float64{"ETHUSDT": 3000, "BTCUSDT": 60000}}
	ex := NewPaperExchange(map[string]float64{"USDT": 10000}, 0, src)

	price, err := ex.GetPrice(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 3000.0, price)

	order, err := ex.PlaceLimitOrder(ctx, "BTCUSDT", models.Buy, "0.1", "59000")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusNew, order.Status, "BTC price is not known yet")

	src.mu.Lock()
	src.prices["BTCUSDT"] = 58900
	src.mu.Unlock()

	all, err := ex.GetAllPrices(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	status, err := ex.GetOrderStatus(ctx, "BTCUSDT", order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, status.Status)
	assert.Equal(t, 2, src.calls)
}

func TestPaperExchange_UnknownSymbolWithoutSource(t *testing.T) {
	ex := NewPaperExchange(nil, 0, nil)
	_, err := ex.GetPrice(context.Background(), "NOPEUSDT")
	assert.Error(t, err)
}

type mockKlineSource struct {
	mockPriceSource
}

func (m *mockKlineSource) GetKlines(ctx context.Context, symbol, interval string, start time.Time, limit int) ([]models.Kline, error) {
	return []models.Kline{{OpenTime: start.UnixMilli(), Close: 42}}, nil
}

func TestPaperExchange_GetKlines(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := NewPaperExchange(nil, 0, &mockPriceSource{}).GetKlines(ctx, "ETHUSDT", "1h", start, 10)
	assert.Error(t, err)

	klines, err := NewPaperExchange(nil, 0, &mockKlineSource{}).GetKlines(ctx, "ETHUSDT", "1h", start, 10)
	require.NoError(t, err)
	require.Len(t, klines, 1)
	assert.Equal(t, 42.0, klines[0].Close)
}
