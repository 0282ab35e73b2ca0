package market

import (
	"binance-trade-bot-go/internal/exchange"
	"binance-trade-bot-go/internal/metrics"
	"binance-trade-bot-go/internal/models"
	"binance-trade-bot-go/internal/persistence"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testOptions = Options{
	PollInterval:         2 * time.Millisecond,
	MaxPollInterval:      10 * time.Millisecond,
	MaxWait:              100 * time.Millisecond,
	LockTTL:              time.Minute,
	BalanceBufferPercent: 1,
}

func newTestService(t *testing.T, ex exchange.Exchange) (*Service, persistence.Store, *metrics.Metrics) {
	t.Helper()
	store, err := persistence.NewInMemoryBadgerStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	m := metrics.New()
	return NewService(ex, store, testOptions, m, zap.NewNop()), store, m
}

// cancelingExchange 下单后立即撤单，模拟被交易所撤销的订单
type cancelingExchange struct {
	*exchange.PaperExchange
}

func (e *cancelingExchange) PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, quantity, price string) (*models.Order, error) {
	order, err := e.PaperExchange.PlaceLimitOrder(ctx, symbol, side, quantity, price)
	if err != nil {
		return nil, err
	}
	if err := e.PaperExchange.CancelOrder(ctx, symbol, order.OrderID); err != nil {
		return nil, err
	}
	return order, nil
}

// flakyExchange 前几次查询订单状态时返回网络错误
type flakyExchange struct {
	*exchange.PaperExchange
	mu       sync.Mutex
	failures int
	polls    int
}

func (e *flakyExchange) GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*models.Order, error) {
	e.mu.Lock()
	e.polls++
	if e.failures > 0 {
		e.failures--
		e.mu.Unlock()
		return nil, errors.New("connection reset")
	}
	e.mu.Unlock()
	return e.PaperExchange.GetOrderStatus(ctx, symbol, orderID)
}

func TestCreateLimitOrder_Filled(t *testing.T) {
	ctx := context.Background()
	ex := exchange.NewPaperExchange(map[string]float64{"USDT": 1000}, 0.001, nil)
	ex.SetPrice("ETHUSDT", 3920)
	svc, store, m := newTestService(t, ex)

	result, err := svc.CreateLimitOrder(ctx, models.LimitOrderRequest{
		Symbol:   "ETHUSDT",
		Price:    3920,
		Quantity: 100.0 / 3920,
		Side:     models.Buy,
	})
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", result.Symbol)
	assert.Equal(t, models.Buy, result.Side)
	assert.InDelta(t, 3920.0, result.Price, 1e-6)
	// 数量按 stepSize 取整
	assert.InDelta(t, 0.02551, result.Quantity, 1e-12)
	// 买入手续费以 ETH 收取, 从成交数量中扣除
	assert.InDelta(t, 0.02551*0.999, result.FilledQuantity, 1e-12)
	assert.InDelta(t, 0.02551*0.001, result.Commission, 1e-12)

	locked, err := store.IsLocked(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.False(t, locked, "lock must be released after the fill")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersTotal.WithLabelValues("ETHUSDT", "BUY", metrics.ResultFilled)))
}

func TestCreateLimitOrder_SymbolLocked(t *testing.T) {
	ctx := context.Background()
	ex := exchange.NewPaperExchange(map[string]float64{"USDT": 1000}, 0, nil)
	ex.SetPrice("ETHUSDT", 3920)
	svc, store, m := newTestService(t, ex)

	token, ok, err := store.AcquireLock(ctx, "ETHUSDT", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.CreateLimitOrder(ctx, models.LimitOrderRequest{Symbol: "ETHUSDT", Price: 3920, Quantity: 0.01, Side: models.Buy})
	assert.ErrorIs(t, err, ErrSymbolLocked)
	assert.Empty(t, ex.GetAllOrders(), "no order may be placed while the symbol is locked")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LockContentionTotal.WithLabelValues("ETHUSDT")))

	// 锁仍属于原持有者
	locked, err := store.IsLocked(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, locked)
	require.NoError(t, store.ReleaseLock(ctx, "ETHUSDT", token))
}

func TestCreateLimitOrder_TimeoutCancels(t *testing.T) {
	ctx := context.Background()
	ex := exchange.NewPaperExchange(map[string]float64{"USDT": 1000}, 0, nil)
	ex.SetPrice("ETHUSDT", 3920)
	svc, store, _ := newTestService(t, ex)

	_, err := svc.CreateLimitOrder(ctx, models.LimitOrderRequest{Symbol: "ETHUSDT", Price: 3000, Quantity: 0.01, Side: models.Buy})
	var timeoutErr *OrderTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "ETHUSDT", timeoutErr.Symbol)

	orders := ex.GetAllOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderStatusCanceled, orders[0].Status, "a timed out order must be canceled")

	locked, err := store.IsLocked(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestCreateLimitOrder_Canceled(t *testing.T) {
	ctx := context.Background()
	paper := exchange.NewPaperExchange(map[string]float64{"USDT": 1000}, 0, nil)
	paper.SetPrice("ETHUSDT", 3920)
	svc, store, _ := newTestService(t, &cancelingExchange{PaperExchange: paper})

	_, err := svc.CreateLimitOrder(ctx, models.LimitOrderRequest{Symbol: "ETHUSDT", Price: 3000, Quantity: 0.01, Side: models.Buy})
	var canceledErr *OrderCanceledError
	require.ErrorAs(t, err, &canceledErr)
	assert.Equal(t, models.OrderStatusCanceled, canceledErr.Status)

	locked, err := store.IsLocked(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestCreateLimitOrder_FillsWhilePolling(t *testing.T) {
	ctx := context.Background()
	paper := exchange.NewPaperExchange(map[string]float64{"USDT": 1000}, 0, nil)
	paper.SetPrice("ETHUSDT", 3920)
	ex := &flakyExchange{PaperExchange: paper, failures: 2}

	svc, _, _ := newTestService(t, ex)
	svc.opts.MaxWait = 2 * time.Second

	go func() {
		time.Sleep(20 * time.Millisecond)
		paper.SetPrice("ETHUSDT", 3899)
	}()

	result, err := svc.CreateLimitOrder(ctx, models.LimitOrderRequest{Symbol: "ETHUSDT", Price: 3900, Quantity: 0.01, Side: models.Buy})
	require.NoError(t, err, "transient poll errors must be retried")
	assert.InDelta(t, 3900.0, result.Price, 1e-9)
	assert.InDelta(t, 0.01, result.FilledQuantity, 1e-12)

	ex.mu.Lock()
	defer ex.mu.Unlock()
	assert.Greater(t, ex.polls, 2)
}

func TestCreateLimitOrder_FilledBeforeContextCanceled(t *testing.T) {
	paper := exchange.NewPaperExchange(map[string]float64{"USDT": 1000}, 0, nil)
	paper.SetPrice("ETHUSDT", 3920)
	svc, store, _ := newTestService(t, paper)
	svc.opts.PollInterval = 500 * time.Millisecond
	svc.opts.MaxPollInterval = 500 * time.Millisecond
	svc.opts.MaxWait = 2 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		time.Sleep(20 * time.Millisecond)
		paper.SetPrice("ETHUSDT", 3899)
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	result, err := svc.CreateLimitOrder(ctx, models.LimitOrderRequest{Symbol: "ETHUSDT", Price: 3900, Quantity: 0.01, Side: models.Buy})
	require.NoError(t, err)
	assert.InDelta(t, 0.01, result.FilledQuantity, 1e-12)

	locked, err := store.IsLocked(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestCreateLimitOrder_ContextCanceledBeforeFill(t *testing.T) {
	paper := exchange.NewPaperExchange(map[string]float64{"USDT": 1000}, 0, nil)
	paper.SetPrice("ETHUSDT", 3920)
	svc, _, _ := newTestService(t, paper)
	svc.opts.PollInterval = 500 * time.Millisecond
	svc.opts.MaxPollInterval = 500 * time.Millisecond
	svc.opts.MaxWait = 2 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := svc.CreateLimitOrder(ctx, models.LimitOrderRequest{Symbol: "ETHUSDT", Price: 3900, Quantity: 0.01, Side: models.Buy})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	orders := paper.GetAllOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderStatusCanceled, orders[0].Status)
}

func TestCreateLimitOrder_RejectsBadInput(t *testing.T) {
	ex := exchange.NewPaperExchange(map[string]float64{"USDT": 1000}, 0, nil)
	ex.SetPrice("ETHUSDT", 3920)
	svc, _, _ := newTestService(t, ex)

	_, err := svc.CreateLimitOrder(context.Background(), models.LimitOrderRequest{Symbol: "ETHUSDT", Price: 3920, Quantity: 0, Side: models.Buy})
	assert.Error(t, err)

	// 低于最小名义价值
	_, err = svc.CreateLimitOrder(context.Background(), models.LimitOrderRequest{Symbol: "ETHUSDT", Price: 3920, Quantity: 0.0001, Side: models.Buy})
	assert.Error(t, err)
	assert.Empty(t, ex.GetAllOrders())
}

func TestHasBalanceForPurchase(t *testing.T) {
	ctx := context.Background()
	ex := exchange.NewPaperExchange(map[string]float64{"USDT": 100, "ETH": 0.5}, 0, nil)
	svc, _, _ := newTestService(t, ex)

	ok, err := svc.HasBalanceForPurchase(ctx, 99)
	require.NoError(t, err)
	assert.True(t, ok, "99 * 1.01 = 99.99 <= 100")

	ok, err = svc.HasBalanceForPurchase(ctx, 99.5)
	require.NoError(t, err)
	assert.False(t, ok, "99.5 * 1.01 > 100")

	snapshot, err := svc.CachedBalances(ctx)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, 100.0, snapshot.Balances["USDT"])
	assert.Equal(t, 0.5, snapshot.Balances["ETH"])
}

func TestCachedBalances_Empty(t *testing.T) {
	svc, _, _ := newTestService(t, exchange.NewPaperExchange(nil, 0, nil))
	snapshot, err := svc.CachedBalances(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}
