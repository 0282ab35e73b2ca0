// Package bottest 提供机器人测试使用的模拟市场和存储
package bottest

import (
	"binance-trade-bot-go/internal/bot"
	"binance-trade-bot-go/internal/calc"
	"binance-trade-bot-go/internal/market"
	"binance-trade-bot-go/internal/models"
	"binance-trade-bot-go/internal/persistence"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	_ bot.Market = (*FakeMarket)(nil)
	_ bot.Market = (*market.Service)(nil)
)

// FakeMarket 是 bot.Market 接口的模拟实现。
// 订单按请求的价格和数量立即成交，并更新余额。
type FakeMarket struct {
	mu          sync.Mutex
	prices      map[string]float64
	balances    map[string]float64
	locked      map[string]bool
	orderErrors map[string]error
	priceErrors map[string]error
	balanceErr  error
	balanceOK   int // balanceErr 生效前还能成功的次数
	orders      []models.LimitOrderRequest
	nextOrderID int64
}

func NewFakeMarket() *FakeMarket {
	return &FakeMarket{
		prices:      make(map[string]float64),
		balances:    make(map[string]float64),
		locked:      make(map[string]bool),
		orderErrors: make(map[string]error),
		priceErrors: make(map[string]error),
		nextOrderID: 1000,
	}
}

func (m *FakeMarket) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

func (m *FakeMarket) SetPrices(prices map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range prices {
		m.prices[k] = v
	}
}

func (m *FakeMarket) SetBalance(asset string, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[asset] = amount
}

func (m *FakeMarket) Balance(asset string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[asset]
}

// Lock 模拟另一个订单正在占用该交易对
func (m *FakeMarket) Lock(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked[symbol] = true
}

// FailOrders 让该交易对之后的下单返回 err, err 为 nil 时恢复
func (m *FakeMarket) FailOrders(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.orderErrors, symbol)
		return
	}
	m.orderErrors[symbol] = err
}

// FailPrice 让该交易对的行情查询返回 err
func (m *FakeMarket) FailPrice(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priceErrors[symbol] = err
}

// FailBalances 让余额查询在成功 after 次之后返回 err, err 为 nil 时恢复
func (m *FakeMarket) FailBalances(err error, after int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceErr = err
	m.balanceOK = after
}

// Orders 返回所有成功下单的请求
func (m *FakeMarket) Orders() []models.LimitOrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]models.LimitOrderRequest, len(m.orders))
	copy(cpy, m.orders)
	return cpy
}

// OrdersFor 返回某个交易对的下单请求
func (m *FakeMarket) OrdersFor(symbol string) []models.LimitOrderRequest {
	var result []models.LimitOrderRequest
	for _, o := range m.Orders() {
		if o.Symbol == symbol {
			result = append(result, o)
		}
	}
	return result
}

func (m *FakeMarket) GetPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.priceErrors[symbol]; err != nil {
		return 0, err
	}
	price, ok := m.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

func (m *FakeMarket) GetAllPrices(ctx context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make(map[string]float64, len(m.prices))
	for k, v := range m.prices {
		cpy[k] = v
	}
	return cpy, nil
}

func (m *FakeMarket) GetBalances(ctx context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balanceErr != nil {
		if m.balanceOK == 0 {
			return nil, m.balanceErr
		}
		m.balanceOK--
	}
	cpy := make(map[string]float64, len(m.balances))
	for k, v := range m.balances {
		cpy[k] = v
	}
	return cpy, nil
}

func (m *FakeMarket) HasBalanceForPurchase(ctx context.Context, usd float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[calc.QuoteAsset] >= usd, nil
}

func (m *FakeMarket) CreateLimitOrder(ctx context.Context, req models.LimitOrderRequest) (*models.LimitOrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locked[req.Symbol] {
		return nil, fmt.Errorf("%w: %s", market.ErrSymbolLocked, req.Symbol)
	}
	if err := m.orderErrors[req.Symbol]; err != nil {
		return nil, err
	}

	coin := calc.CoinFromSymbol(req.Symbol)
	quote := req.Price * req.Quantity
	if req.Side == models.Buy {
		m.balances[calc.QuoteAsset] -= quote
		m.balances[coin] += req.Quantity
	} else {
		m.balances[coin] -= req.Quantity
		m.balances[calc.QuoteAsset] += quote
	}

	m.orders = append(m.orders, req)
	m.nextOrderID++
	return &models.LimitOrderResult{
		OrderID:        m.nextOrderID,
		Symbol:         req.Symbol,
		Price:          req.Price,
		Quantity:       req.Quantity,
		Side:           req.Side,
		FilledQuantity: req.Quantity,
	}, nil
}

func (m *FakeMarket) IsLocked(ctx context.Context, symbol string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked[symbol], nil
}

// NewStore 返回一个测试结束时自动关闭的内存存储
func NewStore(t testing.TB) persistence.Store {
	t.Helper()
	store, err := persistence.NewInMemoryBadgerStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// FailingStore 包装一个存储, 可以让之后的写入失败
type FailingStore struct {
	persistence.Store

	mu  sync.Mutex
	err error
}

func NewFailingStore(t testing.TB) *FailingStore {
	return &FailingStore{Store: NewStore(t)}
}

// FailWrites 让之后的 Set/Update/Delete 返回 err, err 为 nil 时恢复
func (s *FailingStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *FailingStore) writeErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *FailingStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.writeErr(); err != nil {
		return err
	}
	return s.Store.Set(ctx, key, value)
}

func (s *FailingStore) Update(ctx context.Context, key string, fn persistence.UpdateFunc) error {
	if err := s.writeErr(); err != nil {
		return err
	}
	return s.Store.Update(ctx, key, fn)
}

func (s *FailingStore) Delete(ctx context.Context, key string) error {
	if err := s.writeErr(); err != nil {
		return err
	}
	return s.Store.Delete(ctx, key)
}
