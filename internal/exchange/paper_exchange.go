package exchange

import (
	"binance-trade-bot-go/internal/calc"
	"binance-trade-bot-go/internal/models"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// PaperExchange 实现了 Exchange 接口，用于模拟盘交易。
// 行情来自 PriceSource (通常是真实交易所) 或手动 SetPrice,
// 订单在本地撮合: 限价单在价格可成交时以挂单价成交，并收取吃单手续费。
type PaperExchange struct {
	source PriceSource

	mu          sync.Mutex
	prices      map[string]float64
	balances    map[string]float64
	orders      map[int64]*models.Order
	trades      []models.Trade
	nextOrderID int64
	nextTradeID int64

	TakerFeeRate float64 // 吃单手续费率
	TotalFees    float64 // 累积总手续费 (折算为 USDT)
	now          func() time.Time
}

// NewPaperExchange 创建一个新的 PaperExchange 实例。source 可以为 nil, 此时只使用 SetPrice 设置的价格。
func NewPaperExchange(balances map[string]float64, takerFeeRate float64, source PriceSource) *PaperExchange {
	wallet := make(map[string]float64, len(balances))
	for asset, v := range balances {
		wallet[asset] = v
	}
	return &PaperExchange{
		source:       source,
		prices:       make(map[string]float64),
		balances:     wallet,
		orders:       make(map[int64]*models.Order),
		trades:       make([]models.Trade, 0),
		nextOrderID:  1,
		nextTradeID:  1,
		TakerFeeRate: takerFeeRate,
		now:          time.Now,
	}
}

// SetPrice 模拟价格变动并触发挂单成交检查。
func (e *PaperExchange) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setPriceLocked(symbol, price)
}

func (e *PaperExchange) setPriceLocked(symbol string, price float64) {
	e.prices[symbol] = price
	e.checkLimitOrdersAtPrice(symbol, price)
}

// checkLimitOrdersAtPrice 遍历所有挂单，检查是否有订单可以在指定价格成交。必须在持有锁的情况下调用。
func (e *PaperExchange) checkLimitOrdersAtPrice(symbol string, price float64) {
	var orderedIDs []int64
	for id, order := range e.orders {
		if order.Symbol == symbol && order.Status == models.OrderStatusNew {
			orderedIDs = append(orderedIDs, id)
		}
	}
	sort.Slice(orderedIDs, func(i, j int) bool { return orderedIDs[i] < orderedIDs[j] })

	for _, orderID := range orderedIDs {
		order := e.orders[orderID]
		if marketable(order, price) {
			e.handleFilledOrder(order)
		}
	}
}

func marketable(order *models.Order, price float64) bool {
	if order.Side == models.Buy {
		return price <= order.Price
	}
	return price >= order.Price
}

// handleFilledOrder 以挂单价成交并更新钱包。必须在持有锁的情况下调用。
// 买入手续费以币种扣除，卖出手续费以 USDT 扣除，与现货规则一致。
func (e *PaperExchange) handleFilledOrder(order *models.Order) {
	coin := calc.CoinFromSymbol(order.Symbol)
	quote := order.Price * order.OrigQty

	var commission float64
	var commissionAsset string
	if order.Side == models.Buy {
		if e.balances[calc.QuoteAsset] < quote {
			order.Status = models.OrderStatusExpired
			order.UpdateTime = e.now().UnixMilli()
			return
		}
		commission = order.OrigQty * e.TakerFeeRate
		commissionAsset = coin
		e.balances[calc.QuoteAsset] -= quote
		e.balances[coin] += order.OrigQty - commission
		e.TotalFees += commission * order.Price
	} else {
		if e.balances[coin] < order.OrigQty {
			order.Status = models.OrderStatusExpired
			order.UpdateTime = e.now().UnixMilli()
			return
		}
		commission = quote * e.TakerFeeRate
		commissionAsset = calc.QuoteAsset
		e.balances[coin] -= order.OrigQty
		e.balances[calc.QuoteAsset] += quote - commission
		e.TotalFees += commission
	}

	ts := e.now().UnixMilli()
	order.Status = models.OrderStatusFilled
	order.ExecutedQty = order.OrigQty
	order.CumQuote = quote
	order.Commission = commission
	order.CommissionAsset = commissionAsset
	order.UpdateTime = ts

	e.trades = append(e.trades, models.Trade{
		Symbol:          order.Symbol,
		ID:              e.nextTradeID,
		OrderID:         order.OrderID,
		Price:           order.Price,
		Qty:             order.OrigQty,
		QuoteQty:        quote,
		Commission:      commission,
		CommissionAsset: commissionAsset,
		Time:            ts,
		IsBuyer:         order.Side == models.Buy,
	})
	e.nextTradeID++
}

// --- Exchange 接口实现 ---

// GetPrice 优先从 PriceSource 获取价格，并用它撮合挂单
func (e *PaperExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if e.source != nil {
		price, err := e.source.GetPrice(ctx, symbol)
		if err != nil {
			return 0, err
		}
		e.SetPrice(symbol, price)
		return price, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	price, ok := e.prices[symbol]
	if !ok {
		return 0, &models.Error{Code: -1121, Msg: fmt.Sprintf("Invalid symbol %s", symbol)}
	}
	return price, nil
}

func (e *PaperExchange) GetAllPrices(ctx context.Context) (map[string]float64, error) {
	if e.source != nil {
		prices, err := e.source.GetAllPrices(ctx)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		for symbol, price := range prices {
			e.setPriceLocked(symbol, price)
		}
		e.mu.Unlock()
		return prices, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	cpy := make(map[string]float64, len(e.prices))
	for k, v := range e.prices {
		cpy[k] = v
	}
	return cpy, nil
}

func (e *PaperExchange) GetBalances(ctx context.Context) (map[string]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cpy := make(map[string]float64, len(e.balances))
	for k, v := range e.balances {
		if v > 0 {
			cpy[k] = v
		}
	}
	return cpy, nil
}

// GetSymbolInfo 为模拟盘提供一个宽松的交易规则，避免网络调用
func (e *PaperExchange) GetSymbolInfo(ctx context.Context, symbol string) (*models.SymbolInfo, error) {
	return &models.SymbolInfo{
		Symbol:      symbol,
		TickSize:    "0.00000001",
		StepSize:    "0.00001000",
		MinNotional: "5.00000000",
	}, nil
}

// PlaceLimitOrder 下一个限价单。余额不足时返回与币安相同的错误码;
// 如果当前价格已经可以成交，订单立即成交。
func (e *PaperExchange) PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, quantity, price string) (*models.Order, error) {
	qty := calc.ParseFloat(quantity)
	limit := calc.ParseFloat(price)
	if qty <= 0 || limit <= 0 {
		return nil, &models.Error{Code: -1013, Msg: "Invalid quantity or price."}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	coin := calc.CoinFromSymbol(symbol)
	if side == models.Buy && e.balances[calc.QuoteAsset] < qty*limit {
		return nil, &models.Error{Code: -2010, Msg: "Account has insufficient balance for requested action."}
	}
	if side == models.Sell && e.balances[coin] < qty {
		return nil, &models.Error{Code: -2010, Msg: "Account has insufficient balance for requested action."}
	}

	ts := e.now().UnixMilli()
	order := &models.Order{
		Symbol:        symbol,
		OrderID:       e.nextOrderID,
		ClientOrderID: fmt.Sprintf("paper-%d", e.nextOrderID),
		Side:          side,
		Type:          "LIMIT",
		Price:         limit,
		OrigQty:       qty,
		Status:        models.OrderStatusNew,
		Time:          ts,
		UpdateTime:    ts,
	}
	e.orders[order.OrderID] = order
	e.nextOrderID++

	if current, ok := e.prices[symbol]; ok && marketable(order, current) {
		e.handleFilledOrder(order)
	}

	orderCopy := *order
	return &orderCopy, nil
}

func (e *PaperExchange) GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if order, ok := e.orders[orderID]; ok && order.Symbol == symbol {
		orderCopy := *order
		return &orderCopy, nil
	}
	return nil, &models.Error{Code: -2013, Msg: "Order does not exist."}
}

func (e *PaperExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[orderID]
	if !ok || order.Symbol != symbol || order.Status != models.OrderStatusNew {
		return &models.Error{Code: -2011, Msg: "Unknown order sent."}
	}
	order.Status = models.OrderStatusCanceled
	order.UpdateTime = e.now().UnixMilli()
	return nil
}

// GetTrades 返回该交易对最近的 limit 条成交记录 (按时间升序)
func (e *PaperExchange) GetTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	trades := make([]models.Trade, 0)
	for _, t := range e.trades {
		if t.Symbol == symbol {
			trades = append(trades, t)
		}
	}
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	return trades, nil
}

// GetKlines 模拟盘没有历史数据, 从 PriceSource 获取
func (e *PaperExchange) GetKlines(ctx context.Context, symbol, interval string, start time.Time, limit int) ([]models.Kline, error) {
	ks, ok := e.source.(KlineSource)
	if !ok {
		return nil, fmt.Errorf("paper exchange has no kline source for %s", symbol)
	}
	return ks.GetKlines(ctx, symbol, interval, start, limit)
}

// GetAllOrders 返回所有订单的副本
func (e *PaperExchange) GetAllOrders() []*models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	orders := make([]*models.Order, 0, len(e.orders))
	for _, order := range e.orders {
		orderCopy := *order
		orders = append(orders, &orderCopy)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].OrderID < orders[j].OrderID })
	return orders
}

// SetBalance 直接设置某个币种的余额
func (e *PaperExchange) SetBalance(asset string, amount float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[asset] = amount
}
