package exchange

import (
	"binance-trade-bot-go/internal/calc"
	"binance-trade-bot-go/internal/models"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"go.uber.org/zap"
)

// BinanceExchange 实现了 Exchange 接口，通过 go-binance 与币安现货交易所交互。
// 签名、时间同步等细节由 go-binance 客户端处理。
type BinanceExchange struct {
	client *binance.Client
	logger *zap.Logger

	mu          sync.Mutex
	symbolInfos map[string]*models.SymbolInfo // 交易规则很少变化，缓存起来
}

// NewBinanceExchange 创建一个新的 BinanceExchange 实例。
// 公共行情接口不需要 API Key, 下单和查询余额需要。
func NewBinanceExchange(apiKey, secretKey string, testnet bool, logger *zap.Logger) *BinanceExchange {
	binance.UseTestnet = testnet
	return &BinanceExchange{
		client:      binance.NewClient(apiKey, secretKey),
		logger:      logger,
		symbolInfos: make(map[string]*models.SymbolInfo),
	}
}

func (e *BinanceExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := e.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, wrapAPIError(err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return calc.ParseFloat(p.Price), nil
		}
	}
	return 0, fmt.Errorf("no price for %s", symbol)
}

func (e *BinanceExchange) GetAllPrices(ctx context.Context) (map[string]float64, error) {
	prices, err := e.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	result := make(map[string]float64, len(prices))
	for _, p := range prices {
		result[p.Symbol] = calc.ParseFloat(p.Price)
	}
	return result, nil
}

func (e *BinanceExchange) GetBalances(ctx context.Context) (map[string]float64, error) {
	account, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	balances := make(map[string]float64)
	for _, b := range account.Balances {
		free := calc.ParseFloat(b.Free)
		if free > 0 {
			balances[b.Asset] = free
		}
	}
	return balances, nil
}

// GetSymbolInfo 获取并缓存交易规则 (tickSize, stepSize, minNotional)
func (e *BinanceExchange) GetSymbolInfo(ctx context.Context, symbol string) (*models.SymbolInfo, error) {
	e.mu.Lock()
	if info, ok := e.symbolInfos[symbol]; ok {
		e.mu.Unlock()
		return info, nil
	}
	e.mu.Unlock()

	exchangeInfo, err := e.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, wrapAPIError(err)
	}

	for _, s := range exchangeInfo.Symbols {
		if s.Symbol != symbol {
			continue
		}
		info := &models.SymbolInfo{Symbol: symbol}
		if f := s.PriceFilter(); f != nil {
			info.TickSize = f.TickSize
		}
		if f := s.LotSizeFilter(); f != nil {
			info.StepSize = f.StepSize
		}
		for _, filter := range s.Filters {
			t, _ := filter["filterType"].(string)
			if t != "NOTIONAL" && t != "MIN_NOTIONAL" {
				continue
			}
			if v, ok := filter["minNotional"].(string); ok {
				info.MinNotional = v
			}
		}

		e.mu.Lock()
		e.symbolInfos[symbol] = info
		e.mu.Unlock()
		return info, nil
	}
	return nil, fmt.Errorf("symbol %s not found in exchange info", symbol)
}

func (e *BinanceExchange) PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, quantity, price string) (*models.Order, error) {
	resp, err := e.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(quantity).
		Price(price).
		Do(ctx)
	if err != nil {
		return nil, wrapAPIError(err)
	}

	order := &models.Order{
		Symbol:        resp.Symbol,
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Side:          models.Side(resp.Side),
		Type:          string(resp.Type),
		Price:         calc.ParseFloat(resp.Price),
		OrigQty:       calc.ParseFloat(resp.OrigQuantity),
		ExecutedQty:   calc.ParseFloat(resp.ExecutedQuantity),
		CumQuote:      calc.ParseFloat(resp.CummulativeQuoteQuantity),
		Status:        models.OrderStatus(resp.Status),
		Time:          resp.TransactTime,
		UpdateTime:    resp.TransactTime,
	}
	for _, fill := range resp.Fills {
		order.Commission += calc.ParseFloat(fill.Commission)
		order.CommissionAsset = fill.CommissionAsset
	}
	e.logger.Info("limit order placed",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("price", price),
		zap.String("quantity", quantity),
		zap.Int64("orderId", order.OrderID),
		zap.String("status", string(order.Status)))
	return order, nil
}

// GetOrderStatus 查询订单状态。订单成交后，手续费从成交记录中汇总。
func (e *BinanceExchange) GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*models.Order, error) {
	o, err := e.client.NewGetOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	order := &models.Order{
		Symbol:        o.Symbol,
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Side:          models.Side(o.Side),
		Type:          string(o.Type),
		Price:         calc.ParseFloat(o.Price),
		OrigQty:       calc.ParseFloat(o.OrigQuantity),
		ExecutedQty:   calc.ParseFloat(o.ExecutedQuantity),
		CumQuote:      calc.ParseFloat(o.CummulativeQuoteQuantity),
		Status:        models.OrderStatus(o.Status),
		Time:          o.Time,
		UpdateTime:    o.UpdateTime,
	}

	if order.Status == models.OrderStatusFilled {
		trades, err := e.GetTrades(ctx, symbol, 100)
		if err != nil {
			e.logger.Warn("failed to load trades for commission", zap.String("symbol", symbol), zap.Error(err))
			return order, nil
		}
		for _, t := range trades {
			if t.OrderID == orderID {
				order.Commission += t.Commission
				order.CommissionAsset = t.CommissionAsset
			}
		}
	}
	return order, nil
}

func (e *BinanceExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	_, err := e.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	return wrapAPIError(err)
}

func (e *BinanceExchange) GetTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
	list, err := e.client.NewListTradesService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	trades := make([]models.Trade, 0, len(list))
	for _, t := range list {
		trades = append(trades, models.Trade{
			Symbol:          t.Symbol,
			ID:              t.ID,
			OrderID:         t.OrderID,
			Price:           calc.ParseFloat(t.Price),
			Qty:             calc.ParseFloat(t.Quantity),
			QuoteQty:        calc.ParseFloat(t.QuoteQuantity),
			Commission:      calc.ParseFloat(t.Commission),
			CommissionAsset: t.CommissionAsset,
			Time:            t.Time,
			IsBuyer:         t.IsBuyer,
		})
	}
	return trades, nil
}

// GetKlines 从 start 开始获取最多 limit 根K线, 公共接口不需要 API Key
func (e *BinanceExchange) GetKlines(ctx context.Context, symbol, interval string, start time.Time, limit int) ([]models.Kline, error) {
	list, err := e.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(start.UnixMilli()).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	klines := make([]models.Kline, 0, len(list))
	for _, k := range list {
		klines = append(klines, models.Kline{
			OpenTime:    k.OpenTime,
			Open:        calc.ParseFloat(k.Open),
			High:        calc.ParseFloat(k.High),
			Low:         calc.ParseFloat(k.Low),
			Close:       calc.ParseFloat(k.Close),
			Volume:      calc.ParseFloat(k.Volume),
			CloseTime:   k.CloseTime,
			QuoteVolume: calc.ParseFloat(k.QuoteAssetVolume),
			TradeNum:    k.TradeNum,
		})
	}
	return klines, nil
}

// wrapAPIError 将 go-binance 的 APIError 转换为 models.Error
func wrapAPIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &models.Error{Code: int(apiErr.Code), Msg: apiErr.Message}
	}
	return err
}
