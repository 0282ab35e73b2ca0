// Package market 封装交易所访问: 行情、余额以及带交易对锁的限价单。
package market

import (
	"binance-trade-bot-go/internal/calc"
	"binance-trade-bot-go/internal/exchange"
	"binance-trade-bot-go/internal/metrics"
	"binance-trade-bot-go/internal/models"
	"binance-trade-bot-go/internal/persistence"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// Options 控制下单轮询与余额检查
type Options struct {
	PollInterval         time.Duration
	MaxPollInterval      time.Duration
	MaxWait              time.Duration
	LockTTL              time.Duration
	BalanceBufferPercent float64
}

// OptionsFromConfig 从配置生成 Options
func OptionsFromConfig(cfg models.OrderConfig) Options {
	return Options{
		PollInterval:         cfg.PollInterval(),
		MaxPollInterval:      cfg.MaxPollInterval(),
		MaxWait:              cfg.MaxWait(),
		LockTTL:              cfg.LockTTL(),
		BalanceBufferPercent: cfg.BalanceBufferPercent,
	}
}

// Service 是所有机器人访问交易所的唯一入口
type Service struct {
	exchange exchange.Exchange
	store    persistence.Store
	opts     Options
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewService 创建一个新的市场服务。m 可以为 nil。
func NewService(ex exchange.Exchange, store persistence.Store, opts Options, m *metrics.Metrics, logger *zap.Logger) *Service {
	if opts.MaxPollInterval < opts.PollInterval {
		opts.MaxPollInterval = opts.PollInterval
	}
	if opts.LockTTL <= opts.MaxWait {
		opts.LockTTL = opts.MaxWait + time.Minute
	}
	return &Service{
		exchange: ex,
		store:    store,
		opts:     opts,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) GetPrice(ctx context.Context, symbol string) (float64, error) {
	price, err := s.exchange.GetPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("get price %s: %w", symbol, err)
	}
	return price, nil
}

func (s *Service) GetAllPrices(ctx context.Context) (map[string]float64, error) {
	prices, err := s.exchange.GetAllPrices(ctx)
	if err != nil {
		return nil, fmt.Errorf("get all prices: %w", err)
	}
	return prices, nil
}

// GetBalances 查询余额, 并把快照写入存储
func (s *Service) GetBalances(ctx context.Context) (map[string]float64, error) {
	balances, err := s.exchange.GetBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("get balances: %w", err)
	}
	snapshot := models.BalanceSnapshot{Balances: balances, UpdatedAt: s.now()}
	if err := persistence.SetJSON(ctx, s.store, persistence.KeyBalances, snapshot); err != nil {
		s.logger.Warn("failed to cache balances", zap.Error(err))
	}
	return balances, nil
}

// CachedBalances 返回最近一次缓存的余额, 从未查询过时返回 nil
func (s *Service) CachedBalances(ctx context.Context) (*models.BalanceSnapshot, error) {
	var snapshot models.BalanceSnapshot
	found, err := persistence.GetJSON(ctx, s.store, persistence.KeyBalances, &snapshot)
	if err != nil || !found {
		return nil, err
	}
	return &snapshot, nil
}

// HasBalanceForPurchase 检查 USDT 余额是否足够买入 usd, 预留 BalanceBufferPercent 的余量
func (s *Service) HasBalanceForPurchase(ctx context.Context, usd float64) (bool, error) {
	balances, err := s.GetBalances(ctx)
	if err != nil {
		return false, err
	}
	need := calc.IncreaseByPercent(usd, s.opts.BalanceBufferPercent)
	return balances[calc.QuoteAsset] >= need, nil
}

func (s *Service) IsLocked(ctx context.Context, symbol string) (bool, error) {
	return s.store.IsLocked(ctx, symbol)
}

// Trades 返回某个交易对最近的成交记录
func (s *Service) Trades(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
	trades, err := s.exchange.GetTrades(ctx, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("get trades %s: %w", symbol, err)
	}
	return trades, nil
}

// CreateLimitOrder 在持有交易对锁的情况下下一个 GTC 限价单，并阻塞直到订单到达终态。
// 交易对已加锁时返回 ErrSymbolLocked; 订单被撤销返回 *OrderCanceledError;
// 超过 MaxWait 未成交时撤单并返回 *OrderTimeoutError。无论结果如何，锁都会被释放。
func (s *Service) CreateLimitOrder(ctx context.Context, req models.LimitOrderRequest) (*models.LimitOrderResult, error) {
	if req.Quantity <= 0 || req.Price <= 0 {
		return nil, fmt.Errorf("invalid order for %s: quantity %g price %g", req.Symbol, req.Quantity, req.Price)
	}

	token, ok, err := s.store.AcquireLock(ctx, req.Symbol, s.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", req.Symbol, err)
	}
	if !ok {
		s.metrics.RecordLockContention(req.Symbol)
		return nil, fmt.Errorf("%w: %s", ErrSymbolLocked, req.Symbol)
	}
	defer func() {
		// 即使调用方的 ctx 已取消，也必须释放锁
		if err := s.store.ReleaseLock(context.WithoutCancel(ctx), req.Symbol, token); err != nil {
			s.logger.Error("failed to release symbol lock", zap.String("symbol", req.Symbol), zap.Error(err))
		}
	}()

	info, err := s.exchange.GetSymbolInfo(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("get symbol info %s: %w", req.Symbol, err)
	}
	quantity := calc.FormatToStep(req.Quantity, info.StepSize)
	price := calc.FormatToStep(req.Price, info.TickSize)
	qty, px := calc.ParseFloat(quantity), calc.ParseFloat(price)
	if qty <= 0 {
		return nil, fmt.Errorf("quantity %g for %s is below the lot step %s", req.Quantity, req.Symbol, info.StepSize)
	}
	if minNotional := calc.ParseFloat(info.MinNotional); minNotional > 0 && qty*px < minNotional {
		return nil, fmt.Errorf("order value %.4f for %s is below min notional %s", qty*px, req.Symbol, info.MinNotional)
	}

	start := s.now()
	order, err := s.exchange.PlaceLimitOrder(ctx, req.Symbol, req.Side, quantity, price)
	if err != nil {
		s.metrics.RecordOrder(req.Symbol, string(req.Side), metrics.ResultError, s.now().Sub(start))
		return nil, fmt.Errorf("place %s order %s: %w", req.Side, req.Symbol, err)
	}
	s.logger.Info("limit order placed",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("price", price),
		zap.String("quantity", quantity),
		zap.Int64("orderId", order.OrderID))

	order, err = s.waitForTerminal(ctx, order)
	elapsed := s.now().Sub(start)
	if err != nil {
		var timeoutErr *OrderTimeoutError
		if errors.As(err, &timeoutErr) {
			s.metrics.RecordOrder(req.Symbol, string(req.Side), metrics.ResultTimeout, elapsed)
		} else {
			s.metrics.RecordOrder(req.Symbol, string(req.Side), metrics.ResultError, elapsed)
		}
		return nil, err
	}

	if order.Status != models.OrderStatusFilled {
		s.metrics.RecordOrder(req.Symbol, string(req.Side), metrics.ResultCanceled, elapsed)
		return nil, &OrderCanceledError{
			Symbol:      req.Symbol,
			OrderID:     order.OrderID,
			Status:      order.Status,
			ExecutedQty: order.ExecutedQty,
		}
	}

	s.metrics.RecordOrder(req.Symbol, string(req.Side), metrics.ResultFilled, elapsed)
	result := toResult(order)
	s.logger.Info("limit order filled",
		zap.String("symbol", result.Symbol),
		zap.String("side", string(result.Side)),
		zap.Float64("price", result.Price),
		zap.Float64("filledQuantity", result.FilledQuantity),
		zap.Duration("elapsed", elapsed))
	return result, nil
}

// waitForTerminal 以指数退避轮询订单状态, 直到订单到达终态或超时。
// 轮询中的网络错误只记录日志，在超时前会继续重试。
func (s *Service) waitForTerminal(ctx context.Context, order *models.Order) (*models.Order, error) {
	b := &backoff.Backoff{
		Min:    s.opts.PollInterval,
		Max:    s.opts.MaxPollInterval,
		Factor: 2,
	}
	deadline := time.NewTimer(s.opts.MaxWait)
	defer deadline.Stop()

	for !order.Status.IsTerminal() {
		wait := time.NewTimer(b.Duration())
		select {
		case <-ctx.Done():
			wait.Stop()
			return s.handleCanceled(ctx, order)
		case <-deadline.C:
			wait.Stop()
			return s.handleTimeout(ctx, order)
		case <-wait.C:
		}

		latest, err := s.exchange.GetOrderStatus(ctx, order.Symbol, order.OrderID)
		if err != nil {
			s.logger.Warn("failed to poll order status",
				zap.String("symbol", order.Symbol),
				zap.Int64("orderId", order.OrderID),
				zap.Error(err))
			continue
		}
		order = latest
	}
	return order, nil
}

// handleTimeout 撤单后再查询一次, 订单可能恰好在撤单前成交
func (s *Service) handleTimeout(ctx context.Context, order *models.Order) (*models.Order, error) {
	s.cancelQuietly(order)

	latest, err := s.exchange.GetOrderStatus(context.WithoutCancel(ctx), order.Symbol, order.OrderID)
	if err == nil && latest.Status == models.OrderStatusFilled {
		return latest, nil
	}
	return nil, &OrderTimeoutError{Symbol: order.Symbol, OrderID: order.OrderID, Waited: s.opts.MaxWait}
}

// handleCanceled 调用方取消时撤单, 但订单可能已经成交, 成交时照常返回
func (s *Service) handleCanceled(ctx context.Context, order *models.Order) (*models.Order, error) {
	s.cancelQuietly(order)

	latest, err := s.exchange.GetOrderStatus(context.WithoutCancel(ctx), order.Symbol, order.OrderID)
	if err == nil && latest.Status == models.OrderStatusFilled {
		s.logger.Info("order filled before cancellation",
			zap.String("symbol", order.Symbol),
			zap.Int64("orderId", order.OrderID))
		return latest, nil
	}
	return nil, ctx.Err()
}

func (s *Service) cancelQuietly(order *models.Order) {
	if err := s.exchange.CancelOrder(context.Background(), order.Symbol, order.OrderID); err != nil {
		s.logger.Warn("failed to cancel order",
			zap.String("symbol", order.Symbol),
			zap.Int64("orderId", order.OrderID),
			zap.Error(err))
	}
}

// toResult 把成交的订单转换为结果。买入手续费以币种收取时，从成交数量中扣除，
// 这样 FilledQuantity 就是实际到账、之后可以卖出的数量。
func toResult(order *models.Order) *models.LimitOrderResult {
	price := order.Price
	if order.ExecutedQty > 0 && order.CumQuote > 0 {
		price = order.CumQuote / order.ExecutedQty
	}
	filled := order.ExecutedQty
	if order.Side == models.Buy && order.CommissionAsset == calc.CoinFromSymbol(order.Symbol) {
		filled -= order.Commission
	}
	return &models.LimitOrderResult{
		OrderID:        order.OrderID,
		Symbol:         order.Symbol,
		Price:          price,
		Quantity:       order.OrigQty,
		Side:           order.Side,
		Commission:     order.Commission,
		FilledQuantity: filled,
	}
}
