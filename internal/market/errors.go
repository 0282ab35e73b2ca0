package market

import (
	"binance-trade-bot-go/internal/models"
	"errors"
	"fmt"
	"time"
)

// ErrSymbolLocked is returned when another order on the same symbol is still in flight.
var ErrSymbolLocked = errors.New("symbol is locked by another order")

// OrderCanceledError 订单在成交前被撤销、拒绝或过期
type OrderCanceledError struct {
	Symbol      string
	OrderID     int64
	Status      models.OrderStatus
	ExecutedQty float64 // 撤单前已成交的数量
}

func (e *OrderCanceledError) Error() string {
	return fmt.Sprintf("order %d on %s ended as %s (executed %g)", e.OrderID, e.Symbol, e.Status, e.ExecutedQty)
}

// OrderTimeoutError 订单在最长等待时间内未成交, 已尝试撤单
type OrderTimeoutError struct {
	Symbol  string
	OrderID int64
	Waited  time.Duration
}

func (e *OrderTimeoutError) Error() string {
	return fmt.Sprintf("order %d on %s not filled after %s", e.OrderID, e.Symbol, e.Waited)
}
