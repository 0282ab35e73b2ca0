// Package ledger 维护网格策略中已买入、等待卖出的持仓列表
package ledger

import (
	"binance-trade-bot-go/internal/models"
	"binance-trade-bot-go/internal/persistence"
	"context"
	"fmt"
)

// DuplicateIDError 同一个订单ID不能记录两次
type DuplicateIDError struct {
	ID int64
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("purchase %d is already in the ledger", e.ID)
}

// Ledger 持仓账本。整个列表保存在一个键下，每次修改都是一次乐观的读-改-写。
type Ledger struct {
	store persistence.Store
}

func New(store persistence.Store) *Ledger {
	return &Ledger{store: store}
}

// ListAll 返回所有持仓, 没有持仓时返回空列表
func (l *Ledger) ListAll(ctx context.Context) ([]models.PurchaseInPlay, error) {
	var purchases []models.PurchaseInPlay
	if _, err := persistence.GetJSON(ctx, l.store, persistence.KeyInPlayPurchases, &purchases); err != nil {
		return nil, err
	}
	if purchases == nil {
		purchases = []models.PurchaseInPlay{}
	}
	return purchases, nil
}

// ListFor 返回某个交易对的持仓, 保持写入顺序
func (l *Ledger) ListFor(ctx context.Context, symbol string) ([]models.PurchaseInPlay, error) {
	all, err := l.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]models.PurchaseInPlay, 0)
	for _, p := range all {
		if p.Symbol == symbol {
			result = append(result, p)
		}
	}
	return result, nil
}

// Save 追加一条持仓
func (l *Ledger) Save(ctx context.Context, purchase models.PurchaseInPlay) error {
	_, err := persistence.UpdateJSON(ctx, l.store, persistence.KeyInPlayPurchases,
		func(current *[]models.PurchaseInPlay) (*[]models.PurchaseInPlay, error) {
			var list []models.PurchaseInPlay
			if current != nil {
				list = *current
			}
			for _, p := range list {
				if p.ID == purchase.ID {
					return nil, &DuplicateIDError{ID: purchase.ID}
				}
			}
			list = append(list, purchase)
			return &list, nil
		})
	return err
}

// Remove 按ID删除持仓并返回剩余的列表。删除不存在的持仓不是错误。
func (l *Ledger) Remove(ctx context.Context, id int64) ([]models.PurchaseInPlay, error) {
	remaining, err := persistence.UpdateJSON(ctx, l.store, persistence.KeyInPlayPurchases,
		func(current *[]models.PurchaseInPlay) (*[]models.PurchaseInPlay, error) {
			list := make([]models.PurchaseInPlay, 0)
			if current != nil {
				for _, p := range *current {
					if p.ID != id {
						list = append(list, p)
					}
				}
			}
			return &list, nil
		})
	if err != nil {
		return nil, err
	}
	return *remaining, nil
}

// NextPurchaseLevel 返回该交易对下一个可以买入的档位。
// 档位只能逐级升高: 没有持仓 -> Single, 持有 Single -> Double, 持有 Double -> Tripple,
// 持有 Tripple 时返回 nil, 不再买入。
func (l *Ledger) NextPurchaseLevel(ctx context.Context, symbol string) (*models.Level, error) {
	purchases, err := l.ListFor(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return NextLevel(purchases), nil
}

// NextLevel 根据已有持仓计算下一个档位
func NextLevel(purchases []models.PurchaseInPlay) *models.Level {
	held := make(map[models.Level]bool, len(purchases))
	for _, p := range purchases {
		held[p.Level] = true
	}

	var next models.Level
	switch {
	case held[models.Tripple]:
		return nil
	case held[models.Double]:
		next = models.Tripple
	case held[models.Single]:
		next = models.Double
	default:
		next = models.Single
	}
	return &next
}
