// Package reporter 将机器人状态渲染为终端表格, 供命令行工具使用
package reporter

import (
	"binance-trade-bot-go/internal/calc"
	"binance-trade-bot-go/internal/models"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
)

const timeLayout = "2006-01-02 15:04"

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}

// num 以最短的精确形式显示数值
func num(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func usd(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func priceOrDash(prices map[string]float64, symbol string) string {
	if p, ok := prices[symbol]; ok {
		return num(p)
	}
	return "-"
}

// Balances 显示非零余额, 按币种排序
func Balances(w io.Writer, snapshot *models.BalanceSnapshot) {
	if snapshot == nil || len(snapshot.Balances) == 0 {
		fmt.Fprintln(w, "No balances.")
		return
	}
	assets := make([]string, 0, len(snapshot.Balances))
	for asset, amount := range snapshot.Balances {
		if amount != 0 {
			assets = append(assets, asset)
		}
	}
	sort.Strings(assets)

	t := newTable(w, table.Row{"Asset", "Free"})
	for _, asset := range assets {
		t.AppendRow(table.Row{asset, num(snapshot.Balances[asset])})
	}
	if !snapshot.UpdatedAt.IsZero() {
		t.AppendFooter(table.Row{"Updated", snapshot.UpdatedAt.Local().Format(timeLayout)})
	}
	t.Render()
}

// Purchases 显示网格持仓及按当前价格计算的浮动盈亏
func Purchases(w io.Writer, purchases []models.PurchaseInPlay, prices map[string]float64) {
	if len(purchases) == 0 {
		fmt.Fprintln(w, "No purchases in play.")
		return
	}
	t := newTable(w, table.Row{"ID", "Symbol", "Level", "Bought At", "Quantity", "Sell At", "Price", "Profit", "Time"})
	var total float64
	for _, p := range purchases {
		profit := "-"
		if price, ok := prices[p.Symbol]; ok {
			v := (price - p.LimitOrder.Price) * p.Quantity
			total += v
			profit = usd(v)
		}
		t.AppendRow(table.Row{
			p.ID, p.Symbol, p.Level,
			num(p.LimitOrder.Price), num(p.Quantity), num(p.SellAtPrice),
			priceOrDash(prices, p.Symbol), profit,
			p.Time.Local().Format(timeLayout),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Total", usd(total), ""})
	t.Render()
}

// CollectiveStats 显示一篮子持仓
func CollectiveStats(w io.Writer, stats *models.CollectivePurchaseStats) {
	if stats == nil {
		fmt.Fprintln(w, "No collective purchase is open.")
		return
	}
	t := newTable(w, table.Row{"Symbol", "Bought At", "Quantity", "Profit"})
	for _, s := range stats.Items {
		t.AppendRow(table.Row{s.Symbol, num(s.Item.Price), num(s.Item.FilledQuantity), usd(s.Profit)})
	}
	t.AppendFooter(table.Row{"Total", usd(stats.CurrentTotal), "Sell After", usd(stats.SellAfterTotal)})
	t.Render()
}

// MintItems 显示铸币条目, status 返回条目的显示状态
func MintItems(w io.Writer, items []models.MintItem, prices map[string]float64, status func(models.MintItem) string) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No mint items.")
		return
	}
	t := newTable(w, table.Row{"ID", "Symbol", "Status", "Rally Price", "USD", "Last Fill", "Price", "Minted", "Next Check"})
	for _, item := range items {
		var minted float64
		for _, m := range item.Minted {
			minted += m
		}
		lastFill := "-"
		if item.LastFillPrice > 0 {
			lastFill = num(item.LastFillPrice)
		}
		t.AppendRow(table.Row{
			item.ID, item.Symbol, status(item),
			num(item.RallyPrice), usd(item.USD), lastFill,
			priceOrDash(prices, item.Symbol),
			fmt.Sprintf("%s (%d)", num(minted), len(item.Minted)),
			time.Unix(item.NextCheckAt, 0).Local().Format(timeLayout),
		})
	}
	t.Render()
}

// SplitShortItems 显示分批做空条目
func SplitShortItems(w io.Writer, items []models.SplitShortItem, prices map[string]float64) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No split short items.")
		return
	}
	t := newTable(w, table.Row{"ID", "Symbol", "Next Action", "Sell Activate", "Sell Below", "Buy Activate", "Buy Above", "Purchase USD", "Price", "Growth"})
	dash := func(v float64) string {
		if v == 0 {
			return "-"
		}
		return num(v)
	}
	for _, item := range items {
		var sellActivate, sellBelow, buyActivate, buyAbove float64
		if item.NextSell != nil {
			sellActivate, sellBelow = item.NextSell.Activate, item.NextSell.Below
		}
		if item.NextBuy != nil {
			buyActivate, buyAbove = item.NextBuy.Activate, item.NextBuy.Above
		}
		growth := make([]string, len(item.Growth))
		for i, g := range item.Growth {
			growth[i] = num(g)
		}
		t.AppendRow(table.Row{
			item.ID, item.Symbol, item.NextAction,
			dash(sellActivate), dash(sellBelow), dash(buyActivate), dash(buyAbove),
			dash(item.PurchaseUSD), priceOrDash(prices, item.Symbol), growth,
		})
	}
	t.Render()
}

// TradeSummary 一组成交的汇总
type TradeSummary struct {
	Buys        int
	Sells       int
	BoughtQty   float64
	SoldQty     float64
	Spent       float64 // 买入花费的 USDT
	Received    float64 // 卖出获得的 USDT
	Commissions map[string]float64
}

// Net 卖出所得减去买入花费
func (s TradeSummary) Net() float64 {
	return s.Received - s.Spent
}

// Summarize 汇总成交记录
func Summarize(trades []models.Trade) TradeSummary {
	s := TradeSummary{Commissions: make(map[string]float64)}
	for _, tr := range trades {
		if tr.IsBuyer {
			s.Buys++
			s.BoughtQty += tr.Qty
			s.Spent += tr.QuoteQty
		} else {
			s.Sells++
			s.SoldQty += tr.Qty
			s.Received += tr.QuoteQty
		}
		if tr.Commission != 0 {
			s.Commissions[tr.CommissionAsset] += tr.Commission
		}
	}
	return s
}

// Trades 显示成交记录和汇总
func Trades(w io.Writer, trades []models.Trade) {
	if len(trades) == 0 {
		fmt.Fprintln(w, "No trades.")
		return
	}
	t := newTable(w, table.Row{"Time", "Symbol", "Order", "Side", "Price", "Quantity", calc.QuoteAsset, "Commission"})
	for _, tr := range trades {
		side := models.Sell
		if tr.IsBuyer {
			side = models.Buy
		}
		t.AppendRow(table.Row{
			time.UnixMilli(tr.Time).Local().Format(timeLayout),
			tr.Symbol, tr.OrderID, side,
			num(tr.Price), num(tr.Qty), usd(tr.QuoteQty),
			fmt.Sprintf("%s %s", num(tr.Commission), tr.CommissionAsset),
		})
	}
	s := Summarize(trades)
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d/%d", s.Buys, s.Sells), "Net", "", usd(s.Net()), ""})
	t.Render()
}
