// Package cli 实现管理机器人状态的命令行工具
package cli

import (
	"binance-trade-bot-go/internal/app"
	"binance-trade-bot-go/internal/downloader"
	"binance-trade-bot-go/internal/exchange"
	"binance-trade-bot-go/internal/models"
	"binance-trade-bot-go/internal/reporter"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

// Loader 按需创建应用。命令行工具不负责关闭它。
type Loader func(c *cli.Context) (*app.App, error)

type commands struct {
	load Loader
	out  io.Writer
}

// New 创建命令行应用
func New(load Loader, out io.Writer) *cli.App {
	cmd := &commands{load: load, out: out}
	return &cli.App{
		Name:      "tradebot",
		Usage:     "inspect and manage the trading bots",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "config.json", Usage: "path to the config file"},
		},
		Commands: []*cli.Command{
			{Name: "purchases:list", Usage: "list grid purchases in play", Action: cmd.purchasesList},
			{Name: "purchases:remove", Usage: "remove a grid purchase", ArgsUsage: "<id>", Action: cmd.purchasesRemove},
			{
				Name:   "balances:get",
				Usage:  "show account balances",
				Flags:  []cli.Flag{&cli.BoolFlag{Name: "cached", Usage: "show the last cached snapshot without calling the exchange"}},
				Action: cmd.balancesGet,
			},
			{
				Name:  "orders:order",
				Usage: "place a limit order at the current price and wait for it to fill",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Required: true},
					&cli.Float64Flag{Name: "usd", Aliases: []string{"u"}, Required: true},
					&cli.StringFlag{Name: "side", Aliases: []string{"si"}, Value: "BUY", Usage: "BUY or SELL"},
				},
				Action: cmd.ordersOrder,
			},
			{
				Name:  "trades:get",
				Usage: "show recent trades for a symbol",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Required: true},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20},
				},
				Action: cmd.tradesGet,
			},
			{
				Name:  "klines:download",
				Usage: "export historical klines to CSV and show the average close as a model price hint",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Required: true},
					&cli.StringFlag{Name: "interval", Aliases: []string{"i"}, Value: "1h"},
					&cli.IntFlag{Name: "days", Aliases: []string{"d"}, Value: 30},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "defaults to data/klines/<SYMBOL>_<interval>.csv"},
				},
				Action: cmd.klinesDownload,
			},
			{Name: "bot:collective:stats", Usage: "show the open collective purchase", Action: cmd.collectiveStats},
			{
				Name:      "bot:collective:set_sell_price",
				Usage:     "change the basket total at which the collective purchase is sold",
				ArgsUsage: "<total>",
				Action:    cmd.collectiveSetSellPrice,
			},
			{Name: "bot:mint:get", Usage: "list mint items", Action: cmd.mintGet},
			{
				Name:  "bot:mint:add",
				Usage: "add a mint item using the current price as rally price",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Required: true},
					&cli.Float64Flag{Name: "usd", Aliases: []string{"u"}, Required: true},
				},
				Action: cmd.mintAdd,
			},
			{
				Name:  "bot:mint:shift_rally_price",
				Usage: "change the rally price of a mint item",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.Float64Flag{Name: "rally-price", Aliases: []string{"rp"}, Required: true},
				},
				Action: cmd.mintShiftRallyPrice,
			},
			{
				Name:   "bot:mint:force_checkin",
				Usage:  "check a mint item on the next run",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "id", Required: true}},
				Action: cmd.mintForceCheckin,
			},
			{
				Name:   "bot:mint:remove",
				Usage:  "remove a mint item",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "id", Required: true}},
				Action: cmd.mintRemove,
			},
			{Name: "bot:splitshort:get", Usage: "list split short items", Action: cmd.splitShortGet},
			{
				Name:  "bot:splitshort:add",
				Usage: "add a split short item waiting to sell",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Required: true},
					&cli.Float64Flag{Name: "activate-sell", Aliases: []string{"a"}, Required: true},
				},
				Action: cmd.splitShortAdd,
			},
			{
				Name:   "bot:splitshort:remove",
				Usage:  "remove a split short item",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Required: true}},
				Action: cmd.splitShortRemove,
			},
			{
				Name:  "bot:splitshort:update_purchase",
				Usage: "switch an item to purchase mode",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Required: true},
					&cli.Float64Flag{Name: "usd", Aliases: []string{"u"}, Required: true},
					&cli.Float64Flag{Name: "below", Aliases: []string{"b"}, Required: true, Usage: "buy trigger activation price"},
				},
				Action: cmd.splitShortUpdatePurchase,
			},
			{
				Name:  "bot:splitshort:update_activate",
				Usage: "change the sell activation price of an item",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Required: true},
					&cli.Float64Flag{Name: "activate-sell", Aliases: []string{"a"}, Required: true},
				},
				Action: cmd.splitShortUpdateActivate,
			},
		},
	}
}

func firstArgFloat(c *cli.Context, name string) (float64, error) {
	if c.NArg() < 1 {
		return 0, fmt.Errorf("missing argument <%s>", name)
	}
	v, err := strconv.ParseFloat(c.Args().First(), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, c.Args().First(), err)
	}
	return v, nil
}

func (cmd *commands) purchasesList(c *cli.Context) error {
	a, err := cmd.load(c)
	if err != nil {
		return err
	}
	purchases, err := a.Ledger.ListAll(c.Context)
	if err != nil {
		return err
	}
	prices, err := a.Market.GetAllPrices(c.Context)
	if err != nil {
		return err
	}
	reporter.Purchases(cmd.out, purchases, prices)
	return nil
}

func (cmd *commands) purchasesRemove(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing argument <id>")
	}
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", c.Args().First(), err)
	}
	a, err := cmd.load(c)
	if err != nil {
		return err
	}
	remaining, err := a.Ledger.Remove(c.Context, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.out, "Removed purchase %d, %d remaining.\n", id, len(remaining))
	return nil
}

func (cmd *commands) balancesGet(c *cli.Context) error {
	a, err := cmd.load(c)
	if err != nil {
		return err
	}
	if !c.Bool("cached") {
		if _, err := a.Market.GetBalances(c.Context); err != nil {
			return err
		}
	}
	snapshot, err := a.Market.CachedBalances(c.Context)
	if err != nil {
		return err
	}
	reporter.Balances(cmd.out, snapshot)
	return nil
}

func (cmd *commands) ordersOrder(c *cli.Context) error {
	side := models.Side(strings.ToUpper(c.String("side")))
	if side != models.Buy && side != models.Sell {
		return fmt.Errorf("invalid side %q", c.String("side"))
	}
	usd := c.Float64("usd")
	if usd <= 0 {
		return fmt.Errorf("usd must be positive")
	}
	a, err := cmd.load(c)
	if err != nil {
		return err
	}
	symbol := strings.ToUpper(c.String("symbol"))
	price, err := a.Market.GetPrice(c.Context, symbol)
	if err != nil {
		return err
	}
	result, err := a.Market.CreateLimitOrder(c.Context, models.LimitOrderRequest{
		Symbol:   symbol,
		Price:    price,
		Quantity: usd / price,
		Side:     side,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.out, "Order %d %s %s filled: %v @ %v (commission %v)\n",
		result.OrderID, result.Side, result.Symbol, result.FilledQuantity, result.Price, result.Commission)
	return nil
}

func (cmd *commands) tradesGet(c *cli.Context) error {
	a, err := cmd.load(c)
	if err != nil {
		return err
	}
	trades, err := a.Market.Trades(c.Context, strings.ToUpper(c.String("symbol")), c.Int("limit"))
	if err != nil {
		return err
	}
	reporter.Trades(cmd.out, trades)
	return nil
}

func (cmd *commands) klinesDownload(c *cli.Context) error {
	days := c.Int("days")
	if days <= 0 {
		return fmt.Errorf("days must be positive")
	}
	a, err := cmd.load(c)
	if err != nil {
		return err
	}
	source, ok := a.Exchange.(exchange.KlineSource)
	if !ok {
		return fmt.Errorf("exchange does not provide klines")
	}
	symbol := strings.ToUpper(c.String("symbol"))
	interval := c.String("interval")
	output := c.String("output")
	if output == "" {
		output = filepath.Join("data", "klines", fmt.Sprintf("%s_%s.csv", symbol, interval))
	}

	end := time.Now()
	d := downloader.NewKlineDownloader(source, a.Logger())
	summary, err := d.DownloadFile(c.Context, output, symbol, interval, end.AddDate(0, 0, -days), end)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.out, "Saved %d klines for %s to %s.\n", summary.Count, symbol, output)
	if summary.Count > 0 {
		fmt.Fprintf(cmd.out, "Low %v, high %v, average close %v.\n", summary.Low, summary.High, summary.AverageClose)
	}
	return nil
}

func (cmd *commands) collectiveStats(c *cli.Context) error {
	a, err := cmd.load(c)
	if err != nil {
		return err
	}
	stats, err := a.Collective.Stats(c.Context)
	if err != nil {
		return err
	}
	reporter.CollectiveStats(cmd.out, stats)
	return nil
}

func (cmd *commands) collectiveSetSellPrice(c *cli.Context) error {
	total, err := firstArgFloat(c, "total")
	if err != nil {
		return err
	}
	a, err := cmd.load(c)
	if err != nil {
		return err
	}
	if _, err := a.Collective.SetSellAfterTotal(c.Context, total); err != nil {
		return err
	}
	fmt.Fprintf(cmd.out, "Collective purchase will be sold after %v.\n", total)
	return nil
}

func (cmd *commands) mintGet(c *cli.Context) error {
	a, err := cmd.load(c)
	if err != nil {
		return err
	}
	items, err := a.Mint.Items(c.Context)
	if err != nil {
		return err
	}
	prices := map[string]float64{}
	if len(items) > 0 {
		if prices, err = a.Market.GetAllPrices(c.Context); err != nil {
			return err
		}
	}
	reporter.MintItems(cmd.out, items, prices, a.Mint.StatusForItem)
	return nil
}

func (cmd *commands) mintAdd(c *cli.Context) error {
	a, err := cmd.load(c)
	if err != nil {
		return err
	}
	item, err := a.Mint.AddItem(c.Context, strings.ToUpper(c.String("symbol")), c.Float64("usd"))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.out, "Added mint item %s for %s, rally price %v.\n", item.ID, item.Symbol, item.RallyPrice)
	return nil
}

func (cmd *commands) mintShiftRallyPrice(c *cli.Context) error {
	a, err := cmd.load(c)
	if err != nil {
		return err
	}
	return a.Mint.ShiftRallyPrice(c.Context, c.String("id"), c.Float64("rally-price"))
}

func (cmd *commands) mintForceCheckin(c *cli.Context) error {
	a, err := cmd.load(c)
	if err != nil {
		return err
	}
	return a.Mint.ForceCheckin(c.Context, c.String("id"))
}

func (cmd *commands) mintRemove(c *cli.Context) error {
	a, err := cmd.load(c)
	if err != nil {
		return err
	}
	return a.Mint.RemoveItem(c.Context, c.String("id"))
}

func (cmd *commands) splitShortGet(c *cli.Context) error {
	a, err := cmd.load(c)
	if err != nil {
		return err
	}
	items, err := a.SplitShort.Items(c.Context)
	if err != nil {
		return err
	}
	prices := map[string]float64{}
	if len(items) > 0 {
		if prices, err = a.Market.GetAllPrices(c.Context); err != nil {
			return err
		}
	}
	reporter.SplitShortItems(cmd.out, items, prices)
	return nil
}

func (cmd *commands) splitShortAdd(c *cli.Context) error {
	a, err := cmd.load(c)
	if err != nil {
		return err
	}
	item, err := a.SplitShort.AddItem(c.Context, strings.ToUpper(c.String("symbol")), c.Float64("activate-sell"))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.out, "Added split short item for %s, sell activates above %v.\n", item.Symbol, item.NextSell.Activate)
	return nil
}

func (cmd *commands) splitShortRemove(c *cli.Context) error {
	a, err := cmd.load(c)
	if err != nil {
		return err
	}
	return a.SplitShort.Remove(c.Context, strings.ToUpper(c.String("symbol")))
}

func (cmd *commands) splitShortUpdatePurchase(c *cli.Context) error {
	a, err := cmd.load(c)
	if err != nil {
		return err
	}
	return a.SplitShort.UpdatePurchase(c.Context, strings.ToUpper(c.String("symbol")), c.Float64("usd"), c.Float64("below"))
}

func (cmd *commands) splitShortUpdateActivate(c *cli.Context) error {
	a, err := cmd.load(c)
	if err != nil {
		return err
	}
	return a.SplitShort.UpdateActivate(c.Context, strings.ToUpper(c.String("symbol")), c.Float64("activate-sell"))
}
