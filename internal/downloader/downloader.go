// Package downloader 下载历史K线并导出为CSV, 用于人工挑选网格和篮子策略的基准价格
package downloader

import (
	"binance-trade-bot-go/internal/exchange"
	"binance-trade-bot-go/internal/models"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// PageLimit 币安单次请求最多1000条
const PageLimit = 1000

var header = []string{"open_time", "open", "high", "low", "close", "volume", "close_time", "quote_asset_volume", "number_of_trades"}

// Summary 下载区间内的价格概况
type Summary struct {
	Symbol       string
	Count        int
	From         time.Time
	To           time.Time
	Low          float64
	High         float64
	AverageClose float64
}

// KlineDownloader 用于从交易所分页下载K线数据
type KlineDownloader struct {
	source exchange.KlineSource
	logger *zap.Logger
	pause  time.Duration // 两次请求之间的间隔, 避免过于频繁的请求
}

// NewKlineDownloader 创建一个新的下载器实例
func NewKlineDownloader(source exchange.KlineSource, logger *zap.Logger) *KlineDownloader {
	return &KlineDownloader{source: source, logger: logger, pause: 200 * time.Millisecond}
}

// Download 下载 [start, end) 内的K线并以CSV写入 w
func (d *KlineDownloader) Download(ctx context.Context, w io.Writer, symbol, interval string, start, end time.Time) (*Summary, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("start %s is not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("写入CSV表头失败: %w", err)
	}

	summary := &Summary{Symbol: symbol}
	var closeSum float64
	for t := start; t.Before(end); {
		klines, err := d.source.GetKlines(ctx, symbol, interval, t, PageLimit)
		if err != nil {
			return nil, fmt.Errorf("下载K线数据失败: %w", err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			if k.OpenTime >= end.UnixMilli() {
				break
			}
			if err := writer.Write(record(k)); err != nil {
				return nil, fmt.Errorf("写入CSV记录失败: %w", err)
			}
			if summary.Count == 0 {
				summary.From = time.UnixMilli(k.OpenTime)
				summary.Low, summary.High = k.Low, k.High
			}
			summary.Count++
			summary.To = time.UnixMilli(k.CloseTime)
			summary.Low = min(summary.Low, k.Low)
			summary.High = max(summary.High, k.High)
			closeSum += k.Close
		}

		// 更新下一次请求的开始时间
		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		d.logger.Debug("klines page downloaded", zap.String("symbol", symbol), zap.Time("next", t))
		if len(klines) < PageLimit {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.pause):
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("写入CSV失败: %w", err)
	}
	if summary.Count > 0 {
		summary.AverageClose = closeSum / float64(summary.Count)
	}
	d.logger.Info("klines downloaded",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("count", summary.Count))
	return summary, nil
}

// DownloadFile 与 Download 相同, 但写入 filePath, 必要时创建目录
func (d *KlineDownloader) DownloadFile(ctx context.Context, filePath, symbol, interval string, start, end time.Time) (*Summary, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("无法创建目录 %s: %w", dir, err)
	}
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法创建文件 %s: %w", filePath, err)
	}
	summary, err := d.Download(ctx, file, symbol, interval, start, end)
	if cerr := file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return summary, err
}

func record(k models.Kline) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		strconv.FormatInt(k.OpenTime, 10),
		f(k.Open),
		f(k.High),
		f(k.Low),
		f(k.Close),
		f(k.Volume),
		strconv.FormatInt(k.CloseTime, 10),
		f(k.QuoteVolume),
		strconv.FormatInt(k.TradeNum, 10),
	}
}
