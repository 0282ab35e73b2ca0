package calc

import (
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// QuoteAsset 所有交易对的计价货币
const QuoteAsset = "USDT"

// IncreaseByPercent 按百分比调整数值，负百分比表示减少。
// IncreaseByPercent(100, 10) == 110, IncreaseByPercent(100, -10) == 90
func IncreaseByPercent(value, percent float64) float64 {
	delta := value * abs(percent) / 100
	if percent < 0 {
		return value - delta
	}
	return value + delta
}

// DecreaseByPercent 是 IncreaseByPercent(value, -percent) 的简写
func DecreaseByPercent(value, percent float64) float64 {
	return IncreaseByPercent(value, -abs(percent))
}

// CoinFromSymbol 从交易对中推断币种, e.g. "BTCUSDT" -> "BTC"
func CoinFromSymbol(symbol string) string {
	return strings.TrimSuffix(symbol, QuoteAsset)
}

// SymbolFromCoin 根据币种生成交易对, e.g. "BTC" -> "BTCUSDT"
func SymbolFromCoin(coin string) string {
	return coin + QuoteAsset
}

// RandomInt 返回 [min, max) 区间内的随机整数
func RandomInt(min, max int) int {
	if max <= min {
		return min
	}
	return min + rand.Intn(max-min)
}

// Jitter 返回 [minMinutes, maxMinutes) 分钟之间的随机时长
func Jitter(minMinutes, maxMinutes int) time.Duration {
	return time.Duration(RandomInt(minMinutes, maxMinutes)) * time.Minute
}

// RoundToStep 将数值向下调整为 step 的整数倍 (交易所的 tickSize / stepSize)。
// step 为空或无法解析时原样返回。
func RoundToStep(value float64, step string) decimal.Decimal {
	v := decimal.NewFromFloat(value)
	if step == "" {
		return v
	}
	s, err := decimal.NewFromString(step)
	if err != nil || s.IsZero() {
		return v
	}
	return v.Div(s).Floor().Mul(s)
}

// FormatToStep 按 step 精度格式化数值，用于下单参数
func FormatToStep(value float64, step string) string {
	rounded := RoundToStep(value, step)
	if step == "" {
		return rounded.String()
	}
	s, err := decimal.NewFromString(step)
	if err != nil {
		return rounded.String()
	}
	places := int32(0)
	if exp := s.Exponent(); exp < 0 {
		places = -exp
	}
	// "0.00100000" 这样的 step 实际精度由最后一个非零位决定
	places = significantPlaces(step, places)
	return rounded.StringFixed(places)
}

func significantPlaces(step string, fallback int32) int32 {
	dot := strings.IndexByte(step, '.')
	if dot < 0 {
		return 0
	}
	frac := strings.TrimRight(step[dot+1:], "0")
	if frac == "" {
		return 0
	}
	if int32(len(frac)) < fallback {
		return int32(len(frac))
	}
	return fallback
}

// ParseFloat 解析交易所返回的数值字符串，失败时返回 0
func ParseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
