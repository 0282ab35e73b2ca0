// Package metrics 提供交易机器人的 Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tradebot"

// 下单结果标签
const (
	ResultFilled   = "filled"
	ResultCanceled = "canceled"
	ResultTimeout  = "timeout"
	ResultError    = "error"
)

// Metrics 指标集合。所有方法对 nil 接收者安全，未启用指标时可以直接传 nil。
type Metrics struct {
	// 下单次数, 按交易对、方向和最终结果区分
	OrdersTotal *prometheus.CounterVec
	// 从下单到终态的耗时
	OrderFillDuration prometheus.Histogram
	// 因交易对已加锁而跳过的下单
	LockContentionTotal *prometheus.CounterVec

	// 定时任务
	JobRunsTotal    *prometheus.CounterVec
	JobRunDuration  *prometheus.HistogramVec
	JobSkippedTotal *prometheus.CounterVec

	// 业务指标
	PositionsOpen *prometheus.GaugeVec
}

// New 创建指标实例, 需要调用 Register 才会被导出
func New() *Metrics {
	return &Metrics{
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Limit orders placed, by final result",
		}, []string{"symbol", "side", "result"}),
		OrderFillDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_fill_duration_seconds",
			Help:      "Time from placing a limit order until it reached a terminal state",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),
		LockContentionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_contention_total",
			Help:      "Orders skipped because the symbol lock was held",
		}, []string{"symbol"}),

		JobRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled bot runs, by job and result",
		}, []string{"job", "result"}),
		JobRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_run_duration_seconds",
			Help:      "Duration of scheduled bot runs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		JobSkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_skipped_total",
			Help:      "Ticks dropped because the previous run of the job was still busy",
		}, []string{"job"}),

		PositionsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "positions_open",
			Help:      "Open positions per bot",
		}, []string{"bot"}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.OrdersTotal,
		m.OrderFillDuration,
		m.LockContentionTotal,
		m.JobRunsTotal,
		m.JobRunDuration,
		m.JobSkippedTotal,
		m.PositionsOpen,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordOrder 记录一次下单的最终结果
func (m *Metrics) RecordOrder(symbol, side, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(symbol, side, result).Inc()
	m.OrderFillDuration.Observe(elapsed.Seconds())
}

// RecordLockContention 记录锁冲突
func (m *Metrics) RecordLockContention(symbol string) {
	if m == nil {
		return
	}
	m.LockContentionTotal.WithLabelValues(symbol).Inc()
}

// RecordJobRun 记录一次定时任务
func (m *Metrics) RecordJobRun(job string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.JobRunsTotal.WithLabelValues(job, result).Inc()
	m.JobRunDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// RecordJobSkipped 记录因上一次运行未结束而丢弃的触发
func (m *Metrics) RecordJobSkipped(job string) {
	if m == nil {
		return
	}
	m.JobSkippedTotal.WithLabelValues(job).Inc()
}

// SetPositionsOpen 更新某个机器人的持仓数
func (m *Metrics) SetPositionsOpen(bot string, n int) {
	if m == nil {
		return
	}
	m.PositionsOpen.WithLabelValues(bot).Set(float64(n))
}
