// Package web 提供状态页: 健康检查、缓存的行情与持仓、Prometheus 指标
package web

import (
	"binance-trade-bot-go/internal/ledger"
	"binance-trade-bot-go/internal/models"
	"binance-trade-bot-go/internal/persistence"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CoinPrice 网格机器人最近一次缓存的价格, 从未缓存时 Price 为 nil
type CoinPrice struct {
	Symbol string   `json:"symbol"`
	Price  *float64 `json:"price"`
}

// Stats /stats 的响应
type Stats struct {
	Prices    []CoinPrice             `json:"prices"`
	Purchases []models.PurchaseInPlay `json:"purchases"`
	Now       time.Time               `json:"now"`
}

// Server 状态页服务
type Server struct {
	store   persistence.Store
	ledger  *ledger.Ledger
	symbols []string
	engine  *gin.Engine
	http    *http.Server
	logger  *zap.Logger
}

// NewServer 创建状态页, symbols 为需要展示价格的交易对
func NewServer(cfg models.WebConfig, store persistence.Store, l *ledger.Ledger, symbols []string, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		store:   store,
		ledger:  l,
		symbols: symbols,
		engine:  gin.New(),
		logger:  logger.Named("web"),
	}
	s.engine.Use(gin.Recovery())
	s.engine.GET("/", s.health)
	s.engine.GET("/stats", s.stats)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler 返回路由, 测试中直接使用
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe 阻塞直到服务关闭, 正常关闭时返回 nil
func (s *Server) ListenAndServe() error {
	s.logger.Info("status page listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "now": time.Now()})
}

func (s *Server) stats(c *gin.Context) {
	ctx := c.Request.Context()
	prices := make([]CoinPrice, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		coin := CoinPrice{Symbol: symbol}
		raw, err := s.store.Get(ctx, persistence.PriceKey(symbol))
		if err != nil {
			s.logger.Error("failed to read cached price", zap.String("symbol", symbol), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if raw != nil {
			if p, err := strconv.ParseFloat(string(raw), 64); err == nil {
				coin.Price = &p
			}
		}
		prices = append(prices, coin)
	}

	purchases, err := s.ledger.ListAll(ctx)
	if err != nil {
		s.logger.Error("failed to read purchases", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, Stats{Prices: prices, Purchases: purchases, Now: time.Now()})
}
