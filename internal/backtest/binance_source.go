package backtest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"vela/internal/logger"
	"vela/internal/market"
)

const binanceMaxLimit = 1500

// BinanceSource 基于 go-binance SDK 拉取 USDT 合约 K 线。
type BinanceSource struct {
	client *futures.Client
}

// NewBinanceSource 构造数据源。base 为空时使用官方地址。
func NewBinanceSource(base string) *BinanceSource {
	client := futures.NewClient("", "")
	if base = strings.TrimSpace(base); base != "" {
		client.BaseURL = base
	}
	client.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	return &BinanceSource{client: client}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if req.Symbol == "" || req.Interval == "" {
		return nil, fmt.Errorf("symbol/interval 不能为空")
	}
	limit := req.Limit
	if limit <= 0 || limit > binanceMaxLimit {
		limit = 1000
	}
	svc := b.client.NewKlinesService().
		Symbol(strings.ToUpper(req.Symbol)).
		Interval(strings.ToLower(req.Interval)).
		Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		c, err := klineToCandle(req, kl)
		if err != nil {
			logger.Warnf("跳过无法解析的 kline %s@%d: %v", req.Symbol, kl.OpenTime, err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func klineToCandle(req FetchRequest, kl *futures.Kline) (market.Candle, error) {
	c := market.Candle{
		Symbol:    strings.ToUpper(req.Symbol),
		Timeframe: strings.ToLower(req.Interval),
		OpenTime:  kl.OpenTime,
		CloseTime: kl.CloseTime,
		Trades:    kl.TradeNum,
	}
	var err error
	if c.Open, err = decimal.NewFromString(kl.Open); err != nil {
		return c, err
	}
	if c.High, err = decimal.NewFromString(kl.High); err != nil {
		return c, err
	}
	if c.Low, err = decimal.NewFromString(kl.Low); err != nil {
		return c, err
	}
	if c.Close, err = decimal.NewFromString(kl.Close); err != nil {
		return c, err
	}
	if c.Volume, err = decimal.NewFromString(kl.Volume); err != nil {
		return c, err
	}
	return c, nil
}
