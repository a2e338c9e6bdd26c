package backtest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"vela/internal/logger"
	"vela/internal/market"
)

// bybitIntervals 把内部周期 key 映射到 Bybit v5 的 interval 参数。
var bybitIntervals = map[string]string{
	"1m": "1", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "4h": "240", "1d": "D", "1w": "W",
}

// BybitSource 基于 Bybit v5 REST /v5/market/kline（linear 永续）。
type BybitSource struct {
	baseURL string
	client  *http.Client
}

func NewBybitSource(base string) *BybitSource {
	if base == "" {
		base = "https://api.bybit.com"
	}
	return &BybitSource{
		baseURL: base,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (b *BybitSource) Name() string { return "bybit" }

func (b *BybitSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if req.Symbol == "" || req.Interval == "" {
		return nil, fmt.Errorf("symbol/interval 不能为空")
	}
	interval, ok := bybitIntervals[strings.ToLower(req.Interval)]
	if !ok {
		return nil, fmt.Errorf("bybit 不支持的周期: %s", req.Interval)
	}
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	u, _ := url.Parse(b.baseURL)
	u.Path = "/v5/market/kline"
	q := u.Query()
	q.Set("category", "linear")
	q.Set("symbol", strings.ToUpper(req.Symbol))
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	if req.Start > 0 {
		q.Set("start", strconv.FormatInt(req.Start, 10))
	}
	if req.End > 0 {
		q.Set("end", strconv.FormatInt(req.End, 10))
	}
	u.RawQuery = q.Encode()

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bybit 返回状态码 %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	root := gjson.ParseBytes(body)
	if code := root.Get("retCode").Int(); code != 0 {
		return nil, fmt.Errorf("bybit retCode=%d msg=%s", code, root.Get("retMsg").String())
	}

	tf, err := ParseTimeframe(req.Interval)
	if err != nil {
		return nil, err
	}
	step := tf.durationMillis()

	rows := root.Get("result.list").Array()
	out := make([]market.Candle, 0, len(rows))
	// Bybit 返回最新在前，这里倒序遍历恢复时间升序。
	for i := len(rows) - 1; i >= 0; i-- {
		fields := rows[i].Array()
		if len(fields) < 6 {
			continue
		}
		openTime := fields[0].Int()
		c := market.Candle{
			Symbol:    strings.ToUpper(req.Symbol),
			Timeframe: strings.ToLower(req.Interval),
			OpenTime:  openTime,
			CloseTime: openTime + step - 1,
		}
		if err := fillBybitPrices(&c, fields); err != nil {
			logger.Warnf("跳过无法解析的 bybit kline %s@%d: %v", req.Symbol, openTime, err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func fillBybitPrices(c *market.Candle, fields []gjson.Result) error {
	var err error
	if c.Open, err = decimal.NewFromString(fields[1].String()); err != nil {
		return err
	}
	if c.High, err = decimal.NewFromString(fields[2].String()); err != nil {
		return err
	}
	if c.Low, err = decimal.NewFromString(fields[3].String()); err != nil {
		return err
	}
	if c.Close, err = decimal.NewFromString(fields[4].String()); err != nil {
		return err
	}
	if c.Volume, err = decimal.NewFromString(fields[5].String()); err != nil {
		return err
	}
	return nil
}
