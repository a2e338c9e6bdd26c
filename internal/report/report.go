// Package report 把回放结果渲染为自包含的 echarts HTML 页面，
// 也可以借 headless chrome 导出 PNG 快照。
package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	colorEquity = "#34d399"
	colorPrice  = "#3b82f6"
	colorWin    = "#34d399"
	colorLoss   = "#f87171"

	chartWidthPx  = 1400
	chartHeightPx = 900
)

// EquityPoint 是报告用的资金曲线采样点。
type EquityPoint struct {
	Time   time.Time
	Equity float64
	Price  float64
}

// TradeMark 标记一笔平仓及其盈亏。
type TradeMark struct {
	Time time.Time
	PnL  float64
}

// Input 汇集渲染一份报告所需的全部数据。
type Input struct {
	Title          string
	InitialCapital float64
	FinalCapital   float64
	ReturnPct      float64
	WinRate        float64
	MaxDrawdownPct float64
	Trades         int

	Equity     []EquityPoint
	TradeMarks []TradeMark
}

// Render 生成自包含 HTML 报告。
func Render(in Input) ([]byte, error) {
	if len(in.Equity) == 0 {
		return nil, fmt.Errorf("报告缺少资金曲线数据")
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(equityChart(in), drawdownChart(in), pnlChart(in))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderPNG 通过 headless chrome 把报告页渲染为 PNG。
// 环境没有可用 chrome 时返回错误，调用方可降级为仅 HTML。
func RenderPNG(ctx context.Context, in Input) ([]byte, error) {
	html, err := Render(in)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()
	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(chartWidthPx), int64(chartHeightPx)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}

func equityChart(in Input) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: in.Title,
			Subtitle: fmt.Sprintf("收益 %.2f%%  胜率 %.1f%%  最大回撤 %.2f%%  交易 %d 笔",
				in.ReturnPct, in.WinRate, in.MaxDrawdownPct, in.Trades),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	xAxis := make([]string, len(in.Equity))
	equity := make([]opts.LineData, len(in.Equity))
	price := make([]opts.LineData, len(in.Equity))
	for i, p := range in.Equity {
		xAxis[i] = p.Time.Format("2006-01-02 15:04")
		equity[i] = opts.LineData{Value: p.Equity}
		price[i] = opts.LineData{Value: p.Price}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", equity, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	line.AddSeries("Price", price, charts.WithLineStyleOpts(opts.LineStyle{Color: colorPrice, Width: 1}))
	return line
}

func drawdownChart(in Input) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Drawdown"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)

	xAxis := make([]string, len(in.Equity))
	data := make([]opts.LineData, len(in.Equity))
	peak := in.InitialCapital
	for i, p := range in.Equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - p.Equity) / peak * 100
		}
		xAxis[i] = p.Time.Format("2006-01-02 15:04")
		data[i] = opts.LineData{Value: -dd}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Drawdown %", data, charts.WithLineStyleOpts(opts.LineStyle{Color: colorLoss, Width: 2}))
	return line
}

func pnlChart(in Input) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Trade PnL"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	xAxis := make([]string, len(in.TradeMarks))
	data := make([]opts.BarData, len(in.TradeMarks))
	for i, t := range in.TradeMarks {
		xAxis[i] = t.Time.Format("01-02 15:04")
		color := colorWin
		if t.PnL < 0 {
			color = colorLoss
		}
		data[i] = opts.BarData{
			Value:     t.PnL,
			ItemStyle: &opts.ItemStyle{Color: color},
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("PnL", data)
	return bar
}
