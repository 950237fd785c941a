package http

import (
	"fmt"
	"net/http"
	"strconv"

	"tickerd/internal/pkg/symbol"

	"github.com/gin-gonic/gin"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// handleChart renders the rolling price window plus the moving-average
// overlays as a self-contained HTML page. Thresholds from the symbol's
// settings are drawn as flat lines so the trigger levels are visible
// against the tape.
func (s *Server) handleChart(c *gin.Context) {
	sym := symbol.Normalize(c.Param("symbol"))
	if sym == "" {
		c.String(http.StatusBadRequest, "invalid symbol")
		return
	}
	history := s.indicators.History(sym)
	if len(history) == 0 {
		c.String(http.StatusNotFound, "no price history for %s yet", sym)
		return
	}

	xAxis := make([]string, len(history))
	prices := make([]opts.LineData, len(history))
	for i, p := range history {
		xAxis[i] = strconv.Itoa(i)
		prices[i] = opts.LineData{Value: p}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s live ticks", sym),
			Subtitle: fmt.Sprintf("last %d samples", len(history)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("price", prices,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	if snap, err := s.indicators.Snapshot(sym); err == nil {
		line.AddSeries("sma", flatSeries(snap.SMA, len(history)))
		line.AddSeries("bollinger upper", flatSeries(snap.BollingerUpper, len(history)))
		line.AddSeries("bollinger lower", flatSeries(snap.BollingerLower, len(history)))
	}
	if settings, err := s.store.SettingsFor(c.Request.Context(), sym); err == nil && settings != nil {
		if settings.ReferencePrice > 0 {
			trigger := settings.ReferencePrice * (1 - settings.BuyThresholdPercent/100)
			line.AddSeries("buy trigger", flatSeries(trigger, len(history)))
		}
		if settings.LastBuyPrice > 0 {
			trigger := settings.LastBuyPrice * (1 + settings.SellThresholdPercent/100)
			line.AddSeries("sell trigger", flatSeries(trigger, len(history)))
		}
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := line.Render(c.Writer); err != nil {
		c.String(http.StatusInternalServerError, "rendering chart failed: %v", err)
	}
}

func flatSeries(value float64, n int) []opts.LineData {
	out := make([]opts.LineData, n)
	for i := range out {
		out[i] = opts.LineData{Value: value}
	}
	return out
}
