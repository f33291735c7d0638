package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"go.uber.org/zap"

	"github.com/banshee-data/activity.report/internal/classifier"
	"github.com/banshee-data/activity.report/internal/httputil"
)

// handleActivityChart renders the recent activity timeline and per-activity
// counts as an HTML page. Debug only; there is no auth.
func (s *Server) handleActivityChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	events := s.timeline.Events()
	if len(events) == 0 {
		httputil.NotFound(w, "No activity classified yet")
		return
	}
	labels := s.timeline.Labels()

	x := make([]string, 0, len(events))
	y := make([]opts.LineData, 0, len(events))
	counts := make([]int, len(labels))
	for _, ev := range events {
		idx, err := classifier.LabelIndex(labels, ev.Activity)
		if err != nil {
			continue
		}
		x = append(x, ev.Time.Format("15:04:05"))
		y = append(y, opts.LineData{Value: idx, Name: ev.Activity.String()})
		counts[idx]++
	}

	legend := make([]string, len(labels))
	for i, l := range labels {
		legend[i] = fmt.Sprintf("%d=%s", i, l)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Activity", Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Activity timeline",
			Subtitle: fmt.Sprintf("%d windows, %d fall alerts, %s", len(y), s.timeline.Falls(), strings.Join(legend, " ")),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: len(labels) - 1, Name: "class", NameLocation: "middle", NameGap: 30}),
	)
	line.SetXAxis(x).AddSeries("activity", y)

	bx := make([]string, len(labels))
	by := make([]opts.BarData, len(labels))
	for i, l := range labels {
		bx[i] = l.String()
		by[i] = opts.BarData{Value: counts[i]}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Windows per activity", Subtitle: time.Now().Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(bx).
		AddSeries("windows", by,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(line, bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.logger.Warn("failed to render activity chart", zap.Error(err))
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
