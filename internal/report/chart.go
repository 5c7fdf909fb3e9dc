package report

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"
)

// AssetsHost serves the echarts javascript.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// RenderChart writes an HTML page with the error and command series.
func RenderChart(w *bytes.Buffer, points []Point, subtitle string) error {
	x := make([]string, len(points))
	pan := make([]opts.LineData, len(points))
	tilt := make([]opts.LineData, len(points))
	lateral := make([]opts.LineData, len(points))
	vertical := make([]opts.LineData, len(points))
	for i, p := range points {
		x[i] = strconv.FormatUint(p.Seq, 10)
		if p.Tracked {
			pan[i] = opts.LineData{Value: p.PanError}
			tilt[i] = opts.LineData{Value: p.TiltError}
		} else {
			pan[i] = opts.LineData{Value: "-"}
			tilt[i] = opts.LineData{Value: "-"}
		}
		lateral[i] = opts.LineData{Value: p.Lateral}
		vertical[i] = opts.LineData{Value: p.Vertical}
	}

	errs := charts.NewLine()
	errs.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Face follow", Width: "100%", Height: "420px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Axis error (px)", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	errs.SetXAxis(x).
		AddSeries("pan", pan).
		AddSeries("tilt", tilt)

	cmds := charts.NewLine()
	cmds.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Stick command"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Min: -100, Max: 100}),
	)
	cmds.SetXAxis(x).
		AddSeries("lateral", lateral, charts.WithLineChartOpts(opts.LineChart{Step: "end"})).
		AddSeries("vertical", vertical, charts.WithLineChartOpts(opts.LineChart{Step: "end"}))

	page := components.NewPage()
	page.SetAssetsHost(AssetsHost)
	page.AddCharts(errs, cmds)
	return page.Render(w)
}

// Handler serves the live chart of a collector.
func Handler(c *Collector) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		points := c.Points()
		if n, err := strconv.Atoi(r.URL.Query().Get("last")); err == nil && n > 0 && n < len(points) {
			points = points[len(points)-n:]
		}
		var buf bytes.Buffer
		if err := RenderChart(&buf, points, fmt.Sprintf("%d iterations", len(points))); err != nil {
			http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})
}

// AttachAdminRoutes mounts the chart at /debug/errors-chart.
func AttachAdminRoutes(mux *http.ServeMux, c *Collector) {
	tsweb.Debugger(mux).Handle("errors-chart", "live axis error and command chart", Handler(c))
}
