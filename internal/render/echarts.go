package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// EChartsSink keeps the most recent frame and serves it as an HTML page of
// scatter charts, one per track.
type EChartsSink struct {
	// AssetsHost overrides where the echarts javascript is loaded from.
	AssetsHost string

	mu     sync.Mutex
	latest *Frame
}

// NewEChartsSink returns an empty sink.
func NewEChartsSink() *EChartsSink { return &EChartsSink{} }

// Render implements Sink.
func (s *EChartsSink) Render(_ context.Context, f Frame) error {
	s.mu.Lock()
	s.latest = &f
	s.mu.Unlock()
	return nil
}

// Latest returns the last rendered frame.
func (s *EChartsSink) Latest() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return Frame{}, false
	}
	return *s.latest, true
}

// ServeHTTP renders the latest frame.
func (s *EChartsSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f, ok := s.Latest()
	if !ok {
		http.Error(w, "no frame rendered yet", http.StatusServiceUnavailable)
		return
	}
	var buf bytes.Buffer
	if err := WriteHTML(&buf, f, s.AssetsHost); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func scatterData(pts []Point) []opts.ScatterData {
	data := make([]opts.ScatterData, 0, len(pts))
	for _, p := range pts {
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
	}
	return data
}

// WriteHTML renders f as a go-echarts page.
func WriteHTML(w io.Writer, f Frame, assetsHost string) error {
	page := components.NewPage()
	page.SetPageTitle("servotrace")
	if assetsHost != "" {
		page.SetAssetsHost(assetsHost)
	}

	window := f.Window.Seconds()
	for _, t := range f.Tracks {
		init := opts.Initialization{Width: "100%", Height: "240px"}
		if assetsHost != "" {
			init.AssetsHost = assetsHost
		}
		scatter := charts.NewScatter()
		scatter.SetGlobalOptions(
			charts.WithInitializationOpts(init),
			charts.WithTitleOpts(opts.Title{
				Title:    t.Label,
				Subtitle: fmt.Sprintf("command 0x%03X feedback 0x%03X", t.CommandID, t.FeedbackID),
			}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
			charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: -window, Max: 0, Name: "t (s)"}),
			charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: f.YMin, Max: f.YMax, Name: "angle (deg)"}),
		)
		scatter.AddSeries("command", scatterData(t.Command), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
		scatter.AddSeries("feedback", scatterData(t.Feedback), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
		page.AddCharts(scatter)
	}
	return page.Render(w)
}
