package render

import (
	"context"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var (
	commandColor  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	feedbackColor = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

// PlotSink writes the frame as a PNG file, at most once per Every of frame
// time. The file is replaced atomically so viewers never see a partial image.
type PlotSink struct {
	Path   string
	Every  time.Duration
	Width  vg.Length
	Height vg.Length

	last time.Time
}

// NewPlotSink creates a PlotSink writing to path.
func NewPlotSink(path string, every time.Duration) *PlotSink {
	return &PlotSink{Path: path, Every: every}
}

// Render implements Sink.
func (s *PlotSink) Render(_ context.Context, f Frame) error {
	if !s.last.IsZero() && f.Time.Sub(s.last) < s.Every {
		return nil
	}
	s.last = f.Time

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".servotrace-*.png")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := WritePNG(tmp, f, s.Width, s.Height); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path)
}

func xys(pts []Point) plotter.XYs {
	out := make(plotter.XYs, len(pts))
	for i, p := range pts {
		out[i] = plotter.XY{X: p.X, Y: p.Y}
	}
	return out
}

func addScatter(p *plot.Plot, name string, pts []Point, c color.Color) error {
	if len(pts) == 0 {
		return nil
	}
	s, err := plotter.NewScatter(xys(pts))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(s)
	p.Legend.Add(name, s)
	return nil
}

// WritePNG draws one subplot per track, stacked vertically. Zero sizes
// default to 10in wide and 2in per track.
func WritePNG(w io.Writer, f Frame, width, height vg.Length) error {
	n := len(f.Tracks)
	if n == 0 {
		n = 1
	}
	if width == 0 {
		width = 10 * vg.Inch
	}
	if height == 0 {
		height = vg.Length(n) * 2 * vg.Inch
	}

	plots := make([][]*plot.Plot, n)
	for i := range plots {
		p := plot.New()
		plots[i] = []*plot.Plot{p}
		if i >= len(f.Tracks) {
			p.Title.Text = "no tracks"
		} else {
			t := f.Tracks[i]
			p.Title.Text = t.Label
			if err := addScatter(p, "command", t.Command, commandColor); err != nil {
				return err
			}
			if err := addScatter(p, "feedback", t.Feedback, feedbackColor); err != nil {
				return err
			}
		}
		p.X.Label.Text = "t (s)"
		p.Y.Label.Text = "deg"
		p.X.Min, p.X.Max = -f.Window.Seconds(), 0
		p.Y.Min, p.Y.Max = f.YMin, f.YMax
		p.Legend.Top = true
		p.Legend.Left = false
	}

	img := vgimg.New(width, height)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      n,
		Cols:      1,
		PadX:      vg.Millimeter,
		PadY:      vg.Millimeter,
		PadTop:    vg.Points(2),
		PadBottom: vg.Points(2),
		PadLeft:   vg.Points(2),
		PadRight:  vg.Points(2),
	}
	canvases := plot.Align(plots, tiles, dc)
	for i := range plots {
		plots[i][0].Draw(canvases[i][0])
	}
	_, err := vgimg.PngCanvas{Canvas: img}.WriteTo(w)
	return err
}
