package viz

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/worldmodel/internal/worldmodel"
)

const outlinePoints = 48

var stateOrder = []worldmodel.State{
	worldmodel.StatePending,
	worldmodel.StateConfirmed,
	worldmodel.StateDiscarded,
	worldmodel.StateLocked,
}

var stateColors = map[worldmodel.State]color.RGBA{
	worldmodel.StatePending:   {R: 0xf5, G: 0xa6, B: 0x23, A: 0xff},
	worldmodel.StateConfirmed: {R: 0x35, G: 0xb7, B: 0x79, A: 0xff},
	worldmodel.StateDiscarded: {R: 0x88, G: 0x88, B: 0x88, A: 0xff},
	worldmodel.StateLocked:    {R: 0x31, G: 0x68, B: 0x8e, A: 0xff},
}

func hex(c color.RGBA) string { return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B) }

// extent returns a square half-width that contains every marker and its
// ellipse, with some padding.
func extent(markers []Marker) float64 {
	pad := 5.0
	for _, m := range markers {
		r := math.Max(math.Abs(m.X), math.Abs(m.Y))
		if m.HasEllipse {
			r += m.Ellipse.SemiMajor
		}
		pad = math.Max(pad, math.Ceil(r*1.1))
	}
	return pad
}

// RenderHTML writes an echarts scatter page of the markers: one series per
// state plus a series of ellipse outlines.
func RenderHTML(w io.Writer, markers []Marker, updated time.Time) error {
	pad := extent(markers)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "World Model", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Object Model", Subtitle: fmt.Sprintf("objects=%d updated=%s", len(markers), updated.Format(time.RFC3339))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)

	for _, state := range stateOrder {
		pts := make([]opts.ScatterData, 0, len(markers))
		for _, m := range markers {
			if m.State != state {
				continue
			}
			pts = append(pts, opts.ScatterData{
				Name:  fmt.Sprintf("%s (%s) support=%.1f", m.ObjectID, m.Class, m.Support),
				Value: []interface{}{m.X, m.Y, m.Support},
			})
		}
		scatter.AddSeries(string(state), pts,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hex(stateColors[state])}))
	}

	outline := make([]opts.ScatterData, 0, len(markers)*(outlinePoints+1))
	for _, m := range markers {
		if !m.HasEllipse {
			continue
		}
		for _, p := range m.Ellipse.Outline(m.X, m.Y, outlinePoints) {
			outline = append(outline, opts.ScatterData{Value: []interface{}{p[0], p[1]}})
		}
	}
	scatter.AddSeries("2σ", outline,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#bbbbbb"}))

	if err := scatter.Render(w); err != nil {
		return errors.Wrap(err, "render chart")
	}
	return nil
}

// RenderPNG writes a PNG plot of the markers of the given size in inches.
func RenderPNG(w io.Writer, markers []Marker, updated time.Time, size float64) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Object Model (%d objects, %s)", len(markers), updated.Format(time.RFC3339))
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	pad := extent(markers)
	p.X.Min, p.X.Max = -pad, pad
	p.Y.Min, p.Y.Max = -pad, pad
	p.Add(plotter.NewGrid())

	for _, m := range markers {
		if !m.HasEllipse {
			continue
		}
		var xys plotter.XYs
		for _, pt := range m.Ellipse.Outline(m.X, m.Y, outlinePoints) {
			xys = append(xys, plotter.XY{X: pt[0], Y: pt[1]})
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return errors.Wrapf(err, "ellipse of %s", m.ObjectID)
		}
		line.Color = stateColors[m.State]
		line.Width = vg.Points(1)
		p.Add(line)
	}

	for _, state := range stateOrder {
		var xys plotter.XYs
		var labels []string
		for _, m := range markers {
			if m.State == state {
				xys = append(xys, plotter.XY{X: m.X, Y: m.Y})
				labels = append(labels, m.ObjectID)
			}
		}
		if len(xys) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(xys)
		if err != nil {
			return errors.Wrapf(err, "%s markers", state)
		}
		sc.GlyphStyle.Color = stateColors[state]
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(4)
		p.Add(sc)
		p.Legend.Add(string(state), sc)

		lbl, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: labels})
		if err != nil {
			return errors.Wrapf(err, "%s labels", state)
		}
		p.Add(lbl)
	}

	wt, err := p.WriterTo(vg.Length(size)*vg.Inch, vg.Length(size)*vg.Inch, "png")
	if err != nil {
		return errors.Wrap(err, "png canvas")
	}
	if _, err := wt.WriteTo(w); err != nil {
		return errors.Wrap(err, "write png")
	}
	return nil
}
