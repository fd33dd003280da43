// Package charts renders operator debug views: an HTML bar chart of the
// current per-lane counts and a PNG timeline of which lane held green.
package charts

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/signal.report/internal/decision"
	"github.com/banshee-data/signal.report/internal/lane"
)

// Source is what the charts read. *orchestrator.Orchestrator satisfies it.
type Source interface {
	Lanes() lane.Set
	Results() map[lane.Lane]lane.Result
	Switches() []decision.Switch
}

// RenderLaneCounts writes an HTML page with one bar per lane. Lanes
// reporting an emergency or a confirmed accident are coloured.
func RenderLaneCounts(w io.Writer, lanes lane.Set, results map[lane.Lane]lane.Result, at time.Time) error {
	x := make([]string, 0, len(lanes))
	y := make([]opts.BarData, 0, len(lanes))
	for _, l := range lanes {
		x = append(x, string(l))
		r, ok := results[l]
		if !ok {
			y = append(y, opts.BarData{Value: 0, Name: "no data"})
			continue
		}
		bar := opts.BarData{Value: r.SmoothedCount}
		switch {
		case r.EmergencyPresent:
			bar.ItemStyle = &opts.ItemStyle{Color: "#d62728"}
			bar.Name = "emergency"
		case r.AccidentConfirmed:
			bar.ItemStyle = &opts.ItemStyle{Color: "#ff7f0e"}
			bar.Name = "accident"
		}
		y = append(y, bar)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Lane counts", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Smoothed vehicle count", Subtitle: at.Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "vehicles"}),
	)
	bar.SetXAxis(x).
		AddSeries("count", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(bar)
	return page.Render(w)
}

// SwitchTimeline plots the green lane over time as a step line. The x axis
// is minutes since the first switch.
func SwitchTimeline(lanes lane.Set, switches []decision.Switch, now time.Time) (*plot.Plot, error) {
	if len(switches) == 0 {
		return nil, fmt.Errorf("no switches recorded")
	}
	start := switches[0].At

	pts := make(plotter.XYs, 0, len(switches)+1)
	for _, s := range switches {
		idx := lanes.Index(s.To)
		if idx < 0 {
			continue
		}
		pts = append(pts, plotter.XY{X: s.At.Sub(start).Minutes(), Y: float64(idx)})
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("no switches to known lanes")
	}
	if now.After(start) {
		last := pts[len(pts)-1]
		pts = append(pts, plotter.XY{X: now.Sub(start).Minutes(), Y: last.Y})
	}

	p := plot.New()
	p.Title.Text = "Green phase"
	p.X.Label.Text = "minutes"
	p.Y.Label.Text = "lane"
	p.Y.Min, p.Y.Max = -0.5, float64(len(lanes))-0.5
	ticks := make([]plot.Tick, len(lanes))
	for i, l := range lanes {
		ticks[i] = plot.Tick{Value: float64(i), Label: string(l)}
	}
	p.Y.Tick.Marker = plot.ConstantTicks(ticks)
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.StepStyle = plotter.PostStep
	line.Width = vg.Points(2)
	line.Color = color.RGBA{G: 160, A: 255}
	p.Add(line)

	if marks := emergencyMarks(lanes, switches, start); len(marks) > 0 {
		sc, err := plotter.NewScatter(marks)
		if err != nil {
			return nil, err
		}
		sc.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		sc.Radius = vg.Points(4)
		p.Add(sc)
	}
	return p, nil
}

// emergencyMarks places one point per emergency switch to a known lane.
func emergencyMarks(lanes lane.Set, switches []decision.Switch, start time.Time) plotter.XYs {
	var out plotter.XYs
	for _, s := range switches {
		if s.Reason != decision.ReasonEmergency {
			continue
		}
		idx := lanes.Index(s.To)
		if idx < 0 {
			continue
		}
		out = append(out, plotter.XY{X: s.At.Sub(start).Minutes(), Y: float64(idx)})
	}
	return out
}

// WriteTimelinePNG renders SwitchTimeline as a PNG.
func WriteTimelinePNG(w io.Writer, lanes lane.Set, switches []decision.Switch, now time.Time) error {
	p, err := SwitchTimeline(lanes, switches, now)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// AttachAdminRoutes adds the lane chart and switch timeline to the debug
// page on mux.
func AttachAdminRoutes(mux *http.ServeMux, src Source) {
	debug := tsweb.Debugger(mux)
	debug.Handle("lanes-chart", "Per-lane smoothed counts", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := RenderLaneCounts(&buf, src.Lanes(), src.Results(), time.Now()); err != nil {
			http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	}))
	debug.Handle("switch-timeline.png", "Green phase timeline", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := WriteTimelinePNG(&buf, src.Lanes(), src.Switches(), time.Now()); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	}))
}
