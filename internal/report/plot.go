package report

import (
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	panColour  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	tiltColour = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

// SavePlots writes <prefix>_errors.png and <prefix>_commands.png into dir
// and returns their paths. Nothing is written for an empty session.
func SavePlots(points []Point, dir, prefix string) ([]string, error) {
	if len(points) == 0 {
		return nil, nil
	}

	panErr := make(plotter.XYs, 0, len(points))
	tiltErr := make(plotter.XYs, 0, len(points))
	lateral := make(plotter.XYs, len(points))
	vertical := make(plotter.XYs, len(points))
	for i, p := range points {
		x := float64(p.Seq)
		if p.Tracked {
			panErr = append(panErr, plotter.XY{X: x, Y: p.PanError})
			tiltErr = append(tiltErr, plotter.XY{X: x, Y: p.TiltError})
		}
		lateral[i] = plotter.XY{X: x, Y: float64(p.Lateral)}
		vertical[i] = plotter.XY{X: x, Y: float64(p.Vertical)}
	}

	pErr := plot.New()
	pErr.Title.Text = "Axis error"
	pErr.X.Label.Text = "Iteration"
	pErr.Y.Label.Text = "Error (px)"

	pCmd := plot.New()
	pCmd.Title.Text = "Stick command"
	pCmd.X.Label.Text = "Iteration"
	pCmd.Y.Label.Text = "Velocity"

	if err := addLines(pErr, "pan", panErr, "tilt", tiltErr); err != nil {
		return nil, err
	}
	if err := addLines(pCmd, "lateral", lateral, "vertical", vertical); err != nil {
		return nil, err
	}

	var paths []string
	for _, out := range []struct {
		name string
		p    *plot.Plot
	}{{"errors", pErr}, {"commands", pCmd}} {
		name, p := out.name, out.p
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", prefix, name))
		if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
			return paths, fmt.Errorf("save %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	logf("wrote %d plots for %d iterations", len(paths), len(points))
	return paths, nil
}

func addLines(p *plot.Plot, aName string, a plotter.XYs, bName string, b plotter.XYs) error {
	for _, l := range []struct {
		name string
		pts  plotter.XYs
		c    color.Color
	}{{aName, a, panColour}, {bName, b, tiltColour}} {
		if len(l.pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(l.pts)
		if err != nil {
			return fmt.Errorf("%s line: %w", l.name, err)
		}
		line.Color = l.c
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(l.name, line)
	}
	return nil
}
