// Package chart plots the training curve: the mean score of each reporting interval against the
// number of episodes played.
package chart

import (
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

// YLabel of the charts: the scores are the total (undiscounted) return of the episodes.
const YLabel = "Total return"

const (
	width  = 8 * vg.Inch
	height = 4 * vg.Inch
)

// Points converts the interval means to (episode, mean) points: the i-th mean is placed at episode (i+1)*interval.
func Points(interval int, means []float64) plotter.XYs {
	pts := make(plotter.XYs, len(means))
	for ii, mean := range means {
		pts[ii].X = float64((ii + 1) * interval)
		pts[ii].Y = mean
	}
	return pts
}

// SaveScores plots the interval means as a line with markers and saves it to path.
// The image format is given by the file extension (".png", ".svg", ".pdf", ...).
func SaveScores(path, title string, interval int, means []float64) error {
	if interval <= 0 {
		return errors.Errorf("chart: invalid interval %d", interval)
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Episode"
	p.Y.Label.Text = YLabel
	p.Add(plotter.NewGrid())

	if len(means) > 0 {
		line, points, err := plotter.NewLinePoints(Points(interval, means))
		if err != nil {
			return errors.Wrapf(err, "chart: failed to plot %d points", len(means))
		}
		p.Add(line, points)
	}
	if err := p.Save(width, height, path); err != nil {
		return errors.Wrapf(err, "chart: failed to save %q", path)
	}
	klog.V(1).Infof("saved chart with %d points to %s", len(means), filepath.Clean(path))
	return nil
}
