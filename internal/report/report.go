// Package report outputs the training progress: a line per reporting interval on the console, and
// the final results as JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"golang.org/x/term"
	"k8s.io/klog/v2"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
)

// Console writes one line per report, with the number of episodes played and the mean score of the interval.
//
// Colors are only used if the writer is a terminal.
type Console struct {
	w     io.Writer
	color bool
}

// NewConsole creates a Console reporter writing to w.
func NewConsole(w io.Writer) *Console {
	c := &Console{w: w}
	if f, ok := w.(*os.File); ok {
		c.color = term.IsTerminal(int(f.Fd()))
	}
	return c
}

// Format returns the report line, without colors.
func Format(episodes int, meanScore float64) string {
	return fmt.Sprintf("# of episode :%d, avg score : %.1f", episodes, meanScore)
}

// Report implements trainer.Reporter.
func (c *Console) Report(episodes int, meanScore float64) {
	line := Format(episodes, meanScore)
	if c.color {
		line = labelStyle.Render("# of episode :") + valueStyle.Render(fmt.Sprintf("%d", episodes)) +
			labelStyle.Render(", avg score : ") + valueStyle.Render(fmt.Sprintf("%.1f", meanScore))
	}
	if _, err := fmt.Fprintln(c.w, line); err != nil {
		klog.Warningf("failed to write report: %v", err)
	}
}

// Results of a training run, as saved by SaveJSON.
type Results struct {
	Episodes       int       `json:"episodes"`
	PrintInterval  int       `json:"print_interval"`
	Seed           int64     `json:"seed"`
	Policy         string    `json:"policy"`
	OptimizerSteps int       `json:"optimizer_steps"`
	MeanScores     []float64 `json:"mean_scores"`
}

// SaveJSON saves v indented as JSON to path.
func SaveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "report: failed to encode %T", v)
	}
	if err = os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return errors.Wrapf(err, "report: failed to write %q", path)
	}
	return nil
}
