// Package cartpole implements the classic CartPole-v1 control environment: a pole attached by an
// un-actuated joint to a cart that moves along a frictionless track.
//
// The dynamics, thresholds and rewards follow the Gym CartPole-v1 definition: the episode terminates
// when the pole is more than 12 degrees from vertical or the cart leaves the [-2.4, 2.4] track, and it is
// truncated after MaxSteps steps. Every step, including the last, is rewarded with 1.
package cartpole

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/janpfeifer/reinforce/internal/rl"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"k8s.io/klog/v2"
)

const (
	gravity        = 9.8
	massCart       = 1.0
	massPole       = 0.1
	totalMass      = massCart + massPole
	length         = 0.5 // Half the pole's length.
	poleMassLength = massPole * length
	forceMag       = 10.0
	tau            = 0.02 // Seconds between state updates.

	// XThreshold is the position limit of the cart.
	XThreshold = 2.4

	// ResetRange is the half-width of the uniform distribution used to initialize the state.
	ResetRange = 0.05

	// DefaultMaxSteps after which episodes are truncated.
	DefaultMaxSteps = 500
)

// ThetaThreshold is the angle limit of the pole, in radians.
const ThetaThreshold = 12 * 2 * math.Pi / 360

// ErrStepAfterDone is returned by Env.Step if the episode is over and Reset was not called.
var ErrStepAfterDone = errors.New("cartpole: Step called after episode is done, call Reset first")

// ErrNotReset is returned by Env.Step if Reset was never called.
var ErrNotReset = errors.New("cartpole: Step called before Reset")

// Env is the CartPole environment. It implements rl.Environment.
//
// It is not safe for concurrent use.
type Env struct {
	state    rl.Observation
	steps    int
	maxSteps int

	isReset, done bool
	initDist      distuv.Uniform
}

// Compile-time check that Env implements rl.Environment.
var _ rl.Environment = (*Env)(nil)

// New creates a CartPole environment whose initial states are drawn from a source seeded with seed.
// Episodes are truncated after DefaultMaxSteps, see WithMaxSteps.
func New(seed int64) *Env {
	return &Env{
		maxSteps: DefaultMaxSteps,
		initDist: distuv.Uniform{
			Min: -ResetRange,
			Max: ResetRange,
			Src: rand.NewSource(uint64(seed)),
		},
	}
}

// WithMaxSteps sets the step limit after which an episode is truncated. A value <= 0 disables truncation.
// It returns the environment itself, so calls can be cascaded.
func (e *Env) WithMaxSteps(maxSteps int) *Env {
	e.maxSteps = maxSteps
	return e
}

// MaxSteps returns the step limit of an episode.
func (e *Env) MaxSteps() int {
	return e.maxSteps
}

// Reset implements rl.Environment.
func (e *Env) Reset() (rl.Observation, error) {
	for ii := range e.state {
		e.state[ii] = e.initDist.Rand()
	}
	e.steps = 0
	e.isReset = true
	e.done = false
	return e.state, nil
}

// State returns the current observation without changing the environment.
func (e *Env) State() rl.Observation {
	return e.state
}

// Steps taken since the last Reset.
func (e *Env) Steps() int {
	return e.steps
}

// Step implements rl.Environment.
//
// The returned Info holds "terminated" and "truncated" flags, to distinguish a failure from the time limit.
func (e *Env) Step(action rl.Action) (rl.StepResult, error) {
	if err := action.Check(); err != nil {
		return rl.StepResult{}, err
	}
	if !e.isReset {
		return rl.StepResult{}, ErrNotReset
	}
	if e.done {
		return rl.StepResult{}, ErrStepAfterDone
	}

	force := forceMag
	if action == rl.PushLeft {
		force = -forceMag
	}
	x, xDot, theta, thetaDot := e.state[0], e.state[1], e.state[2], e.state[3]
	cosTheta, sinTheta := math.Cos(theta), math.Sin(theta)

	temp := (force + poleMassLength*thetaDot*thetaDot*sinTheta) / totalMass
	thetaAcc := (gravity*sinTheta - cosTheta*temp) /
		(length * (4.0/3.0 - massPole*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

	// Euler integration.
	x += tau * xDot
	xDot += tau * xAcc
	theta += tau * thetaDot
	thetaDot += tau * thetaAcc
	e.state = rl.Observation{x, xDot, theta, thetaDot}
	e.steps++

	terminated := x < -XThreshold || x > XThreshold || theta < -ThetaThreshold || theta > ThetaThreshold
	truncated := !terminated && e.maxSteps > 0 && e.steps >= e.maxSteps
	e.done = terminated || truncated
	if klog.V(3).Enabled() {
		klog.Infof("cartpole step %d: action=%s state=%v terminated=%v truncated=%v",
			e.steps, action, e.state, terminated, truncated)
	}
	return rl.StepResult{
		Observation: e.state,
		Reward:      1.0,
		Done:        e.done,
		Info: map[string]any{
			"terminated": terminated,
			"truncated":  truncated,
			"steps":      e.steps,
		},
	}, nil
}

const renderWidth = 49

var (
	trackStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	cartStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	doneStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// Render implements rl.Environment. It writes one line with the cart on the track and the pole
// tilt drawn as "|", "/" or "\".
func (e *Env) Render(w io.Writer) error {
	x, theta := e.state[0], e.state[2]
	pos := int(math.Round((x + XThreshold) / (2 * XThreshold) * float64(renderWidth-1)))
	pos = max(0, min(renderWidth-1, pos))
	pole := "|"
	if theta > ThetaThreshold/3 {
		pole = "/"
	} else if theta < -ThetaThreshold/3 {
		pole = "\\"
	}
	style := cartStyle
	if e.done {
		style = doneStyle
	}
	line := trackStyle.Render(strings.Repeat("-", pos)) +
		style.Render(pole) +
		trackStyle.Render(strings.Repeat("-", renderWidth-1-pos))
	_, err := fmt.Fprintf(w, "[%s] step=%3d x=%+.3f theta=%+.3f\n", line, e.steps, x, theta)
	return errors.Wrap(err, "cartpole: render")
}

// Close implements rl.Environment. There are no resources to release.
func (e *Env) Close() error {
	e.isReset = false
	return nil
}
