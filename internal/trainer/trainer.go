// Package trainer drives the REINFORCE training: it plays episodes of an rl.Environment with a
// policy.Policy, feeds the rewards and log-probabilities back to the policy, triggers the update at
// the end of each episode and aggregates the scores.
package trainer

import (
	"context"
	"fmt"
	"io"

	"github.com/janpfeifer/reinforce/internal/cartpole"
	"github.com/janpfeifer/reinforce/internal/policy"
	"github.com/janpfeifer/reinforce/internal/rl"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// Config of the training driver.
type Config struct {
	// Episodes played by Run when called with numEpisodes <= 0.
	Episodes int

	// PrintInterval is the number of episodes over which scores are averaged and reported.
	PrintInterval int

	// MaxSteps is the cap of steps per episode, regardless of the environment.
	MaxSteps int

	// Seed of the action sampler.
	Seed int64

	// RenderWriter, if not nil, receives a rendering of the environment at every step.
	RenderWriter io.Writer
}

// DefaultConfig returns the default configuration: 400 episodes, reporting every 20, at most 500 steps per episode.
func DefaultConfig() Config {
	return Config{
		Episodes:      400,
		PrintInterval: 20,
		MaxSteps:      cartpole.DefaultMaxSteps,
		Seed:          100,
	}
}

// Phase of the episode state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseResetting
	PhaseStepping
	PhaseTerminating
	PhaseUpdating
)

var phaseNames = []string{"Idle", "Resetting", "Stepping", "Terminating", "Updating"}

// String implements fmt.Stringer.
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// EpisodeResult summarizes one episode.
type EpisodeResult struct {
	// Episode index, starting at 0.
	Episode int

	// Steps taken.
	Steps int

	// Score is the sum of the rewards.
	Score float64

	// Actions taken, in order.
	Actions []rl.Action
}

// Reporter receives the mean score after every Config.PrintInterval episodes.
type Reporter interface {
	// Report is called with the number of episodes played so far and the mean score over the last interval.
	Report(episodes int, meanScore float64)
}

// Driver runs the training episodes.
// It is not safe for concurrent use.
type Driver struct {
	config  Config
	env     rl.Environment
	policy  *policy.Policy
	sampler rand.Source
	phase   Phase

	// episodes played so far.
	episodes int

	// Reporter, if not nil, is called every Config.PrintInterval episodes.
	Reporter Reporter

	// OnEpisode, if not nil, is called after every episode (after the update).
	OnEpisode func(result EpisodeResult)
}

// New creates a Driver for the environment and policy.
func New(config Config, env rl.Environment, p *policy.Policy) (*Driver, error) {
	if config.PrintInterval <= 0 {
		return nil, errors.Errorf("trainer: invalid print interval %d, it must be > 0", config.PrintInterval)
	}
	if config.MaxSteps <= 0 {
		return nil, errors.Errorf("trainer: invalid max steps %d, it must be > 0", config.MaxSteps)
	}
	return &Driver{
		config:  config,
		env:     env,
		policy:  p,
		sampler: rand.NewSource(uint64(config.Seed)),
	}, nil
}

// Phase returns the current phase of the episode state machine.
func (d *Driver) Phase() Phase {
	return d.phase
}

// Episodes returns the number of episodes played so far.
func (d *Driver) Episodes() int {
	return d.episodes
}

func (d *Driver) setPhase(phase Phase) {
	if klog.V(3).Enabled() {
		klog.Infof("episode %d: %s -> %s", d.episodes, d.phase, phase)
	}
	d.phase = phase
}

// RunEpisode plays one episode, at most Config.MaxSteps steps, and updates the policy with its trajectory.
//
// The context is checked before every step: if it is cancelled, the episode is abandoned without updating
// the policy and the context error is returned.
func (d *Driver) RunEpisode(ctx context.Context) (result EpisodeResult, err error) {
	result.Episode = d.episodes
	defer d.setPhase(PhaseIdle)

	tape, err := d.policy.OpenTape()
	if err != nil {
		return
	}
	defer tape.Close()

	d.setPhase(PhaseResetting)
	observation, err := d.env.Reset()
	if err != nil {
		err = errors.WithMessagef(err, "trainer: reset of episode %d", d.episodes)
		return
	}

	d.setPhase(PhaseStepping)
	for result.Steps < d.config.MaxSteps {
		if err = ctx.Err(); err != nil {
			d.policy.Discard()
			return
		}
		var step rl.StepResult
		step, err = d.step(observation, &result)
		if err != nil {
			d.policy.Discard()
			err = errors.WithMessagef(err, "trainer: step %d of episode %d", result.Steps, d.episodes)
			return
		}
		observation = step.Observation
		if step.Done {
			break
		}
	}

	d.setPhase(PhaseTerminating)
	if klog.V(2).Enabled() {
		klog.Infof("episode %d: %d steps, score %.1f", d.episodes, result.Steps, result.Score)
	}

	d.setPhase(PhaseUpdating)
	if err = d.policy.Update(); err != nil {
		err = errors.WithMessagef(err, "trainer: update of episode %d", d.episodes)
		return
	}
	d.episodes++
	if d.OnEpisode != nil {
		d.OnEpisode(result)
	}
	return
}

// step evaluates the policy, samples an action, steps the environment and records the step.
func (d *Driver) step(observation rl.Observation, result *EpisodeResult) (rl.StepResult, error) {
	dist, err := d.policy.Evaluate(observation)
	if err != nil {
		return rl.StepResult{}, err
	}
	action, err := dist.Sample(d.sampler)
	if err != nil {
		return rl.StepResult{}, err
	}
	step, err := d.env.Step(action)
	if err != nil {
		return rl.StepResult{}, err
	}
	logProb, err := dist.LogProb(action)
	if err != nil {
		return rl.StepResult{}, err
	}
	d.policy.RecordStep(step.Reward, logProb)
	result.Steps++
	result.Score += step.Reward
	result.Actions = append(result.Actions, action)
	if d.config.RenderWriter != nil {
		if err := d.env.Render(d.config.RenderWriter); err != nil {
			klog.Warningf("failed to render step %d: %v", result.Steps, err)
		}
	}
	return step, nil
}

// Run plays numEpisodes episodes, or Config.Episodes if numEpisodes <= 0.
//
// After every Config.PrintInterval episodes, the mean score over the interval is reported and appended
// to the returned results. A trailing incomplete interval is not reported.
//
// The context is checked between episodes: if cancelled, the results so far are returned with the context error.
func (d *Driver) Run(ctx context.Context, numEpisodes int) (results []float64, err error) {
	if numEpisodes <= 0 {
		numEpisodes = d.config.Episodes
	}
	scores := make([]float64, 0, d.config.PrintInterval)
	for range numEpisodes {
		if err = ctx.Err(); err != nil {
			return
		}
		var result EpisodeResult
		result, err = d.RunEpisode(ctx)
		if err != nil {
			return
		}
		scores = append(scores, result.Score)
		if len(scores) == d.config.PrintInterval {
			mean := stat.Mean(scores, nil)
			results = append(results, mean)
			if d.Reporter != nil {
				d.Reporter.Report(d.episodes, mean)
			}
			klog.V(1).Infof("episodes=%d, mean score=%.1f, optimizer steps=%d",
				d.episodes, mean, d.policy.NumOptimizerSteps())
			scores = scores[:0]
		}
	}
	return
}
