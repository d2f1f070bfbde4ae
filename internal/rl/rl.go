// Package rl (Reinforcement Learning) defines the standard types and interfaces shared by the
// environments, the policy and the trainer.
package rl

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

const (
	// ObservationDim is the number of values in an Observation.
	ObservationDim = 4

	// NumActions in the discrete action space.
	NumActions = 2
)

// Observation of the environment: cart position, cart velocity, pole angle and pole angular velocity.
type Observation [ObservationDim]float64

// Float32 returns the observation converted to float32, the dtype used by the models.
func (o Observation) Float32() (values [ObservationDim]float32) {
	for ii, v := range o {
		values[ii] = float32(v)
	}
	return
}

// Action is an index into the discrete action space.
type Action int

const (
	PushLeft Action = iota
	PushRight
)

// ErrInvalidAction is returned whenever an action outside [0, NumActions) shows up.
// It indicates a broken distribution or misconfiguration, and should be treated as fatal.
var ErrInvalidAction = errors.New("invalid action")

// Valid returns whether the action is in the action space.
func (a Action) Valid() bool {
	return a >= 0 && int(a) < NumActions
}

// Check returns ErrInvalidAction (with context) if the action is not valid.
func (a Action) Check() error {
	if !a.Valid() {
		return errors.WithMessagef(ErrInvalidAction, "action %d not in [0, %d)", int(a), NumActions)
	}
	return nil
}

// String implements fmt.Stringer.
func (a Action) String() string {
	switch a {
	case PushLeft:
		return "PushLeft"
	case PushRight:
		return "PushRight"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// StepResult is what Environment.Step returns.
type StepResult struct {
	Observation Observation
	Reward      float64

	// Done is set if the episode terminated (failure) or was truncated (time limit).
	Done bool

	// Info holds optional diagnostics from the environment, it may be nil.
	Info map[string]any
}

// Environment is an episodic environment with the CartPole contract.
type Environment interface {
	// Reset starts a new episode and returns the initial observation.
	Reset() (Observation, error)

	// Step applies the action. Calling Step after Done was returned, without a Reset, is a usage error.
	Step(action Action) (StepResult, error)

	// Render writes a visualization of the current state to w.
	Render(w io.Writer) error

	// Close releases any resources held by the environment.
	Close() error
}
