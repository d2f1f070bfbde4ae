package policy

import (
	"github.com/janpfeifer/reinforce/internal/rl"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrTapeOpen is returned by OpenTape if the policy already has an open Tape.
	ErrTapeOpen = errors.New("policy: a tape is already open, close it first")

	// ErrTapeClosed is returned by Update if a step of the trajectory was recorded on a Tape closed since.
	ErrTapeClosed = errors.New("policy: the tape holding the trajectory was closed before Update")

	// ErrStaleLogProb is returned by Update if a step of the trajectory has a LogProb evaluated before the
	// parameters last changed.
	ErrStaleLogProb = errors.New("policy: log-probability was evaluated with parameters changed since")

	// ErrDetachedLogProb is returned by Update if a step of the trajectory has a LogProb taken without an open Tape.
	ErrDetachedLogProb = errors.New("policy: log-probability was not recorded on a tape, it has no gradient")
)

// Tape is the differentiable record of one episode: for every log-probability taken while it is open it
// holds the observation and the action, so Update can rebuild the gradient of log(pi(action|observation))
// with respect to the parameters.
//
// A Tape is opened with Policy.OpenTape at the start of an episode and must be closed, usually with
// a defer, after the Policy.Update of the episode.
type Tape struct {
	policy       *Policy
	observations [][rl.ObservationDim]float32
	actions      []rl.Action
	closed       bool
}

// OpenTape opens a new Tape for the policy.
// Only one Tape can be open at a time, it returns ErrTapeOpen otherwise.
func (p *Policy) OpenTape() (*Tape, error) {
	if p.tape != nil {
		return nil, ErrTapeOpen
	}
	p.tape = &Tape{policy: p}
	return p.tape, nil
}

// record the (observation, action) pair, and returns its index.
func (t *Tape) record(observation [rl.ObservationDim]float32, action rl.Action) int {
	t.observations = append(t.observations, observation)
	t.actions = append(t.actions, action)
	return len(t.actions) - 1
}

// Len returns the number of log-probabilities recorded.
func (t *Tape) Len() int {
	return len(t.actions)
}

// Closed returns whether Close was called.
func (t *Tape) Closed() bool {
	return t.closed
}

// Close releases the recorded data. It is idempotent and can be deferred.
func (t *Tape) Close() {
	if t.closed {
		return
	}
	if klog.V(2).Enabled() {
		klog.Infof("closing tape with %d records", len(t.actions))
	}
	t.closed = true
	t.observations = nil
	t.actions = nil
	if t.policy.tape == t {
		t.policy.tape = nil
	}
}

// LogProb is the log-probability of an action, tied to the Tape where it was recorded.
type LogProb struct {
	// Value of log(pi(action|observation)) when it was evaluated.
	Value float32

	tape  *Tape
	index int

	// version of the parameters (number of optimizer steps) it was evaluated with.
	version int
}

// Detached returns whether the log-probability was taken without an open Tape, in which case it can't be
// used for Update.
func (lp LogProb) Detached() bool {
	return lp.tape == nil
}

// recorded returns the observation and action of the log-probability.
func (lp LogProb) recorded() (observation [rl.ObservationDim]float32, action rl.Action, err error) {
	if lp.tape == nil {
		err = ErrDetachedLogProb
		return
	}
	if lp.tape.closed {
		err = ErrTapeClosed
		return
	}
	if lp.index >= len(lp.tape.actions) {
		err = errors.Errorf("policy: log-probability index %d out of tape of length %d", lp.index, len(lp.tape.actions))
		return
	}
	return lp.tape.observations[lp.index], lp.tape.actions[lp.index], nil
}
