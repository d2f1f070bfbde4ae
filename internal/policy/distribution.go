package policy

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/reinforce/internal/generics"
	"github.com/janpfeifer/reinforce/internal/rl"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// ActionDistribution is the categorical distribution pi(.|observation) returned by Policy.Evaluate.
type ActionDistribution struct {
	// Probabilities of each action, indexed by rl.Action. They are >= minProbability and sum to 1.
	Probabilities [rl.NumActions]float32

	observation [rl.ObservationDim]float32

	// tape open when the distribution was evaluated, or nil.
	tape *Tape

	// version of the parameters used, see LogProb.
	version int
}

// Evaluate the policy for the observation. It doesn't change the parameters.
//
// If a Tape is open, the log-probabilities taken from the returned distribution are recorded on it and
// can be used by Update.
func (p *Policy) Evaluate(observation rl.Observation) (*ActionDistribution, error) {
	dist := &ActionDistribution{
		observation: observation.Float32(),
		tape:        p.tape,
		version:     p.numOptimizerSteps,
	}
	err := exceptions.TryCatch[error](func() {
		input := createObservations([][rl.ObservationDim]float32{dist.observation}, 1)
		donatedInputs := generics.SliceMap([]*tensors.Tensor{input}, func(t *tensors.Tensor) any {
			return graph.DonateTensorBuffer(t, backend())
		})
		probsT := p.evalExec.Call(donatedInputs...)[0]
		copy(dist.Probabilities[:], tensors.CopyFlatData[float32](probsT))
	})
	if err != nil {
		return nil, errors.WithMessage(err, "policy: Evaluate")
	}
	return dist, nil
}

// String implements fmt.Stringer.
func (d *ActionDistribution) String() string {
	return fmt.Sprintf("pi(left)=%.4f, pi(right)=%.4f", d.Probabilities[rl.PushLeft], d.Probabilities[rl.PushRight])
}

// Sample an action from the distribution, using the given random source.
func (d *ActionDistribution) Sample(src rand.Source) (rl.Action, error) {
	weights := make([]float64, rl.NumActions)
	for ii, prob := range d.Probabilities {
		if prob < 0 || math32.IsNaN(prob) {
			return 0, errors.Errorf("policy: invalid probability %g for action %s", prob, rl.Action(ii))
		}
		weights[ii] = float64(prob)
	}
	action := rl.Action(distuv.NewCategorical(weights, src).Rand())
	return action, action.Check()
}

// Greedy returns the most probable action. Ties go to the lower action.
func (d *ActionDistribution) Greedy() rl.Action {
	best := rl.PushLeft
	for action := range rl.Action(rl.NumActions) {
		if d.Probabilities[action] > d.Probabilities[best] {
			best = action
		}
	}
	return best
}

// LogProb returns log(pi(action|observation)).
//
// If the distribution was evaluated while a Tape was open, and the Tape is still open, the log-probability
// is recorded on it. Otherwise, it is detached: its Value is valid but it can't be used for Update.
func (d *ActionDistribution) LogProb(action rl.Action) (LogProb, error) {
	if err := action.Check(); err != nil {
		return LogProb{}, err
	}
	lp := LogProb{Value: math32.Log(d.Probabilities[action]), version: d.version}
	if d.tape != nil && !d.tape.closed {
		lp.tape = d.tape
		lp.index = d.tape.record(d.observation, action)
	}
	return lp, nil
}
