package policy

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/reinforce/internal/generics"
	"github.com/janpfeifer/reinforce/internal/rl"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TrajectoryStep is one step of an episode: the reward received after taking the action, and
// the log-probability of the action.
type TrajectoryStep struct {
	Reward  float64
	LogProb LogProb
}

// UpdateStats describes the last call to Update.
type UpdateStats struct {
	// TrajectoryLen is the number of steps used.
	TrajectoryLen int

	// OptimizerSteps taken.
	OptimizerSteps int

	// Loss is the sum over the trajectory of -log(pi(a_t|s_t)) * R_t, with the parameters before the update.
	Loss float32

	// Return is the discounted return of the first step of the trajectory.
	Return float64
}

// RecordStep appends a step to the trajectory of the current episode. It is not validated: problems are reported by Update.
func (p *Policy) RecordStep(reward float64, logProb LogProb) {
	p.trajectory = append(p.trajectory, TrajectoryStep{Reward: reward, LogProb: logProb})
}

// TrajectoryLen returns the number of steps recorded since the last Update.
func (p *Policy) TrajectoryLen() int {
	return len(p.trajectory)
}

// Discard the trajectory without updating the parameters, for instance for an episode that was interrupted.
func (p *Policy) Discard() {
	p.trajectory = nil
}

// LastUpdate returns the statistics of the last call to Update.
func (p *Policy) LastUpdate() UpdateStats {
	return p.lastUpdate
}

// DiscountedReturns calculates R_t = r_t + gamma * R_{t+1} for every step, scanning rewards backwards.
func DiscountedReturns(rewards []float64, gamma float64) []float64 {
	returns := make([]float64, len(rewards))
	var r float64
	for ii := len(rewards) - 1; ii >= 0; ii-- {
		r = rewards[ii] + gamma*r
		returns[ii] = r
	}
	return returns
}

// Update the parameters with the REINFORCE gradient of the trajectory, and clear it.
//
// The gradient of each step's loss -log(pi(a_t|s_t)) * R_t is taken with the parameters its log-probability
// was evaluated with, all before any parameter changes. In UpdatePerStep mode (the default) it then takes one
// optimizer step per trajectory step, starting from the last one, each applying one of those gradients.
// In UpdateBatched mode it takes one optimizer step on the gradient of the sum of the losses.
//
// An empty trajectory is a no-op. The trajectory is cleared even if an error is returned.
func (p *Policy) Update() error {
	trajectory := p.trajectory
	p.trajectory = nil
	p.lastUpdate = UpdateStats{TrajectoryLen: len(trajectory)}
	if len(trajectory) == 0 {
		return nil
	}

	observations := make([][rl.ObservationDim]float32, len(trajectory))
	actions := make([]rl.Action, len(trajectory))
	rewards := make([]float64, len(trajectory))
	for ii, step := range trajectory {
		var err error
		observations[ii], actions[ii], err = step.LogProb.recorded()
		if err == nil && step.LogProb.version != p.numOptimizerSteps {
			err = ErrStaleLogProb
		}
		if err != nil {
			return errors.WithMessagef(err, "policy: Update of step %d of %d", ii, len(trajectory))
		}
		rewards[ii] = step.Reward
	}
	returns := generics.SliceMap(DiscountedReturns(rewards, p.gamma), func(r float64) float32 { return float32(r) })
	p.lastUpdate.Return = float64(returns[0])

	switch p.updateMode {
	case UpdateBatched:
		loss, gradients, err := p.computeGradients(observations, actions, returns)
		if err != nil {
			return err
		}
		p.lastUpdate.Loss = loss
		if err = p.applyGradients(gradients); err != nil {
			return err
		}
		p.lastUpdate.OptimizerSteps = 1
	default:
		// All gradients are computed before the first parameter change.
		stepsGradients := make([][]*tensors.Tensor, len(trajectory))
		for ii := range trajectory {
			loss, gradients, err := p.computeGradients(observations[ii:ii+1], actions[ii:ii+1], returns[ii:ii+1])
			if err != nil {
				return err
			}
			p.lastUpdate.Loss += loss
			stepsGradients[ii] = gradients
		}
		for ii := len(trajectory) - 1; ii >= 0; ii-- {
			if err := p.applyGradients(stepsGradients[ii]); err != nil {
				return err
			}
			p.lastUpdate.OptimizerSteps++
		}
	}
	if klog.V(2).Enabled() {
		klog.Infof("policy update: %d steps, %d optimizer steps, loss=%g, R_0=%.3f",
			p.lastUpdate.TrajectoryLen, p.lastUpdate.OptimizerSteps, p.lastUpdate.Loss, p.lastUpdate.Return)
	}
	return nil
}

// computeGradients returns the loss of the given examples and its gradients with respect to the parameters.
// It doesn't change the parameters.
func (p *Policy) computeGradients(observations [][rl.ObservationDim]float32, actions []rl.Action, returns []float32) (
	loss float32, gradients []*tensors.Tensor, err error) {
	err = exceptions.TryCatch[error](func() {
		padded := paddedSize(len(actions))
		inputs := []*tensors.Tensor{
			createObservations(observations, padded),
			createActions(actions, padded),
			createReturns(returns, padded),
		}
		donatedInputs := generics.SliceMap(inputs, func(t *tensors.Tensor) any {
			return graph.DonateTensorBuffer(t, backend())
		})
		outputs := p.gradientsExec.Call(donatedInputs...)
		loss = tensors.ToScalar[float32](outputs[0])
		gradients = outputs[1:]
	})
	if err != nil {
		return 0, nil, errors.WithMessage(err, "policy: gradients computation failed")
	}
	return loss, gradients, nil
}

// applyGradients takes one optimizer step with the given gradients, one per variable in p.variables().
func (p *Policy) applyGradients(gradients []*tensors.Tensor) error {
	err := exceptions.TryCatch[error](func() {
		donatedInputs := generics.SliceMap(gradients, func(t *tensors.Tensor) any {
			return graph.DonateTensorBuffer(t, backend())
		})
		p.applyGradientsExec.Call(donatedInputs...)
	})
	if err != nil {
		return errors.WithMessage(err, "policy: optimizer step failed")
	}
	p.numOptimizerSteps++
	return nil
}
