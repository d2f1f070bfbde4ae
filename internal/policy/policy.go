// Package policy implements the REINFORCE stochastic policy pi(a|s) for the CartPole environment
// using GoMLX: a two-layer feed-forward network (dense -> relu -> dense -> softmax) whose
// parameters are trained with the Monte-Carlo policy gradient.
//
// A Policy owns its parameters, its optimizer state and the Trajectory of the current episode.
// The differentiable record of an episode is a Tape, which must be opened before the first
// Evaluate of the episode and closed after its Update:
//
//	tape := must.M1(p.OpenTape())
//	defer tape.Close()
//	for !done {
//		dist := must.M1(p.Evaluate(obs))
//		action := must.M1(dist.Sample(src))
//		...
//		p.RecordStep(reward, must.M1(dist.LogProb(action)))
//	}
//	must.M(p.Update())
//
// A Policy is not safe for concurrent use.
package policy

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/janpfeifer/reinforce/internal/parameters"
	"github.com/janpfeifer/reinforce/internal/rl"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Hyperparameters keys, on top of the optimizers ones (optimizers.ParamOptimizer, optimizers.ParamLearningRate, etc.)
const (
	// ParamHiddenDim is the number of units of the hidden layer.
	ParamHiddenDim = "hidden_dim"

	// ParamGamma is the discount factor used to compute returns.
	ParamGamma = "gamma"

	// ParamUpdateMode selects how the trajectory is used to update the parameters, see UpdateMode.
	ParamUpdateMode = "update_mode"

	// ParamMinProbability is the floor of every action probability, so log-probabilities are never -Inf.
	ParamMinProbability = "min_probability"

	// ParamSeed used to initialize the parameters.
	ParamSeed = "seed"
)

// UpdateMode defines how Update applies the trajectory.
type UpdateMode string

const (
	// UpdatePerStep takes one optimizer step per trajectory step, in reverse chronological order.
	UpdatePerStep UpdateMode = "per_step"

	// UpdateBatched takes one optimizer step on the sum of the per-step losses.
	UpdateBatched UpdateMode = "batched"
)

var (
	// ErrHelpRequested is returned by New if the "help" parameter was given. The hyperparameters are logged.
	ErrHelpRequested = errors.New("policy hyperparameters help requested")

	// backend is a singleton, the same for all policies.
	backend = sync.OnceValue(func() backends.Backend { return backends.New() })
)

// dense layer variables.
type dense struct {
	name            string
	weights, biases *context.Variable
}

// Policy is the REINFORCE policy network, with its optimizer and the trajectory of the current episode.
type Policy struct {
	ctx *context.Context

	fc1, fc2 dense

	// optimizer used when training the model.
	optimizer optimizers.Interface

	// Executors: evalExec computes the action probabilities, gradientsExec the loss and its gradients
	// with respect to the parameters, and applyGradientsExec takes one optimizer step with given gradients.
	evalExec, gradientsExec, applyGradientsExec *context.Exec

	// Hyperparameters cached values: they are also set in ctx.
	gamma          float64
	minProbability float64
	updateMode     UpdateMode

	// trajectory of the current episode. It is emptied by Update.
	trajectory []TrajectoryStep

	// tape currently open, or nil.
	tape *Tape

	numOptimizerSteps int
	lastUpdate        UpdateStats

	// numCompilations of graphs, one per padded batch size used.
	numCompilations int
}

// New creates a Policy with freshly initialized parameters.
//
// The hyperparameters can be overridden with params, created for instance from a
// configuration string with parameters.NewFromConfigString("gamma=0.99,hidden_dim=64").
// Unknown parameters are reported as errors. If params includes "help", the hyperparameters
// and their default values are logged and ErrHelpRequested is returned.
func New(params parameters.Params) (*Policy, error) {
	p := &Policy{ctx: context.New()}
	p.ctx.SetParams(map[string]any{
		ParamHiddenDim:      128,
		ParamGamma:          0.98,
		ParamUpdateMode:     string(UpdatePerStep),
		ParamMinProbability: 1e-6,
		ParamSeed:           100,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.0002,
		optimizers.ParamAdamEpsilon:  1e-7,
	})
	p.ctx = p.ctx.Checked(false)

	params = maps.Clone(params) // Don't modify the caller's params.
	if _, found := params["help"]; found {
		p.writeHyperparametersHelp()
		return nil, ErrHelpRequested
	}
	if err := extractParams(params, p.ctx); err != nil {
		return nil, err
	}
	if err := parameters.CheckAllUsed(params); err != nil {
		return nil, errors.WithMessage(err, "policy")
	}

	p.gamma = context.GetParamOr(p.ctx, ParamGamma, 0.98)
	p.minProbability = context.GetParamOr(p.ctx, ParamMinProbability, 1e-6)
	p.updateMode = UpdateMode(context.GetParamOr(p.ctx, ParamUpdateMode, string(UpdatePerStep)))
	if !slices.Contains([]UpdateMode{UpdatePerStep, UpdateBatched}, p.updateMode) {
		return nil, errors.Errorf("policy: invalid %s=%q, valid values are %q and %q",
			ParamUpdateMode, p.updateMode, UpdatePerStep, UpdateBatched)
	}
	if p.gamma < 0 || p.gamma > 1 {
		return nil, errors.Errorf("policy: invalid %s=%g, it must be in [0, 1]", ParamGamma, p.gamma)
	}
	if p.minProbability < 0 || p.minProbability*rl.NumActions >= 1 {
		return nil, errors.Errorf("policy: invalid %s=%g", ParamMinProbability, p.minProbability)
	}
	hiddenDim := context.GetParamOr(p.ctx, ParamHiddenDim, 128)
	if hiddenDim <= 0 {
		return nil, errors.Errorf("policy: invalid %s=%d", ParamHiddenDim, hiddenDim)
	}

	// Create the backend.
	_ = backend()

	err := exceptions.TryCatch[error](func() {
		seed := context.GetParamOr(p.ctx, ParamSeed, 100)
		initializer := newHeNormal(int64(seed))
		p.fc1 = p.newDense(initializer, "fc1", rl.ObservationDim, hiddenDim)
		p.fc2 = p.newDense(initializer, "fc2", hiddenDim, rl.NumActions)

		// Create optimizer to be used in training.
		p.optimizer = optimizers.FromContext(p.ctx)
		p.createExecutors()
	})
	if err != nil {
		return nil, errors.WithMessage(err, "policy: failed to build model")
	}
	klog.V(1).Infof("Created policy %s", p)
	return p, nil
}

func (p *Policy) newDense(initializer *heNormal, name string, inputDim, outputDim int) dense {
	scopeCtx := p.ctx.In(name)
	return dense{
		name:    name,
		weights: scopeCtx.VariableWithValue("weights", initializer.kernel(inputDim, outputDim)),
		biases:  scopeCtx.VariableWithValue("biases", make([]float32, outputDim)),
	}
}

func (p *Policy) createExecutors() {
	p.evalExec = context.NewExec(backend(), p.ctx,
		func(ctx *context.Context, inputs []*graph.Node) *graph.Node {
			p.numCompilations++
			return p.forwardGraph(ctx, inputs[0])
		})
	p.gradientsExec = context.NewExec(backend(), p.ctx,
		func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
			p.numCompilations++
			observations, actions, returns := inputs[0], inputs[1], inputs[2]
			loss := p.lossGraph(ctx, observations, actions, returns)
			return append([]*graph.Node{loss}, p.gradientsGraph(loss)...)
		})
	p.gradientsExec.SetMaxCache(100)
	p.applyGradientsExec = context.NewExec(backend(), p.ctx,
		func(ctx *context.Context, gradients []*graph.Node) *graph.Node {
			p.numCompilations++
			g := gradients[0].Graph()
			ctx.SetTraining(g, true)
			loss := p.surrogateLossGraph(gradients)
			p.optimizer.UpdateGraph(ctx, g, loss)
			train.ExecPerStepUpdateGraphFn(ctx, g)
			return loss
		})
}

// String implements fmt.Stringer.
func (p *Policy) String() string {
	if p == nil {
		return "<nil>[REINFORCE]"
	}
	return fmt.Sprintf("REINFORCE[GoMLX/%s](%d->%d->%d, gamma=%g, %s)",
		backend().Name(), rl.ObservationDim, p.fc1.biases.Shape().Dim(0), rl.NumActions, p.gamma, p.updateMode)
}

// Gamma returns the discount factor used by Update.
func (p *Policy) Gamma() float64 {
	return p.gamma
}

// Mode returns the configured UpdateMode.
func (p *Policy) Mode() UpdateMode {
	return p.updateMode
}

// NumOptimizerSteps returns the number of optimizer steps taken since the Policy was created.
func (p *Policy) NumOptimizerSteps() int {
	return p.numOptimizerSteps
}

// Parameters returns a copy of the current values of the learnable parameters, indexed by "<layer>/<name>".
func (p *Policy) Parameters() map[string][]float32 {
	values := make(map[string][]float32, 4)
	for _, layer := range []dense{p.fc1, p.fc2} {
		values[layer.name+"/weights"] = tensorValues(layer.weights)
		values[layer.name+"/biases"] = tensorValues(layer.biases)
	}
	return values
}

// Summary returns a table with the layers, their variables shapes and the total number of parameters.
func (p *Policy) Summary() string {
	buf := &bytes.Buffer{}
	var total int
	_, _ = fmt.Fprintf(buf, "%s\n", p)
	for _, layer := range []dense{p.fc1, p.fc2} {
		for _, v := range []*context.Variable{layer.weights, layer.biases} {
			shape := v.Shape()
			_, _ = fmt.Fprintf(buf, "\t%s/%-8s %-16s %6d\n", layer.name, v.Name(), shape, shape.Size())
			total += shape.Size()
		}
	}
	_, _ = fmt.Fprintf(buf, "\tTotal params: %d", total)
	return buf.String()
}

// writeHyperparametersHelp enumerates all the hyperparameters set in the context.
func (p *Policy) writeHyperparametersHelp() {
	buf := &bytes.Buffer{}
	_, _ = fmt.Fprintf(buf, "Policy hyperparameters, set them with \"key1=value1,key2=value2,...\":\n")
	p.ctx.EnumerateParams(func(scope, key string, value any) {
		if scope != context.RootScope {
			return
		}
		_, _ = fmt.Fprintf(buf, "\t%q: default value is %v\n", key, value)
	})
	klog.Info(buf)
}

// Finalize frees the compiled executors of the policy immediately, and leaves it in an invalid state.
//
// The variables are left to the garbage collector: their buffers may still be shared with the backend.
func (p *Policy) Finalize() {
	if p.tape != nil {
		p.tape.Close()
	}
	p.trajectory = nil
	p.evalExec.Finalize()
	p.gradientsExec.Finalize()
	p.applyGradientsExec.Finalize()
}

// extractParams and write them as context hyperparameters.
func extractParams(params parameters.Params, ctx *context.Context) error {
	var err error
	ctx.EnumerateParams(func(scope, key string, valueAny any) {
		if err != nil {
			// If error happened skip the rest.
			return
		}
		if scope != context.RootScope {
			return
		}
		switch defaultValue := valueAny.(type) {
		case string:
			value, _ := parameters.PopParamOr(params, key, defaultValue)
			ctx.SetParam(key, value)
		case int:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (int) for policy", key)
				return
			}
			ctx.SetParam(key, value)
		case float64:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (float64) for policy", key)
				return
			}
			ctx.SetParam(key, value)
		case float32:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (float32) for policy", key)
				return
			}
			ctx.SetParam(key, value)
		case bool:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (bool) for policy", key)
				return
			}
			ctx.SetParam(key, value)
		default:
			err = errors.Errorf("policy parameter %q is of unknown type %T", key, defaultValue)
		}
	})
	return err
}
