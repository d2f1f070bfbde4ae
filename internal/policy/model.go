package policy

import (
	"math"

	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/reinforce/internal/rl"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// forwardGraph calculates the action probabilities for a batch of observations shaped [batch, rl.ObservationDim].
// It returns the probabilities shaped [batch, rl.NumActions], each floored at minProbability.
func (p *Policy) forwardGraph(ctx *context.Context, observations *graph.Node) *graph.Node {
	batchSize := observations.Shape().Dim(0)
	x := p.fc1.apply(observations)
	x = activations.Relu(x)
	logits := p.fc2.apply(x)
	logits.AssertDims(batchSize, rl.NumActions)
	probs := graph.Softmax(logits, 1)

	// Squeeze probabilities into [minProbability, 1-(NumActions-1)*minProbability]: they still sum to 1.
	return graph.AddScalar(graph.MulScalar(probs, 1-rl.NumActions*p.minProbability), p.minProbability)
}

// apply returns x*weights + biases.
func (layer *dense) apply(x *graph.Node) *graph.Node {
	g := x.Graph()
	y := graph.Dot(x, layer.weights.ValueGraph(g))
	return graph.Add(y, graph.ExpandAxes(layer.biases.ValueGraph(g), 0))
}

// lossGraph is the REINFORCE loss: the sum over the batch of -log(pi(a_t|s_t)) * R_t.
//
// actions is a one-hot encoding of the taken actions, shaped [batch, rl.NumActions], and returns is shaped [batch].
// Padded examples must have all-zero actions and returns, so they contribute nothing to the loss or its gradient.
func (p *Policy) lossGraph(ctx *context.Context, observations, actions, returns *graph.Node) *graph.Node {
	probs := p.forwardGraph(ctx, observations)
	logProbs := graph.ReduceSum(graph.Mul(graph.Log(probs), actions), 1) // [batch]
	return graph.ReduceAllSum(graph.Neg(graph.Mul(logProbs, returns)))
}

// variables returns the learnable parameters, in the order used by gradientsGraph and surrogateLossGraph.
func (p *Policy) variables() []*context.Variable {
	return []*context.Variable{p.fc1.weights, p.fc1.biases, p.fc2.weights, p.fc2.biases}
}

// gradientsGraph returns the gradient of loss with respect to each of p.variables().
func (p *Policy) gradientsGraph(loss *graph.Node) []*graph.Node {
	g := loss.Graph()
	vars := p.variables()
	values := make([]*graph.Node, len(vars))
	for ii, v := range vars {
		values[ii] = v.ValueGraph(g)
	}
	return graph.Gradient(loss, values...)
}

// surrogateLossGraph returns sum_i <StopGradient(gradients[i]), variables[i]>: its gradient with respect to
// the parameters is exactly the given gradients, so the optimizer applies gradients computed earlier, with
// other parameter values.
func (p *Policy) surrogateLossGraph(gradients []*graph.Node) *graph.Node {
	g := gradients[0].Graph()
	var loss *graph.Node
	for ii, v := range p.variables() {
		term := graph.ReduceAllSum(graph.Mul(graph.StopGradient(gradients[ii]), v.ValueGraph(g)))
		if loss == nil {
			loss = term
		} else {
			loss = graph.Add(loss, term)
		}
	}
	return loss
}

// paddedSize returns a padded batch size for the given number of examples.
// This is important so we don't have too many different versions of the program for every different
// trajectory length.
func paddedSize(numExamples int) int {
	if numExamples <= 1 {
		// Always have the option to support 1: used by the per-step update.
		return 1
	}
	// Starts with 8, anything smaller than that, the cost in space is too small, not worth having multiple programs
	// for different padding sizes.
	size := 8
	for size < numExamples {
		// Increase 1.5x at a time.
		size = size + (size+1)/2
	}
	return size
}

// createObservations creates the observations input tensor, shaped [paddedSize, rl.ObservationDim].
func createObservations(observations [][rl.ObservationDim]float32, paddedBatchSize int) *tensors.Tensor {
	t := tensors.FromShape(shapes.Make(dtypes.Float32, paddedBatchSize, rl.ObservationDim))
	tensors.MutableFlatData(t, func(flat []float32) {
		for ii, obs := range observations {
			copy(flat[ii*rl.ObservationDim:], obs[:])
		}
	})
	return t
}

// createActions creates the one-hot encoded actions tensor, shaped [paddedSize, rl.NumActions].
func createActions(actions []rl.Action, paddedBatchSize int) *tensors.Tensor {
	t := tensors.FromShape(shapes.Make(dtypes.Float32, paddedBatchSize, rl.NumActions))
	tensors.MutableFlatData(t, func(flat []float32) {
		for ii, action := range actions {
			flat[ii*rl.NumActions+int(action)] = 1
		}
	})
	return t
}

// createReturns creates the returns tensor, shaped [paddedSize].
func createReturns(returns []float32, paddedBatchSize int) *tensors.Tensor {
	t := tensors.FromShape(shapes.Make(dtypes.Float32, paddedBatchSize))
	tensors.MutableFlatData(t, func(flat []float32) {
		copy(flat, returns)
	})
	return t
}

// heNormal initializes kernels from a truncated normal distribution with standard deviation sqrt(2/fanIn),
// values beyond 2 standard deviations are redrawn.
type heNormal struct {
	normal distuv.Normal
}

// truncatedNormalStdDevCorrection compensates the variance lost by the truncation at 2 standard deviations.
const truncatedNormalStdDevCorrection = 0.87962566103423978

func newHeNormal(seed int64) *heNormal {
	return &heNormal{normal: distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(uint64(seed))}}
}

// kernel returns a [fanIn][fanOut] initialized matrix.
func (h *heNormal) kernel(fanIn, fanOut int) [][]float32 {
	stddev := math.Sqrt(2/float64(fanIn)) / truncatedNormalStdDevCorrection
	values := make([][]float32, fanIn)
	for row := range values {
		values[row] = make([]float32, fanOut)
		for col := range values[row] {
			v := h.normal.Rand()
			for math.Abs(v) > 2 {
				v = h.normal.Rand()
			}
			values[row][col] = float32(v * stddev)
		}
	}
	return values
}

// tensorValues returns a copy of the flat values of a float32 variable.
func tensorValues(v *context.Variable) []float32 {
	return tensors.CopyFlatData[float32](v.Value())
}
