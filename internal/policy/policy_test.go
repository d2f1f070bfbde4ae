package policy

import (
	"fmt"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/janpfeifer/reinforce/internal/parameters"
	"github.com/janpfeifer/reinforce/internal/rl"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

// newTestPolicy creates a small policy, finalized at the end of the test.
func newTestPolicy(t *testing.T, config string) *Policy {
	p, err := New(parameters.NewFromConfigString("hidden_dim=16," + config))
	require.NoError(t, err)
	t.Cleanup(p.Finalize)
	return p
}

// recordSteps evaluates numSteps observations, samples actions and records them with reward 1.
func recordSteps(t *testing.T, p *Policy, numSteps int) {
	src := rand.NewSource(42)
	for ii := range numSteps {
		obs := rl.Observation{0.01 * float64(ii), -0.02, 0.03, 0.1 * float64(ii%3)}
		dist, err := p.Evaluate(obs)
		require.NoError(t, err)
		action, err := dist.Sample(src)
		require.NoError(t, err)
		logProb, err := dist.LogProb(action)
		require.NoError(t, err)
		p.RecordStep(1.0, logProb)
	}
}

func TestPaddedSize(t *testing.T) {
	want := map[int]int{0: 1, 1: 1, 2: 8, 8: 8, 9: 12, 12: 12, 13: 18, 18: 18, 19: 27, 28: 41, 500: 710}
	for n, size := range want {
		assert.Equal(t, size, paddedSize(n), "paddedSize(%d)", n)
	}
}

func TestDiscountedReturns(t *testing.T) {
	assert.InDeltaSlice(t, []float64{2.9404, 1.98, 1.0}, DiscountedReturns([]float64{1, 1, 1}, 0.98), 1e-9)
	assert.Equal(t, []float64{1, 2, 3}, DiscountedReturns([]float64{1, 2, 3}, 0))
	assert.Len(t, DiscountedReturns(nil, 0.98), 0)
}

func TestNew(t *testing.T) {
	p := newTestPolicy(t, "")
	assert.Equal(t, 0.98, p.Gamma())
	assert.Equal(t, UpdatePerStep, p.Mode())
	fmt.Println(p.Summary())
	params := p.Parameters()
	assert.Len(t, params["fc1/weights"], rl.ObservationDim*16)
	assert.Len(t, params["fc1/biases"], 16)
	assert.Len(t, params["fc2/weights"], 16*rl.NumActions)
	assert.Equal(t, make([]float32, rl.NumActions), params["fc2/biases"])

	_, err := New(parameters.NewFromConfigString("help"))
	assert.True(t, errors.Is(err, ErrHelpRequested))

	_, err = New(parameters.NewFromConfigString("gama=0.9"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gama")

	_, err = New(parameters.NewFromConfigString("update_mode=sometimes"))
	require.Error(t, err)

	_, err = New(parameters.NewFromConfigString("gamma=1.5"))
	require.Error(t, err)

	_, err = New(parameters.NewFromConfigString("hidden_dim=abc"))
	require.Error(t, err)
}

func TestDeterministicInitialization(t *testing.T) {
	p0 := newTestPolicy(t, "seed=7")
	p1 := newTestPolicy(t, "seed=7")
	p2 := newTestPolicy(t, "seed=8")
	assert.Equal(t, p0.Parameters(), p1.Parameters())
	assert.NotEqual(t, p0.Parameters()["fc1/weights"], p2.Parameters()["fc1/weights"])
}

func TestEvaluate(t *testing.T) {
	p := newTestPolicy(t, "")
	for _, obs := range []rl.Observation{{}, {0.04, -0.3, 0.1, 1.5}, {-2.3, 3, -0.2, -3}, {100, -100, 50, -50}} {
		dist, err := p.Evaluate(obs)
		require.NoError(t, err)
		var sum float32
		for _, prob := range dist.Probabilities {
			assert.GreaterOrEqual(t, prob, float32(0))
			sum += prob
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "observation %v: %s", obs, dist)

		// No tape is open: log-probabilities are detached.
		lp, err := dist.LogProb(rl.PushRight)
		require.NoError(t, err)
		assert.True(t, lp.Detached())
		assert.False(t, lp.Value > 0)
	}

	// Evaluate doesn't change parameters.
	before := p.Parameters()
	_, err := p.Evaluate(rl.Observation{0.01, 0.02, 0.03, 0.04})
	require.NoError(t, err)
	assert.Equal(t, before, p.Parameters())
}

func TestActionDistribution(t *testing.T) {
	dist := &ActionDistribution{Probabilities: [rl.NumActions]float32{0.2, 0.8}}
	assert.Equal(t, rl.PushRight, dist.Greedy())

	src := rand.NewSource(1)
	var counts [rl.NumActions]int
	for range 1000 {
		action, err := dist.Sample(src)
		require.NoError(t, err)
		counts[action]++
	}
	assert.InDelta(t, 800, counts[rl.PushRight], 60)

	lp, err := dist.LogProb(rl.PushLeft)
	require.NoError(t, err)
	assert.InDelta(t, -1.6094, lp.Value, 1e-4)

	_, err = dist.LogProb(rl.Action(3))
	assert.True(t, errors.Is(err, rl.ErrInvalidAction))
}

func TestUpdateOptimizerSteps(t *testing.T) {
	p := newTestPolicy(t, "")
	for _, numSteps := range []int{0, 1, 7} {
		tape, err := p.OpenTape()
		require.NoError(t, err)
		recordSteps(t, p, numSteps)
		assert.Equal(t, numSteps, tape.Len())
		assert.Equal(t, numSteps, p.TrajectoryLen())

		before := p.NumOptimizerSteps()
		require.NoError(t, p.Update())
		assert.Equal(t, numSteps, p.NumOptimizerSteps()-before)
		assert.Equal(t, numSteps, p.LastUpdate().OptimizerSteps)
		assert.Equal(t, 0, p.TrajectoryLen())
		tape.Close()
		assert.True(t, tape.Closed())
	}
}

func TestUpdateBatched(t *testing.T) {
	p := newTestPolicy(t, "update_mode=batched")
	tape, err := p.OpenTape()
	require.NoError(t, err)
	defer tape.Close()
	recordSteps(t, p, 10)
	require.NoError(t, p.Update())
	assert.Equal(t, 1, p.NumOptimizerSteps())
	stats := p.LastUpdate()
	assert.Equal(t, 10, stats.TrajectoryLen)
	assert.InDelta(t, DiscountedReturns([]float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}, 0.98)[0], stats.Return, 1e-5)
	assert.Equal(t, 0, p.TrajectoryLen())
}

func TestUpdateChangesParameters(t *testing.T) {
	for _, mode := range []UpdateMode{UpdatePerStep, UpdateBatched} {
		p := newTestPolicy(t, "learning_rate=0.01,update_mode="+string(mode))
		before := p.Parameters()
		tape, err := p.OpenTape()
		require.NoError(t, err)
		recordSteps(t, p, 5)
		require.NoError(t, p.Update())
		tape.Close()
		after := p.Parameters()
		var changed bool
		for key, values := range before {
			for ii := range values {
				if values[ii] != after[key][ii] {
					changed = true
				}
			}
		}
		assert.True(t, changed, "no parameter changed with update_mode=%s", mode)
	}
}

func TestTapeLifecycle(t *testing.T) {
	p := newTestPolicy(t, "")
	tape, err := p.OpenTape()
	require.NoError(t, err)
	_, err = p.OpenTape()
	assert.True(t, errors.Is(err, ErrTapeOpen))

	// Closing the tape before the update is an error, and the trajectory is still cleared.
	recordSteps(t, p, 3)
	tape.Close()
	tape.Close() // Idempotent.
	before := p.Parameters()
	err = p.Update()
	assert.True(t, errors.Is(err, ErrTapeClosed))
	assert.Equal(t, 0, p.TrajectoryLen())
	assert.Equal(t, before, p.Parameters())

	// Log-probabilities taken without an open tape can't be used for updates.
	recordSteps(t, p, 2)
	err = p.Update()
	assert.True(t, errors.Is(err, ErrDetachedLogProb))
	assert.Equal(t, 0, p.TrajectoryLen())

	// Discarded trajectories are not used.
	recordSteps(t, p, 2)
	p.Discard()
	assert.Equal(t, 0, p.TrajectoryLen())

	// A new tape can be opened after the previous one was closed.
	tape, err = p.OpenTape()
	require.NoError(t, err)
	defer tape.Close()
	recordSteps(t, p, 2)
	require.NoError(t, p.Update())
}

func TestUpdateLoss(t *testing.T) {
	for _, mode := range []UpdateMode{UpdatePerStep, UpdateBatched} {
		p := newTestPolicy(t, "learning_rate=0.01,update_mode="+string(mode))
		tape := must.M1(p.OpenTape())
		src := rand.NewSource(3)
		rewards := []float64{1, 0.5, 1, 2, 1, 1}
		logProbs := make([]float32, len(rewards))
		for ii, reward := range rewards {
			dist := must.M1(p.Evaluate(rl.Observation{0.02 * float64(ii), 0.1, -0.05, 0.3}))
			lp := must.M1(dist.LogProb(must.M1(dist.Sample(src))))
			logProbs[ii] = lp.Value
			p.RecordStep(reward, lp)
		}
		require.NoError(t, p.Update())
		tape.Close()

		// The loss uses the log-probabilities as evaluated, before any parameter change.
		var want float64
		for ii, r := range DiscountedReturns(rewards, p.Gamma()) {
			want += -float64(logProbs[ii]) * r
		}
		assert.InDelta(t, want, p.LastUpdate().Loss, 1e-3, "update_mode=%s", mode)
	}
}

func TestUpdateStaleLogProb(t *testing.T) {
	p := newTestPolicy(t, "")
	tape := must.M1(p.OpenTape())
	defer tape.Close()
	dist := must.M1(p.Evaluate(rl.Observation{0.1, 0, 0, 0}))
	stale := must.M1(dist.LogProb(rl.PushLeft))
	recordSteps(t, p, 2)
	require.NoError(t, p.Update())

	p.RecordStep(1, stale)
	err := p.Update()
	assert.True(t, errors.Is(err, ErrStaleLogProb))
	assert.Equal(t, 0, p.TrajectoryLen())
	assert.Equal(t, 2, p.NumOptimizerSteps())
}

func TestFinalize(t *testing.T) {
	// Finalizing a trained policy doesn't affect policies created afterwards.
	p := must.M1(New(parameters.NewFromConfigString("hidden_dim=16,seed=3")))
	tape := must.M1(p.OpenTape())
	recordSteps(t, p, 5)
	require.NoError(t, p.Update())
	tape.Close()
	p.Finalize()

	p0 := newTestPolicy(t, "seed=3")
	p1 := newTestPolicy(t, "seed=3")
	dist0 := must.M1(p0.Evaluate(rl.Observation{}))
	dist1 := must.M1(p1.Evaluate(rl.Observation{}))
	assert.Equal(t, dist0.Probabilities, dist1.Probabilities)
	for _, prob := range dist0.Probabilities {
		assert.InDelta(t, 0.5, prob, 1e-6)
	}
}
