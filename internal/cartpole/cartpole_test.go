package cartpole

import (
	"bytes"
	"testing"

	"github.com/janpfeifer/reinforce/internal/rl"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetIsSeeded(t *testing.T) {
	obs0, err := New(100).Reset()
	require.NoError(t, err)
	obs1, err := New(100).Reset()
	require.NoError(t, err)
	assert.Equal(t, obs0, obs1)
	for _, v := range obs0 {
		assert.LessOrEqual(t, v, ResetRange)
		assert.GreaterOrEqual(t, v, -ResetRange)
	}

	obs2, err := New(101).Reset()
	require.NoError(t, err)
	assert.NotEqual(t, obs0, obs2)
}

func TestStepPhysics(t *testing.T) {
	env := New(0)
	_, err := env.Reset()
	require.NoError(t, err)
	env.state = rl.Observation{} // Start perfectly balanced.

	result, err := env.Step(rl.PushRight)
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Reward)
	assert.False(t, result.Done)

	// With zero initial velocity positions don't change on the first Euler step, only velocities.
	assert.Equal(t, 0.0, result.Observation[0])
	assert.Equal(t, 0.0, result.Observation[2])
	assert.InDelta(t, 0.195, result.Observation[1], 1e-3)  // Cart accelerates to the right.
	assert.InDelta(t, -0.293, result.Observation[3], 1e-3) // Pole falls to the left.
}

func TestTermination(t *testing.T) {
	assert.InDelta(t, 0.2094, ThetaThreshold, 1e-4) // 12 degrees.
	env := New(1)
	_, err := env.Reset()
	require.NoError(t, err)

	// Always pushing right eventually tips the pole over.
	var result rl.StepResult
	for !result.Done {
		result, err = env.Step(rl.PushRight)
		require.NoError(t, err)
		require.Less(t, env.Steps(), DefaultMaxSteps)
	}
	assert.Equal(t, 1.0, result.Reward)
	assert.Equal(t, true, result.Info["terminated"])
	assert.Equal(t, false, result.Info["truncated"])

	// Stepping again is a usage error.
	_, err = env.Step(rl.PushLeft)
	assert.True(t, errors.Is(err, ErrStepAfterDone))

	// Reset recovers.
	_, err = env.Reset()
	require.NoError(t, err)
	_, err = env.Step(rl.PushLeft)
	require.NoError(t, err)
}

func TestTruncation(t *testing.T) {
	env := New(2).WithMaxSteps(3)
	_, err := env.Reset()
	require.NoError(t, err)
	var result rl.StepResult
	for ii := range 3 {
		// Alternate to keep the pole up.
		result, err = env.Step(rl.Action(ii % 2))
		require.NoError(t, err)
	}
	assert.True(t, result.Done)
	assert.Equal(t, true, result.Info["truncated"])
	assert.Equal(t, 3, env.Steps())
}

func TestInvalidUse(t *testing.T) {
	env := New(3)
	_, err := env.Step(rl.PushLeft)
	assert.True(t, errors.Is(err, ErrNotReset))

	_, err = env.Reset()
	require.NoError(t, err)
	_, err = env.Step(rl.Action(2))
	assert.True(t, errors.Is(err, rl.ErrInvalidAction))
}

func TestRender(t *testing.T) {
	env := New(4)
	_, err := env.Reset()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, env.Render(&buf))
	assert.Contains(t, buf.String(), "step=  0")
	require.NoError(t, env.Close())
}
