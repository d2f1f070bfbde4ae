package parameters

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestNewFromConfigString(t *testing.T) {
	params := NewFromConfigString("gamma=0.9, learning_rate=1e-3,verbose,,expr=a=b")
	assert.Equal(t, Params{
		"gamma":         "0.9",
		"learning_rate": "1e-3",
		"verbose":       "",
		"expr":          "a=b",
	}, params)
	assert.Len(t, NewFromConfigString(""), 0)
}

func TestPopParamOr(t *testing.T) {
	params := NewFromConfigString("gamma=0.9,hidden_dim=64,batched,seed=7,name=x,bad=abc")

	gamma, err := PopParamOr(params, "gamma", 0.98)
	require.NoError(t, err)
	assert.Equal(t, 0.9, gamma)

	hidden, err := PopParamOr(params, "hidden_dim", 128)
	require.NoError(t, err)
	assert.Equal(t, 64, hidden)

	batched, err := PopParamOr(params, "batched", false)
	require.NoError(t, err)
	assert.True(t, batched)

	seed, err := PopParamOr(params, "seed", int64(100))
	require.NoError(t, err)
	assert.Equal(t, int64(7), seed)

	name, err := PopParamOr(params, "name", "")
	require.NoError(t, err)
	assert.Equal(t, "x", name)

	// Missing keys return the default.
	lr, err := PopParamOr(params, "learning_rate", float32(2e-4))
	require.NoError(t, err)
	assert.Equal(t, float32(2e-4), lr)

	// Parse errors keep the key in params.
	_, err = PopParamOr(params, "bad", 1)
	require.Error(t, err)
	require.Error(t, CheckAllUsed(params))

	delete(params, "bad")
	require.NoError(t, CheckAllUsed(params))
}
