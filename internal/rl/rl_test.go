package rl

import (
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestAction(t *testing.T) {
	assert.True(t, PushLeft.Valid())
	assert.True(t, PushRight.Valid())
	assert.NoError(t, PushRight.Check())
	for _, a := range []Action{-1, 2, 17} {
		assert.False(t, a.Valid())
		assert.True(t, errors.Is(a.Check(), ErrInvalidAction), "action %s", a)
	}
	assert.Equal(t, "Action(3)", Action(3).String())
}

func TestObservationFloat32(t *testing.T) {
	obs := Observation{0.5, -1, 0.25, 2}
	assert.Equal(t, [ObservationDim]float32{0.5, -1, 0.25, 2}, obs.Float32())
}
