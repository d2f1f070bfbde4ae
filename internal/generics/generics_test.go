package generics

import (
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceMap(t *testing.T) {
	assert.Equal(t, []string{"1", "2", "3"}, SliceMap([]int{1, 2, 3}, strconv.Itoa))
	assert.Empty(t, SliceMap([]int(nil), strconv.Itoa))
}

func TestSortedKeys(t *testing.T) {
	m := map[string]float64{"gamma": 0.98, "alpha": 1, "seed": 100}
	// Since the builtin map iterator in Go is deliberately non-deterministic, we
	// run it a bunch of times to show it is stably sorted.
	want := []string{"alpha", "gamma", "seed"}
	for range 100 {
		assert.Equal(t, want, slices.Collect(SortedKeys(m)))
	}
}
