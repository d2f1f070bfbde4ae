package chart

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoints(t *testing.T) {
	pts := Points(20, []float64{10, 25.5})
	require.Len(t, pts, 2)
	assert.Equal(t, 20.0, pts[0].X)
	assert.Equal(t, 40.0, pts[1].X)
	assert.Equal(t, 25.5, pts[1].Y)
}

func TestSaveScores(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scores.png")
	require.NoError(t, SaveScores(path, "REINFORCE", 20, []float64{12, 20, 35.5, 80}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	assert.Equal(t, "Total return", YLabel)

	assert.Error(t, SaveScores(filepath.Join(dir, "bad.png"), "", 0, []float64{1}))
	assert.Error(t, SaveScores(filepath.Join(dir, "missing", "dir.png"), "", 20, []float64{1}))
}
