package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	c.Report(20, 23.46)
	c.Report(40, 100)
	assert.Equal(t, "# of episode :20, avg score : 23.5\n# of episode :40, avg score : 100.0\n", buf.String())
}

func TestSaveJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	want := Results{
		Episodes:       40,
		PrintInterval:  20,
		Seed:           100,
		Policy:         "REINFORCE",
		OptimizerSteps: 1234,
		MeanScores:     []float64{21.5, 33},
	}
	require.NoError(t, SaveJSON(path, want))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"mean_scores"`)

	var got Results
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, want, got)

	assert.Error(t, SaveJSON(filepath.Join(t.TempDir(), "missing", "results.json"), want))
	assert.Error(t, SaveJSON(path, make(chan int)))
}
