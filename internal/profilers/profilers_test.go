package profilers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteHeapProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.prof")
	require.NoError(t, writeHeapProfile(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Error(t, writeHeapProfile(filepath.Join(t.TempDir(), "missing", "heap.prof")))
	assert.Error(t, startCPUProfile(filepath.Join(t.TempDir(), "missing", "cpu.prof")))
}

func TestOnQuitPanicking(t *testing.T) {
	savedProfiler, savedCtx := *flagProfiler, globalCtx
	defer func() { *flagProfiler, globalCtx = savedProfiler, savedCtx }()

	// With the HTTP profiler configured, OnQuit would wait for the context: a panic must not wait.
	const timeout = 2 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	*flagProfiler, globalCtx = 1, ctx
	start := time.Now()
	assert.PanicsWithValue(t, "boom", func() {
		defer OnQuit()
		panic("boom")
	})
	assert.Less(t, time.Since(start), timeout)
}
