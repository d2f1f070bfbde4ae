package spinning

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinning(t *testing.T) {
	var buf syncBuffer
	s := New(context.Background(), &buf, "Saving")
	time.Sleep(2 * Period)
	s.Done()
	s.Done()
	out := buf.String()
	assert.Contains(t, out, "Saving")
	assert.Contains(t, out, "|")
	assert.Contains(t, out, "\033[?25h")
}
