package progress

import (
	"bytes"
	"testing"
)

func TestQuietBarIsNoOp(t *testing.T) {
	b := New("flash", 100, true)
	b.IncrBy(50)
	b.Done() // must not panic or block
}

func TestZeroTotalIsNoOp(t *testing.T) {
	b := New("flash", 0, false)
	b.IncrBy(1)
	b.Done()
}

func TestNewToRendersWithoutPanicking(t *testing.T) {
	var buf bytes.Buffer
	b := NewTo("flash", 10, &buf)
	b.IncrBy(10)
	b.Done()
}
