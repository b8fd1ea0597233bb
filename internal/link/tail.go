package link

import (
	"sync"
	"time"
)

// Direction says which way a traced line crossed the link.
type Direction string

const (
	FromDevice Direction = "rx"
	ToDevice   Direction = "tx"
)

// TraceLine is one raw protocol line as it crossed the link.
type TraceLine struct {
	Dir  Direction `json:"dir"`
	At   string    `json:"at_utc"`
	Line string    `json:"line"`
}

// frameTrace is a fixed-size ring of the most recent lines in both
// directions. Lines longer than maxLineBytes are cut.
type frameTrace struct {
	mu           sync.Mutex
	maxLineBytes int
	ring         []TraceLine
	next         int
	full         bool
}

func newFrameTrace(size int, maxLineBytes int) *frameTrace {
	if size < 0 {
		size = 0
	}
	if maxLineBytes <= 0 {
		maxLineBytes = 1024
	}
	return &frameTrace{maxLineBytes: maxLineBytes, ring: make([]TraceLine, size)}
}

func (t *frameTrace) record(dir Direction, at time.Time, line string) {
	if t == nil || len(t.ring) == 0 {
		return
	}
	if len(line) > t.maxLineBytes {
		line = line[:t.maxLineBytes]
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ring[t.next] = TraceLine{Dir: dir, At: at.UTC().Format(time.RFC3339Nano), Line: line}
	t.next = (t.next + 1) % len(t.ring)
	if t.next == 0 {
		t.full = true
	}
}

// lines returns the trace oldest first.
func (t *frameTrace) lines() []TraceLine {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]TraceLine(nil), t.ring[:t.next]...)
	}
	out := make([]TraceLine, 0, len(t.ring))
	out = append(out, t.ring[t.next:]...)
	return append(out, t.ring[:t.next]...)
}
