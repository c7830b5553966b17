package stage

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/talkinghead/internal/frame"
	"github.com/MrWong99/talkinghead/internal/pipeline"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

// capture is a pipeline.Pusher that records every pushed frame.
type capture struct {
	mu     sync.Mutex
	frames []frame.Frame
	dirs   []frame.Direction
}

func (c *capture) Push(f frame.Frame, dir frame.Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	c.dirs = append(c.dirs, dir)
}

// names lists pushed frames by name; upstream frames carry a "^" prefix.
func (c *capture) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = frame.Name(f)
		if c.dirs[i] == frame.Upstream {
			out[i] = "^" + out[i]
		}
	}
	return out
}

func (c *capture) all() []frame.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame.Frame(nil), c.frames...)
}

func (c *capture) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames, c.dirs = nil, nil
}

func (c *capture) has(name string) bool {
	for _, n := range c.names() {
		if n == name {
			return true
		}
	}
	return false
}

// waitFor polls until the capture contains name.
func (c *capture) waitFor(t *testing.T, name string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !c.has(name) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; got %v", name, c.names())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func joined(names []string) string { return strings.Join(names, ",") }

// feed runs each frame through p downstream and fails the test on error.
func feed(t *testing.T, p pipeline.Processor, out *capture, frames ...frame.Frame) {
	t.Helper()
	for _, f := range frames {
		if err := p.Process(context.Background(), f, frame.Downstream, out); err != nil {
			t.Fatalf("Process(%s): %v", frame.Name(f), err)
		}
	}
}
