// Package testutil holds shared test doubles: a capture channel standing
// in for a websocket connection, a stopped wall clock, and flow token
// helpers for deterministic traces.
package testutil

import (
	"sync"
	"time"
)

// Frame is one delivery recorded by a CaptureChannel.
type Frame struct {
	Event   string
	Payload []byte
}

// CaptureChannel implements registry.Channel by recording every frame
// instead of writing it to a socket. Safe for concurrent use.
type CaptureChannel struct {
	mu     sync.Mutex
	frames []Frame
	dead   bool
}

// NewCaptureChannel creates an empty capture channel.
func NewCaptureChannel() *CaptureChannel {
	return &CaptureChannel{}
}

// Enqueue records the frame. Returns false once the channel has been
// killed, which the broadcaster treats as a dead connection.
func (c *CaptureChannel) Enqueue(event string, payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return false
	}
	// Copy the payload: the broadcaster reuses its marshal buffer per
	// audience.
	p := make([]byte, len(payload))
	copy(p, payload)
	c.frames = append(c.frames, Frame{Event: event, Payload: p})
	return true
}

// Kill makes every subsequent Enqueue fail.
func (c *CaptureChannel) Kill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead = true
}

// Frames returns a snapshot of everything delivered so far.
func (c *CaptureChannel) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// Events returns just the event names, in delivery order.
func (c *CaptureChannel) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.Event
	}
	return out
}

// BaseTime is the frozen wall clock shared by deterministic tests.
var BaseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// StoppedClock returns a now-func that always reports BaseTime.
func StoppedClock() func() time.Time {
	return func() time.Time { return BaseTime }
}
