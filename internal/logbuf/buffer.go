// Package logbuf keeps the supervised process's output as an append-only
// buffer of timestamped lines: bounded retention, time-range queries, and
// live subscriptions for tailing.
package logbuf

import (
	"sync"
	"time"
)

// Line is one captured log line.
type Line struct {
	Time   time.Time `json:"time"`
	Stream string    `json:"stream"` // "stdout", "stderr" or "keeper"
	Text   string    `json:"text"`
}

// Buffer is a bounded, append-only line store with live fan-out.
type Buffer struct {
	mu    sync.Mutex
	lines []Line
	max   int
	subs  map[*Subscriber]struct{}
}

// New creates a Buffer retaining at most max lines.
func New(max int) *Buffer {
	if max <= 0 {
		max = 10000
	}
	return &Buffer{
		max:  max,
		subs: make(map[*Subscriber]struct{}),
	}
}

// Append records a line and fans it out to subscribers.
func (b *Buffer) Append(stream, text string) {
	line := Line{Time: time.Now(), Stream: stream, Text: text}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		// Drop the oldest overflow in one copy.
		b.lines = append(b.lines[:0:0], b.lines[len(b.lines)-b.max:]...)
	}

	// Fan out under the lock so no send can race an Unsubscribe close.
	// Sends never block, slow subscribers just lose the line.
	for s := range b.subs {
		s.send(line)
	}
}

// Len returns the number of retained lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Tail returns the last n lines, oldest first.
func (b *Buffer) Tail(n int) []Line {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || n > len(b.lines) {
		n = len(b.lines)
	}
	out := make([]Line, n)
	copy(out, b.lines[len(b.lines)-n:])
	return out
}

// Range returns lines with from <= Time < to, oldest first.
// A zero `to` means "until now".
func (b *Buffer) Range(from, to time.Time) []Line {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Line
	for _, l := range b.lines {
		if l.Time.Before(from) {
			continue
		}
		if !to.IsZero() && !l.Time.Before(to) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Subscriber receives appended lines in real time.
type Subscriber struct {
	id    string
	lines chan Line
}

// ID returns the subscriber's identifier.
func (s *Subscriber) ID() string { return s.id }

// Lines returns the channel of appended lines.
func (s *Subscriber) Lines() <-chan Line { return s.lines }

// send delivers a line without blocking. Slow subscribers lose lines
// rather than stalling the producer.
func (s *Subscriber) send(line Line) bool {
	select {
	case s.lines <- line:
		return true
	default:
		return false
	}
}

// Subscribe registers a new subscriber for live lines.
func (b *Buffer) Subscribe(id string) *Subscriber {
	s := &Subscriber{
		id:    id,
		lines: make(chan Line, 256),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its channel. The close
// happens under the buffer lock so it cannot race an in-flight Append.
func (b *Buffer) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.lines)
	}
}
