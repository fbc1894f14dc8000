package logbuf

import (
	"bytes"
	"io"
	"sync"
)

// lineWriter splits a byte stream into lines and appends them to the
// buffer. Partial lines are held until a newline or Flush.
type lineWriter struct {
	mu      sync.Mutex
	buf     *Buffer
	stream  string
	pending []byte
}

// Writer returns an io.Writer that feeds the named stream of the buffer.
// Attach it to the child's stdout/stderr.
func (b *Buffer) Writer(stream string) io.WriteCloser {
	return &lineWriter{buf: b, stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		idx := bytes.IndexByte(w.pending, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimRight(w.pending[:idx], "\r"))
		w.pending = w.pending[idx+1:]
		if line != "" {
			w.buf.Append(w.stream, line)
		}
	}
	return len(p), nil
}

// Close flushes any trailing partial line.
func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) > 0 {
		w.buf.Append(w.stream, string(w.pending))
		w.pending = nil
	}
	return nil
}
