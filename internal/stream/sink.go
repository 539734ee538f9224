package stream

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	ErrClosed   = errors.New("stream closed")
	ErrDetached = errors.New("stream consumer detached")
)

type flusher interface {
	Flush()
}

// WriterSink writes frames as lines to an io.Writer, flushing after each one
// when the writer supports it (http.ResponseWriter does).
type WriterSink struct {
	mu      sync.Mutex
	w       io.Writer
	started bool
	closed  bool
	err     error
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Append(f Frame) error {
	line, err := f.Encode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	// A frame is one Write call, so a failed write never leaves a prefix
	// of the next frame behind.
	n, err := s.w.Write(line)
	if n > 0 {
		s.started = true
	}
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if fl, ok := s.w.(flusher); ok {
		fl.Flush()
	}
	return nil
}

func (s *WriterSink) Close(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.err = err
	return nil
}

// Started reports whether any bytes reached the writer. Once true, errors
// can no longer be reported through the response status.
func (s *WriterSink) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Err returns the error the sink was closed with.
func (s *WriterSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Channel is an in-process Sink. A single producer calls Append and Close;
// a single consumer ranges over Frames and may Detach early.
type Channel struct {
	frames chan Frame
	done   chan struct{}
	once   sync.Once
	closed bool

	mu  sync.Mutex
	err error
}

func NewChannel(buffer int) *Channel {
	return &Channel{
		frames: make(chan Frame, buffer),
		done:   make(chan struct{}),
	}
}

func (c *Channel) Append(f Frame) error {
	if c.closed {
		return ErrClosed
	}
	select {
	case <-c.done:
		return ErrDetached
	default:
	}
	select {
	case c.frames <- f:
		return nil
	case <-c.done:
		return ErrDetached
	}
}

func (c *Channel) Close(err error) error {
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(c.frames)
	return nil
}

// Frames is closed once the producer closes the sink.
func (c *Channel) Frames() <-chan Frame {
	return c.frames
}

// Err is the error the producer closed with; read it after Frames is drained.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Detach tells the producer to stop. Pending and future appends fail with
// ErrDetached.
func (c *Channel) Detach() {
	c.once.Do(func() { close(c.done) })
}
