// Package transcript holds the message list of the active chat and merges
// incoming stream frames into it, one request at a time.
package transcript

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"TaxChat/internal/session"
	"TaxChat/internal/stream"
)

type State int

const (
	Idle State = iota
	AwaitingFirstFrame
	Streaming
	Complete
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingFirstFrame:
		return "awaiting-first-frame"
	case Streaming:
		return "streaming"
	case Complete:
		return "complete"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrBusy            = errors.New("a response is still in progress")
	ErrEmpty           = errors.New("message is empty")
	ErrUnexpectedFrame = errors.New("unexpected frame")
)

// StreamError is the error reported by the server in an error frame.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "stream error: " + e.Message }

// Controller is safe for concurrent use. Callbacks run after the internal
// lock is released, on the goroutine that applied the frame.
type Controller struct {
	mu        sync.Mutex
	messages  []session.Message
	state     State
	partial   strings.Builder
	messageID string
	usage     stream.Usage
	err       error
	now       func() time.Time

	onDelta    func(partial string)
	onComplete func(msg session.Message)
	onError    func(err error)
}

func NewController() *Controller {
	return &Controller{now: time.Now}
}

// OnDelta registers fn to receive the assistant text accumulated so far
// after every text frame.
func (c *Controller) OnDelta(fn func(partial string)) {
	c.mu.Lock()
	c.onDelta = fn
	c.mu.Unlock()
}

// OnComplete registers fn to run with the finished assistant message.
func (c *Controller) OnComplete(fn func(msg session.Message)) {
	c.mu.Lock()
	c.onComplete = fn
	c.mu.Unlock()
}

// OnError registers fn to run when a request fails.
func (c *Controller) OnError(fn func(err error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

func (c *Controller) busy() bool {
	return c.state == AwaitingFirstFrame || c.state == Streaming
}

// Busy reports whether a request is outstanding.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy()
}

// Submit appends the user message and returns the transcript to send.
// A submission while a request is outstanding is rejected with ErrBusy.
func (c *Controller) Submit(content string) ([]session.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmpty
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy() {
		return nil, ErrBusy
	}
	c.messages = append(c.messages, session.User(content, c.now()))
	c.state = AwaitingFirstFrame
	c.partial.Reset()
	c.messageID = ""
	c.usage = stream.Usage{}
	c.err = nil
	return session.Clone(c.messages), nil
}

// Apply merges one frame. Frames must arrive in emission order; a frame
// that does not fit the current state fails the request.
func (c *Controller) Apply(f stream.Frame) error {
	c.mu.Lock()
	switch {
	case f.Kind == stream.KindError && c.busy():
		c.mu.Unlock()
		return c.Fail(&StreamError{Message: f.Text})

	case f.Kind == stream.KindMessageID && c.state == AwaitingFirstFrame:
		c.messageID = f.MessageID
		c.state = Streaming
		c.mu.Unlock()
		return nil

	case f.Kind == stream.KindText && c.state == Streaming:
		c.partial.WriteString(f.Text)
		partial, fn := c.partial.String(), c.onDelta
		c.mu.Unlock()
		if fn != nil {
			fn(partial)
		}
		return nil

	case f.Kind == stream.KindFinishStep && c.state == Streaming:
		c.usage = f.Usage
		c.mu.Unlock()
		return nil

	case f.Kind == stream.KindDone && c.state == Streaming:
		msg := session.Assistant(c.partial.String(), c.now())
		c.messages = append(c.messages, msg)
		c.partial.Reset()
		c.usage = f.Usage
		c.state = Complete
		fn := c.onComplete
		c.mu.Unlock()
		if fn != nil {
			fn(msg)
		}
		return nil
	}
	state := c.state
	c.mu.Unlock()
	return c.Fail(fmt.Errorf("%w: %s while %s", ErrUnexpectedFrame, f.Kind, state))
}

// Fail moves the controller to Errored. The partial assistant text of the
// failed request is discarded; earlier messages are kept. It returns err.
func (c *Controller) Fail(err error) error {
	c.mu.Lock()
	c.state = Errored
	c.partial.Reset()
	c.err = err
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
	return err
}

// Messages returns a copy of the completed messages.
func (c *Controller) Messages() []session.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return session.Clone(c.messages)
}

// Partial returns the assistant text received so far for the outstanding
// request.
func (c *Controller) Partial() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partial.String()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error of the last failed request.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// MessageID returns the id announced by the current or last stream.
func (c *Controller) MessageID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messageID
}

// Usage returns the usage reported by the last finish or done frame.
func (c *Controller) Usage() stream.Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Load replaces the transcript, e.g. with a saved history entry.
func (c *Controller) Load(messages []session.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy() {
		return ErrBusy
	}
	c.messages = session.Clone(messages)
	c.state = Idle
	c.partial.Reset()
	c.messageID = ""
	c.err = nil
	return nil
}

// Reset starts an empty transcript.
func (c *Controller) Reset() error {
	return c.Load(nil)
}

// AppendLocal adds messages produced on the client, such as the upload
// simulation, without a request.
func (c *Controller) AppendLocal(msgs ...session.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy() {
		return ErrBusy
	}
	c.messages = append(c.messages, msgs...)
	return nil
}

// Len returns the number of completed messages.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}
