package stream

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	DefaultChunkSize    = 100
	DefaultChunkDelay   = 10 * time.Millisecond
	DefaultPromptTokens = 100
)

// Sink is the one-shot output channel a reply is emitted into. Append may
// block; Close ends the stream, in an error state when err is non-nil.
type Sink interface {
	Append(f Frame) error
	Close(err error) error
}

// Encoder streams a complete reply as id, text-delta, finish and done frames,
// pausing after each text frame to emulate incremental generation.
type Encoder struct {
	ChunkSize    int
	Delay        time.Duration
	PromptTokens float64
	NewMessageID func() string
}

// NewEncoder creates an encoder with the default synthetic prompt size.
func NewEncoder(chunkSize int, delay time.Duration) *Encoder {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Encoder{
		ChunkSize:    chunkSize,
		Delay:        delay,
		PromptTokens: DefaultPromptTokens,
		NewMessageID: NewMessageID,
	}
}

// NewMessageID returns a fresh opaque message identifier.
func NewMessageID() string {
	return "msg-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// EstimateUsage approximates completion tokens as a quarter of the reply length.
func EstimateUsage(reply string, promptTokens float64) Usage {
	return Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: float64(utf8.RuneCountInString(reply)) / 4,
	}
}

// Chunk splits s into pieces of at most size runes, preserving order.
func Chunk(s string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var chunks []string
	for len(s) > 0 {
		end, n := 0, 0
		for end < len(s) && n < size {
			_, w := utf8.DecodeRuneInString(s[end:])
			end += w
			n++
		}
		chunks = append(chunks, s[:end])
		s = s[end:]
	}
	return chunks
}

// Emit writes reply to sink and closes it. If an append fails or ctx is
// cancelled, the sink is closed with that error and no further frames are
// scheduled.
func (e *Encoder) Emit(ctx context.Context, reply string, sink Sink) error {
	fail := func(err error) error {
		_ = sink.Close(err)
		return err
	}

	newID := e.NewMessageID
	if newID == nil {
		newID = NewMessageID
	}
	if err := sink.Append(MessageIDFrame(newID())); err != nil {
		return fail(fmt.Errorf("append message id: %w", err))
	}

	for _, chunk := range Chunk(reply, e.ChunkSize) {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if err := sink.Append(TextFrame(chunk)); err != nil {
			return fail(fmt.Errorf("append text: %w", err))
		}
		if err := e.pause(ctx); err != nil {
			return fail(err)
		}
	}

	usage := EstimateUsage(reply, e.PromptTokens)
	if err := sink.Append(FinishStepFrame(FinishStop, usage)); err != nil {
		return fail(fmt.Errorf("append finish: %w", err))
	}
	if err := sink.Append(DoneFrame(FinishStop, usage)); err != nil {
		return fail(fmt.Errorf("append done: %w", err))
	}
	return sink.Close(nil)
}

func (e *Encoder) pause(ctx context.Context) error {
	if e.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(e.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
