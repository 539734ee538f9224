package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Kind is the one-character type prefix of a data stream line.
type Kind byte

const (
	KindMessageID  Kind = 'f'
	KindText       Kind = '0'
	KindError      Kind = '3'
	KindFinishStep Kind = 'e'
	KindDone       Kind = 'd'
)

func (k Kind) String() string {
	switch k {
	case KindMessageID:
		return "message-id"
	case KindText:
		return "text"
	case KindError:
		return "error"
	case KindFinishStep:
		return "finish-step"
	case KindDone:
		return "done"
	default:
		return fmt.Sprintf("kind(%q)", byte(k))
	}
}

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownKind    = errors.New("unknown frame kind")
)

// FinishStop is the finish reason of a normally completed reply.
const FinishStop = "stop"

// Usage is the token accounting carried by finish frames. Counts are floats
// because the synthetic estimate for canned replies is fractional.
type Usage struct {
	PromptTokens     float64 `json:"promptTokens"`
	CompletionTokens float64 `json:"completionTokens"`
}

// Frame is one unit of the streamed response. Which fields are meaningful
// depends on Kind:
//
//	KindMessageID   MessageID
//	KindText        Text (delta)
//	KindError       Text (error message)
//	KindFinishStep  FinishReason, Usage, IsContinued
//	KindDone        FinishReason, Usage
type Frame struct {
	Kind         Kind
	MessageID    string
	Text         string
	FinishReason string
	Usage        Usage
	IsContinued  bool
}

func MessageIDFrame(id string) Frame { return Frame{Kind: KindMessageID, MessageID: id} }
func TextFrame(delta string) Frame   { return Frame{Kind: KindText, Text: delta} }
func ErrorFrame(msg string) Frame    { return Frame{Kind: KindError, Text: msg} }

func FinishStepFrame(reason string, usage Usage) Frame {
	return Frame{Kind: KindFinishStep, FinishReason: reason, Usage: usage}
}

func DoneFrame(reason string, usage Usage) Frame {
	return Frame{Kind: KindDone, FinishReason: reason, Usage: usage}
}

type messageIDPayload struct {
	MessageID string `json:"messageId"`
}

type finishStepPayload struct {
	FinishReason string `json:"finishReason"`
	Usage        Usage  `json:"usage"`
	IsContinued  bool   `json:"isContinued"`
}

type donePayload struct {
	FinishReason string `json:"finishReason"`
	Usage        Usage  `json:"usage"`
}

// Encode renders the frame as a single wire line, including the trailing newline.
func (f Frame) Encode() ([]byte, error) {
	var payload any
	switch f.Kind {
	case KindMessageID:
		payload = messageIDPayload{MessageID: f.MessageID}
	case KindText, KindError:
		payload = f.Text
	case KindFinishStep:
		payload = finishStepPayload{FinishReason: f.FinishReason, Usage: f.Usage, IsContinued: f.IsContinued}
	case KindDone:
		payload = donePayload{FinishReason: f.FinishReason, Usage: f.Usage}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, f.Kind)
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(f.Kind))
	buf.WriteByte(':')
	enc := json.NewEncoder(&buf)
	// Match JSON.stringify, which leaves <, > and & unescaped.
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Kind, err)
	}
	return unescapeLineSeparators(buf.Bytes()), nil
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes encoding/json
// always writes back into raw characters, as JSON.stringify leaves them.
// Every backslash in encoder output starts an escape, so pairs are skipped
// whole and an escaped backslash followed by "u2028" stays untouched.
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		switch rest := b[i:]; {
		case bytes.HasPrefix(rest, []byte(`\u2028`)):
			out = utf8.AppendRune(out, '\u2028')
			i += 5
			continue
		case bytes.HasPrefix(rest, []byte(`\u2029`)):
			out = utf8.AppendRune(out, '\u2029')
			i += 5
			continue
		}
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}

// Parse decodes one wire line. The trailing newline is optional.
func Parse(line []byte) (Frame, error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) < 2 || line[1] != ':' {
		return Frame{}, fmt.Errorf("%w: %q", ErrMalformedFrame, line)
	}
	kind, body := Kind(line[0]), line[2:]

	f := Frame{Kind: kind}
	var err error
	switch kind {
	case KindMessageID:
		var p messageIDPayload
		err = json.Unmarshal(body, &p)
		f.MessageID = p.MessageID
	case KindText, KindError:
		err = json.Unmarshal(body, &f.Text)
	case KindFinishStep:
		var p finishStepPayload
		err = json.Unmarshal(body, &p)
		f.FinishReason, f.Usage, f.IsContinued = p.FinishReason, p.Usage, p.IsContinued
	case KindDone:
		var p donePayload
		err = json.Unmarshal(body, &p)
		f.FinishReason, f.Usage = p.FinishReason, p.Usage
	default:
		return Frame{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, kind, err)
	}
	return f, nil
}

// Text concatenates the text deltas of frames in order.
func Text(frames []Frame) string {
	var b bytes.Buffer
	for _, f := range frames {
		if f.Kind == KindText {
			b.WriteString(f.Text)
		}
	}
	return b.String()
}
