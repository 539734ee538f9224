package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"TaxChat/internal/session"
	"TaxChat/internal/stream"
)

// FrameSource yields the frames of one response in emission order.
type FrameSource interface {
	// Next returns io.EOF once the stream has ended cleanly.
	Next() (stream.Frame, error)
	Close() error
}

// Transport sends a transcript and returns the streamed reply.
type Transport interface {
	Send(ctx context.Context, messages []session.Message) (FrameSource, error)
}

// StatusError is a non-200 answer from the chat endpoint.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat endpoint returned %d: %s", e.Code, e.Message)
}

type chatRequest struct {
	Messages []session.Message `json:"messages"`
}

// HTTPTransport talks to a running chat server.
type HTTPTransport struct {
	url    string
	client *http.Client
}

func NewHTTPTransport(url string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{url: url, client: client}
}

func (t *HTTPTransport) Send(ctx context.Context, messages []session.Message) (FrameSource, error) {
	jsonData, err := json.Marshal(chatRequest{Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var body struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err != nil || body.Error == "" {
			body.Error = resp.Status
		}
		return nil, &StatusError{Code: resp.StatusCode, Message: body.Error}
	}

	return &readerSource{reader: stream.NewReader(resp.Body), body: resp.Body}, nil
}

type readerSource struct {
	reader *stream.Reader
	body   io.ReadCloser
}

func (s *readerSource) Next() (stream.Frame, error) { return s.reader.Next() }
func (s *readerSource) Close() error                { return s.body.Close() }

// Responder is the in-process answering side, see responder.Responder.
type Responder interface {
	Respond(ctx context.Context, messages []session.Message, sink stream.Sink) (string, error)
}

// LocalTransport answers in-process without a server.
type LocalTransport struct {
	responder Responder
	buffer    int
}

func NewLocalTransport(r Responder) *LocalTransport {
	return &LocalTransport{responder: r, buffer: 16}
}

func (t *LocalTransport) Send(ctx context.Context, messages []session.Message) (FrameSource, error) {
	ch := stream.NewChannel(t.buffer)
	go func() {
		_, _ = t.responder.Respond(ctx, messages, ch)
	}()
	return &channelSource{ch: ch}, nil
}

type channelSource struct {
	ch *stream.Channel
}

func (s *channelSource) Next() (stream.Frame, error) {
	f, ok := <-s.ch.Frames()
	if ok {
		return f, nil
	}
	if err := s.ch.Err(); err != nil && !errors.Is(err, stream.ErrDetached) {
		return stream.Frame{}, err
	}
	return stream.Frame{}, io.EOF
}

// Close detaches from the producer so a pending delay stops early.
func (s *channelSource) Close() error {
	s.ch.Detach()
	return nil
}
