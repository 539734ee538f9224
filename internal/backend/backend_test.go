package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"TaxChat/internal/config"
	"TaxChat/internal/session"
	"TaxChat/internal/stream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	frames   []stream.Frame
	closed   bool
	closeErr error
}

func (s *recordingSink) Append(f stream.Frame) error {
	s.frames = append(s.frames, f)
	return nil
}

func (s *recordingSink) Close(err error) error {
	s.closed = true
	s.closeErr = err
	return nil
}

func (s *recordingSink) kinds() string {
	var out []byte
	for _, f := range s.frames {
		out = append(out, byte(f.Kind))
	}
	return string(out)
}

func conversation() []session.Message {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return []session.Message{session.User("What is a marginal rate?", now)}
}

func TestOpenAIStream_RelaysDeltas(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)

		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	d := NewOpenAI(config.BackendOpenAI, "sk-test", srv.URL+"/v1", "gpt-test", "You are a tax assistant.", Deps{})
	sink := &recordingSink{}
	require.NoError(t, d.Stream(context.Background(), conversation(), sink))

	require.Equal(t, "f00ed", sink.kinds())
	assert.Equal(t, "Hello", stream.Text(sink.frames))
	done := sink.frames[len(sink.frames)-1]
	assert.Equal(t, stream.FinishStop, done.FinishReason)
	assert.Equal(t, stream.Usage{PromptTokens: 12, CompletionTokens: 3}, done.Usage)
	assert.True(t, sink.closed)
	assert.NoError(t, sink.closeErr)

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
	assert.Equal(t, true, got["stream"])
}

func TestOpenAIStream_UpstreamErrorBeforeFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	d := NewOpenAI(config.BackendGrok, "key", srv.URL, "grok-test", "", Deps{})
	sink := &recordingSink{}
	err := d.Stream(context.Background(), conversation(), sink)
	require.Error(t, err)
	assert.Empty(t, sink.frames)
	assert.True(t, sink.closed)
	assert.Error(t, sink.closeErr)
	assert.Equal(t, "grok", d.Name())
}

func TestOllamaStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req OllamaRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, "system", req.Messages[0].Role)

		fmt.Fprintln(w, `{"model":"llama3","message":{"role":"assistant","content":"Brackets "},"done":false}`)
		fmt.Fprintln(w, `{"model":"llama3","message":{"role":"assistant","content":"apply marginally."},"done":false}`)
		fmt.Fprintln(w, `{"model":"llama3","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":20,"eval_count":5}`)
	}))
	defer srv.Close()

	d := NewOllama(srv.URL+"/", "llama3", "system prompt", Deps{})
	sink := &recordingSink{}
	require.NoError(t, d.Stream(context.Background(), conversation(), sink))

	require.Equal(t, "f00ed", sink.kinds())
	assert.Equal(t, "Brackets apply marginally.", stream.Text(sink.frames))
	assert.Equal(t, stream.Usage{PromptTokens: 20, CompletionTokens: 5}, sink.frames[4].Usage)
}

func TestOllamaStream_TruncatedEmitsErrorFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"partial"},"done":false}`)
	}))
	defer srv.Close()

	d := NewOllama(srv.URL, "llama3", "", Deps{})
	sink := &recordingSink{}
	err := d.Stream(context.Background(), conversation(), sink)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	require.Equal(t, "f03", sink.kinds())
	assert.Equal(t, genericErrorMessage, sink.frames[2].Text)
	assert.ErrorIs(t, sink.closeErr, io.ErrUnexpectedEOF)
}

func TestAnthropicStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		var req AnthropicRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Be brief.", req.System)
		assert.Equal(t, 256, req.MaxTokens)

		events := []string{
			`{"type":"message_start","message":{"usage":{"input_tokens":30,"output_tokens":1}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"RRSP "}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"limits"}}`,
			`{"type":"message_delta","delta":{"stop_reason":"max_tokens"},"usage":{"output_tokens":7}}`,
			`{"type":"message_stop"}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "event: x\ndata: %s\n\n", e)
		}
	}))
	defer srv.Close()

	d := NewAnthropic("key", srv.URL, "claude-test", 256, "Be brief.", Deps{})
	sink := &recordingSink{}
	require.NoError(t, d.Stream(context.Background(), conversation(), sink))

	require.Equal(t, "f00ed", sink.kinds())
	assert.Equal(t, "RRSP limits", stream.Text(sink.frames))
	done := sink.frames[4]
	assert.Equal(t, "length", done.FinishReason)
	assert.Equal(t, stream.Usage{PromptTokens: 30, CompletionTokens: 7}, done.Usage)
}

func TestAnthropicStream_ErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":3}}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	}))
	defer srv.Close()

	d := NewAnthropic("key", srv.URL, "claude-test", 256, "", Deps{})
	sink := &recordingSink{}
	err := d.Stream(context.Background(), conversation(), sink)
	require.ErrorContains(t, err, "overloaded_error")
	assert.Equal(t, "f3", sink.kinds())
}

func TestNew(t *testing.T) {
	cfg := config.Config{Backend: config.BackendOpenAI}
	_, err := New(cfg, "", Deps{})
	require.ErrorContains(t, err, "OPENAI_API_KEY")

	cfg = config.Config{Backend: config.BackendAnthropic}
	_, err = New(cfg, "", Deps{})
	require.ErrorContains(t, err, "ANTHROPIC_API_KEY")

	cfg = config.Config{Backend: "mystery"}
	_, err = New(cfg, "", Deps{})
	require.ErrorContains(t, err, "unknown backend")

	cfg = config.Config{Backend: config.BackendOllama, OllamaURL: "http://localhost:11434", OllamaModel: "llama3"}
	d, err := New(cfg, "", Deps{})
	require.NoError(t, err)
	assert.Equal(t, "ollama", d.Name())

	cfg = config.Config{Backend: config.BackendGrok, GrokAPIKey: "k", GrokBaseURL: "https://api.x.ai/v1"}
	d, err = New(cfg, "", Deps{})
	require.NoError(t, err)
	assert.Equal(t, "grok", d.Name())
}
