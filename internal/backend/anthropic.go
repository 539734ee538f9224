package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"TaxChat/internal/session"
	"TaxChat/internal/stream"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const anthropicVersion = "2023-06-01"

// AnthropicRequest represents the request body for Anthropic API
type AnthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []AnthropicMessage `json:"messages"`
	Stream    bool               `json:"stream"`
}

// AnthropicMessage represents a message in the conversation
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicEvent is the data payload of one server-sent event.
type AnthropicEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Usage AnthropicUsage `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
	Usage *AnthropicUsage `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Anthropic streams from the Messages API over server-sent events.
type Anthropic struct {
	apiKey     string
	url        string
	model      string
	maxTokens  int
	system     string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewAnthropic(apiKey, url, model string, maxTokens int, system string, deps Deps) *Anthropic {
	return &Anthropic{
		apiKey:     apiKey,
		url:        url,
		model:      model,
		maxTokens:  maxTokens,
		system:     system,
		httpClient: deps.httpClient(),
		logger:     deps.logger(),
		tracer:     deps.tracer(),
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Stream(ctx context.Context, messages []session.Message, sink stream.Sink) error {
	ctx, span := a.tracer.Start(ctx, "anthropic.stream",
		trace.WithAttributes(attribute.String("llm.model", a.model), attribute.Int("llm.messages", len(messages))))
	defer span.End()

	r := &relay{sink: sink}
	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return r.fail(err)
	}

	reqMessages := make([]AnthropicMessage, len(messages))
	for i, m := range messages {
		reqMessages[i] = AnthropicMessage{Role: string(m.Role), Content: m.Content}
	}

	jsonData, err := json.Marshal(AnthropicRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    a.system,
		Messages:  reqMessages,
		Stream:    true,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fail(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "text/event-stream")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fail(fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fail(fmt.Errorf("API error: %s - %s", resp.Status, string(body)))
	}

	if err := r.start(); err != nil {
		return fail(err)
	}

	var usage stream.Usage
	reason := "unknown"
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		var ev AnthropicEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
			return fail(fmt.Errorf("failed to unmarshal event: %w", err))
		}
		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				usage.PromptTokens = float64(ev.Message.Usage.InputTokens)
			}
		case "content_block_delta":
			if ev.Delta != nil && ev.Delta.Type == "text_delta" {
				if err := r.text(ev.Delta.Text); err != nil {
					return fail(err)
				}
			}
		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				reason = mapAnthropicStopReason(ev.Delta.StopReason)
			}
			if ev.Usage != nil {
				usage.CompletionTokens = float64(ev.Usage.OutputTokens)
			}
		case "message_stop":
			a.logger.Debug("model stream finished", "backend", "anthropic", "finish_reason", reason,
				"prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens)
			return r.finish(reason, usage)
		case "error":
			msg := "unknown error"
			if ev.Error != nil {
				msg = ev.Error.Type + ": " + ev.Error.Message
			}
			return fail(fmt.Errorf("anthropic stream error: %s", msg))
		}
	}
	if err := scanner.Err(); err != nil {
		return fail(fmt.Errorf("failed to read stream: %w", err))
	}
	return fail(fmt.Errorf("anthropic stream ended before message_stop: %w", io.ErrUnexpectedEOF))
}

func mapAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return stream.FinishStop
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool-calls"
	default:
		return "unknown"
	}
}
