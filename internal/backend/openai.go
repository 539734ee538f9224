package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"TaxChat/internal/session"
	"TaxChat/internal/stream"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OpenAI streams from any OpenAI-compatible chat completions API (OpenAI
// itself, Grok via its base URL).
type OpenAI struct {
	name   string
	client *openai.Client
	model  string
	system string
	logger *slog.Logger
	tracer trace.Tracer
}

func NewOpenAI(name, apiKey, baseURL, model, system string, deps Deps) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = deps.httpClient()
	return &OpenAI{
		name:   name,
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		system: system,
		logger: deps.logger(),
		tracer: deps.tracer(),
	}
}

func (c *OpenAI) Name() string { return c.name }

func (c *OpenAI) Stream(ctx context.Context, messages []session.Message, sink stream.Sink) error {
	ctx, span := c.tracer.Start(ctx, c.name+".stream",
		trace.WithAttributes(attribute.String("llm.model", c.model), attribute.Int("llm.messages", len(messages))))
	defer span.End()

	r := &relay{sink: sink}
	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return r.fail(err)
	}

	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if c.system != "" {
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: c.system})
	}
	for _, m := range messages {
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	st, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:         c.model,
		Messages:      oaMsgs,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return fail(fmt.Errorf("failed to create chat completion stream: %w", err))
	}
	defer st.Close()

	if err := r.start(); err != nil {
		return fail(err)
	}

	reason := ""
	var usage stream.Usage
	for {
		resp, err := st.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(fmt.Errorf("failed to receive chat completion chunk: %w", err))
		}
		if len(resp.Choices) > 0 {
			if err := r.text(resp.Choices[0].Delta.Content); err != nil {
				return fail(err)
			}
			if resp.Choices[0].FinishReason != "" {
				reason = mapOpenAIFinishReason(resp.Choices[0].FinishReason)
			}
		}
		if resp.Usage != nil {
			usage = stream.Usage{
				PromptTokens:     float64(resp.Usage.PromptTokens),
				CompletionTokens: float64(resp.Usage.CompletionTokens),
			}
		}
	}

	if reason == "" {
		reason = "unknown"
	}
	c.logger.Debug("model stream finished", "backend", c.name, "finish_reason", reason,
		"prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens)
	return r.finish(reason, usage)
}

func mapOpenAIFinishReason(r openai.FinishReason) string {
	switch r {
	case openai.FinishReasonStop:
		return stream.FinishStop
	case openai.FinishReasonLength:
		return "length"
	case openai.FinishReasonContentFilter:
		return "content-filter"
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return "tool-calls"
	default:
		return "unknown"
	}
}
