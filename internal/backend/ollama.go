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

// OllamaRequest represents the request body for Ollama API
type OllamaRequest struct {
	Model    string          `json:"model"`
	Messages []OllamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type OllamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OllamaChunk is one line of a streamed /api/chat response.
type OllamaChunk struct {
	Model           string        `json:"model"`
	CreatedAt       string        `json:"created_at"`
	Message         OllamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error"`
}

// Ollama streams newline-delimited JSON from a local Ollama server.
type Ollama struct {
	baseURL    string
	model      string
	system     string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewOllama(baseURL, model, system string, deps Deps) *Ollama {
	return &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		system:     system,
		httpClient: deps.httpClient(),
		logger:     deps.logger(),
		tracer:     deps.tracer(),
	}
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Stream(ctx context.Context, messages []session.Message, sink stream.Sink) error {
	ctx, span := o.tracer.Start(ctx, "ollama.stream",
		trace.WithAttributes(attribute.String("llm.model", o.model), attribute.Int("llm.messages", len(messages))))
	defer span.End()

	r := &relay{sink: sink}
	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return r.fail(err)
	}

	reqMessages := make([]OllamaMessage, 0, len(messages)+1)
	if o.system != "" {
		reqMessages = append(reqMessages, OllamaMessage{Role: "system", Content: o.system})
	}
	for _, m := range messages {
		reqMessages = append(reqMessages, OllamaMessage{Role: string(m.Role), Content: m.Content})
	}

	jsonData, err := json.Marshal(OllamaRequest{Model: o.model, Messages: reqMessages, Stream: true})
	if err != nil {
		return fail(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return fail(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("content-type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fail(fmt.Errorf("failed to send request (is Ollama running?): %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fail(fmt.Errorf("API error: %s - %s", resp.Status, string(body)))
	}

	if err := r.start(); err != nil {
		return fail(err)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk OllamaChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fail(fmt.Errorf("failed to unmarshal chunk: %w", err))
		}
		if chunk.Error != "" {
			return fail(fmt.Errorf("ollama error: %s", chunk.Error))
		}
		if err := r.text(chunk.Message.Content); err != nil {
			return fail(err)
		}
		if chunk.Done {
			reason := mapOllamaDoneReason(chunk.DoneReason)
			usage := stream.Usage{
				PromptTokens:     float64(chunk.PromptEvalCount),
				CompletionTokens: float64(chunk.EvalCount),
			}
			o.logger.Debug("model stream finished", "backend", "ollama", "finish_reason", reason,
				"prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens)
			return r.finish(reason, usage)
		}
	}
	if err := scanner.Err(); err != nil {
		return fail(fmt.Errorf("failed to read stream: %w", err))
	}
	return fail(fmt.Errorf("ollama stream ended before done: %w", io.ErrUnexpectedEOF))
}

func mapOllamaDoneReason(reason string) string {
	switch reason {
	case "", "stop":
		return stream.FinishStop
	case "length":
		return "length"
	default:
		return "unknown"
	}
}
