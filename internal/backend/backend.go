// Package backend relays a conversation to a hosted model and streams the
// reply back as data stream frames, one text frame per upstream delta.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"TaxChat/internal/config"
	"TaxChat/internal/session"
	"TaxChat/internal/stream"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// genericErrorMessage is what clients see in an error frame; upstream
// details stay in the server log.
const genericErrorMessage = "An error occurred."

// Delegate streams a model reply for messages into sink and closes it.
// An error before the first frame leaves the sink empty; an error after it
// is reported with an error frame. Callers must not retry.
type Delegate interface {
	Name() string
	Stream(ctx context.Context, messages []session.Message, sink stream.Sink) error
}

// Deps are the shared collaborators of every delegate.
type Deps struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Tracer     trace.Tracer
}

// New creates the delegate selected by cfg.Backend. system is the fixed
// instruction sent ahead of the conversation.
func New(cfg config.Config, system string, deps Deps) (Delegate, error) {
	switch cfg.Backend {
	case config.BackendOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set")
		}
		return NewOpenAI(config.BackendOpenAI, cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, system, deps), nil
	case config.BackendGrok:
		if cfg.GrokAPIKey == "" {
			return nil, fmt.Errorf("GROK_API_KEY not set")
		}
		return NewOpenAI(config.BackendGrok, cfg.GrokAPIKey, cfg.GrokBaseURL, cfg.GrokModel, system, deps), nil
	case config.BackendAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		return NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicURL, cfg.AnthropicModel, cfg.MaxTokens, system, deps), nil
	case config.BackendOllama:
		return NewOllama(cfg.OllamaURL, cfg.OllamaModel, system, deps), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}

// relay writes upstream deltas to a sink in data stream order.
type relay struct {
	sink    stream.Sink
	started bool
}

func (r *relay) start() error {
	if err := r.sink.Append(stream.MessageIDFrame(stream.NewMessageID())); err != nil {
		return err
	}
	r.started = true
	return nil
}

func (r *relay) text(delta string) error {
	if delta == "" {
		return nil
	}
	return r.sink.Append(stream.TextFrame(delta))
}

func (r *relay) finish(reason string, usage stream.Usage) error {
	if err := r.sink.Append(stream.FinishStepFrame(reason, usage)); err != nil {
		return r.fail(err)
	}
	if err := r.sink.Append(stream.DoneFrame(reason, usage)); err != nil {
		return r.fail(err)
	}
	return r.sink.Close(nil)
}

func (r *relay) fail(err error) error {
	if r.started {
		_ = r.sink.Append(stream.ErrorFrame(genericErrorMessage))
	}
	_ = r.sink.Close(err)
	return err
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d Deps) httpClient() *http.Client {
	if d.HTTPClient == nil {
		// No overall timeout: streams are bounded by the request context.
		return &http.Client{}
	}
	return d.HTTPClient
}

func (d Deps) tracer() trace.Tracer {
	if d.Tracer == nil {
		return noop.NewTracerProvider().Tracer("backend")
	}
	return d.Tracer
}
