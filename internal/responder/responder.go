// Package responder decides how a chat request is answered: a canned reply
// for known questions, a cached model reply, or a fresh model stream.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"TaxChat/internal/backend"
	"TaxChat/internal/cache"
	"TaxChat/internal/canned"
	"TaxChat/internal/session"
	"TaxChat/internal/stream"
	"TaxChat/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var ErrNoDelegate = errors.New("no model backend configured")

// Options configures a Responder. Delegate may be nil, in which case only
// canned and cached replies can be served.
type Options struct {
	Region   *canned.Region
	Encoder  *stream.Encoder
	Delegate backend.Delegate
	Cache    *cache.Store
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Metrics  *telemetry.Metrics
}

type Responder struct {
	matcher  *canned.Matcher
	encoder  *stream.Encoder
	delegate backend.Delegate
	cache    *cache.Store
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
}

func New(opts Options) *Responder {
	r := &Responder{
		matcher:  opts.Region.Matcher(),
		encoder:  opts.Encoder,
		delegate: opts.Delegate,
		cache:    opts.Cache,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
		metrics:  opts.Metrics,
	}
	if r.encoder == nil {
		r.encoder = stream.NewEncoder(stream.DefaultChunkSize, stream.DefaultChunkDelay)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.tracer == nil {
		r.tracer = noop.NewTracerProvider().Tracer("responder")
	}
	if r.metrics == nil {
		r.metrics = telemetry.NoopMetrics()
	}
	return r
}

// Respond answers the conversation into sink and always closes it. It
// returns the route taken (telemetry.RouteCanned, RouteCache or RouteModel),
// also on error.
func (r *Responder) Respond(ctx context.Context, messages []session.Message, sink stream.Sink) (string, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "chat.respond", trace.WithAttributes(attribute.Int("chat.messages", len(messages))))
	defer span.End()

	if err := session.Validate(messages); err != nil {
		_ = sink.Close(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	route, reply := r.route(messages)
	span.SetAttributes(attribute.String("chat.route", route))
	r.metrics.Request(ctx, route)

	obs := &observer{sink: sink, ctx: ctx, metrics: r.metrics}
	var err error
	switch route {
	case telemetry.RouteModel:
		if r.delegate == nil {
			err = ErrNoDelegate
			_ = sink.Close(err)
			break
		}
		err = r.delegate.Stream(ctx, messages, obs)
		if err == nil && obs.text.Len() > 0 {
			r.cache.Put(cache.GenerateCacheKey(messages), obs.text.String())
		}
	default:
		err = r.emit(ctx, route, reply, obs)
	}

	elapsed := time.Since(start)
	r.metrics.Duration(ctx, route, float64(elapsed.Milliseconds()))
	if obs.done {
		r.metrics.Usage(ctx, route, obs.usage.PromptTokens, obs.usage.CompletionTokens)
	}
	if err != nil {
		r.metrics.Error(ctx, route)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("chat response failed", "route", route, "frames", obs.frames, "duration", elapsed, "error", err)
		return route, err
	}
	r.logger.Info("chat response complete", "route", route, "frames", obs.frames, "duration", elapsed)
	return route, nil
}

// route picks canned first, then a fresh cache entry, then the model.
func (r *Responder) route(messages []session.Message) (string, string) {
	if answer, ok := r.matcher.Match(session.LastUserContent(messages)); ok {
		return telemetry.RouteCanned, answer.Response
	}
	if reply, ok := r.cache.Get(cache.GenerateCacheKey(messages)); ok {
		return telemetry.RouteCache, reply
	}
	return telemetry.RouteModel, ""
}

func (r *Responder) emit(ctx context.Context, route string, reply string, sink stream.Sink) error {
	ctx, span := r.tracer.Start(ctx, "canned.emit",
		trace.WithAttributes(attribute.String("chat.route", route), attribute.Int("chat.reply_length", len(reply))))
	defer span.End()
	if err := r.encoder.Emit(ctx, reply, sink); err != nil {
		span.RecordError(err)
		return fmt.Errorf("emit %s reply: %w", route, err)
	}
	return nil
}

// observer passes frames through while counting them and collecting the
// reply text and final usage.
type observer struct {
	sink    stream.Sink
	ctx     context.Context
	metrics *telemetry.Metrics
	frames  int
	text    strings.Builder
	usage   stream.Usage
	done    bool
}

func (o *observer) Append(f stream.Frame) error {
	if err := o.sink.Append(f); err != nil {
		return err
	}
	o.frames++
	o.metrics.Frame(o.ctx, f.Kind.String())
	switch f.Kind {
	case stream.KindText:
		o.text.WriteString(f.Text)
	case stream.KindDone:
		o.usage = f.Usage
		o.done = true
	}
	return nil
}

func (o *observer) Close(err error) error {
	return o.sink.Close(err)
}
