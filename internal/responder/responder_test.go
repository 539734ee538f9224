package responder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"TaxChat/internal/cache"
	"TaxChat/internal/canned"
	"TaxChat/internal/session"
	"TaxChat/internal/stream"
	"TaxChat/internal/telemetry"

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

type fakeDelegate struct {
	calls  int
	deltas []string
	err    error
}

func (f *fakeDelegate) Name() string { return "fake" }

func (f *fakeDelegate) Stream(ctx context.Context, messages []session.Message, sink stream.Sink) error {
	f.calls++
	if f.err != nil {
		_ = sink.Close(f.err)
		return f.err
	}
	_ = sink.Append(stream.MessageIDFrame("msg-model"))
	for _, d := range f.deltas {
		_ = sink.Append(stream.TextFrame(d))
	}
	usage := stream.Usage{PromptTokens: 42, CompletionTokens: 2}
	_ = sink.Append(stream.FinishStepFrame(stream.FinishStop, usage))
	_ = sink.Append(stream.DoneFrame(stream.FinishStop, usage))
	return sink.Close(nil)
}

func newResponder(t *testing.T, d *fakeDelegate) *Responder {
	t.Helper()
	region, err := canned.LoadRegion("us")
	require.NoError(t, err)
	enc := stream.NewEncoder(100, 0)
	enc.NewMessageID = func() string { return "msg-canned" }
	opts := Options{
		Region:  region,
		Encoder: enc,
		Cache:   cache.NewStore(time.Minute),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: telemetry.NoopMetrics(),
	}
	if d != nil {
		opts.Delegate = d
	}
	return New(opts)
}

func ask(text string) []session.Message {
	return []session.Message{session.User(text, time.Now())}
}

func TestRespond_CannedAnswer(t *testing.T) {
	d := &fakeDelegate{}
	r := newResponder(t, d)
	sink := &recordingSink{}

	route, err := r.Respond(context.Background(), ask("How do TAX BRACKETS work?"), sink)
	require.NoError(t, err)
	assert.Equal(t, telemetry.RouteCanned, route)
	assert.Zero(t, d.calls)

	text := stream.Text(sink.frames)
	assert.Contains(t, text, canned.MarkerBracketChart)
	assert.Equal(t, "msg-canned", sink.frames[0].MessageID)
	last := sink.frames[len(sink.frames)-1]
	assert.Equal(t, stream.KindDone, last.Kind)
	assert.Equal(t, stream.EstimateUsage(text, 100), last.Usage)
	assert.True(t, sink.closed)
	assert.NoError(t, sink.closeErr)
}

func TestRespond_ModelThenCache(t *testing.T) {
	d := &fakeDelegate{deltas: []string{"Capital gains ", "are taxed separately."}}
	r := newResponder(t, d)
	msgs := ask("What about capital gains?")

	first := &recordingSink{}
	route, err := r.Respond(context.Background(), msgs, first)
	require.NoError(t, err)
	assert.Equal(t, telemetry.RouteModel, route)
	assert.Equal(t, "Capital gains are taxed separately.", stream.Text(first.frames))

	second := &recordingSink{}
	route, err = r.Respond(context.Background(), session.Clone(msgs), second)
	require.NoError(t, err)
	assert.Equal(t, telemetry.RouteCache, route)
	assert.Equal(t, 1, d.calls)
	assert.Equal(t, "Capital gains are taxed separately.", stream.Text(second.frames))
	assert.Equal(t, "msg-canned", second.frames[0].MessageID)
}

func TestRespond_DelegateFailureIsNotCached(t *testing.T) {
	d := &fakeDelegate{err: errors.New("upstream unavailable")}
	r := newResponder(t, d)
	msgs := ask("Explain the AMT")

	sink := &recordingSink{}
	route, err := r.Respond(context.Background(), msgs, sink)
	require.Error(t, err)
	assert.Equal(t, telemetry.RouteModel, route)
	assert.Empty(t, sink.frames)
	assert.True(t, sink.closed)

	d.err = nil
	d.deltas = []string{"ok"}
	route, err = r.Respond(context.Background(), msgs, &recordingSink{})
	require.NoError(t, err)
	assert.Equal(t, telemetry.RouteModel, route)
	assert.Equal(t, 2, d.calls)
}

func TestRespond_NoDelegate(t *testing.T) {
	r := newResponder(t, nil)
	sink := &recordingSink{}
	_, err := r.Respond(context.Background(), ask("anything else"), sink)
	require.ErrorIs(t, err, ErrNoDelegate)
	assert.True(t, sink.closed)

	// Canned answers still work without a model.
	route, err := r.Respond(context.Background(), ask("what is the standard deduction"), &recordingSink{})
	require.NoError(t, err)
	assert.Equal(t, telemetry.RouteCanned, route)
}

func TestRespond_InvalidTranscript(t *testing.T) {
	r := newResponder(t, &fakeDelegate{})
	sink := &recordingSink{}
	_, err := r.Respond(context.Background(), []session.Message{{Role: "system", Content: "x"}}, sink)
	require.Error(t, err)
	assert.True(t, sink.closed)
	assert.Empty(t, sink.frames)
}

func TestRespond_MatchesOnlyLatestUserMessage(t *testing.T) {
	d := &fakeDelegate{deltas: []string{"It depends."}}
	r := newResponder(t, d)
	now := time.Now()
	msgs := []session.Message{
		session.User("how do tax brackets work", now),
		session.Assistant("They are marginal.", now),
		session.User("and for married couples?", now),
	}
	route, err := r.Respond(context.Background(), msgs, &recordingSink{})
	require.NoError(t, err)
	assert.Equal(t, telemetry.RouteModel, route)
	assert.Equal(t, 1, d.calls)
}
