package chatbot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"TaxChat/internal/cache"
	"TaxChat/internal/canned"
	"TaxChat/internal/history"
	"TaxChat/internal/responder"
	"TaxChat/internal/server"
	"TaxChat/internal/session"
	"TaxChat/internal/storage"
	"TaxChat/internal/stream"
	"TaxChat/internal/theme"
	"TaxChat/internal/transcript"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDelegate struct {
	reply string
	err   error
}

func (f *fakeDelegate) Name() string { return "fake" }

func (f *fakeDelegate) Stream(ctx context.Context, messages []session.Message, sink stream.Sink) error {
	if f.err != nil {
		_ = sink.Close(f.err)
		return f.err
	}
	return stream.NewEncoder(7, 0).Emit(ctx, f.reply, sink)
}

type fixture struct {
	bot *ChatBot
	out *bytes.Buffer
	kv  storage.KV
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newResponder(t *testing.T, d *fakeDelegate) *responder.Responder {
	t.Helper()
	region, err := canned.LoadRegion("us")
	require.NoError(t, err)
	opts := responder.Options{
		Region:  region,
		Encoder: stream.NewEncoder(100, 0),
		Cache:   cache.NewStore(0),
		Logger:  quietLogger(),
	}
	if d != nil {
		opts.Delegate = d
	}
	return responder.New(opts)
}

func newFixture(t *testing.T, transport Transport, kv storage.KV, input string) *fixture {
	t.Helper()
	region, err := canned.LoadRegion("us")
	require.NoError(t, err)
	if kv == nil {
		kv = storage.NewMemory()
	}
	out := &bytes.Buffer{}
	bot, err := NewChatBot(Options{
		Region:    region,
		Transport: transport,
		Storage:   kv,
		Width:     80,
		Plain:     true,
		In:        strings.NewReader(input),
		Out:       out,
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	return &fixture{bot: bot, out: out, kv: kv}
}

func (f *fixture) saved(t *testing.T) []history.Entry {
	t.Helper()
	entries, err := history.NewStore(f.kv, quietLogger()).List()
	require.NoError(t, err)
	return entries
}

func TestAsk_CannedAnswer(t *testing.T) {
	f := newFixture(t, NewLocalTransport(newResponder(t, nil)), nil, "")

	require.NoError(t, f.bot.Ask(context.Background(), "How do tax brackets work?"))

	msgs := f.bot.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, strings.HasSuffix(msgs[1].Content, canned.MarkerBracketChart))

	out := f.out.String()
	assert.Contains(t, out, "Tax brackets are ranges of income")
	assert.NotContains(t, out, canned.MarkerBracketChart)
	assert.Contains(t, out, "█")
	assert.Contains(t, out, "Follow-up questions")

	entries := f.saved(t)
	require.Len(t, entries, 1)
	assert.Equal(t, f.bot.ChatID(), entries[0].ID)
	assert.Equal(t, "How do tax brackets work?", entries[0].Title)
}

func TestAsk_ModelReplyStreamsInOrder(t *testing.T) {
	reply := "Capital gains are taxed at 0%, 15% or 20%."
	f := newFixture(t, NewLocalTransport(newResponder(t, &fakeDelegate{reply: reply})), nil, "")

	require.NoError(t, f.bot.Ask(context.Background(), "What's the weather today?"))
	assert.Equal(t, reply, f.bot.Messages()[1].Content)
	assert.Contains(t, f.out.String(), reply)
}

func TestAsk_PrintsTailThatLooksLikeMarker(t *testing.T) {
	reply := "See the IRS table at [T"
	f := newFixture(t, NewLocalTransport(newResponder(t, &fakeDelegate{reply: reply})), nil, "")

	require.NoError(t, f.bot.Ask(context.Background(), "Where are the rate schedules?"))
	assert.Equal(t, reply, f.bot.Messages()[1].Content)
	assert.Contains(t, f.out.String(), reply+"\n")
}

func TestAsk_FailureKeepsTranscript(t *testing.T) {
	d := &fakeDelegate{reply: "First answer."}
	f := newFixture(t, NewLocalTransport(newResponder(t, d)), nil, "")
	require.NoError(t, f.bot.Ask(context.Background(), "first question"))

	d.err = errors.New("upstream unavailable")
	err := f.bot.Ask(context.Background(), "second question")
	require.Error(t, err)

	msgs := f.bot.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "First answer.", msgs[1].Content)
	assert.Equal(t, "second question", msgs[2].Content)
	assert.Contains(t, f.out.String(), requestFailedMsg)
	assert.Equal(t, transcript.Errored, f.bot.controller.State())
}

func TestAsk_OverHTTP(t *testing.T) {
	srv := httptest.NewServer(server.New(newResponder(t, nil), server.Options{Logger: quietLogger()}).Handler())
	defer srv.Close()

	f := newFixture(t, NewHTTPTransport(srv.URL+"/api/chat", srv.Client()), nil, "")
	require.NoError(t, f.bot.Ask(context.Background(), "what is the standard deduction?"))

	msgs := f.bot.Messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "$13,850")
	assert.Contains(t, f.out.String(), "Filing Status")
}

func TestAsk_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(server.New(newResponder(t, nil), server.Options{Logger: quietLogger()}).Handler())
	defer srv.Close()

	// No model backend: the server answers 500 before streaming.
	f := newFixture(t, NewHTTPTransport(srv.URL+"/api/chat", nil), nil, "")
	err := f.bot.Ask(context.Background(), "What's the weather today?")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 500, se.Code)
	assert.Equal(t, "Failed to process chat request", se.Message)
	assert.Len(t, f.bot.Messages(), 1)
}

func TestUpload(t *testing.T) {
	f := newFixture(t, NewLocalTransport(newResponder(t, nil)), nil, "")

	require.NoError(t, f.bot.Upload(context.Background(), "/tmp/docs/My W-2 2023.pdf"))
	msgs := f.bot.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "I've uploaded a pdf file: My W-2 2023.pdf", msgs[0].Content)
	assert.Contains(t, msgs[1].Content, "W-2 form")
	assert.Equal(t, []string{"My W-2 2023.pdf"}, f.bot.uploaded)
	assert.Len(t, f.saved(t), 1)

	err := f.bot.Upload(context.Background(), "notes.txt")
	require.ErrorContains(t, err, "unsupported file type")
	assert.Len(t, f.bot.Messages(), 2)
}

func TestUpload_Cancelled(t *testing.T) {
	f := newFixture(t, NewLocalTransport(newResponder(t, nil)), nil, "")
	f.bot.opts.UploadDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.bot.Upload(ctx, "1099.pdf")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.bot.Messages())
	assert.Empty(t, f.bot.uploaded)
}

func TestRun_Commands(t *testing.T) {
	script := strings.Join([]string{
		"/suggest 1",
		"/theme dark",
		"/new",
		"/upload w-2.pdf",
		"/history",
		"/open 2",
		"/delete 1",
		"/history",
		"/bogus",
		"/quit",
	}, "\n")
	f := newFixture(t, NewLocalTransport(newResponder(t, nil)), nil, script)

	require.NoError(t, f.bot.Run(context.Background()))
	out := f.out.String()

	assert.Contains(t, out, "Try asking")
	assert.Equal(t, theme.Dark, theme.Load(f.kv))
	assert.Contains(t, out, "Theme set to dark.")
	assert.Contains(t, out, "Started a new conversation.")
	assert.Contains(t, out, "Opened: How do tax brackets work?")
	assert.Contains(t, out, "Conversation deleted.")
	assert.Contains(t, out, "unknown command /bogus")
	assert.Contains(t, out, "Goodbye!")

	// The upload chat was deleted; the bracket chat is open and saved.
	entries := f.saved(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "How do tax brackets work?", entries[0].Title)
	assert.Equal(t, entries[0].ID, f.bot.ChatID())
}

func TestRun_CorruptHistory(t *testing.T) {
	kv := storage.NewMemory()
	require.NoError(t, kv.Set(history.Key, []byte("{not json")))

	f := newFixture(t, NewLocalTransport(newResponder(t, nil)), kv, "/history\n/quit\n")
	require.NoError(t, f.bot.Run(context.Background()))

	out := f.out.String()
	assert.Equal(t, 2, strings.Count(out, corruptHistoryMsg))
	assert.Contains(t, out, "No saved conversations.")
}

func TestRun_EOFSaves(t *testing.T) {
	f := newFixture(t, NewLocalTransport(newResponder(t, nil)), nil, "how do tax brackets work\n")
	require.NoError(t, f.bot.Run(context.Background()))
	assert.Len(t, f.saved(t), 1)
	assert.Contains(t, f.out.String(), "Goodbye!")
}
