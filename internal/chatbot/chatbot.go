// Package chatbot is the terminal front-end: a line-oriented loop that
// sends questions, streams answers into the transcript and manages saved
// conversations, themes and simulated uploads.
package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"TaxChat/internal/canned"
	"TaxChat/internal/history"
	"TaxChat/internal/render"
	"TaxChat/internal/session"
	"TaxChat/internal/storage"
	"TaxChat/internal/theme"
	"TaxChat/internal/transcript"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	followUpSuggestions = 3
	corruptHistoryMsg   = "Could not load chat histories. Starting fresh."
	requestFailedMsg    = "Sorry, something went wrong. Please try again."
)

// Options wires a ChatBot. Storage backs both history and the theme.
type Options struct {
	Region      *canned.Region
	Transport   Transport
	Storage     storage.KV
	Width       int
	Plain       bool
	UploadDelay time.Duration
	TypingDelay time.Duration
	In          io.Reader
	Out         io.Writer
	Logger      *slog.Logger
	Tracer      trace.Tracer
}

// ChatBot represents the main application
type ChatBot struct {
	opts       Options
	region     *canned.Region
	transport  Transport
	kv         storage.KV
	history    *history.Store
	render     *render.Renderer
	controller *transcript.Controller
	out        io.Writer
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time

	chatID      string
	uploaded    []string
	suggestions []string
	shown       int
}

// NewChatBot creates a new ChatBot instance
func NewChatBot(opts Options) (*ChatBot, error) {
	if opts.Region == nil || opts.Transport == nil || opts.Storage == nil {
		return nil, errors.New("chatbot needs a region, a transport and storage")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("chatbot")
	}

	r, err := render.New(render.Options{
		Theme:  theme.Load(opts.Storage),
		Width:  opts.Width,
		Plain:  opts.Plain,
		Region: opts.Region,
		Output: opts.Out,
	})
	if err != nil {
		return nil, err
	}

	cb := &ChatBot{
		opts:       opts,
		region:     opts.Region,
		transport:  opts.Transport,
		kv:         opts.Storage,
		history:    history.NewStore(opts.Storage, logger),
		render:     r,
		controller: transcript.NewController(),
		out:        opts.Out,
		logger:     logger,
		tracer:     tracer,
		now:        time.Now,
		chatID:     history.NewID(),
	}
	cb.controller.OnDelta(cb.printDelta)
	cb.controller.OnComplete(cb.completed)
	cb.controller.OnError(func(err error) {
		cb.logger.Error("chat request failed", "chat_id", cb.chatID, "error", err)
	})
	return cb, nil
}

func (cb *ChatBot) println(a ...any) {
	fmt.Fprintln(cb.out, a...)
}

// printDelta writes whatever part of the growing reply has not been shown.
func (cb *ChatBot) printDelta(partial string) {
	visible := transcript.Visible(partial)
	if len(visible) > cb.shown {
		fmt.Fprint(cb.out, visible[cb.shown:])
		cb.shown = len(visible)
	}
}

// completed finishes the printed reply with its visualizations, saves the
// chat and offers follow-up questions.
func (cb *ChatBot) completed(msg session.Message) {
	// A trailing fragment held back as a possible marker is plain text now.
	if final := canned.StripMarkers(msg.Content); len(final) > cb.shown {
		fmt.Fprint(cb.out, final[cb.shown:])
		cb.shown = len(final)
	}
	cb.println()
	d := transcript.Render(msg.Content)
	if d.Chart {
		cb.println()
		cb.println(cb.render.Chart())
	}
	if d.Table {
		cb.println()
		cb.println(cb.render.Table())
	}
	cb.autosave()
	cb.showSuggestions(true)
}

func (cb *ChatBot) autosave() {
	messages := cb.controller.Messages()
	if len(messages) == 0 {
		return
	}
	if err := cb.history.Save(history.NewEntry(cb.chatID, messages, cb.now())); err != nil {
		cb.logger.Error("failed to save chat", "chat_id", cb.chatID, "error", err)
		cb.println(cb.render.Error("Could not save this conversation."))
	}
}

// showSuggestions prints the starter questions on an empty chat, or the
// first few, shortened, as follow-ups.
func (cb *ChatBot) showSuggestions(followUp bool) {
	qs := cb.region.SuggestedQuestions
	if followUp && len(qs) > followUpSuggestions {
		qs = qs[:followUpSuggestions]
	}
	cb.suggestions = qs
	if len(qs) == 0 {
		return
	}
	cb.println()
	if followUp {
		cb.println(cb.render.Notice("Follow-up questions (/suggest N):"))
	} else {
		cb.println(cb.render.Notice("Try asking (/suggest N):"))
	}
	cb.println(cb.render.Suggestions(qs, followUp))
}

// Ask submits one question and streams the reply into the transcript.
func (cb *ChatBot) Ask(ctx context.Context, question string) error {
	messages, err := cb.controller.Submit(question)
	if err != nil {
		return err
	}

	ctx, span := cb.tracer.Start(ctx, "chat.send",
		trace.WithAttributes(attribute.String("chat.id", cb.chatID), attribute.Int("chat.messages", len(messages))))
	defer span.End()

	cb.shown = 0
	cb.println(cb.render.Typing())
	cb.logger.Info("sending chat request", "chat_id", cb.chatID, "message_count", len(messages))

	src, err := cb.transport.Send(ctx, messages)
	if err != nil {
		return cb.fail(span, err)
	}
	defer src.Close()

	for {
		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return cb.fail(span, err)
		}
		if err := cb.controller.Apply(f); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			cb.println()
			cb.println(cb.render.Error(requestFailedMsg))
			return err
		}
		if cb.controller.State() == transcript.Complete {
			return nil
		}
	}
	if cb.controller.Busy() {
		return cb.fail(span, fmt.Errorf("stream ended before done: %w", io.ErrUnexpectedEOF))
	}
	return nil
}

func (cb *ChatBot) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	cb.controller.Fail(err)
	if cb.shown > 0 {
		cb.println()
	}
	cb.println(cb.render.Error(requestFailedMsg))
	return err
}

// Run reads lines from the input until EOF, /quit or ctx is done.
func (cb *ChatBot) Run(ctx context.Context) error {
	cb.println(cb.render.Header())
	cb.println("Type /help for commands, /quit to exit")

	if _, err := cb.history.List(); errors.Is(err, history.ErrCorrupt) {
		cb.println(cb.render.Error(corruptHistoryMsg))
	}
	cb.showSuggestions(false)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cb.opts.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(cb.out, "\nYou: ")
		var input string
		select {
		case <-ctx.Done():
			cb.autosave()
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				cb.autosave()
				cb.println("\nGoodbye!")
				return nil
			}
			input = strings.TrimSpace(line)
		}
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := cb.handleCommand(ctx, input)
			if err != nil {
				cb.println(cb.render.Error("Error: " + err.Error()))
				cb.logger.Error("command error", "command", input, "error", err)
			}
			if quit {
				cb.autosave()
				cb.println("Goodbye!")
				return nil
			}
			continue
		}

		if err := cb.Ask(ctx, input); err != nil {
			if errors.Is(err, transcript.ErrBusy) || errors.Is(err, transcript.ErrEmpty) {
				cb.println(cb.render.Error(err.Error()))
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// Messages returns the active transcript.
func (cb *ChatBot) Messages() []session.Message {
	return cb.controller.Messages()
}

// ChatID is the history id the active transcript is saved under.
func (cb *ChatBot) ChatID() string {
	return cb.chatID
}
