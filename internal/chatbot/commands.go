package chatbot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"TaxChat/internal/canned"
	"TaxChat/internal/history"
	"TaxChat/internal/theme"
	"TaxChat/internal/transcript"
)

// handleCommand handles special commands
func (cb *ChatBot) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}
	arg := strings.TrimSpace(strings.TrimPrefix(cmd, parts[0]))

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		return false, cb.NewChat()

	case "/save":
		if cb.controller.Len() == 0 {
			cb.println(cb.render.Notice("Nothing to save yet."))
			return false, nil
		}
		cb.autosave()
		cb.println(cb.render.Notice("Conversation saved."))
		return false, nil

	case "/history":
		entries, err := cb.listHistory()
		if err != nil {
			return false, err
		}
		cb.println(cb.render.History(entries, cb.chatID))
		return false, nil

	case "/open":
		entry, err := cb.pickEntry(arg, "/open <n>")
		if err != nil {
			return false, err
		}
		return false, cb.Open(entry.ID)

	case "/delete":
		entry, err := cb.pickEntry(arg, "/delete <n>")
		if err != nil {
			return false, err
		}
		return false, cb.Delete(entry.ID)

	case "/theme":
		if arg == "" {
			cb.println(cb.render.Themes())
			return false, nil
		}
		return false, cb.SetTheme(arg)

	case "/upload":
		if arg == "" {
			return false, errors.New("usage: /upload <file>")
		}
		return false, cb.Upload(ctx, arg)

	case "/suggest":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(cb.suggestions) {
			return false, fmt.Errorf("usage: /suggest <1-%d>", len(cb.suggestions))
		}
		q := cb.suggestions[n-1]
		cb.println(q)
		err = cb.Ask(ctx, q)
		if errors.Is(err, transcript.ErrBusy) {
			return false, err
		}
		return false, nil

	case "/uploads":
		if len(cb.uploaded) == 0 {
			cb.println(cb.render.Notice("No files uploaded."))
			return false, nil
		}
		for _, name := range cb.uploaded {
			cb.println("  " + name)
		}
		return false, nil

	case "/help":
		cb.println("Available commands:")
		cb.println("  /new              - Save this conversation and start a new one")
		cb.println("  /save             - Save this conversation")
		cb.println("  /history          - List saved conversations")
		cb.println("  /open <n>         - Open saved conversation n")
		cb.println("  /delete <n>       - Delete saved conversation n")
		cb.println("  /theme [name]     - Show or set the color theme")
		cb.println("  /upload <file>    - Upload a tax document (" + strings.Join(canned.AcceptedExtensions, " ") + ")")
		cb.println("  /uploads          - List uploaded files")
		cb.println("  /suggest <n>      - Ask a suggested question")
		cb.println("  /help             - Show this help message")
		cb.println("  /quit, /exit      - Exit")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s, try /help", parts[0])
	}
}

// listHistory loads saved chats, telling the user when the store was
// unreadable.
func (cb *ChatBot) listHistory() ([]history.Entry, error) {
	entries, err := cb.history.List()
	if errors.Is(err, history.ErrCorrupt) {
		cb.println(cb.render.Error(corruptHistoryMsg))
		return entries, nil
	}
	return entries, err
}

func (cb *ChatBot) pickEntry(arg, usage string) (history.Entry, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return history.Entry{}, errors.New("usage: " + usage)
	}
	entries, err := cb.listHistory()
	if err != nil {
		return history.Entry{}, err
	}
	if n > len(entries) {
		return history.Entry{}, fmt.Errorf("no saved conversation %d", n)
	}
	return entries[n-1], nil
}

// NewChat saves the current conversation and starts an empty one.
func (cb *ChatBot) NewChat() error {
	if cb.controller.Busy() {
		return transcript.ErrBusy
	}
	cb.autosave()
	if err := cb.controller.Reset(); err != nil {
		return err
	}
	cb.chatID = history.NewID()
	cb.uploaded = nil
	cb.logger.Info("started new chat", "chat_id", cb.chatID)
	cb.println(cb.render.Notice("Started a new conversation."))
	cb.showSuggestions(false)
	return nil
}

// Open loads a saved conversation into the transcript.
func (cb *ChatBot) Open(id string) error {
	if cb.controller.Busy() {
		return transcript.ErrBusy
	}
	entry, ok, err := cb.history.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no saved conversation %s", id)
	}
	cb.autosave()
	if err := cb.controller.Load(entry.Messages); err != nil {
		return err
	}
	cb.chatID = entry.ID
	cb.uploaded = nil
	cb.logger.Info("opened chat", "chat_id", entry.ID, "message_count", len(entry.Messages))
	cb.println(cb.render.Notice("Opened: " + entry.Title))
	cb.println(cb.render.Transcript(entry.Messages))
	return nil
}

// Delete removes a saved conversation. Deleting the active one starts a
// new chat.
func (cb *ChatBot) Delete(id string) error {
	ok, err := cb.history.Delete(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no saved conversation %s", id)
	}
	cb.println(cb.render.Notice("Conversation deleted."))
	if id == cb.chatID && !cb.controller.Busy() {
		if err := cb.controller.Reset(); err != nil {
			return err
		}
		cb.chatID = history.NewID()
		cb.uploaded = nil
	}
	return nil
}

// SetTheme switches and persists the color theme.
func (cb *ChatBot) SetTheme(name string) error {
	t, err := theme.Parse(name)
	if err != nil {
		return err
	}
	if err := theme.Save(cb.kv, t); err != nil {
		return err
	}
	if err := cb.render.SetTheme(t); err != nil {
		return err
	}
	cb.println(cb.render.Notice("Theme set to " + string(t) + "."))
	return nil
}
