// Package history persists named chat transcripts to local storage.
//
// All entries live in one JSON list under a single key. Every operation is
// a read-modify-write of that blob; with two writers on the same store the
// last write wins and nothing detects it.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"TaxChat/internal/canned"
	"TaxChat/internal/session"
	"TaxChat/internal/storage"

	"github.com/google/uuid"
)

// Key is the storage key holding the entry list.
const Key = "taxchat:chatHistories"

// TimeLayout is the ISO-8601 form of Entry.Timestamp.
const TimeLayout = "2006-01-02T15:04:05.000Z"

const (
	titleLength   = 50
	previewLength = 100
)

// ErrCorrupt is returned alongside an empty list when the stored blob cannot
// be decoded. Callers should notify the user and carry on.
var ErrCorrupt = errors.New("chat history is corrupt")

// Entry is one saved conversation.
type Entry struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Timestamp string            `json:"timestamp"`
	Preview   string            `json:"preview"`
	Messages  []session.Message `json:"messages"`
}

// Time parses Timestamp.
func (e Entry) Time() (time.Time, error) {
	return time.Parse(TimeLayout, e.Timestamp)
}

// Store reads and writes entries in a storage.KV.
type Store struct {
	kv     storage.KV
	logger *slog.Logger
}

func NewStore(kv storage.KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger}
}

// List returns all entries in storage order (most recently created first).
// A missing blob is an empty list; a corrupt one is an empty list plus
// ErrCorrupt.
func (s *Store) List() ([]Entry, error) {
	data, ok, err := s.kv.Get(Key)
	if err != nil {
		return []Entry{}, fmt.Errorf("failed to read chat history: %w", err)
	}
	if !ok || len(data) == 0 {
		return []Entry{}, nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("chat history unreadable, starting fresh", "error", err)
		return []Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Get looks an entry up by id.
func (s *Store) Get(id string) (Entry, bool, error) {
	entries, err := s.List()
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Save replaces the entry with the same id in place, or prepends it.
// A corrupt blob is overwritten.
func (s *Store) Save(entry Entry) error {
	if entry.ID == "" {
		return errors.New("chat history entry has no id")
	}
	entries, err := s.List()
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return err
	}

	replaced := false
	for i := range entries {
		if entries[i].ID == entry.ID {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append([]Entry{entry}, entries...)
	}

	if err := s.write(entries); err != nil {
		return err
	}
	s.logger.Info("chat history saved", "chat_id", entry.ID, "message_count", len(entry.Messages), "replaced", replaced)
	return nil
}

// Delete removes the entry with id and reports whether it existed.
func (s *Store) Delete(id string) (bool, error) {
	entries, err := s.List()
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return false, err
	}

	kept := entries[:0:0]
	for _, e := range entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return false, nil
	}
	if err := s.write(kept); err != nil {
		return false, err
	}
	s.logger.Info("chat history deleted", "chat_id", id)
	return true, nil
}

func (s *Store) write(entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode chat history: %w", err)
	}
	if err := s.kv.Set(Key, data); err != nil {
		return fmt.Errorf("failed to write chat history: %w", err)
	}
	return nil
}

// NewID returns a fresh entry id.
func NewID() string {
	return uuid.NewString()
}

// NewEntry snapshots messages into an entry. The title comes from the first
// user message and the preview from the last message.
func NewEntry(id string, messages []session.Message, now time.Time) Entry {
	return Entry{
		ID:        id,
		Title:     title(messages),
		Timestamp: now.UTC().Format(TimeLayout),
		Preview:   preview(messages),
		Messages:  session.Clone(messages),
	}
}

func title(messages []session.Message) string {
	for _, msg := range messages {
		if msg.Role == session.RoleUser && strings.TrimSpace(msg.Content) != "" {
			return truncate(oneLine(msg.Content), titleLength)
		}
	}
	return "New conversation"
}

func preview(messages []session.Message) string {
	if len(messages) == 0 {
		return ""
	}
	return truncate(oneLine(canned.StripMarkers(messages[len(messages)-1].Content)), previewLength)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
