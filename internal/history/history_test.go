package history

import (
	"errors"
	"testing"
	"time"

	"TaxChat/internal/session"
	"TaxChat/internal/storage"

	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

func transcript(user, assistant string) []session.Message {
	return []session.Message{session.User(user, now), session.Assistant(assistant, now)}
}

func TestStore_EmptyWhenMissing(t *testing.T) {
	s := NewStore(storage.NewMemory(), nil)
	entries, err := s.List()
	require.NoError(t, err)
	require.NotNil(t, entries)
	require.Empty(t, entries)
}

func TestStore_SaveUpsertAndOrder(t *testing.T) {
	s := NewStore(storage.NewMemory(), nil)

	a := NewEntry("a", transcript("first", "one"), now)
	b := NewEntry("b", transcript("second", "two"), now)
	require.NoError(t, s.Save(a))
	require.NoError(t, s.Save(b))

	entries, err := s.List()
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, ids(entries))

	a2 := NewEntry("a", append(transcript("first", "one"), session.User("more", now)), now)
	require.NoError(t, s.Save(a2))

	entries, err = s.List()
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, ids(entries), "upsert keeps position")
	require.Len(t, entries[1].Messages, 3)

	got, ok, err := s.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, a2, got)

	_, ok, err = s.Get("zzz")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_DeleteRemovesExactlyOne(t *testing.T) {
	s := NewStore(storage.NewMemory(), nil)
	a := NewEntry("a", transcript("q1", "r1"), now)
	b := NewEntry("b", transcript("q2", "r2"), now)
	c := NewEntry("c", transcript("q3", "r3"), now)
	for _, e := range []Entry{a, b, c} {
		require.NoError(t, s.Save(e))
	}

	removed, err := s.Delete("b")
	require.NoError(t, err)
	require.True(t, removed)

	entries, err := s.List()
	require.NoError(t, err)
	require.Equal(t, []Entry{c, a}, entries)

	removed, err = s.Delete("b")
	require.NoError(t, err)
	require.False(t, removed)
}

func TestStore_CorruptBlob(t *testing.T) {
	kv := storage.NewMemory()
	require.NoError(t, kv.Set(Key, []byte("{not json")))
	s := NewStore(kv, nil)

	entries, err := s.List()
	require.True(t, errors.Is(err, ErrCorrupt))
	require.Empty(t, entries)

	_, ok, err := s.Get("a")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Save(NewEntry("a", transcript("q", "r"), now)))
	entries, err = s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestNewEntry(t *testing.T) {
	msgs := []session.Message{
		session.User("  How do tax brackets work?\nI'm single and earn about $60,000 a year in Ontario.  ", now),
		session.Assistant("Tax brackets are ranges of income.\n\n[TAX_BRACKET_CHART]", now),
	}
	e := NewEntry("id-1", msgs, now)

	require.Equal(t, "id-1", e.ID)
	require.Equal(t, "2025-03-14T09:26:53.589Z", e.Timestamp)
	require.Equal(t, "How do tax brackets work? I'm single and earn a...", e.Title)
	require.Len(t, []rune(e.Title), titleLength)
	require.Equal(t, "Tax brackets are ranges of income.", e.Preview)

	msgs[0].Content = "mutated"
	require.NotEqual(t, "mutated", e.Messages[0].Content)
}

func TestNewEntry_Empty(t *testing.T) {
	e := NewEntry(NewID(), nil, now)
	require.Equal(t, "New conversation", e.Title)
	require.Empty(t, e.Preview)
	require.NotEmpty(t, e.ID)
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
