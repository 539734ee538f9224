package theme

import (
	"errors"
	"fmt"
	"strings"

	"TaxChat/internal/storage"
)

// Key is the storage key holding the selected theme name.
const Key = "taxchat:theme"

// Theme is one of the fixed color themes.
type Theme string

const (
	Beige  Theme = "beige"
	Dark   Theme = "dark"
	Blue   Theme = "blue"
	Green  Theme = "green"
	Purple Theme = "purple"

	Default = Beige
)

var ErrUnknown = errors.New("unknown theme")

// All lists the themes in display order.
func All() []Theme {
	return []Theme{Beige, Dark, Blue, Green, Purple}
}

// Parse resolves a theme name, case-insensitively.
func Parse(name string) (Theme, error) {
	t := Theme(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range All() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknown, name)
}

// IsDark reports whether the theme uses a dark background.
func (t Theme) IsDark() bool {
	return t == Dark
}

// Load reads the saved theme. A missing, unknown or unreadable value yields
// Default.
func Load(kv storage.KV) Theme {
	data, ok, err := kv.Get(Key)
	if err != nil || !ok {
		return Default
	}
	t, err := Parse(string(data))
	if err != nil {
		return Default
	}
	return t
}

// Save persists t as the selected theme.
func Save(kv storage.KV, t Theme) error {
	if _, err := Parse(string(t)); err != nil {
		return err
	}
	if err := kv.Set(Key, []byte(t)); err != nil {
		return fmt.Errorf("failed to save theme: %w", err)
	}
	return nil
}
