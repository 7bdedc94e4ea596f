package model

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// KeySeparator joins name and date in an identity key. It is illegal in
// event names, so keys never collide across different (name, date) pairs.
const KeySeparator = "|"

var (
	ErrEmptyName   = errors.New("missing event name")
	ErrInvalidName = errors.New("invalid event name")
)

// Event is a single calendar entry as stored in the backing file.
type Event struct {
	Date        Date
	Name        string
	Description string
}

// Key returns the identity key of the event.
func (e Event) Key() string {
	return Key(e.Name, e.Date)
}

// Key builds the identity key for a (name, date) pair.
func Key(name string, date Date) string {
	return name + KeySeparator + date.String()
}

// ValidateName reports whether name can be stored: non-empty and free of
// whitespace, the file delimiter (',') and the key separator ('|').
func ValidateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if strings.ContainsAny(name, ","+KeySeparator) || strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return errors.WithMessagef(ErrInvalidName, "%q", name)
	}
	return nil
}

// SanitizeName replaces every character that ValidateName rejects with '_'.
// Used when importing names from foreign sources.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == ',' || r == '|' {
			return '_'
		}
		return r
	}, name)
}

// SanitizeDescription collapses line breaks so a description fits on a
// single line of either wire format.
func SanitizeDescription(desc string) string {
	return strings.Join(strings.Fields(desc), " ")
}
