package feed

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotFound returned when upstream redirected away from the requested feed
var ErrNotFound = errors.New("feed not found")

// ErrUnknownSource returned for a source id missing in the registry
var ErrUnknownSource = errors.New("unknown source")

// TransportError is a network or http level failure
type TransportError struct {
	URL    string
	Status int // 0 for network errors
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("can't fetch %s, status %d: %s", e.URL, e.Status, e.Reason)
	}
	return fmt.Sprintf("can't fetch %s: %s", e.URL, e.Reason)
}

// Unwrap returns the underlying error, ErrNotFound for redirected feeds
func (e *TransportError) Unwrap() error { return e.Err }

// ParsingError is a malformed or incomplete document
type ParsingError struct {
	Reason string
}

func (e *ParsingError) Error() string { return "parsing failed: " + e.Reason }

// KeyResolutionError signals a human key which can't be translated to the upstream id.
// It unwraps to *ParsingError.
type KeyResolutionError struct {
	Key string
	*ParsingError
}

func (e *KeyResolutionError) Error() string {
	return fmt.Sprintf("can't resolve key %q: %s", e.Key, e.Reason)
}

// Unwrap makes errors.As match *ParsingError
func (e *KeyResolutionError) Unwrap() error { return e.ParsingError }

func parsingError(reason string) error { return &ParsingError{Reason: reason} }

func keyError(key, reason string) error {
	return &KeyResolutionError{Key: key, ParsingError: &ParsingError{Reason: reason}}
}
