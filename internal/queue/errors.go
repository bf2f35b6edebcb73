package queue

import (
	"errors"
	"fmt"

	"shrink/internal/optimizer"
)

var (
	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("queue closed")
	// ErrEntryNotFound is returned when no entry has the requested path.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrEntryBusy is returned when an entry is being processed.
	ErrEntryBusy = errors.New("entry is being processed")
)

// failureMessage renders err as "<message>[<category>]".
func failureMessage(err error) string {
	category, message := optimizer.Describe(err)
	if category == "" {
		category = optimizer.CategoryUnknown
	}
	return fmt.Sprintf("%s[%s]", message, category)
}
