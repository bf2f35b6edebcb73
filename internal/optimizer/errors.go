package optimizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Category classifies optimizer failures for display.
type Category string

const (
	CategoryOptim   Category = "optim"
	CategoryIO      Category = "io"
	CategoryPattern Category = "pattern"
	CategoryFormat  Category = "format"
	CategoryBackup  Category = "backup"
	CategoryUnknown Category = "unknown"
)

// Error is a categorized optimizer failure.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message returns the human-readable part of the error.
func (e *Error) Message() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return e.Err.Error()
}

type payload struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// MarshalJSON renders the structured {"category","message"} payload.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(payload{Category: string(e.Category), Message: e.Message()})
}

func newError(category Category, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Category: category, Err: err}
}

func errorf(category Category, format string, args ...any) error {
	return &Error{Category: category, Err: fmt.Errorf(format, args...)}
}

// Describe splits err into its category and message. Categorized errors are
// used directly; otherwise the text is parsed as a JSON payload, and failing
// that the category is "unknown".
func Describe(err error) (Category, string) {
	if err == nil {
		return "", ""
	}
	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category, categorized.Message()
	}

	text := strings.TrimSpace(err.Error())
	var p payload
	if strings.HasPrefix(text, "{") && json.Unmarshal([]byte(text), &p) == nil && p.Message != "" {
		category := Category(p.Category)
		if category == "" {
			category = CategoryUnknown
		}
		return category, p.Message
	}
	return CategoryUnknown, text
}
