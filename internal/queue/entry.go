package queue

import "shrink/pkg/imgutil"

// Status represents the lifecycle of a queue entry.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusNotModified  Status = "not_modified"
	StatusSuccess      Status = "success"
	StatusFail         Status = "fail"
	StatusNotSupported Status = "not_supported"
)

// Terminal reports whether the driver is done with an entry in this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusNotModified, StatusSuccess, StatusFail, StatusNotSupported:
		return true
	default:
		return false
	}
}

// Entry is one tracked file. Optional fields are nil until a run sets them.
type Entry struct {
	Status Status
	// Path identifies the entry and is unique within a queue.
	Path string
	// Original is the conversion source; empty for plain optimize entries.
	Original string
	Size     *int64
	Savings  *float64
	Diff     *float64
	Message  string
	// Hash is the backup key of the pre-processed original.
	Hash string
}

// IsConversion reports whether the entry is a fanout conversion target.
func (e Entry) IsConversion() bool {
	return e.Original != ""
}

// Format returns the format of the file the entry writes.
func (e Entry) Format() imgutil.Format {
	return imgutil.FormatFromPath(e.Path)
}

// clear drops every derived field, keeping Path and Original.
func (e *Entry) clear() {
	e.Size = nil
	e.Savings = nil
	e.Diff = nil
	e.Message = ""
	e.Hash = ""
}

func ptr[T any](v T) *T {
	return &v
}
