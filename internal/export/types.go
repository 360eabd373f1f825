// Package export renders the attendance report as plain text, PDF or the
// shareable JSON file.
package export

import (
	"errors"
	"time"

	"rollcall/internal/roster"
)

// Format represents the export output format
type Format string

const (
	FormatText Format = "text"
	FormatPDF  Format = "pdf"
	FormatJSON Format = "json"
)

// ParseFormat accepts "text", "txt", "pdf" and "json".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "text", "txt":
		return FormatText, nil
	case "pdf":
		return FormatPDF, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", &roster.MalformedInputError{Reason: "unknown export format " + s}
	}
}

// Report groups the roster by attendance.
type Report struct {
	Title       string
	EventDate   string
	Present     []roster.Participant
	Absent      []roster.Participant
	Unmarked    []roster.Participant
	Summary     roster.Summary
	GeneratedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
