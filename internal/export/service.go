package export

import (
	"context"
	"fmt"
	"time"

	"rollcall/internal/roster"
)

type pdfRenderer func(ctx context.Context, html, title string) (*Result, error)

// Service produces report exports from roster snapshots.
type Service struct {
	now       func() time.Time
	renderPDF pdfRenderer
}

// NewService creates a new export service
func NewService() *Service {
	return &Service{now: time.Now, renderPDF: exportPDF}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, snapshot roster.Snapshot, format Format) (*Result, error) {
	report := BuildReport(snapshot, s.now())
	name := sanitizeFilename(report.Title)

	switch format {
	case FormatText:
		return &Result{
			Data:     []byte(Text(report)),
			Filename: name + ".txt",
			MimeType: "text/plain; charset=utf-8",
		}, nil
	case FormatJSON:
		data, err := roster.EncodeSnapshot(snapshot)
		if err != nil {
			return nil, fmt.Errorf("encode snapshot: %w", err)
		}
		return &Result{Data: data, Filename: name + ".json", MimeType: "application/json"}, nil
	case FormatPDF:
		html, err := RenderReportHTML(report)
		if err != nil {
			return nil, fmt.Errorf("render report html: %w", err)
		}
		return s.renderPDF(ctx, html, report.Title)
	default:
		return nil, &roster.MalformedInputError{Reason: "unknown export format " + string(format)}
	}
}
