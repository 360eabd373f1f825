// Package importer stages externally sourced participant rows for review and
// merges them into the roster on confirmation.
package importer

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"rollcall/internal/roster"
)

// MaxRows caps how many eligible rows a single stage keeps.
const MaxRows = 1000

// Reconciler owns the import preview buffer between Stage and Confirm/Cancel.
type Reconciler struct {
	store *roster.Store

	mu      sync.Mutex
	preview []roster.Candidate
}

func NewReconciler(store *roster.Store) *Reconciler {
	return &Reconciler{store: store}
}

// Stage parses rows into candidates and replaces the preview buffer with them.
// The roster is not touched.
func (r *Reconciler) Stage(rows [][]any) []roster.Candidate {
	candidates := ParseRows(rows)

	r.mu.Lock()
	r.preview = candidates
	r.mu.Unlock()

	return append([]roster.Candidate(nil), candidates...)
}

// Preview returns a copy of the staged candidates.
func (r *Reconciler) Preview() []roster.Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]roster.Candidate(nil), r.preview...)
}

// Confirm admits the staged candidates into the roster, skipping duplicates of
// the roster and of earlier candidates, clears the buffer and returns how many
// participants were added.
func (r *Reconciler) Confirm() int {
	r.mu.Lock()
	staged := r.preview
	r.preview = nil
	r.mu.Unlock()

	if len(staged) == 0 {
		return 0
	}
	return len(r.store.Import(staged))
}

// Cancel discards the preview buffer.
func (r *Reconciler) Cancel() {
	r.mu.Lock()
	r.preview = nil
	r.mu.Unlock()
}

// ParseRows drops the header row, keeps rows whose first two cells are
// non-blank once trimmed, and stops after MaxRows eligible rows.
func ParseRows(rows [][]any) []roster.Candidate {
	if len(rows) <= 1 {
		return nil
	}
	var candidates []roster.Candidate
	for _, row := range rows[1:] {
		if len(row) < 2 {
			continue
		}
		name := cellText(row[0])
		entity := cellText(row[1])
		if name == "" || entity == "" {
			continue
		}
		candidates = append(candidates, roster.Candidate{Name: name, Entity: entity})
		if len(candidates) == MaxRows {
			break
		}
	}
	return candidates
}

// Cells converts decoded spreadsheet text rows into raw cell rows.
func Cells(rows [][]string) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = v
		}
		out[i] = cells
	}
	return out
}

func cellText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
