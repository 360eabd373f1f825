package export

import (
	"fmt"
	"strings"
	"time"

	"rollcall/internal/roster"
)

const defaultTitle = "Attendance list"

// BuildReport groups snapshot participants by attendance, keeping roster
// order inside each group.
func BuildReport(snapshot roster.Snapshot, now time.Time) Report {
	r := Report{
		Title:       snapshot.CurrentEvent,
		EventDate:   snapshot.EventDate,
		Summary:     roster.Summarize(snapshot.Participants),
		GeneratedAt: now,
	}
	if r.Title == "" {
		r.Title = defaultTitle
	}
	for _, p := range snapshot.Participants {
		switch p.Attendance {
		case roster.Present:
			r.Present = append(r.Present, p)
		case roster.Absent:
			r.Absent = append(r.Absent, p)
		default:
			r.Unmarked = append(r.Unmarked, p)
		}
	}
	return r
}

// Text renders the plain-text report. The unmarked group only appears when
// it has members.
func Text(r Report) string {
	var b strings.Builder

	heading := strings.ToUpper(r.Title)
	b.WriteString(heading + "\n")
	b.WriteString(strings.Repeat("=", len([]rune(heading))) + "\n")
	if r.EventDate != "" {
		b.WriteString("Date: " + r.EventDate + "\n")
	}
	b.WriteString("\n")

	writeGroup(&b, "PRESENT", r.Present)
	b.WriteString("\n")
	writeGroup(&b, "ABSENT", r.Absent)
	if len(r.Unmarked) > 0 {
		b.WriteString("\n")
		writeGroup(&b, "UNMARKED", r.Unmarked)
	}

	b.WriteString("\nSUMMARY:\n")
	b.WriteString("--------\n")
	fmt.Fprintf(&b, "Total participants: %d\n", r.Summary.Total)
	fmt.Fprintf(&b, "Present: %d\n", r.Summary.Present)
	fmt.Fprintf(&b, "Absent: %d\n", r.Summary.Absent)
	fmt.Fprintf(&b, "Attendance: %d%%\n", r.Summary.Percentage)
	return b.String()
}

func writeGroup(b *strings.Builder, label string, participants []roster.Participant) {
	title := fmt.Sprintf("%s (%d):", label, len(participants))
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("-", len(title)) + "\n")
	for _, p := range participants {
		fmt.Fprintf(b, "• %s - %s\n", p.Name, p.Entity)
	}
}
