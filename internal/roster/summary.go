package roster

import "math"

// Summary holds the derived attendance counts of a roster.
type Summary struct {
	Total      int `json:"total"`
	Present    int `json:"present"`
	Absent     int `json:"absent"`
	Unmarked   int `json:"unmarked"`
	Percentage int `json:"percentage"`
}

// Summarize counts attendance marks. Percentage is present/total rounded to the
// nearest whole percent, and 0 for an empty roster.
func Summarize(participants []Participant) Summary {
	summary := Summary{Total: len(participants)}
	for _, p := range participants {
		switch p.Attendance {
		case Present:
			summary.Present++
		case Absent:
			summary.Absent++
		default:
			summary.Unmarked++
		}
	}
	if summary.Total > 0 {
		summary.Percentage = int(math.Round(float64(summary.Present) * 100 / float64(summary.Total)))
	}
	return summary
}
