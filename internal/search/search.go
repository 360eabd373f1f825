// Package search finds participants by name or entity. Meilisearch serves
// queries when it is configured and healthy; otherwise the live roster is
// filtered in memory.
package search

import "rollcall/internal/roster"

// Result is a single search hit returned to the caller.
type Result struct {
	ID         int               `json:"id"`
	Name       string            `json:"name"`
	Entity     string            `json:"entity"`
	Attendance roster.Attendance `json:"attendance"`
	Highlight  string            `json:"highlight,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	Attendance *roster.Attendance // nil = any
	Limit      int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// Record is the document indexed for one participant of one event.
type Record struct {
	ID            string `json:"id"`
	EventID       string `json:"eventId"`
	ParticipantID int    `json:"participantId"`
	Name          string `json:"name"`
	Entity        string `json:"entity"`
	Attendance    string `json:"attendance"`
}

func recordID(eventID string, participantID int) string {
	return eventID + "-" + itoa(participantID)
}
