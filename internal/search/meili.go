package search

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"rollcall/internal/roster"
)

const idxParticipants = "rollcall_participants"

// Meili indexes and queries participants in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	log     *slog.Logger
}

// NewMeili creates a Meilisearch client and configures the index. The
// client is returned even when Meilisearch is down; Healthy reports it.
func NewMeili(url, apiKey string, log *slog.Logger) *Meili {
	if log == nil {
		log = slog.Default()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		log:    log.With("component", "search"),
	}

	if _, err := m.client.Health(); err != nil {
		m.log.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxParticipants,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Debug("create index (may already exist)", "index", idxParticipants, "error", err)
	}

	index := m.client.Index(idxParticipants)
	filterable := []interface{}{"eventId", "attendance"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn("update filterable attributes", "index", idxParticipants, "error", err)
	}
	searchable := []string{"name", "entity"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn("update searchable attributes", "index", idxParticipants, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the participants of eventID.
func (m *Meili) Search(eventID string, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 50
	}

	filters := []string{fmt.Sprintf("eventId = %q", eventID)}
	if q.Attendance != nil {
		filters = append(filters, fmt.Sprintf("attendance = %q", q.Attendance.String()))
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              idxParticipants,
			Query:                 q.Text,
			Limit:                 limit,
			Filter:                filters,
			AttributesToHighlight: []string{"name", "entity"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		Name:   decodeString(hit, "name"),
		Entity: decodeString(hit, "entity"),
	}
	if raw, ok := hit["participantId"]; ok {
		_ = json.Unmarshal(raw, &r.ID)
	}
	if a, err := roster.ParseAttendance(decodeString(hit, "attendance")); err == nil {
		r.Attendance = a
	}
	name := decodeFormattedString(hit, "name")
	entity := decodeFormattedString(hit, "entity")
	if strings.Contains(name, "<mark>") || strings.Contains(entity, "<mark>") {
		r.Highlight = name + " · " + entity
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

// IndexParticipants adds or updates records.
func (m *Meili) IndexParticipants(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxParticipants).AddDocuments(records, nil)
	return err
}

// DeleteParticipant removes one record from the index.
func (m *Meili) DeleteParticipant(id string) error {
	_, err := m.client.Index(idxParticipants).DeleteDocument(id, nil)
	return err
}

func itoa(n int) string { return strconv.Itoa(n) }
