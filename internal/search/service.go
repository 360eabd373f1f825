package search

import (
	"log/slog"
	"strings"
	"sync"

	"rollcall/internal/roster"
)

const indexQueueSize = 256

// Indexer is the part of Meili the Service writes through.
type Indexer interface {
	Healthy() bool
	IndexParticipants(records []Record) error
	DeleteParticipant(id string) error
}

// Searcher is the part of Meili the Service reads through.
type Searcher interface {
	Healthy() bool
	Search(eventID string, q Query) ([]Result, int, error)
}

// Backend is implemented by *Meili.
type Backend interface {
	Indexer
	Searcher
}

// Service keeps the index in step with the roster and answers queries,
// falling back to filtering the roster in memory.
type Service struct {
	store   *roster.Store
	eventID string
	backend Backend
	log     *slog.Logger

	mu      sync.Mutex
	indexed map[int]struct{}

	qmu    sync.Mutex
	closed bool
	jobs   chan func()
	done   chan struct{}
}

var _ roster.Listener = (*Service)(nil)

// NewService creates a search service. backend may be nil when Meilisearch
// is not configured.
func NewService(store *roster.Store, eventID string, backend Backend, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		store:   store,
		eventID: eventID,
		backend: backend,
		log:     log.With("component", "search"),
		indexed: map[int]struct{}{},
	}
	if backend != nil {
		s.jobs = make(chan func(), indexQueueSize)
		s.done = make(chan struct{})
		go s.run()
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise filters the roster.
func (s *Service) Search(q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if s.backend != nil && s.backend.Healthy() {
		results, total, err := s.backend.Search(s.eventID, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "meilisearch"}
		}
		s.log.Warn("meilisearch error, falling back to roster filter", "error", err)
	}

	results := Filter(s.store.Participants(), q)
	return Response{Results: results, Total: len(results), Query: q.Text, Source: "memory"}
}

// Filter matches participants whose name or entity contains q.Text, ignoring
// case. An empty text matches everyone.
func Filter(participants []roster.Participant, q Query) []Result {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	results := []Result{}
	for _, p := range participants {
		if q.Attendance != nil && p.Attendance != *q.Attendance {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(p.Name), needle) &&
			!strings.Contains(strings.ToLower(p.Entity), needle) {
			continue
		}
		results = append(results, Result{ID: p.ID, Name: p.Name, Entity: p.Entity, Attendance: p.Attendance})
		if q.Limit > 0 && len(results) == q.Limit {
			break
		}
	}
	return results
}

// RosterChanged mirrors the change into the index (fire-and-forget).
func (s *Service) RosterChanged(c roster.Change) {
	if s.backend == nil {
		return
	}
	switch c.Kind {
	case roster.ChangeAdded, roster.ChangeMarked:
		p := c.Participant
		s.enqueue(func() { s.index([]roster.Participant{p}, false) })
	case roster.ChangeRemoved:
		id := c.Participant.ID
		s.enqueue(func() { s.remove([]int{id}) })
	default:
		participants := c.Snapshot.Participants
		s.enqueue(func() { s.index(participants, true) })
	}
}

// Reindex pushes the whole roster to the index.
func (s *Service) Reindex() {
	if s.backend == nil {
		return
	}
	participants := s.store.Participants()
	s.enqueue(func() { s.index(participants, true) })
}

// Close stops the index worker after the queued updates.
func (s *Service) Close() {
	if s.jobs == nil {
		return
	}
	s.qmu.Lock()
	if !s.closed {
		s.closed = true
		close(s.jobs)
	}
	s.qmu.Unlock()
	<-s.done
}

func (s *Service) enqueue(job func()) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.jobs <- job:
	default:
		s.log.Warn("index queue full, update dropped")
	}
}

func (s *Service) run() {
	defer close(s.done)
	for job := range s.jobs {
		if !s.backend.Healthy() {
			continue
		}
		job()
	}
}

// index adds participants; with replace it first removes records for
// participants no longer present.
func (s *Service) index(participants []roster.Participant, replace bool) {
	if replace {
		keep := make(map[int]struct{}, len(participants))
		for _, p := range participants {
			keep[p.ID] = struct{}{}
		}
		var stale []int
		s.mu.Lock()
		for id := range s.indexed {
			if _, ok := keep[id]; !ok {
				stale = append(stale, id)
			}
		}
		s.mu.Unlock()
		s.remove(stale)
	}

	records := make([]Record, 0, len(participants))
	for _, p := range participants {
		records = append(records, Record{
			ID:            recordID(s.eventID, p.ID),
			EventID:       s.eventID,
			ParticipantID: p.ID,
			Name:          p.Name,
			Entity:        p.Entity,
			Attendance:    p.Attendance.String(),
		})
	}
	if err := s.backend.IndexParticipants(records); err != nil {
		s.log.Warn("index participants", "count", len(records), "error", err)
		return
	}
	s.mu.Lock()
	for _, p := range participants {
		s.indexed[p.ID] = struct{}{}
	}
	s.mu.Unlock()
}

func (s *Service) remove(ids []int) {
	for _, id := range ids {
		if err := s.backend.DeleteParticipant(recordID(s.eventID, id)); err != nil {
			s.log.Warn("delete participant from index", "participant_id", id, "error", err)
			continue
		}
		s.mu.Lock()
		delete(s.indexed, id)
		s.mu.Unlock()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
