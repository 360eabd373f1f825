package roster

import (
	"strings"
	"sync"
)

// ChangeKind names the mutation that produced a Change.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeMarked   ChangeKind = "marked"
	ChangeReplaced ChangeKind = "replaced"
	ChangeHydrated ChangeKind = "hydrated"
	ChangeCleared  ChangeKind = "cleared"
)

// Change describes one committed mutation. Participant is set for added,
// removed and marked changes; Snapshot is the roster right after the change.
type Change struct {
	Kind        ChangeKind
	Participant Participant
	Snapshot    Snapshot
}

// Listener observes committed mutations in commit order. Listeners run on the
// mutating goroutine and must not mutate the Store.
type Listener interface {
	RosterChanged(Change)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Change)

func (f ListenerFunc) RosterChanged(c Change) { f(c) }

// Store is the authoritative in-memory roster. Every operation runs to
// completion before the next one starts.
type Store struct {
	// commitMu serializes mutations together with their notifications so that
	// listeners see changes in the order they were applied.
	commitMu sync.Mutex

	mu           sync.RWMutex
	participants []Participant
	currentEvent string
	eventDate    string
	ids          *Allocator

	listenersMu sync.RWMutex
	listeners   []Listener
}

func NewStore() *Store {
	return &Store{ids: NewAllocator()}
}

// AddListener registers l for all future changes.
func (s *Store) AddListener(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Add trims its inputs and appends a new unmarked participant.
func (s *Store) Add(name, entity string) (Participant, error) {
	var added Participant
	err := s.commit(func() ([]Change, error) {
		candidate := Candidate{Name: name, Entity: entity}.trimmed()
		if candidate.Name == "" || candidate.Entity == "" {
			return nil, &MalformedInputError{Reason: "name and entity are required"}
		}
		if IsDuplicate(candidate, s.participants) {
			return nil, &DuplicateError{Name: candidate.Name, Entity: candidate.Entity}
		}
		added = s.appendLocked(candidate)
		return []Change{{Kind: ChangeAdded, Participant: added, Snapshot: s.snapshotLocked()}}, nil
	})
	return added, err
}

// Import admits candidates in order, checking each one against the roster as
// amended by the candidates before it. Blank and duplicate candidates are
// skipped. It returns the participants actually added.
func (s *Store) Import(candidates []Candidate) []Participant {
	var added []Participant
	_ = s.commit(func() ([]Change, error) {
		var changes []Change
		for _, c := range candidates {
			c = c.trimmed()
			if c.Name == "" || c.Entity == "" || IsDuplicate(c, s.participants) {
				continue
			}
			p := s.appendLocked(c)
			added = append(added, p)
			changes = append(changes, Change{Kind: ChangeAdded, Participant: p, Snapshot: s.snapshotLocked()})
		}
		return changes, nil
	})
	return added
}

// Remove deletes the participant with the given id.
func (s *Store) Remove(id int) error {
	return s.commit(func() ([]Change, error) {
		idx := s.indexLocked(id)
		if idx < 0 {
			return nil, &NotFoundError{ID: id}
		}
		removed := s.participants[idx]
		s.participants = append(s.participants[:idx:idx], s.participants[idx+1:]...)
		return []Change{{Kind: ChangeRemoved, Participant: removed, Snapshot: s.snapshotLocked()}}, nil
	})
}

// MarkAttendance sets the participant's mark to Present or Absent.
func (s *Store) MarkAttendance(id int, value Attendance) error {
	if value != Present && value != Absent {
		return &MalformedInputError{Reason: "attendance must be present or absent"}
	}
	return s.commit(func() ([]Change, error) {
		idx := s.indexLocked(id)
		if idx < 0 {
			return nil, &NotFoundError{ID: id}
		}
		s.participants[idx].Attendance = value
		return []Change{{Kind: ChangeMarked, Participant: s.participants[idx], Snapshot: s.snapshotLocked()}}, nil
	})
}

// ReplaceAll swaps in a new participant list, keeping the event details.
// With recalibrateIDs the allocator restarts at max(id)+1; without it the
// allocator is only moved forward when the new ids would otherwise collide.
func (s *Store) ReplaceAll(participants []Participant, recalibrateIDs bool) {
	_ = s.commit(func() ([]Change, error) {
		s.replaceLocked(participants, recalibrateIDs)
		return []Change{{Kind: ChangeReplaced, Snapshot: s.snapshotLocked()}}, nil
	})
}

// Restore replaces the roster and event details from a shared snapshot and
// recalibrates ids.
func (s *Store) Restore(snapshot Snapshot) {
	_ = s.commit(func() ([]Change, error) {
		s.replaceLocked(snapshot.Participants, true)
		s.currentEvent, s.eventDate = snapshot.CurrentEvent, snapshot.EventDate
		return []Change{{Kind: ChangeReplaced, Snapshot: s.snapshotLocked()}}, nil
	})
}

// Hydrate is Restore for state that came from the remote store; the resulting
// change is not mirrored back.
func (s *Store) Hydrate(snapshot Snapshot) {
	_ = s.commit(func() ([]Change, error) {
		s.replaceLocked(snapshot.Participants, true)
		s.currentEvent, s.eventDate = snapshot.CurrentEvent, snapshot.EventDate
		return []Change{{Kind: ChangeHydrated, Snapshot: s.snapshotLocked()}}, nil
	})
}

// Refresh applies remote state announced while this session keeps issuing
// ids: the allocator is only ever raised. accept runs with mutations blocked;
// when it returns false nothing changes and Refresh reports false.
func (s *Store) Refresh(snapshot Snapshot, accept func() bool) bool {
	applied := false
	_ = s.commit(func() ([]Change, error) {
		if accept != nil && !accept() {
			return nil, nil
		}
		applied = true
		s.replaceLocked(snapshot.Participants, false)
		s.currentEvent, s.eventDate = snapshot.CurrentEvent, snapshot.EventDate
		return []Change{{Kind: ChangeHydrated, Snapshot: s.snapshotLocked()}}, nil
	})
	return applied
}

// Clear empties the roster, forgets the event details and restarts ids at 1.
func (s *Store) Clear() {
	_ = s.commit(func() ([]Change, error) {
		s.participants = nil
		s.currentEvent, s.eventDate = "", ""
		s.ids.Reset()
		return []Change{{Kind: ChangeCleared, Snapshot: s.snapshotLocked()}}, nil
	})
}

// SetEvent records the event name and date carried in shared snapshots.
func (s *Store) SetEvent(name, date string) {
	_ = s.commit(func() ([]Change, error) {
		s.currentEvent, s.eventDate = strings.TrimSpace(name), strings.TrimSpace(date)
		return []Change{{Kind: ChangeReplaced, Snapshot: s.snapshotLocked()}}, nil
	})
}

func (s *Store) Get(id int) (Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return Participant{}, &NotFoundError{ID: id}
	}
	return s.participants[idx], nil
}

// Participants returns a copy of the roster in insertion order.
func (s *Store) Participants() []Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Participant(nil), s.participants...)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants)
}

// NextID reports the id the next admitted participant will receive.
func (s *Store) NextID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ids.Peek()
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summarize(s.participants)
}

func (s *Store) commit(fn func() ([]Change, error)) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	changes, err := fn()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.listenersMu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenersMu.RUnlock()
	for _, change := range changes {
		for _, l := range listeners {
			l.RosterChanged(change)
		}
	}
	return nil
}

func (s *Store) appendLocked(c Candidate) Participant {
	p := Participant{ID: s.ids.Next(), Name: c.Name, Entity: c.Entity, Attendance: Unmarked}
	s.participants = append(s.participants, p)
	return p
}

func (s *Store) replaceLocked(participants []Participant, recalibrate bool) {
	next := make([]Participant, 0, len(participants))
	seen := make(map[int]struct{}, len(participants))
	for _, p := range participants {
		p.Name = strings.TrimSpace(p.Name)
		p.Entity = strings.TrimSpace(p.Entity)
		if !p.valid() {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		next = append(next, p)
	}
	s.participants = next
	if recalibrate {
		s.ids.Recalibrate(next)
	} else {
		s.ids.Raise(next)
	}
}

func (s *Store) indexLocked(id int) int {
	for i, p := range s.participants {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Participants: append([]Participant{}, s.participants...),
		CurrentEvent: s.currentEvent,
		EventDate:    s.eventDate,
	}
}
