package remote

import (
	"context"
	"sync"

	"rollcall/internal/roster"
)

// Memory is the local-only backend: state lives in the process and is shared
// only by adapters holding the same Memory. It also announces changes, which
// makes it a stand-in for the realtime backends in tests.
type Memory struct {
	mu     sync.Mutex
	events map[string]*memoryEvent
	subs   map[string][]chan string
}

type memoryEvent struct {
	order        []int
	records      map[int]roster.Participant
	currentEvent string
	eventDate    string
}

var (
	_ Backend    = (*Memory)(nil)
	_ Subscriber = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		events: map[string]*memoryEvent{},
		subs:   map[string][]chan string{},
	}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) WriteRecord(ctx context.Context, eventID string, p roster.Participant) error {
	m.mu.Lock()
	ev := m.eventLocked(eventID)
	if _, ok := ev.records[p.ID]; !ok {
		ev.order = append(ev.order, p.ID)
	}
	ev.records[p.ID] = p
	m.mu.Unlock()

	m.announce(eventID, OriginFrom(ctx))
	return nil
}

func (m *Memory) DeleteRecord(ctx context.Context, eventID string, id int) error {
	m.mu.Lock()
	ev := m.eventLocked(eventID)
	if _, ok := ev.records[id]; ok {
		delete(ev.records, id)
		for i, existing := range ev.order {
			if existing == id {
				ev.order = append(ev.order[:i:i], ev.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	m.announce(eventID, OriginFrom(ctx))
	return nil
}

func (m *Memory) WriteRoster(ctx context.Context, eventID string, snapshot roster.Snapshot) error {
	m.mu.Lock()
	ev := &memoryEvent{
		records:      make(map[int]roster.Participant, len(snapshot.Participants)),
		currentEvent: snapshot.CurrentEvent,
		eventDate:    snapshot.EventDate,
	}
	for _, p := range snapshot.Participants {
		if _, ok := ev.records[p.ID]; !ok {
			ev.order = append(ev.order, p.ID)
		}
		ev.records[p.ID] = p
	}
	m.events[eventID] = ev
	m.mu.Unlock()

	m.announce(eventID, OriginFrom(ctx))
	return nil
}

func (m *Memory) ReadRoster(ctx context.Context, eventID string) (roster.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[eventID]
	if !ok {
		return roster.Snapshot{}, false, nil
	}
	snapshot := roster.Snapshot{
		Participants: make([]roster.Participant, 0, len(ev.order)),
		CurrentEvent: ev.currentEvent,
		EventDate:    ev.eventDate,
	}
	for _, id := range ev.order {
		snapshot.Participants = append(snapshot.Participants, ev.records[id])
	}
	return snapshot, true, nil
}

func (m *Memory) DeleteAll(ctx context.Context, eventID string) error {
	m.mu.Lock()
	delete(m.events, eventID)
	m.mu.Unlock()

	m.announce(eventID, OriginFrom(ctx))
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// Subscribe delivers the origin of every later write to eventID.
func (m *Memory) Subscribe(ctx context.Context, eventID string, fn func(origin string)) error {
	ch := make(chan string, 64)

	m.mu.Lock()
	m.subs[eventID] = append(m.subs[eventID], ch)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		subs := m.subs[eventID]
		for i, c := range subs {
			if c == ch {
				m.subs[eventID] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case origin := <-ch:
			fn(origin)
		}
	}
}

func (m *Memory) eventLocked(eventID string) *memoryEvent {
	ev, ok := m.events[eventID]
	if !ok {
		ev = &memoryEvent{records: map[int]roster.Participant{}}
		m.events[eventID] = ev
	}
	return ev
}

func (m *Memory) announce(eventID, origin string) {
	m.mu.Lock()
	subs := append([]chan string(nil), m.subs[eventID]...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- origin:
		default:
		}
	}
}
