package search

import (
	"errors"
	"sort"
	"sync"
	"testing"

	"rollcall/internal/roster"
)

type fakeBackend struct {
	mu        sync.Mutex
	healthy   bool
	docs      map[string]Record
	searchErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{healthy: true, docs: map[string]Record{}}
}

func (f *fakeBackend) Healthy() bool { return f.healthy }

func (f *fakeBackend) IndexParticipants(records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		f.docs[r.ID] = r
	}
	return nil
}

func (f *fakeBackend) DeleteParticipant(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

func (f *fakeBackend) Search(eventID string, q Query) ([]Result, int, error) {
	if f.searchErr != nil {
		return nil, 0, f.searchErr
	}
	return []Result{{ID: 99, Name: "from index"}}, 1, nil
}

func (f *fakeBackend) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func TestFilter(t *testing.T) {
	present := roster.Present
	participants := []roster.Participant{
		{ID: 1, Name: "Ana Ruiz", Entity: "ONG A", Attendance: roster.Present},
		{ID: 2, Name: "Luis", Entity: "Cruz Roja", Attendance: roster.Absent},
		{ID: 3, Name: "Marta", Entity: "ong b"},
	}

	tests := []struct {
		name string
		q    Query
		want []int
	}{
		{"empty matches all", Query{}, []int{1, 2, 3}},
		{"name substring", Query{Text: "ruiz"}, []int{1}},
		{"entity case-insensitive", Query{Text: "ONG"}, []int{1, 3}},
		{"attendance filter", Query{Text: "ong", Attendance: &present}, []int{1}},
		{"limit", Query{Limit: 2}, []int{1, 2}},
		{"no match", Query{Text: "zzz"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(participants, tt.q)
			if len(got) != len(tt.want) {
				t.Fatalf("Filter() = %+v, want ids %v", got, tt.want)
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("result %d id = %d, want %d", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestServiceFallsBackToRoster(t *testing.T) {
	store := roster.NewStore()
	_, _ = store.Add("Ana", "ONG A")

	svc := NewService(store, "ev", nil, nil)
	resp := svc.Search(Query{Text: " ana "})
	if resp.Source != "memory" || resp.Total != 1 || resp.Query != "ana" {
		t.Fatalf("unexpected response %+v", resp)
	}

	backend := newFakeBackend()
	backend.searchErr = errors.New("boom")
	svc = NewService(store, "ev", backend, nil)
	defer svc.Close()
	if resp := svc.Search(Query{Text: "ana"}); resp.Source != "memory" {
		t.Fatalf("expected fallback on backend error, got %+v", resp)
	}

	backend.searchErr = nil
	if resp := svc.Search(Query{Text: "ana"}); resp.Source != "meilisearch" || resp.Results[0].ID != 99 {
		t.Fatalf("expected index results, got %+v", resp)
	}
}

func TestServiceKeepsIndexInStep(t *testing.T) {
	store := roster.NewStore()
	backend := newFakeBackend()
	svc := NewService(store, "ev", backend, nil)
	store.AddListener(svc)

	ana, _ := store.Add("Ana", "ONG A")
	luis, _ := store.Add("Luis", "ONG B")
	_ = store.MarkAttendance(ana.ID, roster.Present)
	_ = store.Remove(luis.ID)
	store.ReplaceAll([]roster.Participant{
		{ID: ana.ID, Name: "Ana", Entity: "ONG A", Attendance: roster.Present},
		{ID: 9, Name: "Eva", Entity: "ONG C"},
	}, true)
	svc.Close()

	got := backend.ids()
	want := []string{"ev-1", "ev-9"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("indexed ids = %v, want %v", got, want)
	}
	if backend.docs["ev-1"].Attendance != "present" {
		t.Fatalf("expected updated attendance, got %+v", backend.docs["ev-1"])
	}
}
