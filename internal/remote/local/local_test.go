package local

import (
	"context"
	"path/filepath"
	"testing"

	"rollcall/internal/remote"
	"rollcall/internal/roster"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "nested", "rollcall.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestLocalStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("absent roster", func(t *testing.T) {
		_, ok, err := store.ReadRoster(ctx, "empty")
		if err != nil {
			t.Fatalf("ReadRoster() error = %v", err)
		}
		if ok {
			t.Fatal("expected no roster for an unknown event")
		}
	})

	t.Run("records keep insertion order", func(t *testing.T) {
		for _, p := range []roster.Participant{
			{ID: 2, Name: "Luis", Entity: "ONG B"},
			{ID: 1, Name: "Ana", Entity: "ONG A"},
			{ID: 3, Name: "Marta", Entity: "ONG C"},
		} {
			if err := store.WriteRecord(ctx, "ev", p); err != nil {
				t.Fatalf("WriteRecord(%d) error = %v", p.ID, err)
			}
		}
		if err := store.WriteRecord(ctx, "ev", roster.Participant{ID: 2, Name: "Luis", Entity: "ONG B", Attendance: roster.Present}); err != nil {
			t.Fatalf("WriteRecord(update) error = %v", err)
		}
		if err := store.DeleteRecord(ctx, "ev", 3); err != nil {
			t.Fatalf("DeleteRecord() error = %v", err)
		}

		got, ok, err := store.ReadRoster(ctx, "ev")
		if err != nil || !ok {
			t.Fatalf("ReadRoster() ok=%v err=%v", ok, err)
		}
		if len(got.Participants) != 2 {
			t.Fatalf("expected 2 participants, got %+v", got.Participants)
		}
		if got.Participants[0].ID != 2 || got.Participants[0].Attendance != roster.Present {
			t.Errorf("first participant = %+v", got.Participants[0])
		}
		if got.Participants[1].ID != 1 {
			t.Errorf("second participant = %+v", got.Participants[1])
		}
	})

	t.Run("whole roster overwrite", func(t *testing.T) {
		snapshot := roster.Snapshot{
			Participants: []roster.Participant{
				{ID: 7, Name: "Eva", Entity: "ONG D", Attendance: roster.Absent},
				{ID: 4, Name: "Raúl", Entity: "ONG E"},
			},
			CurrentEvent: "Asamblea",
			EventDate:    "2024-05-01",
		}
		if err := store.WriteRoster(ctx, "ev", snapshot); err != nil {
			t.Fatalf("WriteRoster() error = %v", err)
		}
		got, _, err := store.ReadRoster(ctx, "ev")
		if err != nil {
			t.Fatalf("ReadRoster() error = %v", err)
		}
		if got.CurrentEvent != "Asamblea" || got.EventDate != "2024-05-01" {
			t.Errorf("event details = %q %q", got.CurrentEvent, got.EventDate)
		}
		if len(got.Participants) != 2 || got.Participants[0] != snapshot.Participants[0] || got.Participants[1] != snapshot.Participants[1] {
			t.Errorf("participants = %+v", got.Participants)
		}
	})

	t.Run("delete all", func(t *testing.T) {
		if err := store.DeleteAll(ctx, "ev"); err != nil {
			t.Fatalf("DeleteAll() error = %v", err)
		}
		if _, ok, _ := store.ReadRoster(ctx, "ev"); ok {
			t.Fatal("expected roster to be gone")
		}
	})
}

func TestLocalStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollcall.db")
	ctx := context.Background()

	first, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	adapter := remote.NewAdapter(first, remote.Options{EventID: "ev"})
	rs := roster.NewStore()
	rs.AddListener(adapter)
	_, _ = rs.Add("Ana", "ONG A")
	_, _ = rs.Add("Luis", "ONG B")
	if err := adapter.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	adapter.Close()
	_ = first.Close()

	second, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	reloader := remote.NewAdapter(second, remote.Options{EventID: "ev"})
	defer reloader.Close()
	reloaded := roster.NewStore()
	if err := reloader.Load(ctx, reloaded); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if reloaded.Len() != 2 || reloaded.NextID() != 3 {
		t.Fatalf("reloaded %d participants, next id %d", reloaded.Len(), reloaded.NextID())
	}
}
