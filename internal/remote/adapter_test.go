package remote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"rollcall/internal/roster"
)

type flakyBackend struct {
	*Memory
	mu    sync.Mutex
	err   error
	calls []string
}

func (b *flakyBackend) record(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, op)
	return b.err
}

func (b *flakyBackend) WriteRecord(ctx context.Context, eventID string, p roster.Participant) error {
	if err := b.record("write_record"); err != nil {
		return err
	}
	return b.Memory.WriteRecord(ctx, eventID, p)
}

func (b *flakyBackend) WriteRoster(ctx context.Context, eventID string, s roster.Snapshot) error {
	if err := b.record("write_roster"); err != nil {
		return err
	}
	return b.Memory.WriteRoster(ctx, eventID, s)
}

func (b *flakyBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func newTestAdapter(t *testing.T, backend Backend) (*Adapter, *roster.Store) {
	t.Helper()
	adapter := NewAdapter(backend, Options{EventID: "test", PushTimeout: time.Second, PullTimeout: time.Second})
	t.Cleanup(adapter.Close)
	store := roster.NewStore()
	store.AddListener(adapter)
	return adapter, store
}

func flush(t *testing.T, a *Adapter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

func TestAdapterMirrorsLocalChanges(t *testing.T) {
	backend := NewMemory()
	adapter, store := newTestAdapter(t, backend)

	ana, _ := store.Add("Ana", "ONG A")
	luis, _ := store.Add("Luis", "ONG B")
	_, _ = store.Add("Marta", "ONG C")
	if err := store.MarkAttendance(ana.ID, roster.Present); err != nil {
		t.Fatalf("MarkAttendance() error = %v", err)
	}
	if err := store.Remove(luis.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	flush(t, adapter)

	got, ok, err := backend.ReadRoster(context.Background(), "test")
	if err != nil || !ok {
		t.Fatalf("ReadRoster() ok=%v err=%v", ok, err)
	}
	want := store.Participants()
	if len(got.Participants) != len(want) {
		t.Fatalf("remote has %d participants, want %d", len(got.Participants), len(want))
	}
	for i := range want {
		if got.Participants[i] != want[i] {
			t.Errorf("participant %d = %+v, want %+v", i, got.Participants[i], want[i])
		}
	}
}

func TestAdapterClearLeavesInitialisedEmptyRoster(t *testing.T) {
	backend := NewMemory()
	adapter, store := newTestAdapter(t, backend)

	store.SetEvent("Asamblea", "2024-05-01")
	_, _ = store.Add("Ana", "ONG A")
	store.Clear()
	flush(t, adapter)

	got, ok, err := backend.ReadRoster(context.Background(), "test")
	if err != nil {
		t.Fatalf("ReadRoster() error = %v", err)
	}
	if !ok || len(got.Participants) != 0 || got.CurrentEvent != "" {
		t.Fatalf("expected initialised empty roster, got ok=%v %+v", ok, got)
	}
}

func TestAdapterDoesNotWriteBackHydration(t *testing.T) {
	backend := &flakyBackend{Memory: NewMemory()}
	adapter, store := newTestAdapter(t, backend)

	store.Hydrate(roster.Snapshot{Participants: []roster.Participant{{ID: 4, Name: "Ana", Entity: "ONG A"}}})
	flush(t, adapter)

	if calls := backend.Calls(); len(calls) != 0 {
		t.Fatalf("expected no writes for a hydration, got %v", calls)
	}
}

func TestAdapterPushFailureIsReportedNotFatal(t *testing.T) {
	backend := &flakyBackend{Memory: NewMemory(), err: errors.New("connection refused")}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	adapter := NewAdapter(backend, Options{EventID: "test", Metrics: metrics})
	t.Cleanup(adapter.Close)
	store := roster.NewStore()
	store.AddListener(adapter)

	p, err := store.Add("Ana", "ONG A")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := adapter.Flush(ctx); !errors.Is(err, ErrRemoteSync) {
		t.Fatalf("Flush() error = %v, want ErrRemoteSync", err)
	}
	if err := adapter.Flush(ctx); err != nil {
		t.Fatalf("second Flush() error = %v, want nil once reported", err)
	}

	select {
	case res := <-adapter.Results():
		if !errors.Is(res.Err, ErrRemoteSync) {
			t.Fatalf("expected ErrRemoteSync, got %v", res.Err)
		}
		var syncErr *RemoteSyncError
		if !errors.As(res.Err, &syncErr) || syncErr.Op != "write_record" {
			t.Fatalf("unexpected error %#v", res.Err)
		}
		if res.ParticipantID != p.ID || res.Kind != roster.ChangeAdded {
			t.Fatalf("unexpected result %+v", res)
		}
	default:
		t.Fatal("expected a push result")
	}

	if store.Len() != 1 {
		t.Fatal("local roster must stay authoritative after a failed push")
	}
	if got := testutil.ToFloat64(metrics.Operations.WithLabelValues("memory", "write_record", "error")); got != 1 {
		t.Fatalf("error counter = %v, want 1", got)
	}
	if calls := backend.Calls(); len(calls) != 1 {
		t.Fatalf("failed pushes must not be retried, calls = %v", calls)
	}
}

func TestAdapterPullSelfHeals(t *testing.T) {
	backend := NewMemory()
	adapter, _ := newTestAdapter(t, backend)

	snapshot, err := adapter.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if len(snapshot.Participants) != 0 {
		t.Fatalf("expected empty roster, got %+v", snapshot)
	}
	if _, ok, _ := backend.ReadRoster(context.Background(), "test"); !ok {
		t.Fatal("expected Pull to initialise the remote roster")
	}
}

func TestAdapterLoadRecalibratesIDs(t *testing.T) {
	backend := NewMemory()
	err := backend.WriteRoster(context.Background(), "test", roster.Snapshot{
		Participants: []roster.Participant{
			{ID: 3, Name: "A", Entity: "X"},
			{ID: 7, Name: "B", Entity: "X"},
			{ID: 5, Name: "C", Entity: "X"},
		},
		CurrentEvent: "Asamblea",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	adapter, store := newTestAdapter(t, backend)

	if err := adapter.Load(context.Background(), store); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if store.NextID() != 8 {
		t.Fatalf("NextID() = %d, want 8", store.NextID())
	}
	if store.Snapshot().CurrentEvent != "Asamblea" {
		t.Fatal("expected event details to be hydrated")
	}
}

func TestAdapterSubscribeConvergesClients(t *testing.T) {
	backend := NewMemory()
	adapterA, storeA := newTestAdapter(t, backend)
	adapterB, storeB := newTestAdapter(t, backend)

	var hydrationsA int
	var mu sync.Mutex
	storeA.AddListener(roster.ListenerFunc(func(c roster.Change) {
		if c.Kind == roster.ChangeHydrated {
			mu.Lock()
			hydrationsA++
			mu.Unlock()
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if !adapterA.Subscribe(ctx, storeA) || !adapterB.Subscribe(ctx, storeB) {
		t.Fatal("memory backend should support subscriptions")
	}
	// Give both subscription goroutines a moment to register.
	time.Sleep(50 * time.Millisecond)

	_, _ = storeA.Add("Ana", "ONG A")
	flush(t, adapterA)

	deadline := time.Now().Add(2 * time.Second)
	for storeB.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if storeB.Len() != 1 {
		t.Fatalf("client B did not converge, has %d participants", storeB.Len())
	}
	if storeB.NextID() != 2 {
		t.Fatalf("client B NextID() = %d, want 2", storeB.NextID())
	}

	mu.Lock()
	defer mu.Unlock()
	if hydrationsA != 0 {
		t.Fatalf("client A rehydrated from its own write %d times", hydrationsA)
	}
}

func TestAdapterFlushAfterClose(t *testing.T) {
	adapter := NewAdapter(NewMemory(), Options{})
	adapter.Close()
	if err := adapter.Flush(context.Background()); err == nil {
		t.Fatal("expected Flush on a closed adapter to fail")
	}
	if adapter.EventID() != DefaultEventID {
		t.Fatalf("EventID() = %q, want %q", adapter.EventID(), DefaultEventID)
	}
}

// gatedBackend holds WriteRecord until release is closed.
type gatedBackend struct {
	*Memory
	entered chan struct{}
	release chan struct{}
}

func (b *gatedBackend) WriteRecord(ctx context.Context, eventID string, p roster.Participant) error {
	b.entered <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.Memory.WriteRecord(ctx, eventID, p)
}

func TestAdapterDefersRehydrateWhilePushesAreQueued(t *testing.T) {
	shared := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := shared.WriteRoster(ctx, "test", roster.Snapshot{
		Participants: []roster.Participant{{ID: 1, Name: "P", Entity: "X"}},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	gated := &gatedBackend{Memory: shared, entered: make(chan struct{}, 1), release: make(chan struct{})}
	adapterA := NewAdapter(gated, Options{EventID: "test", PushTimeout: 5 * time.Second, PullTimeout: time.Second})
	t.Cleanup(adapterA.Close)
	storeA := roster.NewStore()
	storeA.AddListener(adapterA)
	adapterB, storeB := newTestAdapter(t, shared)

	if err := adapterA.Load(ctx, storeA); err != nil {
		t.Fatalf("A Load() error = %v", err)
	}
	if err := adapterB.Load(ctx, storeB); err != nil {
		t.Fatalf("B Load() error = %v", err)
	}
	if !adapterA.Subscribe(ctx, storeA) {
		t.Fatal("expected subscription support")
	}
	time.Sleep(50 * time.Millisecond)

	x, err := storeA.Add("X", "X")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	<-gated.entered

	if err := storeB.MarkAttendance(1, roster.Present); err != nil {
		t.Fatalf("MarkAttendance() error = %v", err)
	}
	flush(t, adapterB)
	// Let A observe B's write while its own push is still held.
	time.Sleep(100 * time.Millisecond)

	if storeA.Len() != 2 {
		t.Fatalf("A dropped its queued participant, has %d", storeA.Len())
	}

	close(gated.release)
	flush(t, adapterA)

	remoteState, _, err := shared.ReadRoster(ctx, "test")
	if err != nil {
		t.Fatalf("ReadRoster() error = %v", err)
	}
	local := storeA.Participants()
	if len(local) != len(remoteState.Participants) {
		t.Fatalf("A diverged: local=%+v remote=%+v", local, remoteState.Participants)
	}
	for i := range local {
		if local[i] != remoteState.Participants[i] {
			t.Fatalf("A diverged at %d: local=%+v remote=%+v", i, local[i], remoteState.Participants[i])
		}
	}
	if p, _ := storeA.Get(1); p.Attendance != roster.Present {
		t.Fatalf("A missed the remote change: %+v", p)
	}

	y, err := storeA.Add("Y", "X")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if y.ID <= x.ID {
		t.Fatalf("id %d reused or lowered after %d", y.ID, x.ID)
	}
	flush(t, adapterA)
	if after, _, _ := shared.ReadRoster(ctx, "test"); len(after.Participants) != 3 {
		t.Fatalf("remote lost a participant: %+v", after.Participants)
	}
}

func TestAdapterRefreshNeverLowersIDs(t *testing.T) {
	shared := NewMemory()
	adapterA, storeA := newTestAdapter(t, shared)
	adapterB, storeB := newTestAdapter(t, shared)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if !adapterA.Subscribe(ctx, storeA) {
		t.Fatal("expected subscription support")
	}
	time.Sleep(50 * time.Millisecond)

	for _, name := range []string{"A", "B", "C"} {
		_, _ = storeA.Add(name, "X")
	}
	flush(t, adapterA)
	if err := adapterB.Load(ctx, storeB); err != nil {
		t.Fatalf("B Load() error = %v", err)
	}
	if err := storeB.Remove(3); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	flush(t, adapterB)

	deadline := time.Now().Add(2 * time.Second)
	for storeA.Len() != 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if storeA.Len() != 2 {
		t.Fatalf("A did not see the removal, has %d", storeA.Len())
	}
	if storeA.NextID() != 4 {
		t.Fatalf("NextID() = %d, want 4 after a remote removal", storeA.NextID())
	}
}
