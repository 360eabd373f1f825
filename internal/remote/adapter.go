package remote

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/roster"
)

const (
	DefaultEventID     = "default"
	defaultPushTimeout = 5 * time.Second
	defaultPullTimeout = 10 * time.Second
	resultBuffer       = 64
)

var errAdapterClosed = errors.New("adapter closed")

type Options struct {
	EventID     string
	PushTimeout time.Duration
	PullTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *Metrics
}

// Result reports the outcome of one background push.
type Result struct {
	Op            string
	Kind          roster.ChangeKind
	ParticipantID int
	Err           error
}

type job struct {
	op       string
	change   roster.Change
	flushed  chan error
	enqueued time.Time
}

type subscription struct {
	ctx   context.Context
	store *roster.Store
}

// Adapter is a roster.Listener that mirrors every local change to a Backend
// from a single background worker. Callers never wait for a push; failures
// are logged, counted and offered on Results.
//
// Remote changes announced while local pushes are outstanding are not applied
// until the worker drains: the remote state would not contain them yet, and
// their echoes carry this adapter's origin.
type Adapter struct {
	backend Backend
	eventID string
	origin  string
	opts    Options
	log     *slog.Logger

	mu          sync.Mutex
	queue       []job
	outstanding int
	failed      error
	dirty       bool
	sub         *subscription
	closed      bool
	wake        chan struct{}
	done        chan struct{}

	refreshMu sync.Mutex

	results chan Result
}

var _ roster.Listener = (*Adapter)(nil)

// NewAdapter starts the push worker. Close stops it after draining the queue.
func NewAdapter(backend Backend, opts Options) *Adapter {
	if opts.EventID == "" {
		opts.EventID = DefaultEventID
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = defaultPushTimeout
	}
	if opts.PullTimeout <= 0 {
		opts.PullTimeout = defaultPullTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	a := &Adapter{
		backend: backend,
		eventID: opts.EventID,
		origin:  uuid.NewString(),
		opts:    opts,
		log:     log.With("component", "remote", "backend", backend.Name(), "event_id", opts.EventID),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		results: make(chan Result, resultBuffer),
	}
	go a.run()
	return a
}

func (a *Adapter) Backend() Backend { return a.backend }

func (a *Adapter) EventID() string { return a.eventID }

// Origin identifies this adapter's writes to subscribers.
func (a *Adapter) Origin() string { return a.origin }

// Results delivers push outcomes. Results are dropped when nobody reads.
func (a *Adapter) Results() <-chan Result { return a.results }

// RosterChanged queues the write that mirrors c. Hydrations came from the
// remote store and are not written back.
func (a *Adapter) RosterChanged(c roster.Change) {
	var op string
	switch c.Kind {
	case roster.ChangeAdded, roster.ChangeMarked:
		op = "write_record"
	case roster.ChangeRemoved:
		op = "delete_record"
	case roster.ChangeReplaced:
		op = "write_roster"
	case roster.ChangeCleared:
		op = "clear"
	default:
		return
	}
	a.enqueue(job{op: op, change: c, enqueued: time.Now()})
}

// Flush waits until every push queued before the call has been attempted and
// returns the first push failure since the previous Flush.
func (a *Adapter) Flush(ctx context.Context) error {
	marker := job{op: "flush", flushed: make(chan error, 1)}
	if !a.enqueue(marker) {
		return errAdapterClosed
	}
	select {
	case err := <-marker.flushed:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and stops the worker.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	a.mu.Unlock()
	a.signal()
	<-a.done
}

// Push overwrites the remote roster with snapshot and waits for the result.
func (a *Adapter) Push(ctx context.Context, snapshot roster.Snapshot) error {
	return a.call(ctx, "write_roster", a.opts.PushTimeout, func(ctx context.Context) error {
		return a.backend.WriteRoster(ctx, a.eventID, snapshot)
	})
}

// Pull fetches the remote roster. An uninitialised store is treated as an
// empty roster and initialised with one.
func (a *Adapter) Pull(ctx context.Context) (roster.Snapshot, error) {
	var (
		snapshot roster.Snapshot
		ok       bool
	)
	err := a.call(ctx, "read_roster", a.opts.PullTimeout, func(ctx context.Context) error {
		var err error
		snapshot, ok, err = a.backend.ReadRoster(ctx, a.eventID)
		return err
	})
	if err != nil {
		return roster.Snapshot{}, err
	}
	if !ok {
		a.log.Info("remote roster not initialised, writing empty roster")
		empty := roster.Snapshot{Participants: []roster.Participant{}}
		if err := a.Push(ctx, empty); err != nil {
			a.log.Warn("initialise remote roster failed", "error", err)
		}
		return empty, nil
	}
	return snapshot, nil
}

// Load pulls the remote roster into store, recalibrating ids.
func (a *Adapter) Load(ctx context.Context, store *roster.Store) error {
	snapshot, err := a.Pull(ctx)
	if err != nil {
		return err
	}
	store.Hydrate(snapshot)
	return nil
}

// Subscribe rehydrates store whenever another writer changes the remote
// roster. It returns false when the backend cannot announce changes. The
// subscription ends with ctx.
func (a *Adapter) Subscribe(ctx context.Context, store *roster.Store) bool {
	sub, ok := a.backend.(Subscriber)
	if !ok {
		return false
	}
	a.mu.Lock()
	a.sub = &subscription{ctx: ctx, store: store}
	a.mu.Unlock()

	go func() {
		err := sub.Subscribe(ctx, a.eventID, func(origin string) {
			if origin == a.origin {
				return
			}
			a.refresh(ctx, store, origin)
		})
		if err != nil && ctx.Err() == nil {
			a.log.Warn("remote subscription ended", "error", err)
		}
	}()
	return true
}

// refresh pulls the remote roster into store unless local pushes are still
// outstanding, in which case the worker refreshes once they drain.
func (a *Adapter) refresh(ctx context.Context, store *roster.Store, origin string) {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	if ctx.Err() != nil || !a.claimIdle() {
		return
	}
	snapshot, err := a.Pull(ctx)
	if err != nil {
		a.log.Warn("rehydrate after remote change failed", "error", err, "origin", origin)
		return
	}
	if !store.Refresh(snapshot, a.claimIdle) {
		a.log.Debug("rehydrate deferred until local pushes drain", "origin", origin)
		return
	}
	a.log.Debug("rehydrated from remote change", "origin", origin, "participants", store.Len())
}

// claimIdle reports whether no push is queued or in flight. When one is, the
// adapter is marked dirty so the worker refreshes after draining.
func (a *Adapter) claimIdle() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.outstanding > 0 {
		a.dirty = true
		return false
	}
	return true
}

func (a *Adapter) enqueue(j job) bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		if j.op != "flush" {
			a.log.Warn("push dropped, adapter closed", "kind", j.change.Kind)
		}
		return false
	}
	a.queue = append(a.queue, j)
	if j.flushed == nil {
		a.outstanding++
	}
	a.opts.Metrics.setQueueDepth(len(a.queue))
	a.mu.Unlock()
	a.signal()
	return true
}

func (a *Adapter) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Adapter) run() {
	defer close(a.done)
	for {
		a.mu.Lock()
		for len(a.queue) == 0 {
			if a.closed {
				a.mu.Unlock()
				return
			}
			a.mu.Unlock()
			<-a.wake
			a.mu.Lock()
		}
		j := a.queue[0]
		a.queue[0] = job{}
		a.queue = a.queue[1:]
		a.opts.Metrics.setQueueDepth(len(a.queue))
		if j.flushed != nil {
			failed := a.failed
			a.failed = nil
			a.mu.Unlock()
			j.flushed <- failed
			continue
		}
		a.mu.Unlock()

		err := a.push(j)

		a.mu.Lock()
		a.outstanding--
		if err != nil && a.failed == nil {
			a.failed = err
		}
		var deferred *subscription
		if a.dirty && a.outstanding == 0 && a.sub != nil {
			a.dirty = false
			deferred = a.sub
		}
		a.mu.Unlock()

		if deferred != nil {
			a.refresh(deferred.ctx, deferred.store, a.origin)
		}
	}
}

func (a *Adapter) push(j job) error {
	c := j.change
	err := a.call(context.Background(), j.op, a.opts.PushTimeout, func(ctx context.Context) error {
		switch j.op {
		case "write_record":
			return a.backend.WriteRecord(ctx, a.eventID, c.Participant)
		case "delete_record":
			return a.backend.DeleteRecord(ctx, a.eventID, c.Participant.ID)
		case "write_roster":
			return a.backend.WriteRoster(ctx, a.eventID, c.Snapshot)
		default:
			if err := a.backend.DeleteAll(ctx, a.eventID); err != nil {
				return err
			}
			return a.backend.WriteRoster(ctx, a.eventID, c.Snapshot)
		}
	})
	if err != nil {
		a.log.Warn("push failed", "kind", c.Kind, "participant_id", c.Participant.ID, "queued_for", time.Since(j.enqueued), "error", err)
	}

	select {
	case a.results <- Result{Op: j.op, Kind: c.Kind, ParticipantID: c.Participant.ID, Err: err}:
	default:
	}
	return err
}

func (a *Adapter) call(ctx context.Context, op string, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(WithOrigin(ctx, a.origin), timeout)
	defer cancel()

	started := time.Now()
	err := fn(ctx)
	a.opts.Metrics.observe(a.backend.Name(), op, started, err)
	if err != nil {
		return &RemoteSyncError{Op: op, Err: err}
	}
	return nil
}
