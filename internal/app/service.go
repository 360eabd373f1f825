package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"rollcall/internal/archive"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/export"
	"rollcall/internal/importer"
	"rollcall/internal/rbac"
	"rollcall/internal/remote"
	"rollcall/internal/roster"
	"rollcall/internal/search"
)

const closeFlushTimeout = 10 * time.Second

// Archiver is the part of archive.Store the service uses.
type Archiver interface {
	Save(ctx context.Context, eventID string, snapshot roster.Snapshot) (archive.Object, error)
	Load(ctx context.Context, key string) (roster.Snapshot, int, error)
	List(ctx context.Context, eventID string) ([]archive.Object, error)
}

// Deps are the collaborators built from configuration. Backend is required;
// the rest may be nil.
type Deps struct {
	Backend  remote.Backend
	Search   search.Backend
	Archive  Archiver
	Gate     *auth.Gate
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// RosterView is the roster as served to clients.
type RosterView struct {
	Participants []roster.Participant `json:"participants"`
	Summary      roster.Summary       `json:"summary"`
	CurrentEvent string               `json:"currentEvent,omitempty"`
	EventDate    string               `json:"eventDate,omitempty"`
	NextID       int                  `json:"nextId"`
	EventID      string               `json:"eventId"`
	Backend      string               `json:"backend"`
}

// LoadResult reports a roster replaced from a shared snapshot.
type LoadResult struct {
	Participants int `json:"participants"`
	Dropped      int `json:"dropped"`
}

// Service wires the roster to its importer, remote mirror, search index,
// exporter and archive.
type Service struct {
	cfg      config.Config
	roster   *roster.Store
	importer *importer.Reconciler
	sync     *remote.Adapter
	search   *search.Service
	index    search.Backend
	export   *export.Service
	archive  Archiver
	gate     *auth.Gate
	live     *Hub
	registry *prometheus.Registry
	log      *slog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func New(cfg config.Config, deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	gate := deps.Gate
	if gate == nil {
		gate, _ = auth.NewGate("")
	}

	store := roster.NewStore()
	adapter := remote.NewAdapter(deps.Backend, remote.Options{
		EventID:     cfg.EventID,
		PushTimeout: cfg.PushTimeout,
		PullTimeout: cfg.PullTimeout,
		Logger:      log,
		Metrics:     remote.NewMetrics(registry),
	})
	searchService := search.NewService(store, adapter.EventID(), deps.Search, log)
	hub := NewHub(cfg.CORSOrigin, log)

	store.AddListener(adapter)
	store.AddListener(searchService)
	store.AddListener(hub)

	s := &Service{
		cfg:      cfg,
		roster:   store,
		importer: importer.NewReconciler(store),
		sync:     adapter,
		search:   searchService,
		index:    deps.Search,
		export:   export.NewService(),
		archive:  deps.Archive,
		gate:     gate,
		live:     hub,
		registry: registry,
		log:      log,
		cancel:   func() {},
		done:     make(chan struct{}),
	}
	go s.forwardSyncFailures()
	return s
}

// Bootstrap loads the remote roster and, when enabled, follows changes made
// by other writers until Close.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.sync.Load(ctx, s.roster); err != nil {
		return fmt.Errorf("load remote roster: %w", err)
	}
	s.log.Info("roster loaded", "backend", s.sync.Backend().Name(), "event_id", s.sync.EventID(), "participants", s.roster.Len())

	if s.cfg.Subscribe {
		subCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		if !s.sync.Subscribe(subCtx, s.roster) {
			s.log.Info("backend does not announce changes; subscription disabled")
		}
	}
	return nil
}

// Close stops the subscription, waits for queued pushes and releases the
// backend.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
		defer cancel()
		if err := s.sync.Flush(ctx); err != nil {
			s.log.Warn("flush before close failed", "error", err)
		}
		s.sync.Close()
		close(s.done)
		s.search.Close()
		if closer, ok := s.index.(interface{ Close() }); ok {
			closer.Close()
		}
		s.live.Close()
		s.closeErr = s.sync.Backend().Close()
	})
	return s.closeErr
}

// Flush waits for every push queued so far and reports the first one that
// failed since the previous Flush.
func (s *Service) Flush(ctx context.Context) error {
	return s.sync.Flush(ctx)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.sync.Backend().Ping(ctx)
}

func (s *Service) Registry() *prometheus.Registry { return s.registry }

func (s *Service) Live() *Hub { return s.live }

// Authorize checks that key may perform action.
func (s *Service) Authorize(key string, action rbac.Action) error {
	return s.gate.Authorize(key, action)
}

func (s *Service) Roster() RosterView {
	snapshot := s.roster.Snapshot()
	return RosterView{
		Participants: snapshot.Participants,
		Summary:      roster.Summarize(snapshot.Participants),
		CurrentEvent: snapshot.CurrentEvent,
		EventDate:    snapshot.EventDate,
		NextID:       s.roster.NextID(),
		EventID:      s.sync.EventID(),
		Backend:      s.sync.Backend().Name(),
	}
}

func (s *Service) Snapshot() roster.Snapshot { return s.roster.Snapshot() }

func (s *Service) Summary() roster.Summary { return s.roster.Summary() }

func (s *Service) AddParticipant(name, entity string) (roster.Participant, error) {
	return s.roster.Add(name, entity)
}

func (s *Service) RemoveParticipant(id int) error {
	return s.roster.Remove(id)
}

func (s *Service) MarkAttendance(id int, value string) (roster.Participant, error) {
	attendance, err := roster.ParseAttendance(value)
	if err != nil {
		return roster.Participant{}, err
	}
	if err := s.roster.MarkAttendance(id, attendance); err != nil {
		return roster.Participant{}, err
	}
	return s.roster.Get(id)
}

func (s *Service) SetEvent(name, date string) {
	s.roster.SetEvent(name, date)
}

func (s *Service) Clear() {
	s.roster.Clear()
	s.importer.Cancel()
}

// Reload replaces the local roster with the remote one once queued pushes
// have landed. Push failures were already reported to live clients.
func (s *Service) Reload(ctx context.Context) error {
	if err := s.sync.Flush(ctx); err != nil && !errors.Is(err, remote.ErrRemoteSync) {
		return err
	}
	return s.sync.Load(ctx, s.roster)
}

// Reindex rebuilds the search index from the roster, for use after the
// index was unreachable.
func (s *Service) Reindex() {
	s.search.Reindex()
}

// StageRows stages already decoded rows; the first row is a header.
func (s *Service) StageRows(rows [][]any) ([]roster.Candidate, error) {
	staged := s.importer.Stage(rows)
	if len(staged) == 0 {
		return nil, errEmptyStage
	}
	return staged, nil
}

// StageFile validates and stages an uploaded spreadsheet.
func (s *Service) StageFile(reader io.Reader, filename string, size int64) ([]roster.Candidate, error) {
	if err := importer.ValidateFile(filename, size); err != nil {
		return nil, err
	}
	staged, err := s.importer.StageFile(reader, filename)
	if err != nil {
		return nil, err
	}
	if len(staged) == 0 {
		return nil, errEmptyStage
	}
	return staged, nil
}

func (s *Service) ImportPreview() []roster.Candidate { return s.importer.Preview() }

func (s *Service) ConfirmImport() int { return s.importer.Confirm() }

func (s *Service) CancelImport() { s.importer.Cancel() }

func (s *Service) Search(text, attendance string, limit int) (search.Response, error) {
	q := search.Query{Text: text, Limit: limit}
	if attendance = strings.TrimSpace(attendance); attendance != "" {
		value, err := roster.ParseAttendance(attendance)
		if err != nil {
			return search.Response{}, err
		}
		q.Attendance = &value
	}
	return s.search.Search(q), nil
}

func (s *Service) Export(ctx context.Context, format export.Format) (*export.Result, error) {
	return s.export.Export(ctx, s.roster.Snapshot(), format)
}

// ShareURL attaches the current snapshot to base.
func (s *Service) ShareURL(base string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", &roster.MalformedInputError{Reason: "base url is required"}
	}
	return roster.EncodeURLParam(base, s.roster.Snapshot())
}

// LoadShared replaces the roster with a shared JSON payload.
func (s *Service) LoadShared(data []byte) (LoadResult, error) {
	snapshot, dropped, err := roster.DecodeSnapshot(data)
	if err != nil {
		return LoadResult{}, err
	}
	return s.restore(snapshot, dropped), nil
}

// LoadSharedURL replaces the roster with the snapshot carried by a share
// link.
func (s *Service) LoadSharedURL(rawURL string) (LoadResult, error) {
	snapshot, ok, err := roster.DecodeURLParam(rawURL)
	if err != nil {
		return LoadResult{}, err
	}
	if !ok {
		return LoadResult{}, &roster.MalformedInputError{Reason: "url has no " + roster.ShareParam + " parameter"}
	}
	return s.restore(snapshot, 0), nil
}

func (s *Service) Archive(ctx context.Context) (archive.Object, error) {
	if s.archive == nil {
		return archive.Object{}, errArchiveDisabled
	}
	obj, err := s.archive.Save(ctx, s.sync.EventID(), s.roster.Snapshot())
	if err != nil {
		return archive.Object{}, err
	}
	s.log.Info("roster archived", "key", obj.Key, "size", obj.Size)
	return obj, nil
}

func (s *Service) ListArchives(ctx context.Context) ([]archive.Object, error) {
	if s.archive == nil {
		return nil, errArchiveDisabled
	}
	objects, err := s.archive.List(ctx, s.sync.EventID())
	if err != nil {
		return nil, err
	}
	if objects == nil {
		objects = []archive.Object{}
	}
	return objects, nil
}

func (s *Service) LoadArchive(ctx context.Context, key string) (LoadResult, error) {
	if s.archive == nil {
		return LoadResult{}, errArchiveDisabled
	}
	snapshot, dropped, err := s.archive.Load(ctx, key)
	if err != nil {
		return LoadResult{}, err
	}
	return s.restore(snapshot, dropped), nil
}

func (s *Service) restore(snapshot roster.Snapshot, dropped int) LoadResult {
	s.roster.Restore(snapshot)
	if dropped > 0 {
		s.log.Warn("shared snapshot had invalid entries", "dropped", dropped)
	}
	return LoadResult{Participants: s.roster.Len(), Dropped: dropped}
}

func (s *Service) forwardSyncFailures() {
	for {
		select {
		case res := <-s.sync.Results():
			if res.Err != nil {
				s.live.SyncFailed(res)
			}
		case <-s.done:
			return
		}
	}
}
