// Package realtime is the realtime push/subscribe backend on Redis. Records
// live in a hash, their order in a sorted set, and every write is announced
// on a pub/sub channel carrying the writer's origin id.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"rollcall/internal/remote"
	"rollcall/internal/roster"
)

const (
	defaultPrefix = "rollcall:"

	fieldInitialized  = "initialized"
	fieldCurrentEvent = "current_event"
	fieldEventDate    = "event_date"
)

var (
	_ remote.Backend    = (*Store)(nil)
	_ remote.Subscriber = (*Store)(nil)
)

type Store struct {
	client *redis.Client
	prefix string
}

// New parses redisURL, connects and pings.
func New(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client), nil
}

// NewWithClient creates a store from an existing Redis client
func NewWithClient(client *redis.Client) *Store {
	return &Store{
		client: client,
		prefix: defaultPrefix,
	}
}

func (s *Store) Name() string { return "redis" }

func (s *Store) key(eventID, part string) string {
	return s.prefix + eventID + ":" + part
}

// Channel is the pub/sub channel announcing changes to eventID.
func (s *Store) Channel(eventID string) string {
	return s.key(eventID, "changes")
}

func (s *Store) WriteRecord(ctx context.Context, eventID string, p roster.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}

	seq, err := s.client.Incr(ctx, s.key(eventID, "seq")).Result()
	if err != nil {
		return fmt.Errorf("next position: %w", err)
	}

	member := strconv.Itoa(p.ID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(eventID, "records"), member, data)
		pipe.ZAddNX(ctx, s.key(eventID, "order"), redis.Z{Score: float64(seq), Member: member})
		pipe.HSet(ctx, s.key(eventID, "meta"), fieldInitialized, "1")
		return nil
	})
	if err != nil {
		return fmt.Errorf("write participant %d: %w", p.ID, err)
	}
	return s.announce(ctx, eventID)
}

func (s *Store) DeleteRecord(ctx context.Context, eventID string, id int) error {
	member := strconv.Itoa(id)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.key(eventID, "records"), member)
		pipe.ZRem(ctx, s.key(eventID, "order"), member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete participant %d: %w", id, err)
	}
	return s.announce(ctx, eventID)
}

func (s *Store) WriteRoster(ctx context.Context, eventID string, snapshot roster.Snapshot) error {
	records := make(map[string]any, len(snapshot.Participants))
	order := make([]redis.Z, 0, len(snapshot.Participants))
	for i, p := range snapshot.Participants {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal participant: %w", err)
		}
		member := strconv.Itoa(p.ID)
		if _, dup := records[member]; dup {
			continue
		}
		records[member] = data
		order = append(order, redis.Z{Score: float64(i + 1), Member: member})
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(eventID, "records"), s.key(eventID, "order"), s.key(eventID, "meta"))
		pipe.HSet(ctx, s.key(eventID, "meta"),
			fieldInitialized, "1",
			fieldCurrentEvent, snapshot.CurrentEvent,
			fieldEventDate, snapshot.EventDate,
		)
		if len(records) > 0 {
			pipe.HSet(ctx, s.key(eventID, "records"), records)
			pipe.ZAdd(ctx, s.key(eventID, "order"), order...)
		}
		pipe.Set(ctx, s.key(eventID, "seq"), len(order), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write roster: %w", err)
	}
	return s.announce(ctx, eventID)
}

func (s *Store) ReadRoster(ctx context.Context, eventID string) (roster.Snapshot, bool, error) {
	meta, err := s.client.HGetAll(ctx, s.key(eventID, "meta")).Result()
	if err != nil {
		return roster.Snapshot{}, false, fmt.Errorf("read roster meta: %w", err)
	}
	if meta[fieldInitialized] == "" {
		return roster.Snapshot{}, false, nil
	}

	ids, err := s.client.ZRange(ctx, s.key(eventID, "order"), 0, -1).Result()
	if err != nil {
		return roster.Snapshot{}, false, fmt.Errorf("read roster order: %w", err)
	}
	records, err := s.client.HGetAll(ctx, s.key(eventID, "records")).Result()
	if err != nil {
		return roster.Snapshot{}, false, fmt.Errorf("read roster records: %w", err)
	}

	snapshot := roster.Snapshot{
		Participants: make([]roster.Participant, 0, len(ids)),
		CurrentEvent: meta[fieldCurrentEvent],
		EventDate:    meta[fieldEventDate],
	}
	for _, id := range ids {
		data, ok := records[id]
		if !ok {
			continue
		}
		var p roster.Participant
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return roster.Snapshot{}, false, fmt.Errorf("unmarshal participant %s: %w", id, err)
		}
		snapshot.Participants = append(snapshot.Participants, p)
	}
	return snapshot, true, nil
}

func (s *Store) DeleteAll(ctx context.Context, eventID string) error {
	err := s.client.Del(ctx,
		s.key(eventID, "records"),
		s.key(eventID, "order"),
		s.key(eventID, "meta"),
		s.key(eventID, "seq"),
	).Err()
	if err != nil {
		return fmt.Errorf("delete roster: %w", err)
	}
	return s.announce(ctx, eventID)
}

// Subscribe calls fn with the origin of every change published for eventID
// until ctx is done.
func (s *Store) Subscribe(ctx context.Context, eventID string, fn func(origin string)) error {
	pubsub := s.client.Subscribe(ctx, s.Channel(eventID))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", s.Channel(eventID), err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s closed", s.Channel(eventID))
			}
			fn(msg.Payload)
		}
	}
}

// Ping checks if Redis is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) announce(ctx context.Context, eventID string) error {
	if err := s.client.Publish(ctx, s.Channel(eventID), remote.OriginFrom(ctx)).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}
