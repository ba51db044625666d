package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	rd "github.com/go-redis/redis/v9"

	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/pkg/schema"
)

var _ RunStore = (*RedisStore)(nil)

// RedisConfig configures RedisStore.
type RedisConfig struct {
	Addrs     []string
	Password  string
	Namespace string
}

const (
	runKey        = "RUN"
	runIndexKey   = "RUNS"
	replayKey     = "REPLAY"
	runEventsKey  = "EVENTS"
	recordsKey    = "RECORDS"
	automationKey = "AUTOMATION"
)

// RedisStore implements RunStore on Redis. Each run is one JSON document;
// sorted sets keyed by creation time index all runs and the runs of each
// automation, and a set tracks runs flagged for replay.
type RedisStore struct {
	client    rd.UniversalClient
	namespace string
}

// NewRedisStore creates a RedisStore. The connection is established lazily.
func NewRedisStore(conf RedisConfig) *RedisStore {
	client := rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs:    conf.Addrs,
		Password: conf.Password,
	})
	return NewRedisStoreWithClient(client, conf.Namespace)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client rd.UniversalClient, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "sovrium"
	}
	return &RedisStore{client: client, namespace: namespace}
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return storeError("ping redis", err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) key(args ...string) string {
	return fmt.Sprintf("%s:%s", s.namespace, strings.Join(args, ":"))
}

func (s *RedisStore) Create(ctx context.Context, r *run.Run) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	event, err := json.Marshal(newRunEvent(schema.EventRunCreated, r))
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(runKey, r.ID), doc, 0).Result()
	if err != nil {
		return storeError("create run", err)
	}
	if !ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already exists", r.ID)
	}

	member := rd.Z{Score: float64(timeOrNow(r.CreatedAt).UnixNano()), Member: r.ID}
	_, err = s.client.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.ZAdd(ctx, s.key(runIndexKey), member)
		pipe.ZAdd(ctx, s.key(automationKey, strconv.Itoa(r.AutomationID)), member)
		if r.ToReplay {
			pipe.SAdd(ctx, s.key(replayKey), r.ID)
		}
		pipe.RPush(ctx, s.key(runEventsKey, r.ID), event)
		return nil
	})
	if err != nil {
		return storeError("index run", err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, r *run.Run) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	eventType := schema.EventRunUpdated
	if r.Status.Terminal() {
		eventType = schema.EventRunFinished
	}
	event, err := json.Marshal(newRunEvent(eventType, r))
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}

	key := s.key(runKey, r.ID)
	err = s.client.Watch(ctx, func(tx *rd.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return storeNotFound("run", r.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			if r.ToReplay {
				pipe.SAdd(ctx, s.key(replayKey), r.ID)
			} else {
				pipe.SRem(ctx, s.key(replayKey), r.ID)
			}
			pipe.RPush(ctx, s.key(runEventsKey, r.ID), event)
			return nil
		})
		return err
	}, key)

	var se *schema.SovriumError
	if errors.As(err, &se) {
		return se
	}
	if err != nil {
		return storeError("update run", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*run.Run, error) {
	doc, err := s.client.Get(ctx, s.key(runKey, id)).Result()
	if errors.Is(err, rd.Nil) {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, storeError("get run", err)
	}
	return decodeRun(doc)
}

func (s *RedisStore) ListRuns(ctx context.Context, filter RunFilter) ([]*run.Run, error) {
	var ids []string
	var err error
	switch {
	case filter.ToReplay != nil && *filter.ToReplay:
		ids, err = s.client.SMembers(ctx, s.key(replayKey)).Result()
	case filter.AutomationID != 0:
		ids, err = s.client.ZRevRange(ctx, s.key(automationKey, strconv.Itoa(filter.AutomationID)), 0, -1).Result()
	default:
		ids, err = s.client.ZRevRange(ctx, s.key(runIndexKey), 0, -1).Result()
	}
	if err != nil && !errors.Is(err, rd.Nil) {
		return nil, storeError("list runs", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(runKey, id)
	}
	docs, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storeError("list runs", err)
	}

	var runs []*run.Run
	for _, d := range docs {
		doc, ok := d.(string)
		if !ok {
			continue
		}
		r, err := decodeRun(doc)
		if err != nil {
			return nil, err
		}
		if filter.match(r) {
			runs = append(runs, r)
		}
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

// GetRunEvents returns the events of a run with sequence > since. Sequences
// are list positions, starting at 1.
func (s *RedisStore) GetRunEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error) {
	items, err := s.client.LRange(ctx, s.key(runEventsKey, runID), since, -1).Result()
	if err != nil && !errors.Is(err, rd.Nil) {
		return nil, storeError("get run events", err)
	}
	events := make([]*RunEvent, 0, len(items))
	for i, item := range items {
		e := &RunEvent{}
		if err := json.Unmarshal([]byte(item), e); err != nil {
			return nil, storeError("decode run event", err)
		}
		e.Sequence = since + int64(i) + 1
		e.ID = e.Sequence
		events = append(events, e)
	}
	return events, nil
}

// CreateRecord stores a record in the table's hash.
func (s *RedisStore) CreateRecord(ctx context.Context, table schema.Table, fields map[string]any) (map[string]any, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal record fields: %w", err)
	}
	rec := Record{
		ID:        uuid.New().String(),
		Table:     table.Name,
		Fields:    data,
		CreatedAt: time.Now().UTC(),
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	if err := s.client.HSet(ctx, s.key(recordsKey, table.Name), rec.ID, string(doc)).Err(); err != nil {
		return nil, storeError("insert record", err)
	}
	return recordOutput(rec, fields), nil
}
