package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"apirelay/internal/config"
	"apirelay/internal/errdef"
	"apirelay/internal/model"
)

// RedisStore keeps each user's data under users:{uid}:*.
//
//	users:{uid}:postman_history        zset, member = item JSON, score = created µs
//	users:{uid}:postman_saved          zset, member = id, score = updated µs
//	users:{uid}:postman_saved:items    hash, id -> item JSON
type RedisStore struct {
	client *redis.Client

	mu        sync.Mutex
	lastRaw   float64
	lastScore float64
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, storageErr(err, fmt.Sprintf("connect to redis at %s", cfg.Addr))
	}
	return &RedisStore{client: client}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func historyKey(uid string) string    { return "users:" + uid + ":postman_history" }
func savedKey(uid string) string      { return "users:" + uid + ":postman_saved" }
func savedItemsKey(uid string) string { return "users:" + uid + ":postman_saved:items" }

// score is t in microseconds. Writes that land in or behind the microsecond
// of the previous write are bumped past it so they keep insertion order;
// older timestamps (imports) keep their own position.
func (s *RedisStore) score(t time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw := float64(t.UnixMicro())
	if raw < s.lastRaw {
		return raw
	}
	v := raw
	if v <= s.lastScore {
		v = s.lastScore + 1
	}
	s.lastRaw, s.lastScore = raw, v
	return v
}

func (s *RedisStore) ListHistory(ctx context.Context, uid string) ([]model.HistoryItem, error) {
	if err := ValidateUID(uid); err != nil {
		return nil, err
	}
	members, err := s.client.ZRevRange(ctx, historyKey(uid), 0, HistoryLimit-1).Result()
	if err != nil {
		return nil, storageErr(err, "list history")
	}
	items := make([]model.HistoryItem, 0, len(members))
	for _, m := range members {
		var item model.HistoryItem
		if err := json.Unmarshal([]byte(m), &item); err != nil {
			return nil, storageErr(err, "decode history item")
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *RedisStore) AddHistory(ctx context.Context, uid string, item model.HistoryItem) error {
	if err := ValidateUID(uid); err != nil {
		return err
	}
	stamp(&item)
	data, err := json.Marshal(item)
	if err != nil {
		return storageErr(err, "encode history item")
	}

	key := historyKey(uid)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: s.score(item.CreatedAt), Member: string(data)})
		// Evict everything that fell out of the ring.
		pipe.ZRemRangeByRank(ctx, key, 0, -int64(HistoryLimit)-1)
		return nil
	})
	if err != nil {
		return storageErr(err, "add history")
	}
	return nil
}

func (s *RedisStore) ClearHistory(ctx context.Context, uid string) (int, error) {
	if err := ValidateUID(uid); err != nil {
		return 0, err
	}
	key := historyKey(uid)
	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		card = pipe.ZCard(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return 0, storageErr(err, "clear history")
	}
	return int(card.Val()), nil
}

func (s *RedisStore) ListSaved(ctx context.Context, uid string) ([]model.SavedItem, error) {
	if err := ValidateUID(uid); err != nil {
		return nil, err
	}
	ids, err := s.client.ZRevRange(ctx, savedKey(uid), 0, SavedLimit-1).Result()
	if err != nil {
		return nil, storageErr(err, "list saved")
	}
	items := []model.SavedItem{}
	if len(ids) == 0 {
		return items, nil
	}
	values, err := s.client.HMGet(ctx, savedItemsKey(uid), ids...).Result()
	if err != nil {
		return nil, storageErr(err, "load saved")
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a body; skip it.
			continue
		}
		var item model.SavedItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, storageErr(err, "decode saved item")
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *RedisStore) SaveRequest(ctx context.Context, uid, name string, req model.PostmanRequest) (model.SavedItem, error) {
	if err := ValidateUID(uid); err != nil {
		return model.SavedItem{}, err
	}
	item := newSavedItem(name, req)
	data, err := json.Marshal(item)
	if err != nil {
		return model.SavedItem{}, storageErr(err, "encode saved item")
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, savedItemsKey(uid), item.ID, string(data))
		pipe.ZAdd(ctx, savedKey(uid), redis.Z{Score: s.score(item.UpdatedAt), Member: item.ID})
		return nil
	})
	if err != nil {
		return model.SavedItem{}, storageErr(err, "save request")
	}
	return item, nil
}

func (s *RedisStore) DeleteSaved(ctx context.Context, uid, id string) error {
	if err := ValidateUID(uid); err != nil {
		return err
	}
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, savedItemsKey(uid), id)
		pipe.ZRem(ctx, savedKey(uid), id)
		return nil
	})
	if err != nil {
		return storageErr(err, "delete saved")
	}
	if removed.Val() == 0 {
		return errdef.Wrapf(errdef.ErrNotFound, errdef.CodeNotFound, "saved request %s not found", id)
	}
	return nil
}
