// Package redis is the Redis backend: bookmarks as JSON documents indexed
// per owner in a sorted set, change events on a per-owner pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// Store implements backend.Backend on top of a Redis client.
type Store struct {
	client goredis.UniversalClient
	log    logger.Logger
	now    func() time.Time
}

// NewStore wraps client. The client may be shared with the session store,
// so the caller closes it.
func NewStore(client goredis.UniversalClient, log logger.Logger) *Store {
	return &Store{client: client, log: log, now: time.Now}
}

var _ backend.Backend = (*Store)(nil)

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op, see NewStore.
func (s *Store) Close() error { return nil }

// Select reads the owner's sorted set, then fetches the documents in one MGET.
// Ids whose document vanished in between are skipped.
func (s *Store) Select(ctx context.Context, q backend.Query) ([]domain.Bookmark, error) {
	if err := backend.CheckTable(q.Table); err != nil {
		return nil, err
	}

	var ids []string
	var err error
	if q.Descending {
		ids, err = s.client.ZRevRange(ctx, OwnerKey(q.OwnerID), 0, -1).Result()
	} else {
		ids, err = s.client.ZRange(ctx, OwnerKey(q.OwnerID), 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmark ids: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Bookmark{}, nil
	}

	docs, err := s.client.MGet(ctx, bookmarkKeys(ids)...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmarks: %w", err)
	}

	out := make([]domain.Bookmark, 0, len(docs))
	for i, doc := range docs {
		raw, ok := doc.(string)
		if !ok {
			continue
		}
		var bm domain.Bookmark
		if err := json.Unmarshal([]byte(raw), &bm); err != nil {
			s.log.Warn("skipping undecodable bookmark",
				logger.String("id", ids[i]), logger.Error(err))
			continue
		}
		out = append(out, bm)
	}
	return out, nil
}

// Insert writes the document, indexes it and publishes INSERT in one transaction.
func (s *Store) Insert(ctx context.Context, table string, row domain.NewBookmark) error {
	if err := backend.CheckTable(table); err != nil {
		return err
	}

	bm := domain.Bookmark{
		ID:        uuid.NewString(),
		OwnerID:   row.OwnerID,
		Title:     row.Title,
		URL:       row.URL,
		CreatedAt: s.now().UTC(),
	}
	data, err := json.Marshal(bm)
	if err != nil {
		return fmt.Errorf("failed to marshal bookmark: %w", err)
	}
	ev, err := encodeEvent(domain.ChangeEvent{
		Type: domain.ChangeInsert, Table: table, RecordID: bm.ID, OwnerID: bm.OwnerID,
	})
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, BookmarkKey(bm.ID), data, 0)
		pipe.ZAdd(ctx, OwnerKey(bm.OwnerID), goredis.Z{Score: score(bm.CreatedAt), Member: bm.ID})
		pipe.Publish(ctx, ChannelKey(bm.OwnerID), ev)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save bookmark: %w", err)
	}
	return nil
}

// Delete removes every existing id and publishes one DELETE per removed row.
func (s *Store) Delete(ctx context.Context, table string, ids []string) error {
	if err := backend.CheckTable(table); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	docs, err := s.client.MGet(ctx, bookmarkKeys(ids)...).Result()
	if err != nil {
		return fmt.Errorf("failed to load bookmarks for delete: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, doc := range docs {
			raw, ok := doc.(string)
			if !ok {
				continue
			}
			var bm domain.Bookmark
			if err := json.Unmarshal([]byte(raw), &bm); err != nil {
				return fmt.Errorf("failed to unmarshal bookmark %s: %w", ids[i], err)
			}
			ev, err := encodeEvent(domain.ChangeEvent{
				Type: domain.ChangeDelete, Table: table, RecordID: bm.ID, OwnerID: bm.OwnerID,
			})
			if err != nil {
				return err
			}
			pipe.Del(ctx, BookmarkKey(bm.ID))
			pipe.ZRem(ctx, OwnerKey(bm.OwnerID), bm.ID)
			pipe.Publish(ctx, ChannelKey(bm.OwnerID), ev)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete bookmarks: %w", err)
	}
	return nil
}

func bookmarkKeys(ids []string) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = BookmarkKey(id)
	}
	return keys
}

// score orders the sorted set; microseconds stay exact in a float64.
func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func encodeEvent(ev domain.ChangeEvent) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to marshal change event: %w", err)
	}
	return string(data), nil
}

var errEmptyPayload = errors.New("empty change payload")

func decodeEvent(payload string) (domain.ChangeEvent, error) {
	var ev domain.ChangeEvent
	if payload == "" {
		return ev, errEmptyPayload
	}
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("failed to unmarshal change event: %w", err)
	}
	return ev, nil
}
