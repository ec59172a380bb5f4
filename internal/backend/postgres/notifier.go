package postgres

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// ChannelName mirrors the channel computed by the bookmarks_notify trigger.
func ChannelName(owner string) string {
	sum := md5.Sum([]byte(owner))
	return "bookmarks_" + hex.EncodeToString(sum[:])[:16]
}

// Subscribe takes a connection out of the pool and LISTENs on the owner's
// channel until the subscription is closed.
func (s *Store) Subscribe(ctx context.Context, table string, filter backend.Filter, types []domain.ChangeType) (backend.Subscription, error) {
	if err := backend.CheckTable(table); err != nil {
		return nil, err
	}

	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	conn := pc.Hijack()

	channel := ChannelName(filter.OwnerID)
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	feed := backend.NewFeed(backend.DefaultFeedBuffer, func() error {
		cancel()
		return nil
	})
	log := s.log.With(logger.String("channel", channel))

	go func() {
		defer func() { _ = conn.Close(context.Background()) }()
		for {
			n, err := conn.WaitForNotification(listenCtx)
			if err != nil {
				if listenCtx.Err() == nil {
					log.Warn("listen connection lost", logger.Error(err))
					feed.Fail(fmt.Errorf("wait for notification: %w", err))
				}
				return
			}
			ev, err := parseNotification(n.Payload)
			if err != nil {
				log.Warn("dropping change event", logger.Error(err))
				continue
			}
			if ev.OwnerID != filter.OwnerID || !backend.Wants(types, ev) {
				continue
			}
			feed.Publish(ev)
		}
	}()

	return feed, nil
}

func parseNotification(payload string) (domain.ChangeEvent, error) {
	var ev domain.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("decode notification: %w", err)
	}
	if ev.RecordID == "" || ev.Type == "" {
		return ev, fmt.Errorf("incomplete notification %q", payload)
	}
	return ev, nil
}
