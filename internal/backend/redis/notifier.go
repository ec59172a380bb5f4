package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// ErrChannelClosed ends a subscription whose pub/sub connection went away.
var ErrChannelClosed = errors.New("redis: change channel closed")

// Subscribe listens on the owner's channel. The SUBSCRIBE is confirmed
// before returning so no event published afterwards is missed.
func (s *Store) Subscribe(ctx context.Context, table string, filter backend.Filter, types []domain.ChangeType) (backend.Subscription, error) {
	if err := backend.CheckTable(table); err != nil {
		return nil, err
	}

	channel := ChannelKey(filter.OwnerID)
	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	feed := backend.NewFeed(backend.DefaultFeedBuffer, func() error {
		cancel()
		return pubsub.Close()
	})

	log := s.log.With(logger.String("channel", channel))
	msgs := pubsub.Channel()

	go func() {
		for {
			select {
			case <-listenCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					if listenCtx.Err() == nil {
						feed.Fail(ErrChannelClosed)
					}
					return
				}
				ev, err := decodeEvent(msg.Payload)
				if err != nil {
					log.Warn("dropping change event", logger.Error(err))
					continue
				}
				if ev.OwnerID != filter.OwnerID || !backend.Wants(types, ev) {
					continue
				}
				if !feed.Publish(ev) {
					log.Debug("change event coalesced", logger.String("id", ev.RecordID))
				}
			}
		}
	}()

	return feed, nil
}
