package room

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/afom12/Taskflow/domain"
	"github.com/afom12/Taskflow/internal/metrics"
)

// relayMessage is the Redis payload: an encoded board-updated frame and its board.
type relayMessage struct {
	BoardID string `json:"boardId"`
	Frame   []byte `json:"frame"`
}

// RedisBroadcaster publishes board updates on a Redis channel so every
// instance running SubscribeUpdates delivers them to its own rooms.
type RedisBroadcaster struct {
	rc      *redis.Client
	channel string
	metrics *metrics.Realtime
}

func NewRedisBroadcaster(rc *redis.Client, channel string, m *metrics.Realtime) *RedisBroadcaster {
	return &RedisBroadcaster{rc: rc, channel: channel, metrics: m}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, view domain.BoardView) error {
	frame, err := domain.EncodeMessage(domain.TypeBoardUpdated, view)
	if err != nil {
		return err
	}
	payload, err := sonic.Marshal(relayMessage{BoardID: view.ID, Frame: frame})
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}
	if err := b.rc.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish board %s: %w", view.ID, err)
	}
	b.metrics.Broadcast("redis")
	return nil
}

// SubscribeUpdates relays board updates from the Redis channel into the local
// rooms until ctx is cancelled, resubscribing when the channel closes.
func SubscribeUpdates(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, rooms *Manager) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	receive:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				var rm relayMessage
				if err := sonic.UnmarshalString(msg.Payload, &rm); err != nil {
					logger.WithError(err).Error("unable to parse board update")
					continue
				}
				n := rooms.Publish(rm.BoardID, rm.Frame)
				logger.WithFields(log.Fields{"board": rm.BoardID, "delivered": n}).Debug("relayed board update")
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
