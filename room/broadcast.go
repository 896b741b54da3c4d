package room

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/afom12/Taskflow/domain"
	"github.com/afom12/Taskflow/internal/metrics"
)

// Broadcaster publishes the authoritative board to everyone watching it.
// Delivery is fire and forget.
type Broadcaster interface {
	Publish(ctx context.Context, view domain.BoardView) error
}

// LocalBroadcaster delivers directly to the rooms of this process.
type LocalBroadcaster struct {
	rooms   *Manager
	logger  *log.Logger
	metrics *metrics.Realtime
}

func NewLocalBroadcaster(rooms *Manager, logger *log.Logger, m *metrics.Realtime) *LocalBroadcaster {
	return &LocalBroadcaster{rooms: rooms, logger: logger, metrics: m}
}

func (b *LocalBroadcaster) Publish(_ context.Context, view domain.BoardView) error {
	frame, err := domain.EncodeMessage(domain.TypeBoardUpdated, view)
	if err != nil {
		return err
	}
	n := b.rooms.Publish(view.ID, frame)
	b.metrics.Broadcast("local")
	b.logger.WithFields(log.Fields{"board": view.ID, "version": view.Version, "delivered": n}).Debug("board broadcast")
	return nil
}
