package messaging

import (
	"context"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/leaderboard"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

const invalidateTimeout = 2 * time.Second

// SubscribeLeaderboardInvalidation drops cached standings whenever points
// change, so the next read rebuilds from the ledger.
func SubscribeLeaderboardInvalidation(bus shared.EventSubscriber, cache leaderboard.Cache) error {
	return bus.Subscribe(shared.EventPointsAwarded, func(shared.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
		defer cancel()
		return cache.Invalidate(ctx)
	})
}

// SubscribeAudit logs every domain event at info level.
func SubscribeAudit(bus shared.EventSubscriber, log *logger.Logger) error {
	log = log.With(logger.Component("events"))
	return bus.SubscribeAll(func(event shared.Event) error {
		log.Info("domain event",
			logger.String("event_type", string(event.EventType())),
			logger.UserID(event.AggregateID()),
			logger.Time("occurred_at", event.OccurredAt()),
			logger.Any("payload", event.Payload()),
		)
		return nil
	})
}
