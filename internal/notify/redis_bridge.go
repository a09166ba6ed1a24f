package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tutorhall/backend/internal/models"
)

const (
	channelPrefix  = "course:"
	publishTimeout = 5 * time.Second
)

// bridgeMessage is the payload carried on a course's Redis channel.
type bridgeMessage struct {
	Origin string                   `json:"origin"`
	Event  models.NotificationEvent `json:"event"`
}

// RedisBridge carries notification events between instances over Redis
// pub/sub, implementing both bridge directions of the hub.
type RedisBridge struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBridge creates the cross-instance event bridge.
func NewRedisBridge(client *redis.Client, logger *zap.Logger) *RedisBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{client: client, logger: logger}
}

// PublishCourseEvent publishes an event to the course's Redis channel.
func (b *RedisBridge) PublishCourseEvent(ctx context.Context, event models.NotificationEvent, origin string) error {
	body, err := json.Marshal(bridgeMessage{Origin: origin, Event: event})
	if err != nil {
		return err
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return b.client.Publish(pubCtx, channelPrefix+event.CourseID.String(), body).Err()
}

// SubscribeCourse subscribes to a course's Redis channel and calls fn for
// each incoming event. Returns a cancel function to stop the subscription.
func (b *RedisBridge) SubscribeCourse(courseID uuid.UUID, fn func(event models.NotificationEvent, origin string)) (func(), error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, channelPrefix+courseID.String())
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m bridgeMessage
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					b.logger.Warn("invalid bridge message", zap.Error(err))
					continue
				}
				fn(m.Event, m.Origin)
			}
		}
	}()
	return cancelCtx, nil
}
