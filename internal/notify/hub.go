package notify

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorhall/backend/internal/models"
)

// BridgePublisher forwards events to other instances (cross-instance
// broadcast). origin identifies the publishing instance so it can skip its
// own messages on the way back.
type BridgePublisher interface {
	PublishCourseEvent(ctx context.Context, event models.NotificationEvent, origin string) error
}

// BridgeSubscriber subscribes to a course's cross-instance channel.
type BridgeSubscriber interface {
	SubscribeCourse(courseID uuid.UUID, fn func(event models.NotificationEvent, origin string)) (cancel func(), err error)
}

// Hub is the in-process Broker. It keeps courseID -> subscriber handlers,
// bridges to Redis for horizontal scaling, and appends published events to
// the audit log. A per-course bridge subscription exists only while the
// course has local subscribers.
type Hub struct {
	mu            sync.RWMutex
	subs          map[uuid.UUID]map[string]Handler
	bridgeCancels map[uuid.UUID]func()
	nextSubID     uint64

	instanceID string
	bridgePub  BridgePublisher
	bridgeSub  BridgeSubscriber
	audit      EventLog
	logger     *zap.Logger
}

// NewHub creates a broker. bridgePub/bridgeSub/audit may be nil for
// single-instance or test setups.
func NewHub(logger *zap.Logger, bridgePub BridgePublisher, bridgeSub BridgeSubscriber, audit EventLog) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:          make(map[uuid.UUID]map[string]Handler),
		bridgeCancels: make(map[uuid.UUID]func()),
		instanceID:    uuid.New().String(),
		bridgePub:     bridgePub,
		bridgeSub:     bridgeSub,
		audit:         audit,
		logger:        logger,
	}
}

// Subscribe registers fn for courseID events. The first subscriber of a
// course opens the cross-instance bridge subscription; the last cancel
// closes it.
func (h *Hub) Subscribe(courseID uuid.UUID, fn Handler) func() {
	h.mu.Lock()
	if h.subs[courseID] == nil {
		h.subs[courseID] = make(map[string]Handler)
		if h.bridgeSub != nil {
			cancel, err := h.bridgeSub.SubscribeCourse(courseID, func(event models.NotificationEvent, origin string) {
				if origin == h.instanceID {
					return
				}
				h.deliver(event)
			})
			if err != nil {
				h.logger.Warn("bridge subscribe failed", zap.String("course_id", courseID.String()), zap.Error(err))
			} else {
				h.bridgeCancels[courseID] = cancel
			}
		}
	}
	h.nextSubID++
	subID := strconv.FormatUint(h.nextSubID, 10)
	h.subs[courseID][subID] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		m, ok := h.subs[courseID]
		if !ok {
			return
		}
		delete(m, subID)
		if len(m) == 0 {
			delete(h.subs, courseID)
			if cancel, ok := h.bridgeCancels[courseID]; ok {
				cancel()
				delete(h.bridgeCancels, courseID)
			}
		}
	}
}

// Publish appends the event to the audit log, delivers it locally and
// forwards it across the bridge. No subscribers anywhere means the event is
// dropped from the push path; pollers will still discover the transition.
func (h *Hub) Publish(ctx context.Context, event models.NotificationEvent) {
	if h.audit != nil {
		if err := h.audit.Append(ctx, event); err != nil {
			h.logger.Warn("event audit append failed", zap.String("event_id", event.ID.String()), zap.Error(err))
		}
	}
	h.deliver(event)
	if h.bridgePub != nil {
		if err := h.bridgePub.PublishCourseEvent(ctx, event, h.instanceID); err != nil {
			h.logger.Warn("bridge publish failed", zap.String("event_id", event.ID.String()), zap.Error(err))
		}
	}
}

// SubscriberCount returns the number of local subscribers for a course.
func (h *Hub) SubscriberCount(courseID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[courseID])
}

func (h *Hub) deliver(event models.NotificationEvent) {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.subs[event.CourseID]))
	for _, fn := range h.subs[event.CourseID] {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()
	for _, fn := range handlers {
		fn(event)
	}
}
