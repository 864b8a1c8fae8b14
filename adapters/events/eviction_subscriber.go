package events

import (
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/layer-3/keyward/ports"
)

// Evicter drops any cached signing handle for an address
type Evicter interface {
	Evict(address string)
}

// NewEvictionRouter returns a router that evicts cached session handles whenever
// any instance publishes a session event. The caller runs it with Run(ctx).
func NewEvictionRouter(subscriber message.Subscriber, evicter Evicter, logger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)

	router.AddNoPublisherHandler(
		"keyward.cache.evict",
		TopicSession,
		subscriber,
		func(msg *message.Message) error {
			var event ports.SessionEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				// A malformed event can never succeed, so ack it
				logger.Error("event.decode_failed", err, watermill.LogFields{"uuid": msg.UUID})
				return nil
			}
			evicter.Evict(event.Address)
			return nil
		},
	)

	return router, nil
}
