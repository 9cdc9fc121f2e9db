package github

import (
	"fmt"

	"go.uber.org/zap"
)

// Event is a validated and parsed github webhook event.
type Event struct {
	// DeliveryID is the value of the X-GitHub-Delivery header.
	DeliveryID string
	// Type is the value of the X-GitHub-Event header.
	Type string
	// JSON is the validated payload.
	JSON []byte
	// Event is the payload parsed by github.ParseWebHook(), e.g.
	// *github.PullRequestEvent.
	Event any
	// LogFields describe the event, they are added to the log messages
	// of its processing.
	LogFields []zap.Field
}

func (e *Event) String() string {
	return fmt.Sprintf("%s (deliveryID: %s)", e.Type, e.DeliveryID)
}
