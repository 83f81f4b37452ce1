package bus

import "time"

// Event kinds published by the sync core. Subscribers filter by prefix,
// e.g. "convo." catches every conversation-level notification.
const (
	KindConvoUpdated      = "convo.updated"
	KindConvoRead         = "convo.read"
	KindMessageUpserted   = "message.upserted"
	KindMessageSendFailed = "message.send_failed"
	KindFeedStatusChanged = "feed.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
