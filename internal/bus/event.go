package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Event kinds published by the daemon. Subscribers filter by prefix,
// e.g. "messages." receives every message-cache event.
const (
	KindMessagesLoading   = "messages.loading"
	KindMessagesLoaded    = "messages.loaded"
	KindMessagesReplaced  = "messages.replaced"
	KindMessageMerged     = "messages.merged"
	KindMessagesReadState = "messages.read_state"
	KindSavedUpdated      = "saved.updated"
	KindFeedStatusChanged = "feed.status_changed"
	KindNoticeInfo        = "notice.info"
	KindNoticeError       = "notice.error"
	KindNoticeDegraded    = "notice.degraded"
)

// Notice is the payload for notice.* events, the daemon's toast surface.
// Raw store errors never travel here; callers format a user-facing text.
type Notice struct {
	Text string `json:"text"`
}
