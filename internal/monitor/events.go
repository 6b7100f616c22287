package monitor

import (
	"time"

	"github.com/wolethescientist/email-engine/internal/mailbox"
)

// EventType names the kinds of events a watch handle emits.
type EventType string

const (
	// EventNewMail carries refs for messages seen above the watermark.
	EventNewMail EventType = "new_mail"
	// EventError reports a failed cycle; the loop keeps running (with
	// backoff) unless cancelled.
	EventError EventType = "error"
	// EventHeartbeat signals a completed cycle or renewed wait with no
	// arrivals.
	EventHeartbeat EventType = "heartbeat"
	// EventNotice carries non-failure signals, e.g. the fallback from
	// Watching to Polling when the provider lacks push support.
	EventNotice EventType = "notice"
)

// Event is one entry in a watch handle's stream. Delivery is at-least-once;
// consumers are expected to treat re-delivery as idempotent.
type Event struct {
	Type   EventType
	Refs   []mailbox.Ref
	Kind   string
	Detail string
	At     time.Time
}

func newMailEvent(refs []mailbox.Ref) Event {
	return Event{Type: EventNewMail, Refs: refs, At: time.Now()}
}

func errorEvent(kind, detail string) Event {
	return Event{Type: EventError, Kind: kind, Detail: detail, At: time.Now()}
}

func heartbeatEvent() Event {
	return Event{Type: EventHeartbeat, At: time.Now()}
}

func noticeEvent(kind, detail string) Event {
	return Event{Type: EventNotice, Kind: kind, Detail: detail, At: time.Now()}
}
