package models

import (
	"encoding/json"
	"fmt"
)

// UpdateKind tags an incremental update pushed by the server.
type UpdateKind string

const (
	UpdateCreated         UpdateKind = "created"
	UpdateUpdated         UpdateKind = "updated"
	UpdateDeleted         UpdateKind = "deleted"
	UpdateAttendeeChanged UpdateKind = "attendeeChanged"
)

// Push channel topic names.
const (
	TopicEventCreated  = "eventCreated"
	TopicEventUpdated  = "eventUpdated"
	TopicEventDeleted  = "eventDeleted"
	TopicAttendeeCount = "attendeeUpdate"
)

// Topics lists every topic a live view subscribes to.
var Topics = []string{TopicEventCreated, TopicEventUpdated, TopicEventDeleted, TopicAttendeeCount}

type AttendeeChange struct {
	EventID        string `json:"eventId"`
	Count          int    `json:"count"`
	SeatsAvailable int    `json:"seatsAvailable"`

	// UserID is set when the change is our own booking reply; Joined tells
	// whether that user booked or cancelled. Pushed counts never carry them.
	UserID string `json:"-"`
	Joined bool   `json:"-"`
}

// Update is one incremental change to one event. Exactly one of Event,
// DeletedID or Attendees is meaningful, depending on Kind.
type Update struct {
	Kind      UpdateKind
	Event     Event
	DeletedID string
	Attendees AttendeeChange
}

// EventID returns the identifier the update targets.
func (u Update) EventID() string {
	switch u.Kind {
	case UpdateDeleted:
		return u.DeletedID
	case UpdateAttendeeChanged:
		return u.Attendees.EventID
	default:
		return u.Event.ID
	}
}

// DecodeUpdate turns a raw push payload for topic into an Update.
func DecodeUpdate(topic string, payload []byte) (Update, error) {
	switch topic {
	case TopicEventCreated, TopicEventUpdated:
		var e Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return Update{}, fmt.Errorf("decode %s: %w", topic, err)
		}
		if e.ID == "" {
			return Update{}, fmt.Errorf("decode %s: missing _id", topic)
		}
		kind := UpdateCreated
		if topic == TopicEventUpdated {
			kind = UpdateUpdated
		}
		return Update{Kind: kind, Event: e}, nil

	case TopicEventDeleted:
		var d struct {
			ID      string `json:"id"`
			AltID   string `json:"_id"`
			EventID string `json:"eventId"`
		}
		if err := json.Unmarshal(payload, &d); err != nil {
			return Update{}, fmt.Errorf("decode %s: %w", topic, err)
		}
		id := firstNonEmpty(d.ID, d.AltID, d.EventID)
		if id == "" {
			return Update{}, fmt.Errorf("decode %s: missing id", topic)
		}
		return Update{Kind: UpdateDeleted, DeletedID: id}, nil

	case TopicAttendeeCount:
		var c AttendeeChange
		if err := json.Unmarshal(payload, &c); err != nil {
			return Update{}, fmt.Errorf("decode %s: %w", topic, err)
		}
		if c.EventID == "" {
			return Update{}, fmt.Errorf("decode %s: missing eventId", topic)
		}
		return Update{Kind: UpdateAttendeeChanged, Attendees: c}, nil
	}
	return Update{}, fmt.Errorf("unknown topic %q", topic)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
