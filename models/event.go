package models

import (
	"bytes"
	"encoding/json"
	"slices"
	"time"
)

type Event struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Date        time.Time `json:"date"`
	Time        string    `json:"time,omitempty"` // wall clock, e.g. "18:30"
	Location    string    `json:"location"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	SeatsTotal  int       `json:"seatsTotal"`
	Attendees   Attendees `json:"attendees"`
	Organizer   Organizer `json:"organizer"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// BookedSeats is the cardinality of the attendee set.
func (e Event) BookedSeats() int {
	return e.Attendees.Len()
}

// SeatsAvailable never goes negative; the server may have overbooked.
func (e Event) SeatsAvailable() int {
	free := e.SeatsTotal - e.Attendees.Len()
	if free < 0 {
		return 0
	}
	return free
}

func (e Event) SoldOut() bool {
	return e.SeatsAvailable() == 0
}

// Attendees is the roster of user references booked on an event.
//
// The push channel sometimes only tells us how many attendees there are. The
// count then overrides Len while IDs keeps the users known to have booked,
// until the next full record arrives.
type Attendees struct {
	IDs     []string
	count   int
	counted bool
}

func NewAttendees(ids ...string) Attendees {
	return Attendees{IDs: ids}
}

func (a Attendees) Len() int {
	if a.counted {
		return a.count
	}
	return len(a.IDs)
}

// Counted reports whether Len comes from a count update the ids do not match.
func (a Attendees) Counted() bool {
	return a.counted
}

func (a Attendees) Has(userID string) bool {
	return slices.Contains(a.IDs, userID)
}

// Equal compares ids, in order, and the reported count.
func (a Attendees) Equal(b Attendees) bool {
	return a.Len() == b.Len() && a.counted == b.counted && slices.Equal(a.IDs, b.IDs)
}

// WithCount returns the roster resized to n. The ids are always kept.
func (a Attendees) WithCount(n int) Attendees {
	if n < 0 {
		n = 0
	}
	if len(a.IDs) == n {
		return Attendees{IDs: a.IDs}
	}
	return Attendees{IDs: a.IDs, count: n, counted: true}
}

// WithMember adds or removes userID. A count override is kept unless the ids
// now account for it.
func (a Attendees) WithMember(userID string, member bool) Attendees {
	ids := slices.Clone(a.IDs)
	i := slices.Index(ids, userID)
	switch {
	case member && i < 0:
		ids = append(ids, userID)
	case !member && i >= 0:
		ids = slices.Delete(ids, i, i+1)
	}
	out := Attendees{IDs: ids, count: a.count, counted: a.counted}
	if out.counted && out.count == len(ids) {
		out.counted = false
		out.count = 0
	}
	return out
}

func (a Attendees) MarshalJSON() ([]byte, error) {
	ids := a.IDs
	if ids == nil {
		ids = []string{}
	}
	if a.counted {
		return json.Marshal(struct {
			IDs   []string `json:"ids"`
			Count int      `json:"count"`
		}{ids, a.count})
	}
	return json.Marshal(ids)
}

// UnmarshalJSON accepts an array of ids, an array of populated user objects, or
// the {"ids": [...], "count": n} shape produced by MarshalJSON.
func (a *Attendees) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = NewAttendees()
		return nil
	}

	if len(data) > 0 && data[0] == '{' {
		var c struct {
			IDs   []string `json:"ids"`
			Count int      `json:"count"`
		}
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		*a = NewAttendees(c.IDs...).WithCount(c.Count)
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ids := make([]string, 0, len(raw))
	for _, item := range raw {
		var ref UserRef
		if err := json.Unmarshal(item, &ref); err != nil {
			return err
		}
		ids = append(ids, ref.ID)
	}
	*a = NewAttendees(ids...)
	return nil
}

// Organizer is either a bare user id or a populated user.
type Organizer struct {
	ID   string
	User *User
}

func (o Organizer) Name() string {
	if o.User != nil && o.User.Name != "" {
		return o.User.Name
	}
	return o.ID
}

func (o Organizer) MarshalJSON() ([]byte, error) {
	if o.User != nil {
		return json.Marshal(o.User)
	}
	return json.Marshal(o.ID)
}

func (o *Organizer) UnmarshalJSON(data []byte) error {
	var ref UserRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return err
	}
	*o = Organizer{ID: ref.ID, User: ref.User}
	return nil
}

// UserRef decodes a reference that is either "id" or {"_id": "id", ...}.
type UserRef struct {
	ID   string
	User *User
}

func (r *UserRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = UserRef{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = UserRef{ID: id}
		return nil
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}
	*r = UserRef{ID: u.ID, User: &u}
	return nil
}

// EventInput is what the admin form submits for create and update.
type EventInput struct {
	Title       string    `json:"title" validate:"required,min=3,max=100"`
	Description string    `json:"description" validate:"required,max=2000"`
	Category    string    `json:"category" validate:"required,oneof=conference workshop seminar networking other"`
	Date        time.Time `json:"date" validate:"required"`
	Time        string    `json:"time,omitempty" validate:"omitempty,datetime=15:04"`
	Location    string    `json:"location" validate:"required,max=200"`
	ImageURL    string    `json:"imageUrl,omitempty" validate:"omitempty,url"`
	SeatsTotal  int       `json:"seatsTotal" validate:"gte=0"`
}

// BookingResult is the booking endpoint's reply to POST/DELETE.
type BookingResult struct {
	Attendees      int `json:"attendees"`
	SeatsAvailable int `json:"seatsAvailable"`
}

// Categories offered by the filter, in display order.
var Categories = []string{"conference", "workshop", "seminar", "networking", "other"}
