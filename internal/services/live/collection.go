package live

import (
	"event-portal/models"
)

// Collection is the ordered set of events a view displays. It never holds two
// events with the same identifier. Order is fetch order followed by append
// order of created events; display sorting happens elsewhere.
type Collection struct {
	events []models.Event
	index  map[string]int
}

func NewCollection(events []models.Event) *Collection {
	c := &Collection{}
	c.Replace(events)
	return c
}

// Replace swaps in a fresh snapshot. Duplicate ids in the snapshot keep their
// first occurrence.
func (c *Collection) Replace(events []models.Event) {
	c.events = make([]models.Event, 0, len(events))
	c.index = make(map[string]int, len(events))
	for _, e := range events {
		if _, dup := c.index[e.ID]; dup {
			continue
		}
		c.index[e.ID] = len(c.events)
		c.events = append(c.events, e)
	}
}

func (c *Collection) Len() int {
	return len(c.events)
}

func (c *Collection) Get(id string) (models.Event, bool) {
	i, ok := c.index[id]
	if !ok {
		return models.Event{}, false
	}
	return c.events[i], true
}

// Events returns a copy safe to hand to renderers.
func (c *Collection) Events() []models.Event {
	out := make([]models.Event, len(c.events))
	copy(out, c.events)
	return out
}

// Apply folds one incremental update into the collection and reports whether
// anything changed.
func (c *Collection) Apply(u models.Update) bool {
	switch u.Kind {
	case models.UpdateCreated:
		return c.create(u.Event)
	case models.UpdateUpdated:
		return c.update(u.Event)
	case models.UpdateDeleted:
		return c.remove(u.DeletedID)
	case models.UpdateAttendeeChanged:
		return c.setAttendees(u.Attendees)
	}
	return false
}

// create appends unless the id is already present (duplicate delivery).
func (c *Collection) create(e models.Event) bool {
	if _, ok := c.index[e.ID]; ok {
		return false
	}
	c.index[e.ID] = len(c.events)
	c.events = append(c.events, e)
	return true
}

// update replaces in place; unknown ids are ignored since the event may not
// match this view's filter.
func (c *Collection) update(e models.Event) bool {
	i, ok := c.index[e.ID]
	if !ok {
		return false
	}
	c.events[i] = e
	return true
}

func (c *Collection) remove(id string) bool {
	i, ok := c.index[id]
	if !ok {
		return false
	}
	c.events = append(c.events[:i], c.events[i+1:]...)
	delete(c.index, id)
	for j := i; j < len(c.events); j++ {
		c.index[c.events[j].ID] = j
	}
	return true
}

// setAttendees touches only the attendee roster, never the rest of the
// record, so a count racing ahead of a full update cannot clobber it. Known
// user ids survive a count change.
func (c *Collection) setAttendees(ch models.AttendeeChange) bool {
	i, ok := c.index[ch.EventID]
	if !ok {
		return false
	}
	before := c.events[i].Attendees
	after := before
	if ch.UserID != "" {
		after = after.WithMember(ch.UserID, ch.Joined)
	}
	after = after.WithCount(ch.Count)
	if after.Equal(before) {
		return false
	}
	c.events[i].Attendees = after
	return true
}
