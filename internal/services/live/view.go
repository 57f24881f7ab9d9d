// Package live keeps a mounted view's event collection consistent with the
// last full fetch and the incremental updates pushed after it.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"event-portal/internal/lib/logger/sl"
	"event-portal/internal/services/filter"
	"event-portal/internal/services/push"
	"event-portal/internal/status"
	"event-portal/models"
	"event-portal/monitoring"
)

var ErrAlreadyMounted = errors.New("live: view already mounted")

type State int

const (
	StateDisconnected State = iota
	StateSyncing
	StateLive
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateSyncing:
		return "syncing"
	case StateLive:
		return "live"
	case StateTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Loader performs the full fetch for the given criteria.
type Loader func(ctx context.Context, c filter.Criteria) ([]models.Event, error)

type NoticeKind string

const (
	NoticeFetchFailed   NoticeKind = "fetch_failed"
	NoticePushDisrupted NoticeKind = "push_disrupted"
	NoticePushRestored  NoticeKind = "push_restored"
	NoticeBookingFailed NoticeKind = "booking_failed"
)

// Notice is a transient, user visible message. It never changes the collection.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
}

// Snapshot is what observers render. Version grows with every change so that
// consumers can drop out of date copies.
type Snapshot struct {
	ViewID     string          `json:"viewId"`
	State      State           `json:"state"`
	Criteria   filter.Criteria `json:"criteria"`
	Pinned     string          `json:"pinned,omitempty"`
	Events     []models.Event  `json:"events"`
	Error      string          `json:"error,omitempty"`
	PushOnline bool            `json:"pushOnline"`
	Version    uint64          `json:"version"`
}

type Options struct {
	ID       string
	Channel  push.Channel
	Load     Loader
	Criteria filter.Criteria
	// Pinned restricts the view to a single event id (detail pages).
	Pinned string
	Log    *slog.Logger
}

// View is one mounted dashboard or detail page.
//
// Every mutation of the collection happens with mu held, one message or fetch
// result at a time. Observers are called with mu held too and must not call
// back into the view.
type View struct {
	id      string
	log     *slog.Logger
	channel push.Channel
	load    Loader
	pinned  string
	filter  *filter.Model

	mu         sync.Mutex
	state      State
	active     bool
	connected  bool
	pushOnline bool
	disrupted  bool
	coll       *Collection
	buffer     []models.Update
	generation uint64
	lastErr    error
	version    uint64
	tokens     []push.Token

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	nextObserver int
	onChange     map[int]func(Snapshot)
	onNotice     map[int]func(Notice)
}

func NewView(opts Options) *View {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	v := &View{
		id:       opts.ID,
		log:      log.With(slog.String("view", opts.ID)),
		channel:  opts.Channel,
		load:     opts.Load,
		pinned:   opts.Pinned,
		coll:     NewCollection(nil),
		done:     make(chan struct{}),
		onChange: make(map[int]func(Snapshot)),
		onNotice: make(map[int]func(Notice)),
	}
	v.filter = filter.NewModel(opts.Criteria, v.requery)
	return v
}

func (v *View) ID() string { return v.id }

func (v *View) Pinned() string { return v.pinned }

// Done is closed once the view is unmounted.
func (v *View) Done() <-chan struct{} { return v.done }

// Mount subscribes to every update topic, connects the channel and starts the
// first full fetch. Messages that arrive before the fetch resolves are held
// back and replayed on top of its result.
func (v *View) Mount(ctx context.Context) error {
	const op = "live.View.Mount"

	v.mu.Lock()
	if v.state != StateDisconnected {
		v.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrAlreadyMounted)
	}
	v.active = true
	v.state = StateSyncing
	v.ctx, v.cancel = context.WithCancel(context.WithoutCancel(ctx))
	v.mu.Unlock()

	monitoring.ViewMounted()

	tokens := make([]push.Token, 0, len(models.Topics)+1)
	for _, topic := range models.Topics {
		tokens = append(tokens, v.channel.Subscribe(topic, v.handleMessage))
	}
	tokens = append(tokens, v.channel.OnStatus(v.handleStatus))
	connErr := v.channel.Connect()

	v.mu.Lock()
	if !v.active {
		// Unmounted while we were subscribing.
		v.mu.Unlock()
		for _, t := range tokens {
			v.channel.Unsubscribe(t)
		}
		if connErr == nil {
			v.channel.Disconnect()
		}
		return nil
	}
	v.tokens = tokens
	v.connected = connErr == nil
	if connErr == nil && !v.disrupted {
		v.pushOnline = true
	}
	if connErr != nil {
		v.pushOnline = false
		v.disrupted = true
		v.log.Warn("push channel unavailable, view will not update live", sl.Err(connErr))
		v.noticeLocked(Notice{
			Kind:    NoticePushDisrupted,
			Message: "Live updates are unavailable",
			Err:     fmt.Errorf("%w: %w", status.ErrPushDisrupted, connErr),
		})
	}
	v.startFetchLocked(v.filter.Criteria())
	v.mu.Unlock()

	return nil
}

// Unmount stops the view for good. Nothing observable happens afterwards, not
// even when a fetch started before resolves.
func (v *View) Unmount() {
	v.mu.Lock()
	if v.state == StateTornDown {
		v.mu.Unlock()
		return
	}
	wasMounted := v.state != StateDisconnected
	v.active = false
	v.state = StateTornDown
	v.buffer = nil
	tokens := v.tokens
	v.tokens = nil
	connected := v.connected
	v.connected = false
	cancel := v.cancel
	clear(v.onChange)
	clear(v.onNotice)
	close(v.done)
	v.mu.Unlock()

	for _, t := range tokens {
		v.channel.Unsubscribe(t)
	}
	if connected {
		v.channel.Disconnect()
	}
	if cancel != nil {
		cancel()
	}
	if wasMounted {
		monitoring.ViewUnmounted()
	}
	v.log.Debug("view unmounted")
}

// SetFilter merges p into the criteria and re-queries.
func (v *View) SetFilter(p filter.Patch) filter.Criteria {
	return v.filter.SetFilter(p)
}

// ResetFilter restores the empty criteria and re-queries.
func (v *View) ResetFilter() filter.Criteria {
	return v.filter.Reset()
}

// Refresh re-runs the full fetch with the current criteria.
func (v *View) Refresh() {
	v.requery(filter.Criteria{})
}

func (v *View) Criteria() filter.Criteria {
	return v.filter.Criteria()
}

// Receive folds one update into the view. While a fetch is in flight it is
// buffered instead.
func (v *View) Receive(u models.Update) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.active {
		return
	}
	if v.pinned != "" && u.EventID() != v.pinned {
		monitoring.TrackViewMessage(string(u.Kind), "ignored")
		return
	}
	if v.state == StateSyncing {
		v.buffer = append(v.buffer, u)
		monitoring.TrackViewMessage(string(u.Kind), "buffered")
		return
	}
	if v.applyLocked(u) {
		v.emitLocked()
	}
}

// ApplyBooking folds the booking endpoint's reply in through the same rule as
// a pushed attendee count. userID joins or leaves the roster with it, so the
// booker's own book/cancel state follows the reply.
func (v *View) ApplyBooking(eventID, userID string, joined bool, res models.BookingResult) {
	v.Receive(models.Update{
		Kind: models.UpdateAttendeeChanged,
		Attendees: models.AttendeeChange{
			EventID:        eventID,
			Count:          res.Attendees,
			SeatsAvailable: res.SeatsAvailable,
			UserID:         userID,
			Joined:         joined,
		},
	})
}

// Notify publishes a notice to observers. It is dropped after unmount.
func (v *View) Notify(n Notice) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.active {
		v.noticeLocked(n)
	}
}

func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// OnChange registers fn for every new snapshot and returns a func removing it.
func (v *View) OnChange(fn func(Snapshot)) (remove func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextObserver
	v.nextObserver++
	v.onChange[id] = fn
	return func() {
		v.mu.Lock()
		delete(v.onChange, id)
		v.mu.Unlock()
	}
}

// OnNotice registers fn for every notice and returns a func removing it.
func (v *View) OnNotice(fn func(Notice)) (remove func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextObserver
	v.nextObserver++
	v.onNotice[id] = fn
	return func() {
		v.mu.Lock()
		delete(v.onNotice, id)
		v.mu.Unlock()
	}
}

// requery always fetches the model's current criteria, so the last of several
// concurrent edits is the one that resolves the view.
func (v *View) requery(filter.Criteria) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.active {
		return
	}
	v.startFetchLocked(v.filter.Criteria())
}

// startFetchLocked enters Syncing and launches a fetch. Only the newest
// generation may resolve the view.
func (v *View) startFetchLocked(c filter.Criteria) {
	v.generation++
	gen := v.generation
	ctx := v.ctx
	v.state = StateSyncing
	v.emitLocked()

	go v.fetch(ctx, gen, c)
}

func (v *View) fetch(ctx context.Context, gen uint64, c filter.Criteria) {
	events, err := v.load(ctx, c)
	v.resolve(gen, events, err)
}

func (v *View) resolve(gen uint64, events []models.Event, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.active {
		monitoring.TrackViewFetch("discarded")
		return
	}
	if gen != v.generation {
		monitoring.TrackViewFetch("stale")
		return
	}

	if err != nil {
		monitoring.TrackViewFetch("error")
		v.log.Warn("fetch failed, keeping previous events", sl.Err(err))
		v.lastErr = err
		v.noticeLocked(Notice{
			Kind:    NoticeFetchFailed,
			Message: "Could not load events",
			Err:     err,
		})
	} else {
		monitoring.TrackViewFetch("ok")
		v.lastErr = nil
		v.coll.Replace(v.restrict(events))
	}

	buffered := v.buffer
	v.buffer = nil
	for _, u := range buffered {
		v.applyLocked(u)
	}
	v.state = StateLive
	v.emitLocked()
}

func (v *View) restrict(events []models.Event) []models.Event {
	if v.pinned == "" {
		return events
	}
	out := events[:0:0]
	for _, e := range events {
		if e.ID == v.pinned {
			out = append(out, e)
		}
	}
	return out
}

func (v *View) applyLocked(u models.Update) bool {
	changed := v.coll.Apply(u)
	outcome := "ignored"
	if changed {
		outcome = "applied"
	}
	monitoring.TrackViewMessage(string(u.Kind), outcome)
	return changed
}

func (v *View) handleMessage(topic string, payload []byte) {
	u, err := models.DecodeUpdate(topic, payload)
	if err != nil {
		monitoring.TrackViewMessage(topic, "malformed")
		v.log.Warn("dropping malformed update", slog.String("topic", topic), sl.Err(err))
		return
	}
	v.Receive(u)
}

func (v *View) handleStatus(s push.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.active {
		return
	}
	switch s.Category {
	case push.Disconnected, push.Denied:
		v.pushOnline = false
		if v.disrupted {
			return
		}
		v.disrupted = true
		err := s.Err
		if err == nil {
			err = status.ErrPushDisrupted
		}
		v.noticeLocked(Notice{
			Kind:    NoticePushDisrupted,
			Message: "Live updates paused, showing last known events",
			Err:     err,
		})
		v.emitLocked()
	case push.Connected, push.Reconnected:
		v.pushOnline = true
		if !v.disrupted {
			return
		}
		v.disrupted = false
		v.noticeLocked(Notice{Kind: NoticePushRestored, Message: "Live updates resumed"})
		v.emitLocked()
	}
}

func (v *View) snapshotLocked() Snapshot {
	s := Snapshot{
		ViewID:     v.id,
		State:      v.state,
		Criteria:   v.filter.Criteria(),
		Pinned:     v.pinned,
		Events:     v.coll.Events(),
		PushOnline: v.pushOnline,
		Version:    v.version,
	}
	if v.lastErr != nil {
		s.Error = v.lastErr.Error()
	}
	return s
}

func (v *View) emitLocked() {
	v.version++
	if len(v.onChange) == 0 {
		return
	}
	s := v.snapshotLocked()
	for _, fn := range v.onChange {
		fn(s)
	}
}

func (v *View) noticeLocked(n Notice) {
	for _, fn := range v.onNotice {
		fn(n)
	}
}
