package live

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"event-portal/internal/services/filter"
	"event-portal/internal/services/push"
	"event-portal/internal/status"
	"event-portal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = time.Second

type fetchResult struct {
	events []models.Event
	err    error
}

type fetchRequest struct {
	criteria filter.Criteria
	reply    chan fetchResult
}

// stubAPI hands every fetch to the test, which decides when and how it resolves.
type stubAPI struct {
	requests chan fetchRequest
}

func newStubAPI() *stubAPI {
	return &stubAPI{requests: make(chan fetchRequest, 16)}
}

func (s *stubAPI) Load(_ context.Context, c filter.Criteria) ([]models.Event, error) {
	req := fetchRequest{criteria: c, reply: make(chan fetchResult, 1)}
	s.requests <- req
	res := <-req.reply
	return res.events, res.err
}

func (s *stubAPI) next(t *testing.T) fetchRequest {
	t.Helper()
	select {
	case req := <-s.requests:
		return req
	case <-time.After(waitFor):
		t.Fatal("no fetch issued")
		return fetchRequest{}
	}
}

type harness struct {
	view *View
	api  *stubAPI
	bus  *push.Memory

	mu      sync.Mutex
	notices []Notice
}

func newHarness(t *testing.T, pinned string) *harness {
	t.Helper()
	h := &harness{api: newStubAPI(), bus: push.NewMemory()}
	h.view = NewView(Options{
		ID:      "v1",
		Channel: h.bus,
		Load:    h.api.Load,
		Pinned:  pinned,
		Log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	h.view.OnNotice(func(n Notice) {
		h.mu.Lock()
		h.notices = append(h.notices, n)
		h.mu.Unlock()
	})
	t.Cleanup(h.view.Unmount)
	return h
}

func (h *harness) publish(t *testing.T, topic string, payload any) {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	h.bus.Publish(topic, b)
}

func (h *harness) waitLive(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.view.State() == StateLive }, waitFor, 5*time.Millisecond)
}

func (h *harness) noticeKinds() []NoticeKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]NoticeKind, 0, len(h.notices))
	for _, n := range h.notices {
		out = append(out, n.Kind)
	}
	return out
}

func TestView_MountFetchesAndGoesLive(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.view.Mount(context.Background()))
	assert.Equal(t, StateSyncing, h.view.State())

	h.api.next(t).reply <- fetchResult{events: []models.Event{event("a", "A")}}
	h.waitLive(t)

	snap := h.view.Snapshot()
	assert.Equal(t, []string{"a"}, ids(snap.Events))
	assert.True(t, snap.PushOnline)
	assert.Empty(t, snap.Error)
}

func TestView_MountTwiceFails(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.view.Mount(context.Background()))

	err := h.view.Mount(context.Background())

	assert.ErrorIs(t, err, ErrAlreadyMounted)
}

func TestView_LiveMessagesApplyImmediately(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.view.Mount(context.Background()))
	h.api.next(t).reply <- fetchResult{events: []models.Event{event("a", "A"), event("b", "B")}}
	h.waitLive(t)

	h.publish(t, models.TopicEventCreated, event("c", "C"))
	h.publish(t, models.TopicEventUpdated, event("a", "A2"))
	h.publish(t, models.TopicEventDeleted, map[string]string{"id": "b"})

	snap := h.view.Snapshot()
	assert.Equal(t, []string{"a", "c"}, ids(snap.Events))
	assert.Equal(t, "A2", snap.Events[0].Title)
}

func TestView_AttendeeChangeWhileSyncingIsReplayed(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.view.Mount(context.Background()))
	req := h.api.next(t)

	h.publish(t, models.TopicAttendeeCount, models.AttendeeChange{EventID: "A", Count: 1})
	assert.Empty(t, h.view.Snapshot().Events)

	req.reply <- fetchResult{events: []models.Event{event("A", "Alpha")}}
	h.waitLive(t)

	snap := h.view.Snapshot()
	require.Len(t, snap.Events, 1)
	assert.Equal(t, 1, snap.Events[0].BookedSeats())
	assert.Equal(t, "Alpha", snap.Events[0].Title)
}

func TestView_BufferedMessagesReplayInReceiptOrder(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.view.Mount(context.Background()))
	req := h.api.next(t)

	h.publish(t, models.TopicEventCreated, event("n", "New"))
	h.publish(t, models.TopicEventUpdated, event("n", "New v2"))
	h.publish(t, models.TopicEventDeleted, map[string]string{"_id": "x"})

	req.reply <- fetchResult{events: []models.Event{event("x", "X")}}
	h.waitLive(t)

	snap := h.view.Snapshot()
	require.Equal(t, []string{"n"}, ids(snap.Events))
	assert.Equal(t, "New v2", snap.Events[0].Title)
}

func TestView_FetchAfterUnmountHasNoEffect(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.view.Mount(context.Background()))
	req := h.api.next(t)

	var mutations atomic.Int32
	h.view.OnChange(func(Snapshot) { mutations.Add(1) })
	before := h.view.Snapshot()

	h.view.Unmount()
	req.reply <- fetchResult{events: []models.Event{event("a", "A")}}
	h.publish(t, models.TopicEventCreated, event("b", "B"))

	assert.Never(t, func() bool { return mutations.Load() > 0 }, 100*time.Millisecond, 5*time.Millisecond)
	after := h.view.Snapshot()
	assert.Equal(t, StateTornDown, after.State)
	assert.Equal(t, before.Events, after.Events)
	assert.Equal(t, before.Version, after.Version)
}

func TestView_UnmountReleasesChannel(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.view.Mount(context.Background()))
	assert.Equal(t, 1, h.bus.Connections())
	assert.Equal(t, len(models.Topics)+1, h.bus.Registrations())

	h.view.Unmount()
	h.view.Unmount()

	select {
	case <-h.view.Done():
	default:
		t.Fatal("Done not closed after unmount")
	}
	assert.Equal(t, 0, h.bus.Connections())
	assert.Equal(t, 0, h.bus.Registrations())
}

func TestView_UnmountBeforeMount(t *testing.T) {
	h := newHarness(t, "")

	h.view.Unmount()

	assert.Equal(t, StateTornDown, h.view.State())
	assert.ErrorIs(t, h.view.Mount(context.Background()), ErrAlreadyMounted)
	assert.Equal(t, 0, h.bus.Registrations())
}

func TestView_FetchFailureKeepsPreviousCollection(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.view.Mount(context.Background()))
	h.api.next(t).reply <- fetchResult{events: []models.Event{event("a", "A")}}
	h.waitLive(t)

	h.view.SetFilter(filter.Patch{Title: filter.Str("zzz")})
	req := h.api.next(t)
	assert.Equal(t, filter.Criteria{Title: "zzz"}, req.criteria)
	h.publish(t, models.TopicEventCreated, event("b", "B"))
	req.reply <- fetchResult{err: status.ErrFetchFailed}
	h.waitLive(t)

	snap := h.view.Snapshot()
	assert.Equal(t, []string{"a", "b"}, ids(snap.Events))
	assert.Equal(t, status.ErrFetchFailed.Error(), snap.Error)
	assert.Contains(t, h.noticeKinds(), NoticeFetchFailed)
}

func TestView_OnlyNewestFetchResolves(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.view.Mount(context.Background()))
	first := h.api.next(t)

	h.view.SetFilter(filter.Patch{Category: filter.Str("seminar")})
	second := h.api.next(t)

	second.reply <- fetchResult{events: []models.Event{event("new", "New")}}
	h.waitLive(t)
	first.reply <- fetchResult{events: []models.Event{event("old", "Old")}}

	assert.Never(t, func() bool {
		evs := h.view.Snapshot().Events
		return len(evs) != 1 || evs[0].ID != "new"
	}, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, "seminar", h.view.Criteria().Category)
}

func TestView_ResetAndRefreshRequery(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.view.Mount(context.Background()))
	h.api.next(t).reply <- fetchResult{}
	h.waitLive(t)

	h.view.SetFilter(filter.Patch{StartDate: filter.Str("2025-05-10"), EndDate: filter.Str("2025-05-01")})
	req := h.api.next(t)
	assert.Equal(t, "2025-05-01", req.criteria.StartDate)
	assert.Equal(t, "2025-05-01", req.criteria.EndDate)
	req.reply <- fetchResult{}

	h.view.ResetFilter()
	assert.True(t, h.api.next(t).criteria.IsZero())

	h.view.Refresh()
	assert.True(t, h.api.next(t).criteria.IsZero())
}

func TestView_PushDisruptionKeepsCollection(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.view.Mount(context.Background()))
	h.api.next(t).reply <- fetchResult{events: []models.Event{event("a", "A")}}
	h.waitLive(t)

	h.bus.Drop(errors.New("socket closed"))
	h.bus.Drop(errors.New("socket closed"))

	snap := h.view.Snapshot()
	assert.False(t, snap.PushOnline)
	assert.Equal(t, StateLive, snap.State)
	assert.Equal(t, []string{"a"}, ids(snap.Events))

	h.bus.Restore()
	assert.True(t, h.view.Snapshot().PushOnline)
	assert.Equal(t, []NoticeKind{NoticePushDisrupted, NoticePushRestored}, h.noticeKinds())
}

func TestView_PinnedIgnoresOtherEvents(t *testing.T) {
	h := newHarness(t, "a")
	require.NoError(t, h.view.Mount(context.Background()))
	h.api.next(t).reply <- fetchResult{events: []models.Event{event("a", "A"), event("b", "B")}}
	h.waitLive(t)

	h.publish(t, models.TopicEventCreated, event("c", "C"))
	h.publish(t, models.TopicAttendeeCount, models.AttendeeChange{EventID: "a", Count: 2})

	snap := h.view.Snapshot()
	require.Equal(t, []string{"a"}, ids(snap.Events))
	assert.Equal(t, 2, snap.Events[0].BookedSeats())
	assert.Equal(t, "a", snap.Pinned)
}

func TestView_ApplyBooking(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.view.Mount(context.Background()))
	h.api.next(t).reply <- fetchResult{events: []models.Event{event("a", "A")}}
	h.waitLive(t)

	h.view.ApplyBooking("a", "u7", true, models.BookingResult{Attendees: 4, SeatsAvailable: 6})

	got := h.view.Snapshot().Events[0]
	assert.Equal(t, 6, got.SeatsAvailable())
	assert.True(t, got.Attendees.Has("u7"))

	h.view.ApplyBooking("a", "u7", false, models.BookingResult{Attendees: 3, SeatsAvailable: 7})

	got = h.view.Snapshot().Events[0]
	assert.Equal(t, 7, got.SeatsAvailable())
	assert.False(t, got.Attendees.Has("u7"))
}

func TestView_MalformedMessageIsDropped(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.view.Mount(context.Background()))
	h.api.next(t).reply <- fetchResult{events: []models.Event{event("a", "A")}}
	h.waitLive(t)
	version := h.view.Snapshot().Version

	h.bus.Publish(models.TopicEventUpdated, []byte(`{"title":`))
	h.bus.Publish(models.TopicEventDeleted, []byte(`{}`))

	assert.Equal(t, version, h.view.Snapshot().Version)
}

func TestView_ObserversReceiveSnapshots(t *testing.T) {
	h := newHarness(t, "")
	var mu sync.Mutex
	var states []State
	remove := h.view.OnChange(func(s Snapshot) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	require.NoError(t, h.view.Mount(context.Background()))
	h.api.next(t).reply <- fetchResult{}
	h.waitLive(t)
	remove()
	h.publish(t, models.TopicEventCreated, event("a", "A"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateSyncing, StateLive}, states)
}

func TestState_MarshalText(t *testing.T) {
	b, err := json.Marshal(Snapshot{State: StateLive})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"state":"live"`)
}
