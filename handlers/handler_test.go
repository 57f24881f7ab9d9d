package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"event-portal/internal/services/eventapi"
	"event-portal/internal/services/live"
	"event-portal/internal/services/push"
	"event-portal/internal/services/session"
	"event-portal/internal/services/views"
	"event-portal/internal/status"
	"event-portal/models"

	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockEventAPI struct {
	mock.Mock
}

func (m *MockEventAPI) ListEvents(ctx context.Context, token string, query url.Values) ([]models.Event, error) {
	args := m.Called(ctx, token, query)
	events, _ := args.Get(0).([]models.Event)
	return events, args.Error(1)
}

func (m *MockEventAPI) GetEvent(ctx context.Context, token, id string) (models.Event, error) {
	args := m.Called(ctx, token, id)
	return args.Get(0).(models.Event), args.Error(1)
}

func (m *MockEventAPI) CreateEvent(ctx context.Context, token string, in models.EventInput) (models.Event, error) {
	args := m.Called(ctx, token, in)
	return args.Get(0).(models.Event), args.Error(1)
}

func (m *MockEventAPI) UpdateEvent(ctx context.Context, token, id string, in models.EventInput) (models.Event, error) {
	args := m.Called(ctx, token, id, in)
	return args.Get(0).(models.Event), args.Error(1)
}

func (m *MockEventAPI) DeleteEvent(ctx context.Context, token, id string) error {
	return m.Called(ctx, token, id).Error(0)
}

func (m *MockEventAPI) Book(ctx context.Context, token, id string) (models.BookingResult, error) {
	args := m.Called(ctx, token, id)
	return args.Get(0).(models.BookingResult), args.Error(1)
}

func (m *MockEventAPI) Unbook(ctx context.Context, token, id string) (models.BookingResult, error) {
	args := m.Called(ctx, token, id)
	return args.Get(0).(models.BookingResult), args.Error(1)
}

func (m *MockEventAPI) RemoveAttendee(ctx context.Context, token, id, userID string) error {
	return m.Called(ctx, token, id, userID).Error(0)
}

func (m *MockEventAPI) Login(ctx context.Context, creds models.Credentials) (models.AuthReply, error) {
	args := m.Called(ctx, creds)
	return args.Get(0).(models.AuthReply), args.Error(1)
}

func (m *MockEventAPI) Register(ctx context.Context, reg models.Registration) (models.AuthReply, error) {
	args := m.Called(ctx, reg)
	return args.Get(0).(models.AuthReply), args.Error(1)
}

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]*session.Session{}}
}

func (s *memStore) Load(_ context.Context, id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, status.ErrSessionNotFound
	}
	return sess, nil
}

func (s *memStore) Save(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *memStore) Clear(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

type testEnv struct {
	h     *Handler
	e     *echo.Echo
	api   *MockEventAPI
	store *memStore
	bus   *push.Memory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := &MockEventAPI{}
	store := newMemStore()
	bus := push.NewMemory()
	registry := views.NewRegistry(log, bus, api, views.Config{})
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })

	h := New(log, api, store, registry, nil, Config{StreamHeartbeat: time.Hour})
	return &testEnv{h: h, e: h.Router(), api: api, store: store, bus: bus}
}

func (env *testEnv) addSession(id string, role models.Role) *session.Session {
	s := &session.Session{ID: id, Token: "tok-" + id, Role: role, UserID: "u-" + id}
	if role == models.RoleGuest {
		s.Token = session.GuestToken
	}
	_ = env.store.Save(context.Background(), s)
	return s
}

func (env *testEnv) do(method, path string, body any, sid string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if sid != "" {
		req.Header.Set(sessionHeader, sid)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type viewReply struct {
	ViewID string `json:"viewId"`
	State  string `json:"state"`
	Events []struct {
		ID          string `json:"id"`
		SeatsBooked int    `json:"seatsBooked"`
		Action      string `json:"action"`
	} `json:"events"`
}

func (env *testEnv) mountLive(t *testing.T, sid string) viewReply {
	t.Helper()
	rec := env.do(http.MethodPost, "/api/v1/views", map[string]any{}, sid)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[viewReply](t, rec).ViewID

	var got viewReply
	require.Eventually(t, func() bool {
		rec := env.do(http.MethodGet, "/api/v1/views/"+id, nil, sid)
		got = viewReply{}
		_ = json.Unmarshal(rec.Body.Bytes(), &got)
		return got.State == "live"
	}, time.Second, 5*time.Millisecond)
	return got
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/health", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestLogin_StartsSession(t *testing.T) {
	env := newTestEnv(t)
	creds := models.Credentials{Email: "ann@example.com", Password: "secret1"}
	env.api.On("Login", mock.Anything, creds).Return(models.AuthReply{
		Token: "opaque-token",
		User:  models.User{ID: "u1", Name: "Ann", Role: models.RoleUser},
	}, nil)

	rec := env.do(http.MethodPost, "/api/v1/auth/login", creds, "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "user", body["role"])
	assert.Equal(t, "standard", body["variant"])
	assert.NotContains(t, rec.Body.String(), "opaque-token")

	sid := body["sessionId"].(string)
	stored, err := env.store.Load(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", stored.BearerToken())

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sid, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	env.api.AssertExpectations(t)
}

func TestLogin_ValidationFails(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "nope", "password": "1"}, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "validation failed", body["error"])
	env.api.AssertNotCalled(t, "Login", mock.Anything, mock.Anything)
}

func TestLogin_UpstreamRejects(t *testing.T) {
	env := newTestEnv(t)
	creds := models.Credentials{Email: "ann@example.com", Password: "wrong-pass"}
	env.api.On("Login", mock.Anything, creds).Return(models.AuthReply{},
		&eventapi.APIError{Status: http.StatusUnauthorized, Message: "Invalid credentials", Kind: status.ErrAuthFailed})

	rec := env.do(http.MethodPost, "/api/v1/auth/login", creds, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", decode[map[string]any](t, rec)["error"])
}

func TestGuestLogin_CannotBook(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/auth/guest", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "guest", body["variant"])

	rec = env.do(http.MethodPost, "/api/v1/events/e1/book", nil, body["sessionId"].(string))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	env.api.AssertNotCalled(t, "Book", mock.Anything, mock.Anything, mock.Anything)
}

func TestMe_RequiresSession(t *testing.T) {
	env := newTestEnv(t)
	env.addSession("s1", models.RoleAdmin)

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/v1/auth/me", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/v1/auth/me", nil, "unknown").Code)

	rec := env.do(http.MethodGet, "/api/v1/auth/me", nil, "s1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", decode[map[string]any](t, rec)["variant"])
}

func TestListEvents_AnonymousRendersGuestCards(t *testing.T) {
	env := newTestEnv(t)
	later := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	sooner := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	env.api.On("ListEvents", mock.Anything, "", url.Values{"category": {"workshop"}}).Return([]models.Event{
		{ID: "late", Date: later, SeatsTotal: 5},
		{ID: "soon", Date: sooner, SeatsTotal: 5},
	}, nil)

	rec := env.do(http.MethodGet, "/api/v1/events?category=workshop&bogus=1", nil, "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[struct {
		Events []struct {
			ID       string `json:"id"`
			Action   string `json:"action"`
			ReadOnly bool   `json:"readOnly"`
		} `json:"events"`
	}](t, rec)
	require.Len(t, body.Events, 2)
	assert.Equal(t, "soon", body.Events[0].ID)
	assert.Equal(t, "login", body.Events[0].Action)
	assert.True(t, body.Events[0].ReadOnly)
	env.api.AssertExpectations(t)
}

func TestCreateEvent_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	env.addSession("member", models.RoleUser)
	env.addSession("admin", models.RoleAdmin)
	in := models.EventInput{
		Title:       "Go Workshop",
		Description: "Hands on",
		Category:    "workshop",
		Date:        time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		Location:    "Room 1",
		SeatsTotal:  20,
	}
	env.api.On("CreateEvent", mock.Anything, "tok-admin", in).Return(models.Event{ID: "new", Title: in.Title, SeatsTotal: 20}, nil)

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/api/v1/events", in, "member").Code)

	rec := env.do(http.MethodPost, "/api/v1/events", in, "admin")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "edit", decode[map[string]any](t, rec)["action"])
	env.api.AssertNumberOfCalls(t, "CreateEvent", 1)
}

func TestCreateEvent_InvalidCategory(t *testing.T) {
	env := newTestEnv(t)
	env.addSession("admin", models.RoleAdmin)

	rec := env.do(http.MethodPost, "/api/v1/events", map[string]any{
		"title": "Go Workshop", "description": "x", "category": "party",
		"date": "2025-09-01T00:00:00Z", "location": "Room 1",
	}, "admin")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	fields := decode[map[string]any](t, rec)["fields"].(map[string]any)
	assert.Equal(t, "oneof", fields["Category"])
}

func TestDeleteEvent_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.addSession("admin", models.RoleAdmin)
	env.api.On("DeleteEvent", mock.Anything, "tok-admin", "e1").
		Return(&eventapi.APIError{Status: http.StatusInternalServerError, Kind: status.ErrMutationFailed})

	rec := env.do(http.MethodDelete, "/api/v1/events/e1", nil, "admin")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "change failed", decode[map[string]any](t, rec)["error"])
}

func TestBookEvent_UpdatesSessionViews(t *testing.T) {
	env := newTestEnv(t)
	env.addSession("s1", models.RoleUser)
	env.api.On("ListEvents", mock.Anything, "tok-s1", mock.Anything).Return([]models.Event{
		{ID: "e1", SeatsTotal: 10, Attendees: models.NewAttendees("a", "b")},
	}, nil)
	env.api.On("Book", mock.Anything, "tok-s1", "e1").Return(models.BookingResult{Attendees: 3, SeatsAvailable: 7}, nil)

	view := env.mountLive(t, "s1")
	require.Len(t, view.Events, 1)
	assert.Equal(t, 2, view.Events[0].SeatsBooked)

	rec := env.do(http.MethodPost, "/api/v1/events/e1/book", nil, "s1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(3), decode[map[string]any](t, rec)["attendees"])

	got := decode[viewReply](t, env.do(http.MethodGet, "/api/v1/views/"+view.ViewID, nil, "s1"))
	assert.Equal(t, 3, got.Events[0].SeatsBooked)
	assert.Equal(t, "cancel", got.Events[0].Action)
}

func TestBookFromView_TogglesAction(t *testing.T) {
	env := newTestEnv(t)
	env.addSession("s1", models.RoleUser)
	env.api.On("ListEvents", mock.Anything, "tok-s1", mock.Anything).Return([]models.Event{
		{ID: "e1", SeatsTotal: 10, Attendees: models.NewAttendees("u-other")},
	}, nil)
	env.api.On("Book", mock.Anything, "tok-s1", "e1").Return(models.BookingResult{Attendees: 2, SeatsAvailable: 8}, nil)
	env.api.On("Unbook", mock.Anything, "tok-s1", "e1").Return(models.BookingResult{Attendees: 1, SeatsAvailable: 9}, nil)

	view := env.mountLive(t, "s1")
	require.Equal(t, "book", view.Events[0].Action)
	path := "/api/v1/views/" + view.ViewID + "/events/e1/book"

	rec := env.do(http.MethodPost, path, nil, "s1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[viewReply](t, rec)
	assert.Equal(t, "cancel", got.Events[0].Action)
	assert.Equal(t, 2, got.Events[0].SeatsBooked)

	// a pushed count from another booker must not flip it back
	env.bus.Publish(models.TopicAttendeeCount, []byte(`{"eventId":"e1","count":3,"seatsAvailable":7}`))
	got = decode[viewReply](t, env.do(http.MethodGet, "/api/v1/views/"+view.ViewID, nil, "s1"))
	assert.Equal(t, "cancel", got.Events[0].Action)
	assert.Equal(t, 3, got.Events[0].SeatsBooked)

	rec = env.do(http.MethodDelete, path, nil, "s1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decode[viewReply](t, rec)
	assert.Equal(t, "book", got.Events[0].Action)
	assert.Equal(t, 1, got.Events[0].SeatsBooked)
}

func TestBookFromView_FailureNotifies(t *testing.T) {
	env := newTestEnv(t)
	env.addSession("s1", models.RoleUser)
	env.api.On("ListEvents", mock.Anything, "tok-s1", mock.Anything).Return([]models.Event{{ID: "e1", SeatsTotal: 1}}, nil)
	env.api.On("Book", mock.Anything, "tok-s1", "e1").Return(models.BookingResult{},
		&eventapi.APIError{Status: http.StatusBadGateway, Kind: status.ErrBookingRejected})

	view := env.mountLive(t, "s1")
	v, err := env.h.views.Get("s1", view.ViewID)
	require.NoError(t, err)

	var mu sync.Mutex
	var notices []live.Notice
	v.OnNotice(func(n live.Notice) {
		mu.Lock()
		notices = append(notices, n)
		mu.Unlock()
	})

	rec := env.do(http.MethodPost, "/api/v1/views/"+view.ViewID+"/events/e1/book", nil, "s1")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notices, 1)
	assert.Equal(t, live.NoticeBookingFailed, notices[0].Kind)
	assert.Len(t, v.Snapshot().Events, 1)
}

func TestViews_OwnedBySession(t *testing.T) {
	env := newTestEnv(t)
	env.addSession("s1", models.RoleUser)
	env.addSession("s2", models.RoleUser)
	env.api.On("ListEvents", mock.Anything, mock.Anything, mock.Anything).Return([]models.Event{}, nil)

	view := env.mountLive(t, "s1")

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/v1/views/"+view.ViewID, nil, "s2").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/v1/views/"+view.ViewID, nil, "s2").Code)
	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/v1/views/"+view.ViewID, nil, "s1").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/v1/views/"+view.ViewID, nil, "s1").Code)
}

func TestSetViewFilter_Requeries(t *testing.T) {
	env := newTestEnv(t)
	env.addSession("s1", models.RoleUser)
	env.api.On("ListEvents", mock.Anything, "tok-s1", url.Values{}).Return([]models.Event{{ID: "e1"}, {ID: "e2"}}, nil)
	env.api.On("ListEvents", mock.Anything, "tok-s1", url.Values{"startDate": {"2025-05-10"}}).
		Return([]models.Event{{ID: "e1"}}, nil)
	env.api.On("ListEvents", mock.Anything, "tok-s1", url.Values{"startDate": {"2025-05-01"}, "endDate": {"2025-05-01"}}).
		Return([]models.Event{{ID: "e2"}}, nil)

	view := env.mountLive(t, "s1")
	require.Len(t, view.Events, 2)

	env.do(http.MethodPatch, "/api/v1/views/"+view.ViewID+"/filter", map[string]any{"startDate": "2025-05-10"}, "s1")
	rec := env.do(http.MethodPatch, "/api/v1/views/"+view.ViewID+"/filter", map[string]any{"endDate": "2025-05-01"}, "s1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	criteria := decode[map[string]any](t, rec)["criteria"].(map[string]any)
	assert.Equal(t, "2025-05-01", criteria["startDate"])

	require.Eventually(t, func() bool {
		got := decode[viewReply](t, env.do(http.MethodGet, "/api/v1/views/"+view.ViewID, nil, "s1"))
		return got.State == "live" && len(got.Events) == 1 && got.Events[0].ID == "e2"
	}, time.Second, 5*time.Millisecond)
}

func TestFilter_RejectsMalformedDates(t *testing.T) {
	env := newTestEnv(t)
	env.addSession("s1", models.RoleUser)
	env.api.On("ListEvents", mock.Anything, "tok-s1", url.Values{}).Return([]models.Event{{ID: "e1"}}, nil)
	view := env.mountLive(t, "s1")

	rec := env.do(http.MethodGet, "/api/v1/events?startDate=2024-1-5", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]any](t, rec)["error"], "YYYY-MM-DD")

	rec = env.do(http.MethodPatch, "/api/v1/views/"+view.ViewID+"/filter", map[string]any{"endDate": "2024-1-5"}, "s1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/views", map[string]any{"filter": map[string]any{"startDate": "soon"}}, "s1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	v, err := env.h.views.Get("s1", view.ViewID)
	require.NoError(t, err)
	assert.True(t, v.Criteria().IsZero())
	env.api.AssertNumberOfCalls(t, "ListEvents", 1)
}

func TestLogout_ReleasesViews(t *testing.T) {
	env := newTestEnv(t)
	env.addSession("s1", models.RoleUser)
	env.api.On("ListEvents", mock.Anything, mock.Anything, mock.Anything).Return([]models.Event{}, nil)
	env.mountLive(t, "s1")
	env.mountLive(t, "s1")

	rec := env.do(http.MethodPost, "/api/v1/auth/logout", nil, "s1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode[map[string]any](t, rec)["views_released"])
	assert.Equal(t, 0, env.h.views.Len())
	assert.Equal(t, 0, env.bus.Connections())
	_, err := env.store.Load(context.Background(), "s1")
	assert.ErrorIs(t, err, status.ErrSessionNotFound)
}

type sseEvent struct {
	name string
	data string
}

func readEvents(body io.Reader) <-chan sseEvent {
	out := make(chan sseEvent, 16)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(body)
		var ev sseEvent
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			case line == "" && ev.name != "":
				out <- ev
				ev = sseEvent{}
			}
		}
	}()
	return out
}

func waitEvent(t *testing.T, events <-chan sseEvent, match func(sseEvent) bool) sseEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream ended")
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for stream event")
		}
	}
}

func TestStreamView(t *testing.T) {
	env := newTestEnv(t)
	env.addSession("s1", models.RoleUser)
	env.api.On("ListEvents", mock.Anything, "tok-s1", mock.Anything).Return([]models.Event{{ID: "e1"}, {ID: "e2"}}, nil)
	view := env.mountLive(t, "s1")

	srv := httptest.NewServer(env.e)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/views/"+view.ViewID+"/stream", nil)
	require.NoError(t, err)
	req.Header.Set(sessionHeader, "s1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(resp.Body)
	first := waitEvent(t, events, func(ev sseEvent) bool { return ev.name == "snapshot" })
	assert.Contains(t, first.data, `"id":"e2"`)

	env.bus.Publish(models.TopicEventDeleted, []byte(`{"id":"e2"}`))
	waitEvent(t, events, func(ev sseEvent) bool {
		return ev.name == "snapshot" && strings.Contains(ev.data, `"id":"e1"`) && !strings.Contains(ev.data, `"id":"e2"`)
	})

	env.bus.Drop(nil)
	notice := waitEvent(t, events, func(ev sseEvent) bool { return ev.name == "notice" })
	assert.Contains(t, notice.data, string(live.NoticePushDisrupted))

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/v1/views/"+view.ViewID, nil, "s1").Code)
	closed := waitEvent(t, events, func(ev sseEvent) bool { return ev.name == "closed" })
	assert.Contains(t, closed.data, view.ViewID)
}
