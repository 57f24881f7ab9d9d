// Package eventapi is the client of the external event service, which owns
// events, users and bookings.
package eventapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"event-portal/internal/status"
	"event-portal/models"
	"event-portal/monitoring"
	"event-portal/utils"
)

const maxErrorBody = 64 << 10

// APIError is a non-2xx reply. It unwraps to the failure class of the call
// (status.ErrFetchFailed, status.ErrBookingRejected, ...).
type APIError struct {
	Status  int
	Message string
	Kind    error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v: upstream status %d", e.Kind, e.Status)
	}
	return fmt.Sprintf("%v: upstream status %d: %s", e.Kind, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// StatusOf returns the upstream HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

type Config struct {
	BaseURL string
	Breaker utils.BreakerSettings
}

type Client struct {
	log  *slog.Logger
	base *url.URL
	hc   *http.Client
	cb   *utils.CircuitBreaker
}

func New(log *slog.Logger, hc *http.Client, cfg Config) (*Client, error) {
	const op = "eventapi.New"

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%s: parse base url: %w", op, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%s: base url %q must be absolute", op, cfg.BaseURL)
	}

	log = log.With(slog.String("component", "eventapi"))

	bs := cfg.Breaker
	if bs.Name == "" {
		bs.Name = "eventapi"
	}
	// 4xx replies are the caller's problem, not a sign the service is down.
	bs.IsSuccessful = func(err error) bool {
		if err == nil {
			return true
		}
		s := StatusOf(err)
		return s > 0 && s < http.StatusInternalServerError
	}
	bs.OnStateChange = func(name string, from, to utils.State) {
		monitoring.SetBreakerState(name, int(to))
		log.Warn("circuit breaker state changed",
			slog.String("breaker", name),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	}

	return &Client{
		log:  log,
		base: base,
		hc:   hc,
		cb:   utils.NewCircuitBreaker(bs),
	}, nil
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *utils.CircuitBreaker {
	return c.cb
}

func (c *Client) ListEvents(ctx context.Context, token string, query url.Values) ([]models.Event, error) {
	const op = "eventapi.ListEvents"

	var events []models.Event
	err := c.do(ctx, request{
		endpoint: "list_events",
		method:   http.MethodGet,
		path:     []string{"events"},
		token:    token,
		query:    query,
		kind:     status.ErrFetchFailed,
	}, &events)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if events == nil {
		events = []models.Event{}
	}
	return events, nil
}

func (c *Client) GetEvent(ctx context.Context, token, id string) (models.Event, error) {
	const op = "eventapi.GetEvent"

	var e models.Event
	err := c.do(ctx, request{
		endpoint: "get_event",
		method:   http.MethodGet,
		path:     []string{"events", id},
		token:    token,
		kind:     status.ErrFetchFailed,
	}, &e)
	if err != nil {
		return models.Event{}, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func (c *Client) CreateEvent(ctx context.Context, token string, in models.EventInput) (models.Event, error) {
	const op = "eventapi.CreateEvent"

	var e models.Event
	err := c.do(ctx, request{
		endpoint: "create_event",
		method:   http.MethodPost,
		path:     []string{"events"},
		token:    token,
		body:     in,
		kind:     status.ErrMutationFailed,
	}, &e)
	if err != nil {
		return models.Event{}, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func (c *Client) UpdateEvent(ctx context.Context, token, id string, in models.EventInput) (models.Event, error) {
	const op = "eventapi.UpdateEvent"

	var e models.Event
	err := c.do(ctx, request{
		endpoint: "update_event",
		method:   http.MethodPut,
		path:     []string{"events", id},
		token:    token,
		body:     in,
		kind:     status.ErrMutationFailed,
	}, &e)
	if err != nil {
		return models.Event{}, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func (c *Client) DeleteEvent(ctx context.Context, token, id string) error {
	const op = "eventapi.DeleteEvent"

	err := c.do(ctx, request{
		endpoint: "delete_event",
		method:   http.MethodDelete,
		path:     []string{"events", id},
		token:    token,
		kind:     status.ErrMutationFailed,
	}, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Book reserves a seat on event id for the token's user.
func (c *Client) Book(ctx context.Context, token, id string) (models.BookingResult, error) {
	const op = "eventapi.Book"

	var res models.BookingResult
	err := c.do(ctx, request{
		endpoint: "book",
		method:   http.MethodPost,
		path:     []string{"events", id, "book"},
		token:    token,
		kind:     status.ErrBookingRejected,
	}, &res)
	if err != nil {
		return models.BookingResult{}, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// Unbook releases the token user's seat on event id.
func (c *Client) Unbook(ctx context.Context, token, id string) (models.BookingResult, error) {
	const op = "eventapi.Unbook"

	var res models.BookingResult
	err := c.do(ctx, request{
		endpoint: "unbook",
		method:   http.MethodDelete,
		path:     []string{"events", id, "book"},
		token:    token,
		kind:     status.ErrBookingRejected,
	}, &res)
	if err != nil {
		return models.BookingResult{}, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// RemoveAttendee is the admin action of dropping userID from event id.
func (c *Client) RemoveAttendee(ctx context.Context, token, id, userID string) error {
	const op = "eventapi.RemoveAttendee"

	err := c.do(ctx, request{
		endpoint: "remove_attendee",
		method:   http.MethodDelete,
		path:     []string{"events", id, "attendees", userID},
		token:    token,
		kind:     status.ErrMutationFailed,
	}, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) Login(ctx context.Context, creds models.Credentials) (models.AuthReply, error) {
	const op = "eventapi.Login"

	var reply models.AuthReply
	err := c.do(ctx, request{
		endpoint: "login",
		method:   http.MethodPost,
		path:     []string{"auth", "login"},
		body:     creds,
		kind:     status.ErrAuthFailed,
	}, &reply)
	if err != nil {
		return models.AuthReply{}, fmt.Errorf("%s: %w", op, err)
	}
	return reply, nil
}

func (c *Client) Register(ctx context.Context, reg models.Registration) (models.AuthReply, error) {
	const op = "eventapi.Register"

	var reply models.AuthReply
	err := c.do(ctx, request{
		endpoint: "register",
		method:   http.MethodPost,
		path:     []string{"auth", "register"},
		body:     reg,
		kind:     status.ErrAuthFailed,
	}, &reply)
	if err != nil {
		return models.AuthReply{}, fmt.Errorf("%s: %w", op, err)
	}
	return reply, nil
}

type request struct {
	endpoint string
	method   string
	path     []string
	token    string
	query    url.Values
	body     any
	kind     error
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	_, err := utils.Execute(ctx, c.cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.roundTrip(ctx, r, out)
	})
	if errors.Is(err, status.ErrCircuitOpen) || errors.Is(err, utils.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", r.kind, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, r request, out any) error {
	u := c.url(r.path...)
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("%w: encode body: %w", r.kind, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", r.kind, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		monitoring.TrackAPIRequest(r.endpoint, 0, time.Since(start))
		return fmt.Errorf("%w: %w", r.kind, err)
	}
	defer resp.Body.Close()
	monitoring.TrackAPIRequest(r.endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: errorMessage(resp.Body), Kind: r.kind}
		c.log.Debug("upstream rejected request",
			slog.String("endpoint", r.endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("message", apiErr.Message),
		)
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decode reply: %w", r.kind, err)
	}
	return nil
}

func (c *Client) url(parts ...string) *url.URL {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, "api")
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return c.base.JoinPath(escaped...)
}

// errorMessage pulls {"message": ...} or {"error": ...} out of an error reply.
func errorMessage(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(b) == 0 {
		return ""
	}
	var reply struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(b, &reply) == nil {
		if reply.Message != "" {
			return reply.Message
		}
		if reply.Error != "" {
			return reply.Error
		}
	}
	return strings.TrimSpace(string(b))
}
