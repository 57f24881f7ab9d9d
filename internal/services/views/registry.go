// Package views keeps track of the live views mounted by browser sessions.
package views

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"event-portal/internal/services/filter"
	"event-portal/internal/services/live"
	"event-portal/internal/services/push"
	"event-portal/internal/services/session"
	"event-portal/internal/status"
	"event-portal/models"

	"github.com/google/uuid"
)

// EventSource is the part of the event API a view needs for its full fetch.
type EventSource interface {
	ListEvents(ctx context.Context, token string, query url.Values) ([]models.Event, error)
	GetEvent(ctx context.Context, token, id string) (models.Event, error)
}

type Config struct {
	IdleTTL            time.Duration
	SweepInterval      time.Duration
	MaxViewsPerSession int
}

type entry struct {
	view      *live.View
	sessionID string
	lastSeen  time.Time
	streams   int
}

type Registry struct {
	log     *slog.Logger
	channel push.Channel
	source  EventSource
	cfg     Config
	now     func() time.Time

	mu     sync.Mutex
	views  map[string]*entry
	closed bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewRegistry(log *slog.Logger, channel push.Channel, source EventSource, cfg Config) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Registry{
		log:      log.With(slog.String("component", "views")),
		channel:  channel,
		source:   source,
		cfg:      cfg,
		now:      time.Now,
		views:    make(map[string]*entry),
		stopChan: make(chan struct{}),
	}
}

// Mount creates and mounts a view for sess. A non-empty pinned id makes it a
// detail view of that single event.
func (r *Registry) Mount(ctx context.Context, sess *session.Session, criteria filter.Criteria, pinned string) (*live.View, error) {
	const op = "views.Registry.Mount"

	id := uuid.NewString()
	v := live.NewView(live.Options{
		ID:       id,
		Channel:  r.channel,
		Load:     r.loader(sess.BearerToken(), pinned),
		Criteria: criteria,
		Pinned:   pinned,
		Log:      r.log,
	})

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("%s: registry is shut down", op)
	}
	evicted := r.evictLocked(sess.ID)
	r.views[id] = &entry{view: v, sessionID: sess.ID, lastSeen: r.now()}
	r.mu.Unlock()

	for _, old := range evicted {
		old.Unmount()
	}

	if err := v.Mount(ctx); err != nil {
		r.mu.Lock()
		delete(r.views, id)
		r.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	r.log.Debug("view mounted",
		slog.String("view", id),
		slog.String("pinned", pinned),
		slog.String("role", string(sess.Role)),
	)
	return v, nil
}

// Get returns the view if it exists and belongs to sessionID, and marks it used.
func (r *Registry) Get(sessionID, viewID string) (*live.View, error) {
	const op = "views.Registry.Get"

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.views[viewID]
	if !ok || e.sessionID != sessionID {
		return nil, fmt.Errorf("%s: %w", op, status.ErrViewNotFound)
	}
	e.lastSeen = r.now()
	return e.view, nil
}

// Hold keeps the view from being swept while a stream is attached to it.
func (r *Registry) Hold(viewID string) (release func()) {
	r.mu.Lock()
	if e, ok := r.views[viewID]; ok {
		e.streams++
		e.lastSeen = r.now()
	}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if e, ok := r.views[viewID]; ok {
				e.streams--
				e.lastSeen = r.now()
			}
			r.mu.Unlock()
		})
	}
}

// Remove unmounts one view of sessionID.
func (r *Registry) Remove(sessionID, viewID string) error {
	const op = "views.Registry.Remove"

	r.mu.Lock()
	e, ok := r.views[viewID]
	if !ok || e.sessionID != sessionID {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", op, status.ErrViewNotFound)
	}
	delete(r.views, viewID)
	r.mu.Unlock()

	e.view.Unmount()
	return nil
}

// RemoveSession unmounts every view of sessionID, e.g. on logout.
func (r *Registry) RemoveSession(sessionID string) int {
	r.mu.Lock()
	var gone []*live.View
	for id, e := range r.views {
		if e.sessionID == sessionID {
			gone = append(gone, e.view)
			delete(r.views, id)
		}
	}
	r.mu.Unlock()

	for _, v := range gone {
		v.Unmount()
	}
	return len(gone)
}

// Views returns the mounted views of sessionID.
func (r *Registry) Views(sessionID string) []*live.View {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*live.View
	for _, e := range r.views {
		if e.sessionID == sessionID {
			out = append(out, e.view)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

// Sweep unmounts views nobody has touched for the idle TTL and that have no
// stream attached.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	var idle []*live.View
	for id, e := range r.views {
		if e.streams == 0 && e.lastSeen.Before(cutoff) {
			idle = append(idle, e.view)
			delete(r.views, id)
		}
	}
	r.mu.Unlock()

	for _, v := range idle {
		v.Unmount()
	}
	if len(idle) > 0 {
		r.log.Info("swept idle views", slog.Int("count", len(idle)))
	}
	return len(idle)
}

// Start runs the idle sweeper until Shutdown.
func (r *Registry) Start() {
	r.wg.Add(1)
	go r.sweeper()
}

func (r *Registry) sweeper() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-r.stopChan:
			return
		}
	}
}

// Shutdown stops the sweeper and unmounts every view.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	all := make([]*live.View, 0, len(r.views))
	for id, e := range r.views {
		all = append(all, e.view)
		delete(r.views, id)
	}
	r.mu.Unlock()

	close(r.stopChan)
	for _, v := range all {
		v.Unmount()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("views shut down", slog.Int("unmounted", len(all)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("views.Registry.Shutdown: %w", ctx.Err())
	}
}

// evictLocked makes room for one more view of sessionID by dropping its least
// recently used views.
func (r *Registry) evictLocked(sessionID string) []*live.View {
	if r.cfg.MaxViewsPerSession <= 0 {
		return nil
	}

	type owned struct {
		id string
		e  *entry
	}
	var mine []owned
	for id, e := range r.views {
		if e.sessionID == sessionID {
			mine = append(mine, owned{id, e})
		}
	}
	excess := len(mine) - r.cfg.MaxViewsPerSession + 1
	if excess <= 0 {
		return nil
	}

	sort.Slice(mine, func(i, j int) bool { return mine[i].e.lastSeen.Before(mine[j].e.lastSeen) })
	evicted := make([]*live.View, 0, excess)
	for _, o := range mine[:excess] {
		delete(r.views, o.id)
		evicted = append(evicted, o.e.view)
	}
	return evicted
}

func (r *Registry) loader(token, pinned string) live.Loader {
	if pinned != "" {
		return func(ctx context.Context, _ filter.Criteria) ([]models.Event, error) {
			e, err := r.source.GetEvent(ctx, token, pinned)
			if err != nil {
				return nil, err
			}
			return []models.Event{e}, nil
		}
	}
	return func(ctx context.Context, c filter.Criteria) ([]models.Event, error) {
		return r.source.ListEvents(ctx, token, c.QueryParams())
	}
}
