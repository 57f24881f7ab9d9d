package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"event-portal/internal/lib/logger/sl"
	"event-portal/internal/present"
	"event-portal/internal/services/filter"
	"event-portal/internal/services/live"

	"github.com/labstack/echo/v5"
)

type mountRequest struct {
	Filter  filter.Patch `json:"filter"`
	EventID string       `json:"eventId"`
}

// viewBody is a snapshot rendered for one viewer.
type viewBody struct {
	ViewID     string          `json:"viewId"`
	State      live.State      `json:"state"`
	Criteria   filter.Criteria `json:"criteria"`
	Pinned     string          `json:"pinned,omitempty"`
	Events     []present.Card  `json:"events"`
	Error      string          `json:"error,omitempty"`
	PushOnline bool            `json:"pushOnline"`
	Version    uint64          `json:"version"`
}

func renderSnapshot(snap live.Snapshot, viewer present.Viewer) viewBody {
	sortByDate(snap.Events)
	return viewBody{
		ViewID:     snap.ViewID,
		State:      snap.State,
		Criteria:   snap.Criteria,
		Pinned:     snap.Pinned,
		Events:     present.RenderAll(snap.Events, viewer),
		Error:      snap.Error,
		PushOnline: snap.PushOnline,
		Version:    snap.Version,
	}
}

// MountView starts a live dashboard, or a detail view when eventId is set.
func (h *Handler) MountView(c echo.Context) error {
	s := sessionFrom(c)
	var req mountRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Filter.Validate(); err != nil {
		return badRequest(c, err)
	}

	criteria := filter.Criteria{}.Apply(req.Filter)
	v, err := h.views.Mount(c.Request().Context(), s, criteria, req.EventID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, renderSnapshot(v.Snapshot(), viewerOf(s)))
}

func (h *Handler) GetView(c echo.Context) error {
	s := sessionFrom(c)
	v, err := h.views.Get(s.ID, c.PathParam("viewId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, renderSnapshot(v.Snapshot(), viewerOf(s)))
}

func (h *Handler) UnmountView(c echo.Context) error {
	s := sessionFrom(c)
	if err := h.views.Remove(s.ID, c.PathParam("viewId")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SetViewFilter merges the patch into the view's criteria. The re-query runs
// in the background; the result arrives on the stream.
func (h *Handler) SetViewFilter(c echo.Context) error {
	s := sessionFrom(c)
	v, err := h.views.Get(s.ID, c.PathParam("viewId"))
	if err != nil {
		return h.fail(c, err)
	}

	var p filter.Patch
	if err := c.Bind(&p); err != nil {
		return badRequest(c, err)
	}
	if err := p.Validate(); err != nil {
		return badRequest(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"criteria": v.SetFilter(p),
		"state":    v.State(),
	})
}

func (h *Handler) ResetViewFilter(c echo.Context) error {
	s := sessionFrom(c)
	v, err := h.views.Get(s.ID, c.PathParam("viewId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"criteria": v.ResetFilter(),
		"state":    v.State(),
	})
}

func (h *Handler) RefreshView(c echo.Context) error {
	s := sessionFrom(c)
	v, err := h.views.Get(s.ID, c.PathParam("viewId"))
	if err != nil {
		return h.fail(c, err)
	}
	v.Refresh()
	return c.JSON(http.StatusAccepted, map[string]any{
		"criteria": v.Criteria(),
		"state":    v.State(),
	})
}

func (h *Handler) BookFromView(c echo.Context) error {
	return h.bookFromView(c, true)
}

func (h *Handler) UnbookFromView(c echo.Context) error {
	return h.bookFromView(c, false)
}

// bookFromView books through a mounted view. A failure becomes a notice on
// that view; the collection is left alone.
func (h *Handler) bookFromView(c echo.Context, reserve bool) error {
	s := sessionFrom(c)
	v, err := h.views.Get(s.ID, c.PathParam("viewId"))
	if err != nil {
		return h.fail(c, err)
	}
	id := c.PathParam("id")

	res, err := h.callBooking(c, s, id, reserve)
	if err != nil {
		v.Notify(live.Notice{Kind: live.NoticeBookingFailed, Message: "Booking failed, please try again.", Err: err})
		return h.fail(c, err)
	}

	for _, other := range h.views.Views(s.ID) {
		other.ApplyBooking(id, s.UserID, reserve, res)
	}
	return c.JSON(http.StatusOK, renderSnapshot(v.Snapshot(), viewerOf(s)))
}

// StreamView pushes the view to the browser as server-sent events: a
// "snapshot" on every change, a "notice" for transient messages and "closed"
// once the view is unmounted.
func (h *Handler) StreamView(c echo.Context) error {
	s := sessionFrom(c)
	v, err := h.views.Get(s.ID, c.PathParam("viewId"))
	if err != nil {
		return h.fail(c, err)
	}

	release := h.views.Hold(v.ID())
	defer release()

	changed := make(chan struct{}, 1)
	notices := make(chan live.Notice, 16)
	removeChange := v.OnChange(func(live.Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer removeChange()
	removeNotice := v.OnNotice(func(n live.Notice) {
		select {
		case notices <- n:
		default:
		}
	})
	defer removeNotice()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	viewer := viewerOf(s)
	if err := writeEvent(w, "snapshot", renderSnapshot(v.Snapshot(), viewer)); err != nil {
		return nil
	}

	heartbeat := time.NewTicker(h.cfg.StreamHeartbeat)
	defer heartbeat.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-v.Done():
			_ = writeEvent(w, "closed", map[string]any{"viewId": v.ID()})
			return nil
		case <-changed:
			err = writeEvent(w, "snapshot", renderSnapshot(v.Snapshot(), viewer))
		case n := <-notices:
			err = writeEvent(w, "notice", n)
		case <-heartbeat.C:
			_, err = fmt.Fprint(w, ": ping\n\n")
			w.Flush()
		}
		if err != nil {
			h.log.Debug("stream closed", sl.Err(err))
			return nil
		}
	}
}

func writeEvent(w *echo.Response, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	w.Flush()
	return nil
}
