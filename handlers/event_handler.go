package handlers

import (
	"net/http"
	"sort"

	"event-portal/internal/present"
	"event-portal/internal/services/filter"
	"event-portal/internal/services/session"
	"event-portal/models"

	"github.com/labstack/echo/v5"
)

func viewerOf(s *session.Session) present.Viewer {
	if s == nil {
		return present.Viewer{Variant: present.Guest}
	}
	return present.Viewer{Variant: present.VariantFor(s.Role), UserID: s.UserID}
}

// ListEvents is the one-shot listing for clients that do not mount a view.
func (h *Handler) ListEvents(c echo.Context) error {
	s := sessionFrom(c)
	criteria, err := filter.FromQuery(c.QueryParams())
	if err != nil {
		return badRequest(c, err)
	}

	events, err := h.api.ListEvents(c.Request().Context(), s.BearerToken(), criteria.QueryParams())
	if err != nil {
		return h.fail(c, err)
	}
	sortByDate(events)

	return c.JSON(http.StatusOK, map[string]any{
		"criteria": criteria,
		"events":   present.RenderAll(events, viewerOf(s)),
	})
}

func (h *Handler) GetEvent(c echo.Context) error {
	s := sessionFrom(c)

	event, err := h.api.GetEvent(c.Request().Context(), s.BearerToken(), c.PathParam("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, present.Render(event, viewerOf(s)))
}

func (h *Handler) CreateEvent(c echo.Context) error {
	s := sessionFrom(c)
	var in models.EventInput
	if err := h.bindAndValidate(c, &in); err != nil {
		return badRequest(c, err)
	}

	event, err := h.api.CreateEvent(c.Request().Context(), s.BearerToken(), in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, present.Render(event, viewerOf(s)))
}

func (h *Handler) UpdateEvent(c echo.Context) error {
	s := sessionFrom(c)
	var in models.EventInput
	if err := h.bindAndValidate(c, &in); err != nil {
		return badRequest(c, err)
	}

	event, err := h.api.UpdateEvent(c.Request().Context(), s.BearerToken(), c.PathParam("id"), in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, present.Render(event, viewerOf(s)))
}

func (h *Handler) DeleteEvent(c echo.Context) error {
	s := sessionFrom(c)
	if err := h.api.DeleteEvent(c.Request().Context(), s.BearerToken(), c.PathParam("id")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) BookEvent(c echo.Context) error {
	return h.book(c, true)
}

func (h *Handler) UnbookEvent(c echo.Context) error {
	return h.book(c, false)
}

func (h *Handler) book(c echo.Context, reserve bool) error {
	s := sessionFrom(c)
	id := c.PathParam("id")

	res, err := h.callBooking(c, s, id, reserve)
	if err != nil {
		return h.fail(c, err)
	}

	// the push message will follow, but the session's own views update now
	for _, v := range h.views.Views(s.ID) {
		v.ApplyBooking(id, s.UserID, reserve, res)
	}
	return c.JSON(http.StatusOK, bookingBody(id, res))
}

func (h *Handler) callBooking(c echo.Context, s *session.Session, id string, reserve bool) (models.BookingResult, error) {
	ctx := c.Request().Context()
	if reserve {
		return h.api.Book(ctx, s.BearerToken(), id)
	}
	return h.api.Unbook(ctx, s.BearerToken(), id)
}

func (h *Handler) RemoveAttendee(c echo.Context) error {
	s := sessionFrom(c)
	err := h.api.RemoveAttendee(c.Request().Context(), s.BearerToken(), c.PathParam("id"), c.PathParam("userId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func bookingBody(id string, res models.BookingResult) map[string]any {
	return map[string]any{
		"eventId":        id,
		"attendees":      res.Attendees,
		"seatsAvailable": res.SeatsAvailable,
	}
}

// sortByDate orders events for display, soonest first. Ties keep fetch order.
func sortByDate(events []models.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Date.Before(events[j].Date)
	})
}
