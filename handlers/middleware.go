package handlers

import (
	"errors"
	"net/http"

	"event-portal/internal/lib/logger/sl"
	"event-portal/internal/services/session"
	"event-portal/internal/status"

	"github.com/labstack/echo/v5"
)

const (
	sessionKey    = "session"
	sessionHeader = "X-Session-ID"
)

func sessionFrom(c echo.Context) *session.Session {
	s, _ := c.Get(sessionKey).(*session.Session)
	return s
}

func (h *Handler) sessionID(c echo.Context) string {
	if id := c.Request().Header.Get(sessionHeader); id != "" {
		return id
	}
	if cookie, err := c.Cookie(h.cfg.CookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// loadSession attaches the caller's session, if any. Missing or unknown ids
// simply leave the request anonymous.
func (h *Handler) loadSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := h.sessionID(c)
		if id == "" {
			return next(c)
		}

		s, err := h.sessions.Load(c.Request().Context(), id)
		switch {
		case err == nil:
			c.Set(sessionKey, s)
		case errors.Is(err, status.ErrSessionNotFound):
		default:
			h.log.Warn("session lookup failed", sl.Err(err))
		}
		return next(c)
	}
}

func requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if sessionFrom(c) == nil {
			return c.JSON(http.StatusUnauthorized, map[string]any{"error": "not logged in"})
		}
		return next(c)
	}
}

// requireMember rejects guests; they can browse but not book.
func requireMember(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s := sessionFrom(c)
		if s == nil {
			return c.JSON(http.StatusUnauthorized, map[string]any{"error": "not logged in"})
		}
		if s.IsGuest() {
			return c.JSON(http.StatusForbidden, map[string]any{"error": "login to book"})
		}
		return next(c)
	}
}

func requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s := sessionFrom(c)
		if s == nil {
			return c.JSON(http.StatusUnauthorized, map[string]any{"error": "not logged in"})
		}
		if !s.IsAdmin() {
			return c.JSON(http.StatusForbidden, map[string]any{"error": "admin only"})
		}
		return next(c)
	}
}
