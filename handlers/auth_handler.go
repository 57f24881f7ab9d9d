package handlers

import (
	"net/http"
	"time"

	"event-portal/internal/lib/logger/sl"
	"event-portal/internal/present"
	"event-portal/internal/services/session"
	"event-portal/models"

	"github.com/labstack/echo/v5"
)

func (h *Handler) Login(c echo.Context) error {
	var creds models.Credentials
	if err := h.bindAndValidate(c, &creds); err != nil {
		return badRequest(c, err)
	}

	reply, err := h.api.Login(c.Request().Context(), creds)
	if err != nil {
		return h.fail(c, err)
	}
	return h.startSession(c, reply, http.StatusOK)
}

func (h *Handler) Register(c echo.Context) error {
	var reg models.Registration
	if err := h.bindAndValidate(c, &reg); err != nil {
		return badRequest(c, err)
	}

	reply, err := h.api.Register(c.Request().Context(), reg)
	if err != nil {
		return h.fail(c, err)
	}
	return h.startSession(c, reply, http.StatusCreated)
}

// GuestLogin starts a read-only session that never talks to the event API
// with a credential.
func (h *Handler) GuestLogin(c echo.Context) error {
	s := session.NewGuest()
	if err := h.sessions.Save(c.Request().Context(), s); err != nil {
		return h.fail(c, err)
	}
	h.setCookie(c, s.ID, h.cfg.SessionTTL)
	return c.JSON(http.StatusOK, sessionBody(s))
}

func (h *Handler) Logout(c echo.Context) error {
	s := sessionFrom(c)

	unmounted := h.views.RemoveSession(s.ID)
	if err := h.sessions.Clear(c.Request().Context(), s.ID); err != nil {
		h.log.Warn("failed to clear session", sl.Err(err))
	}
	h.setCookie(c, "", -time.Second)

	return c.JSON(http.StatusOK, map[string]any{
		"success":        true,
		"views_released": unmounted,
	})
}

func (h *Handler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, sessionBody(sessionFrom(c)))
}

func (h *Handler) startSession(c echo.Context, reply models.AuthReply, code int) error {
	s, err := session.FromAuthReply(reply)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.sessions.Save(c.Request().Context(), s); err != nil {
		return h.fail(c, err)
	}
	h.setCookie(c, s.ID, h.cfg.SessionTTL)
	return c.JSON(code, sessionBody(s))
}

func (h *Handler) setCookie(c echo.Context, value string, ttl time.Duration) {
	c.SetCookie(&http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionBody never includes the bearer token.
func sessionBody(s *session.Session) map[string]any {
	return map[string]any{
		"sessionId": s.ID,
		"role":      s.Role,
		"variant":   present.VariantFor(s.Role),
		"user": map[string]any{
			"id":    s.UserID,
			"name":  s.Name,
			"email": s.Email,
		},
	}
}
