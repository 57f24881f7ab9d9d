package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"event-portal/internal/lib/logger/sl"
	"event-portal/internal/services/eventapi"
	"event-portal/internal/services/filter"
	"event-portal/internal/status"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v5"
)

// fail writes err as {"error": msg}. Upstream 4xx replies pass through with
// their own status and message; everything else is mapped by failure class.
func (h *Handler) fail(c echo.Context, err error) error {
	var apiErr *eventapi.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.Status)
		}
		return c.JSON(apiErr.Status, map[string]any{"error": msg})
	}

	code, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, status.ErrViewNotFound):
		code, msg = http.StatusNotFound, "view not found"
	case errors.Is(err, status.ErrUnauthenticated), errors.Is(err, status.ErrSessionNotFound):
		code, msg = http.StatusUnauthorized, "not logged in"
	case errors.Is(err, status.ErrAuthFailed):
		code, msg = http.StatusUnauthorized, "login failed"
	case errors.Is(err, status.ErrCircuitOpen):
		code, msg = http.StatusServiceUnavailable, "event service unavailable"
	case errors.Is(err, status.ErrBookingRejected):
		code, msg = http.StatusBadGateway, "booking failed"
	case errors.Is(err, status.ErrMutationFailed):
		code, msg = http.StatusBadGateway, "change failed"
	case errors.Is(err, status.ErrFetchFailed):
		code, msg = http.StatusBadGateway, "could not load events"
	}

	if code >= http.StatusInternalServerError {
		h.log.Error("request failed", slog.String("path", c.Path()), sl.Err(err))
	}
	return c.JSON(code, map[string]any{"error": msg})
}

var errInvalidBody = errors.New("invalid request body")

// bindAndValidate decodes the body into dst and runs its validate tags.
func (h *Handler) bindAndValidate(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return fmt.Errorf("%w: %w", errInvalidBody, err)
	}
	return h.validate.Struct(dst)
}

func badRequest(c echo.Context, err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[fe.Field()] = fe.Tag()
		}
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": fields,
		})
	}
	if errors.Is(err, filter.ErrInvalidDate) {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": err.Error()})
	}
	return c.JSON(http.StatusBadRequest, map[string]any{"error": errInvalidBody.Error()})
}
