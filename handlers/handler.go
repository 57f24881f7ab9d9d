// Package handlers is the HTTP surface the browser talks to.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"event-portal/internal/lib/logger/sl"
	"event-portal/internal/services/session"
	"event-portal/internal/services/views"
	"event-portal/models"
	"event-portal/security"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

// EventAPI is the external event service.
type EventAPI interface {
	ListEvents(ctx context.Context, token string, query url.Values) ([]models.Event, error)
	GetEvent(ctx context.Context, token, id string) (models.Event, error)
	CreateEvent(ctx context.Context, token string, in models.EventInput) (models.Event, error)
	UpdateEvent(ctx context.Context, token, id string, in models.EventInput) (models.Event, error)
	DeleteEvent(ctx context.Context, token, id string) error
	Book(ctx context.Context, token, id string) (models.BookingResult, error)
	Unbook(ctx context.Context, token, id string) (models.BookingResult, error)
	RemoveAttendee(ctx context.Context, token, id, userID string) error
	Login(ctx context.Context, creds models.Credentials) (models.AuthReply, error)
	Register(ctx context.Context, reg models.Registration) (models.AuthReply, error)
}

type Config struct {
	CookieName      string
	SessionTTL      time.Duration
	SecureCookies   bool
	StreamHeartbeat time.Duration
}

type Handler struct {
	log      *slog.Logger
	api      EventAPI
	sessions session.Store
	views    *views.Registry
	limiter  *security.RateLimiter
	validate *validator.Validate
	cfg      Config
}

func New(log *slog.Logger, api EventAPI, sessions session.Store, registry *views.Registry, limiter *security.RateLimiter, cfg Config) *Handler {
	if cfg.CookieName == "" {
		cfg.CookieName = "portal_session"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.StreamHeartbeat <= 0 {
		cfg.StreamHeartbeat = 15 * time.Second
	}
	return &Handler{
		log:      log.With(slog.String("component", "http")),
		api:      api,
		sessions: sessions,
		views:    registry,
		limiter:  limiter,
		validate: validator.New(),
		cfg:      cfg,
	}
}

// Router builds the echo instance with every route registered.
func (h *Handler) Router() *echo.Echo {
	e := echo.New()

	e.Use(middleware.Recover())
	e.Use(h.requestLogger())
	e.Use(h.loadSession)

	e.GET("/health", h.Health)

	v1 := e.Group("/api/v1")
	if h.limiter != nil {
		v1.Use(h.limiter.AntiBotMiddleware())
	}

	auth := v1.Group("/auth")
	auth.POST("/login", h.Login, h.throttle("login"))
	auth.POST("/register", h.Register, h.throttle("register"))
	auth.POST("/guest", h.GuestLogin, h.throttle("guest"))
	auth.POST("/logout", h.Logout, requireSession)
	auth.GET("/me", h.Me, requireSession)

	v1.GET("/categories", h.Categories)

	events := v1.Group("/events")
	events.GET("", h.ListEvents)
	events.GET("/:id", h.GetEvent)
	events.POST("", h.CreateEvent, requireAdmin)
	events.PUT("/:id", h.UpdateEvent, requireAdmin)
	events.DELETE("/:id", h.DeleteEvent, requireAdmin)
	events.POST("/:id/book", h.BookEvent, requireMember, h.throttle("book"))
	events.DELETE("/:id/book", h.UnbookEvent, requireMember, h.throttle("book"))
	events.DELETE("/:id/attendees/:userId", h.RemoveAttendee, requireAdmin)

	vs := v1.Group("/views", requireSession)
	vs.POST("", h.MountView)
	vs.GET("/:viewId", h.GetView)
	vs.DELETE("/:viewId", h.UnmountView)
	vs.GET("/:viewId/stream", h.StreamView)
	vs.PATCH("/:viewId/filter", h.SetViewFilter)
	vs.POST("/:viewId/filter/reset", h.ResetViewFilter)
	vs.POST("/:viewId/refresh", h.RefreshView)
	vs.POST("/:viewId/events/:id/book", h.BookFromView, requireMember, h.throttle("book"))
	vs.DELETE("/:viewId/events/:id/book", h.UnbookFromView, requireMember, h.throttle("book"))

	return e
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"views":  h.views.Len(),
	})
}

func (h *Handler) Categories(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"categories": append([]string{"all"}, models.Categories...),
	})
}

func (h *Handler) throttle(scope string) echo.MiddlewareFunc {
	if h.limiter == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return h.limiter.Throttle(scope, func(c echo.Context) string {
		if s := sessionFrom(c); s != nil {
			return "session:" + s.ID
		}
		return ""
	})
}

func (h *Handler) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				h.log.Error("request failed", append(attrs, sl.Err(v.Error))...)
				return nil
			}
			h.log.Info("request", attrs...)
			return nil
		},
	})
}
