// Package session holds who is using the portal: the bearer credential handed
// out by the event API and the role it carries.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"event-portal/internal/status"
	"event-portal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pocketbase/pocketbase/tools/security"
)

// GuestToken is the opaque credential of a guest login. It is never sent
// upstream.
const GuestToken = "guest-token"

const idLength = 32

type Session struct {
	ID        string      `json:"id"`
	Token     string      `json:"token"`
	Role      models.Role `json:"role"`
	UserID    string      `json:"userId,omitempty"`
	Name      string      `json:"name,omitempty"`
	Email     string      `json:"email,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// BearerToken is the credential to forward to the event API, empty for guests.
func (s *Session) BearerToken() string {
	if s == nil || s.Role == models.RoleGuest || s.Token == GuestToken {
		return ""
	}
	return s.Token
}

func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == models.RoleAdmin
}

func (s *Session) IsGuest() bool {
	return s == nil || s.Role == models.RoleGuest || s.Role == ""
}

// NewID returns a fresh random session id.
func NewID() string {
	return security.RandomString(idLength)
}

func NewGuest() *Session {
	return &Session{
		ID:        NewID(),
		Token:     GuestToken,
		Role:      models.RoleGuest,
		Name:      "Guest",
		CreatedAt: time.Now().UTC(),
	}
}

// FromAuthReply builds the session of a successful login or registration.
//
// The role and user id claims of the token win over the reply's user record.
// Tokens that are not JWTs are accepted as opaque; expired JWTs are not.
func FromAuthReply(reply models.AuthReply) (*Session, error) {
	const op = "session.FromAuthReply"

	if reply.Token == "" {
		return nil, fmt.Errorf("%s: %w: empty token", op, status.ErrAuthFailed)
	}

	s := &Session{
		ID:        NewID(),
		Token:     reply.Token,
		Role:      models.ParseRole(string(reply.User.Role)),
		UserID:    reply.User.ID,
		Name:      reply.User.Name,
		Email:     reply.User.Email,
		CreatedAt: time.Now().UTC(),
	}

	claims, err := security.ParseUnverifiedJWT(reply.Token)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%s: %w: %w", op, status.ErrAuthFailed, err)
	case err != nil:
		// opaque token
	default:
		if role := models.ParseRole(claimString(claims, "role")); role != "" {
			s.Role = role
		}
		if s.UserID == "" {
			s.UserID = firstClaim(claims, "id", "userId", "sub")
		}
	}

	if s.Role == "" {
		s.Role = models.RoleUser
	}
	return s, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}

func firstClaim(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v := claimString(claims, k); v != "" {
			return v
		}
	}
	return ""
}

// Store persists sessions between requests.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Clear(ctx context.Context, id string) error
}
