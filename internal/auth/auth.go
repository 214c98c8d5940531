// Package auth issues session tokens and carries the caller's identity
// through a context.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/joescharf/bounty/internal/models"
	"github.com/joescharf/bounty/internal/store"
)

// DefaultTokenTTL is the session lifetime when none is configured.
const DefaultTokenTTL = 24 * time.Hour

// Identity is the authenticated caller of an operation.
type Identity struct {
	UserID string      `json:"userId"`
	Name   string      `json:"name"`
	Role   models.Role `json:"role"`
}

// IsAdmin reports whether the caller holds the Admin role.
func (i Identity) IsAdmin() bool { return i.Role == models.RoleAdmin }

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored in ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// Require returns the caller identity or ErrUnauthorized.
func Require(ctx context.Context) (Identity, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return Identity{}, models.ErrUnauthorized
	}
	return id, nil
}

// RequireRole returns the caller identity when it holds one of roles.
func RequireRole(ctx context.Context, roles ...models.Role) (Identity, error) {
	id, err := Require(ctx)
	if err != nil {
		return id, err
	}
	for _, r := range roles {
		if id.Role == r {
			return id, nil
		}
	}
	return id, fmt.Errorf("role %s not permitted: %w", id.Role, models.ErrForbidden)
}

// Service signs and validates session tokens. Logging in is simulated: a
// display name and role are enough to obtain a session.
type Service struct {
	store  store.Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates a Service. A non-positive ttl uses DefaultTokenTTL.
func NewService(s store.Store, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{store: s, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Login finds the user whose derived email matches name, creating one with
// role when none exists, and returns a signed token for them.
func (s *Service) Login(ctx context.Context, name string, role models.Role) (*models.User, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", &models.ValidationError{Field: "name", Message: "name is required"}
	}
	if role == "" {
		role = models.RoleUser
	}
	if !role.Valid() {
		return nil, "", &models.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", role)}
	}

	user, err := s.findByEmail(ctx, models.EmailForName(name))
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		user = &models.User{
			Name:      name,
			Email:     models.EmailForName(name),
			Role:      role,
			AvatarURL: models.AvatarForName(name),
		}
		if err := s.store.UpsertUser(ctx, user); err != nil {
			return nil, "", fmt.Errorf("create session user: %w", err)
		}
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *Service) findByEmail(ctx context.Context, email string) (*models.User, error) {
	users, err := s.store.ListUsers(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

// IssueToken signs an HS256 session token for u.
func (s *Service) IssueToken(u *models.User) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  u.ID,
		"name": u.Name,
		"role": string(u.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(s.ttl).Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a session token and returns the identity it carries.
func (s *Service) ParseToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %v: %w", err, models.ErrUnauthorized)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, models.ErrUnauthorized
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Identity{}, models.ErrUnauthorized
	}
	name, _ := claims["name"].(string)
	role, _ := claims["role"].(string)

	return Identity{UserID: sub, Name: name, Role: models.Role(role)}, nil
}

// Resolve looks up userID and returns it as an identity. It is used where the
// caller is named directly rather than through a token.
func (s *Service) Resolve(ctx context.Context, userID string) (Identity, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: u.ID, Name: u.Name, Role: u.Role}, nil
}
