package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"live-quiz-service/internal/domain"
)

// Claims identify the caller: numeric user id, role and the login session the token was issued for.
type Claims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"` // "instructor" or "student"
	Sid  string `json:"sid"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 tokens.
type Authenticator struct {
	hmac []byte
	now  func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{hmac: []byte(secret), now: time.Now}
}

func (a *Authenticator) IssueToken(actor domain.Actor, ttl time.Duration) (string, error) {
	now := a.now()
	claims := &Claims{
		Sub:  strconv.FormatInt(actor.UserID, 10),
		Role: string(actor.Role),
		Sid:  actor.LoginSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "live-quiz-service",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.hmac)
}

var errBadToken = errors.New("bad token")

// Parse verifies a token and maps its claims to an actor.
func (a *Authenticator) Parse(tokenStr string) (domain.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.hmac, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return domain.Actor{}, errBadToken
	}
	c, ok := token.Claims.(*Claims)
	if !ok {
		return domain.Actor{}, errBadToken
	}
	id, err := strconv.ParseInt(c.Sub, 10, 64)
	if err != nil || id <= 0 {
		return domain.Actor{}, errBadToken
	}
	role := domain.Role(c.Role)
	if role != domain.RoleInstructor && role != domain.RoleStudent {
		return domain.Actor{}, errBadToken
	}
	sid := c.Sid
	if sid == "" {
		sid = c.ID
	}
	return domain.Actor{UserID: id, Role: role, LoginSession: sid}, nil
}

type actorKey struct{}

// Middleware authenticates a bearer token, or a token query parameter for websocket upgrades.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("token")
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			raw = strings.TrimPrefix(h, "Bearer ")
		}
		if raw == "" {
			http.Error(w, "missing bearer", http.StatusUnauthorized)
			return
		}
		actor, err := a.Parse(raw)
		if err != nil {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// ActorFrom returns the authenticated actor stored by Middleware.
func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(domain.Actor)
	return actor, ok
}
