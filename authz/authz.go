// Caller identity and the "has moderation capability" check.
//
// Session issuance lives elsewhere; this package only verifies bearer tokens minted by the platform's auth service (HS256 JWTs with a "sub" user id and a boolean "mod" claim) and turns them into a Caller.
package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bluesky-social/modqueue/moderr"

	"github.com/golang-jwt/jwt/v5"
)

type Caller struct {
	ID          string
	CanModerate bool
}

// Returns a Forbidden error unless the caller holds moderation capability.
func (c *Caller) RequireModerator() error {
	if c == nil || c.ID == "" {
		return moderr.Forbidden("authentication required")
	}
	if !c.CanModerate {
		return moderr.Forbidden("moderation capability required")
	}
	return nil
}

func (c *Caller) RequireUser() error {
	if c == nil || c.ID == "" {
		return moderr.Forbidden("authentication required")
	}
	return nil
}

type Authorizer interface {
	Authorize(ctx context.Context, bearer string) (*Caller, error)
}

var ErrMissingToken = errors.New("missing bearer token")

type claims struct {
	jwt.RegisteredClaims

	Moderator bool `json:"mod,omitempty"`
}

type JWTAuthorizer struct {
	Secret   []byte
	Audience string
}

var _ Authorizer = (*JWTAuthorizer)(nil)

func NewJWTAuthorizer(secret []byte, audience string) *JWTAuthorizer {
	return &JWTAuthorizer{
		Secret:   secret,
		Audience: audience,
	}
}

// Accepts either a raw token or a full "Bearer <token>" header value.
func (a *JWTAuthorizer) Authorize(ctx context.Context, bearer string) (*Caller, error) {
	tokenString := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(bearer), "Bearer "))
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5 * time.Second),
	}
	if a.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.Audience))
	}
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (any, error) {
		return a.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid bearer token: %w", err)
	}
	c, ok := token.Claims.(*claims)
	if !ok {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("invalid bearer token: %w", jwt.ErrTokenRequiredClaimMissing)
	}
	return &Caller{
		ID:          c.Subject,
		CanModerate: c.Moderator,
	}, nil
}

// Mints a token accepted by Authorize. Used by the admin CLI and tests.
func (a *JWTAuthorizer) Sign(caller Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Moderator: caller.CanModerate,
	}
	if a.Audience != "" {
		c.Audience = jwt.ClaimStrings{a.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.Secret)
}

type callerKey struct{}

func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// Returns nil when no caller was attached.
func CallerFrom(ctx context.Context) *Caller {
	c, _ := ctx.Value(callerKey{}).(*Caller)
	return c
}
