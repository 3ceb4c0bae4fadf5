package authz

import (
	"context"
	"testing"
	"time"

	"github.com/bluesky-social/modqueue/moderr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	a := NewJWTAuthorizer([]byte("test-secret"), "modqueue")
	tok, err := a.Sign(Caller{ID: "mod-1", CanModerate: true}, time.Hour)
	require.NoError(t, err)

	c, err := a.Authorize(ctx, "Bearer "+tok)
	require.NoError(t, err)
	assert.Equal("mod-1", c.ID)
	assert.True(c.CanModerate)
	assert.NoError(c.RequireModerator())

	tok, err = a.Sign(Caller{ID: "user-7"}, time.Hour)
	require.NoError(t, err)
	c, err = a.Authorize(ctx, tok)
	require.NoError(t, err)
	assert.False(c.CanModerate)
	assert.ErrorIs(c.RequireModerator(), moderr.ErrForbidden)
	assert.NoError(c.RequireUser())
}

func TestJWTRejects(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	a := NewJWTAuthorizer([]byte("test-secret"), "modqueue")

	_, err := a.Authorize(ctx, "")
	assert.ErrorIs(err, ErrMissingToken)

	expired, err := a.Sign(Caller{ID: "user-1"}, -time.Hour)
	require.NoError(t, err)
	_, err = a.Authorize(ctx, expired)
	assert.Error(err)

	other := NewJWTAuthorizer([]byte("other-secret"), "modqueue")
	forged, err := other.Sign(Caller{ID: "user-1", CanModerate: true}, time.Hour)
	require.NoError(t, err)
	_, err = a.Authorize(ctx, forged)
	assert.Error(err)

	wrongAud := NewJWTAuthorizer([]byte("test-secret"), "elsewhere")
	tok, err := wrongAud.Sign(Caller{ID: "user-1"}, time.Hour)
	require.NoError(t, err)
	_, err = a.Authorize(ctx, tok)
	assert.Error(err)
}

func TestCallerContext(t *testing.T) {
	assert := assert.New(t)

	ctx := context.Background()
	assert.Nil(CallerFrom(ctx))
	assert.ErrorIs(CallerFrom(ctx).RequireUser(), moderr.ErrForbidden)

	ctx = WithCaller(ctx, &Caller{ID: "u"})
	assert.Equal("u", CallerFrom(ctx).ID)
}
