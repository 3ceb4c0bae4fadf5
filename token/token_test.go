package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bluesky-social/modqueue/content"
	"github.com/bluesky-social/modqueue/internal/testutil"
	"github.com/bluesky-social/modqueue/moderr"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService(t *testing.T) (*Service, *GormStore, *time.Time) {
	store := NewGormStore(testutil.TestDB(t))
	svc := NewService(store, DefaultConfig(), nil)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return now }
	return svc, store, &now
}

func intPtr(i int) *int {
	return &i
}

func TestIssueAndValidate(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc, store, _ := testService(t)

	tok, err := svc.Issue(ctx, IssueRequest{ContentType: content.TypePost, ContentID: "p1", MaxUses: intPtr(3), TTL: time.Hour})
	require.NoError(t, err)
	raw, err := base58.Decode(tok.Token)
	assert.NoError(err)
	assert.Len(raw, 32)
	assert.NotContains(tok.Token, "p1")

	v, err := svc.Validate(ctx, tok.Token)
	require.NoError(t, err)
	assert.True(v.Valid)
	assert.Empty(v.Reason)

	stored, err := store.Get(ctx, tok.Token)
	require.NoError(t, err)
	assert.Equal(1, stored.CurrentUsageCount)
}

func TestValidateExhausted(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc, store, _ := testService(t)

	tok, err := svc.Issue(ctx, IssueRequest{ContentType: content.TypeComment, ContentID: "c1", MaxUses: intPtr(2)})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		v, err := svc.Validate(ctx, tok.Token)
		require.NoError(t, err)
		assert.True(v.Valid)
	}
	v, err := svc.Validate(ctx, tok.Token)
	require.NoError(t, err)
	assert.False(v.Valid)
	assert.Equal(StatusExhausted, v.Reason)

	stored, err := store.Get(ctx, tok.Token)
	require.NoError(t, err)
	assert.Equal(2, stored.CurrentUsageCount)
}

func TestValidateExpired(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc, _, now := testService(t)

	tok, err := svc.Issue(ctx, IssueRequest{ContentType: content.TypeListing, ContentID: "l1", TTL: time.Hour})
	require.NoError(t, err)

	// exactly at expiry is still valid
	*now = now.Add(time.Hour)
	v, err := svc.Validate(ctx, tok.Token)
	require.NoError(t, err)
	assert.True(v.Valid)

	tok, err = svc.Issue(ctx, IssueRequest{ContentType: content.TypeListing, ContentID: "l2", TTL: time.Hour})
	require.NoError(t, err)
	*now = now.Add(time.Hour + time.Second)
	v, err = svc.Validate(ctx, tok.Token)
	require.NoError(t, err)
	assert.False(v.Valid)
	assert.Equal(StatusExpired, v.Reason)
}

func TestValidateRevoked(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc, _, now := testService(t)

	tok, err := svc.Issue(ctx, IssueRequest{ContentType: content.TypeReview, ContentID: "r1", TTL: time.Hour})
	require.NoError(t, err)

	ok, err := svc.Revoke(ctx, tok.Token)
	require.NoError(t, err)
	assert.True(ok)

	// revoked wins over expired
	*now = now.Add(48 * time.Hour)
	v, err := svc.Validate(ctx, tok.Token)
	require.NoError(t, err)
	assert.False(v.Valid)
	assert.Equal(StatusRevoked, v.Reason)

	ok, err = svc.Revoke(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.False(ok)
}

func TestValidateUnknown(t *testing.T) {
	assert := assert.New(t)
	svc, _, _ := testService(t)

	for _, raw := range []string{"", "nope"} {
		v, err := svc.Validate(context.Background(), raw)
		require.NoError(t, err)
		assert.False(v.Valid)
		assert.Equal(StatusInvalid, v.Reason)
		assert.Nil(v.Token)
	}
}

func TestIssueValidation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc, _, _ := testService(t)

	_, err := svc.Issue(ctx, IssueRequest{ContentType: "BLOG", ContentID: "x"})
	assert.ErrorIs(err, moderr.ErrValidation)
	_, err = svc.Issue(ctx, IssueRequest{ContentType: content.TypePost, ContentID: " "})
	assert.ErrorIs(err, moderr.ErrValidation)
	_, err = svc.Issue(ctx, IssueRequest{ContentType: content.TypePost, ContentID: "x", TTL: -time.Minute})
	assert.ErrorIs(err, moderr.ErrValidation)
	_, err = svc.Issue(ctx, IssueRequest{ContentType: content.TypePost, ContentID: "x", MaxUses: intPtr(0)})
	assert.ErrorIs(err, moderr.ErrValidation)
}

func TestValidateConcurrent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc, _, _ := testService(t)

	tok, err := svc.Issue(ctx, IssueRequest{ContentType: content.TypeMessage, ContentID: "m1", MaxUses: intPtr(1)})
	require.NoError(t, err)

	var mu sync.Mutex
	valid := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := svc.Validate(ctx, tok.Token)
			assert.NoError(err)
			if err == nil && v.Valid {
				mu.Lock()
				valid++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(1, valid)
}
