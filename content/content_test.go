package content

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseType(t *testing.T) {
	assert := assert.New(t)

	ct, err := ParseType(" listing ")
	assert.NoError(err)
	assert.Equal(TypeListing, ct)

	_, err = ParseType("BLOG")
	assert.Error(err)
	assert.Equal("POST:abc", Ref{Type: TypePost, ID: "abc"}.String())
}

func TestRegistry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	reg := NewRegistry()
	reg.RegisterFetcher(TypePost, FetcherFunc(func(ctx context.Context, id string) (string, error) {
		return "post body " + id, nil
	}))

	body, err := reg.Fetch(ctx, Ref{Type: TypePost, ID: "1"})
	assert.NoError(err)
	assert.Equal("post body 1", body)

	_, err = reg.Fetch(ctx, Ref{Type: TypeComment, ID: "1"})
	assert.True(errors.Is(err, ErrNoFetcher))
	assert.False(reg.HasFetcher(TypeComment))

	// unregistered types fall back to a no-op actor
	assert.NotNil(reg.ActorFor(TypeReview))
	assert.NoError(reg.ActorFor(TypeReview).Hide(ctx, Ref{Type: TypeReview, ID: "9"}, "spam"))
}

func TestHTTPService(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var hidden []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/internal/content/listing/42":
			json.NewEncoder(w).Encode(bodyMessage{Body: "vintage bike for sale"})
		case r.Method == http.MethodPost && r.URL.Path == "/internal/content/listing/42/hide":
			var msg bodyMessage
			json.NewDecoder(r.Body).Decode(&msg)
			hidden = append(hidden, msg.Reason)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	svc := &HTTPService{Client: srv.Client(), Host: srv.URL}
	body, err := svc.FetcherFor(TypeListing).FetchContent(ctx, "42")
	assert.NoError(err)
	assert.Equal("vintage bike for sale", body)

	ref := Ref{Type: TypeListing, ID: "42"}
	assert.NoError(svc.Hide(ctx, ref, "scam"))
	assert.Equal([]string{"scam"}, hidden)
	assert.Error(svc.Restore(ctx, ref))
}
