package content

import (
	"context"
	"fmt"
	"strings"
)

// Kind of user-generated content which can be moderated.
type Type string

const (
	TypePost    Type = "POST"
	TypeComment Type = "COMMENT"
	TypeListing Type = "LISTING"
	TypeProfile Type = "PROFILE"
	TypeMessage Type = "MESSAGE"
	TypeReview  Type = "REVIEW"
)

var AllTypes = []Type{TypePost, TypeComment, TypeListing, TypeProfile, TypeMessage, TypeReview}

func (t Type) Valid() bool {
	for _, v := range AllTypes {
		if t == v {
			return true
		}
	}
	return false
}

func (t Type) String() string {
	return string(t)
}

// Parses a content type, case-insensitive.
func ParseType(raw string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown content type: %q", raw)
	}
	return t, nil
}

// Reference to a single piece of content, by type and (platform-assigned) identifier.
type Ref struct {
	Type Type   `json:"contentType"`
	ID   string `json:"contentId"`
}

func (r Ref) String() string {
	return string(r.Type) + ":" + r.ID
}

// Fetches the current text body of a piece of content, for classification. Implementations are registered per content type.
type Fetcher interface {
	FetchContent(ctx context.Context, id string) (string, error)
}

// Applies the effect of a moderation decision to the content itself, in the system which owns it.
type Actor interface {
	Hide(ctx context.Context, ref Ref, reason string) error
	Restore(ctx context.Context, ref Ref) error
	Replace(ctx context.Context, ref Ref, body string) error
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, id string) (string, error)

func (f FetcherFunc) FetchContent(ctx context.Context, id string) (string, error) {
	return f(ctx, id)
}
