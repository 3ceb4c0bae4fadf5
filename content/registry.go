package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var ErrNoFetcher = errors.New("no content fetcher registered for type")

// Table of typed collaborators, keyed by content type. Adding a content type is one Register call.
//
// The registry is populated at startup and is read-only afterwards, so it needs no locking.
type Registry struct {
	fetchers map[Type]Fetcher
	actors   map[Type]Actor
	fallback Actor
}

func NewRegistry() *Registry {
	return &Registry{
		fetchers: make(map[Type]Fetcher),
		actors:   make(map[Type]Actor),
	}
}

func (r *Registry) RegisterFetcher(t Type, f Fetcher) {
	r.fetchers[t] = f
}

func (r *Registry) RegisterActor(t Type, a Actor) {
	r.actors[t] = a
}

// Actor used for any type without a specific registration.
func (r *Registry) SetDefaultActor(a Actor) {
	r.fallback = a
}

func (r *Registry) Fetch(ctx context.Context, ref Ref) (string, error) {
	f, ok := r.fetchers[ref.Type]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoFetcher, ref.Type)
	}
	return f.FetchContent(ctx, ref.ID)
}

func (r *Registry) HasFetcher(t Type) bool {
	_, ok := r.fetchers[t]
	return ok
}

// Returns the actor for a type; never nil (falls back to a logging no-op).
func (r *Registry) ActorFor(t Type) Actor {
	if a, ok := r.actors[t]; ok {
		return a
	}
	if r.fallback != nil {
		return r.fallback
	}
	return LogActor{Logger: slog.Default()}
}

// Actor which only records what it would have done. Used when no content-owning service is configured.
type LogActor struct {
	Logger *slog.Logger
}

func (a LogActor) Hide(ctx context.Context, ref Ref, reason string) error {
	a.Logger.Info("content hide requested", "content", ref.String(), "reason", reason)
	return nil
}

func (a LogActor) Restore(ctx context.Context, ref Ref) error {
	a.Logger.Info("content restore requested", "content", ref.String())
	return nil
}

func (a LogActor) Replace(ctx context.Context, ref Ref, body string) error {
	a.Logger.Info("content replace requested", "content", ref.String(), "size", len(body))
	return nil
}
