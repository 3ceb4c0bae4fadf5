package testutil

import (
	"context"
	"sync"

	"github.com/bluesky-social/modqueue/content"
)

// content.Actor which records calls, for asserting side effects.
type RecordingActor struct {
	mu       sync.Mutex
	Hidden   []string
	Restored []string
	Replaced map[string]string
}

var _ content.Actor = (*RecordingActor)(nil)

func NewRecordingActor() *RecordingActor {
	return &RecordingActor{Replaced: make(map[string]string)}
}

func (a *RecordingActor) Hide(ctx context.Context, ref content.Ref, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Hidden = append(a.Hidden, ref.String())
	return nil
}

func (a *RecordingActor) Restore(ctx context.Context, ref content.Ref) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Restored = append(a.Restored, ref.String())
	return nil
}

func (a *RecordingActor) Replace(ctx context.Context, ref content.Ref, body string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Replaced[ref.String()] = body
	return nil
}

func (a *RecordingActor) HiddenRefs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string{}, a.Hidden...)
}
