// Bounded-use, time-limited capability tokens for a single piece of content.
//
// A token lets someone without a full session perform one narrow action on one content item (eg, link an appeal to content they own). Tokens are opaque: 32 random bytes, base58 encoded. They become permanently unusable once expired, revoked, or exhausted.
package token

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bluesky-social/modqueue/content"
	"github.com/bluesky-social/modqueue/models"
	"github.com/bluesky-social/modqueue/moderr"

	"github.com/mr-tron/base58"
)

type Status string

const (
	StatusValid     Status = "valid"
	StatusInvalid   Status = "invalid"
	StatusRevoked   Status = "revoked"
	StatusExpired   Status = "expired"
	StatusExhausted Status = "exhausted"
)

type Validation struct {
	Valid bool                    `json:"valid"`
	Token *models.ModerationToken `json:"token,omitempty"`
	// set when Valid is false
	Reason Status `json:"error,omitempty"`
}

type IssueRequest struct {
	ContentType content.Type
	ContentID   string
	IssuedBy    *string
	// zero means Config.DefaultTTL
	TTL time.Duration
	// nil means Config.DefaultMaxUses (which may itself mean unlimited)
	MaxUses *int
	Reason  string
}

type Config struct {
	DefaultTTL time.Duration
	// zero means unlimited
	DefaultMaxUses int
}

func DefaultConfig() Config {
	return Config{
		DefaultTTL:     72 * time.Hour,
		DefaultMaxUses: 1,
	}
}

// number of times a lost ConsumeUse race is re-examined before giving up
const maxConsumeAttempts = 5

type Service struct {
	store  Store
	config Config
	logger *slog.Logger

	// clock, overridable in tests
	Now func() time.Time
}

func NewService(store Store, config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		config: config,
		logger: logger.With("component", "token"),
		Now:    time.Now,
	}
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base58.Encode(buf), nil
}

func (s *Service) Issue(ctx context.Context, req IssueRequest) (*models.ModerationToken, error) {
	if !req.ContentType.Valid() {
		return nil, moderr.Validation("unknown content type: %q", req.ContentType)
	}
	if strings.TrimSpace(req.ContentID) == "" {
		return nil, moderr.Validation("contentId is required")
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = s.config.DefaultTTL
	}
	if ttl <= 0 {
		return nil, moderr.Validation("token ttl must be positive")
	}
	maxUses := req.MaxUses
	if maxUses == nil && s.config.DefaultMaxUses > 0 {
		n := s.config.DefaultMaxUses
		maxUses = &n
	}
	if maxUses != nil && *maxUses < 1 {
		return nil, moderr.Validation("maxUses must be at least 1")
	}

	raw, err := generateToken()
	if err != nil {
		return nil, err
	}
	tok := &models.ModerationToken{
		Token:         raw,
		ContentType:   string(req.ContentType),
		ContentID:     req.ContentID,
		IssuedBy:      req.IssuedBy,
		ExpiresAt:     s.Now().UTC().Add(ttl),
		MaxUsageCount: maxUses,
		Reason:        req.Reason,
	}
	if err := s.store.Create(ctx, tok); err != nil {
		return nil, err
	}
	tokensIssued.WithLabelValues(tok.ContentType).Inc()
	s.logger.Info("issued moderation token", "content", tok.ContentType+":"+tok.ContentID, "expiresAt", tok.ExpiresAt)
	return tok, nil
}

// First failing check wins: invalid, revoked, expired, exhausted.
func classify(tok *models.ModerationToken, now time.Time) Status {
	switch {
	case tok == nil:
		return StatusInvalid
	case tok.Revoked:
		return StatusRevoked
	case now.After(tok.ExpiresAt):
		return StatusExpired
	case tok.MaxUsageCount != nil && tok.CurrentUsageCount >= *tok.MaxUsageCount:
		return StatusExhausted
	}
	return StatusValid
}

// Checks the token and, if usable, consumes one use. An error is only returned for storage failures; unusable tokens yield Valid=false with a Reason.
func (s *Service) Validate(ctx context.Context, raw string) (*Validation, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.result(nil, StatusInvalid), nil
	}

	for attempt := 0; attempt < maxConsumeAttempts; attempt++ {
		tok, err := s.store.Get(ctx, raw)
		if err != nil {
			return nil, err
		}
		now := s.Now()
		if st := classify(tok, now); st != StatusValid {
			return s.result(tok, st), nil
		}
		ok, err := s.store.ConsumeUse(ctx, tok.ID, now)
		if err != nil {
			return nil, err
		}
		if ok {
			tok.CurrentUsageCount++
			return s.result(tok, StatusValid), nil
		}
		// lost a race with a concurrent validation or revocation; look again
	}
	return nil, fmt.Errorf("moderation token contended, gave up after %d attempts", maxConsumeAttempts)
}

func (s *Service) result(tok *models.ModerationToken, st Status) *Validation {
	tokenValidations.WithLabelValues(string(st)).Inc()
	if st == StatusValid {
		return &Validation{Valid: true, Token: tok}
	}
	return &Validation{Valid: false, Token: tok, Reason: st}
}

func (s *Service) Revoke(ctx context.Context, raw string) (bool, error) {
	ok, err := s.store.Revoke(ctx, strings.TrimSpace(raw))
	if err != nil {
		return false, err
	}
	if ok {
		s.logger.Info("revoked moderation token")
	}
	return ok, nil
}
