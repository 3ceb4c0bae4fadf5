package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluesky-social/modqueue/models"

	"gorm.io/gorm"
)

type Store interface {
	Create(ctx context.Context, tok *models.ModerationToken) error
	// Returns (nil, nil) when no such token exists.
	Get(ctx context.Context, token string) (*models.ModerationToken, error)
	// Atomically consumes one use, only if the token is still usable at `now`. Returns false when the conditional update matched nothing.
	ConsumeUse(ctx context.Context, id uint64, now time.Time) (bool, error)
	// Returns false when no such token exists. Revoking twice is not an error.
	Revoke(ctx context.Context, token string) (bool, error)
}

type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, tok *models.ModerationToken) error {
	if err := s.db.WithContext(ctx).Create(tok).Error; err != nil {
		return fmt.Errorf("creating moderation token: %w", err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, token string) (*models.ModerationToken, error) {
	var tok models.ModerationToken
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&tok).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading moderation token: %w", err)
	}
	return &tok, nil
}

func (s *GormStore) ConsumeUse(ctx context.Context, id uint64, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.ModerationToken{}).
		Where("id = ? AND revoked = ? AND expires_at >= ?", id, false, now.UTC()).
		Where("max_usage_count IS NULL OR current_usage_count < max_usage_count").
		Update("current_usage_count", gorm.Expr("current_usage_count + 1"))
	if res.Error != nil {
		return false, fmt.Errorf("consuming moderation token use: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) Revoke(ctx context.Context, token string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.ModerationToken{}).
		Where("token = ?", token).
		Update("revoked", true)
	if res.Error != nil {
		return false, fmt.Errorf("revoking moderation token: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
