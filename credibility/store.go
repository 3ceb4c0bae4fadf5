package credibility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bluesky-social/modqueue/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store interface {
	// Returns (nil, nil) for unknown users.
	Get(ctx context.Context, userID string) (*models.ReporterCredibility, error)
	// Creates the profile with the given starting score if it does not exist, then returns it.
	Ensure(ctx context.Context, userID string, initialScore float64) (*models.ReporterCredibility, error)
	// Bumps lifetime counters (atomically, in SQL), overwrites the score and last outcome, and appends the event; all in one transaction.
	Apply(ctx context.Context, ev *models.CredibilityEvent, lastOutcome map[string]any) error
	Top(ctx context.Context, n int) ([]models.ReporterCredibility, error)
	Events(ctx context.Context, userID string, limit int) ([]models.CredibilityEvent, error)
}

type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, userID string) (*models.ReporterCredibility, error) {
	var rc models.ReporterCredibility
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&rc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading reporter credibility: %w", err)
	}
	return &rc, nil
}

func (s *GormStore) Ensure(ctx context.Context, userID string, initialScore float64) (*models.ReporterCredibility, error) {
	rc := models.ReporterCredibility{
		UserID: userID,
		Score:  initialScore,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&rc).Error
	if err != nil {
		return nil, fmt.Errorf("creating reporter credibility: %w", err)
	}
	out, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("reporter credibility for %s missing after create", userID)
	}
	return out, nil
}

func (s *GormStore) Apply(ctx context.Context, ev *models.CredibilityEvent, lastOutcome map[string]any) error {
	last, err := json.Marshal(lastOutcome)
	if err != nil {
		return err
	}
	updates := map[string]any{
		"total_reports": gorm.Expr("total_reports + 1"),
		"score":         ev.UpdatedScore,
		"last_outcome":  string(last),
	}
	if ev.WasAccurate {
		updates["accurate_reports"] = gorm.Expr("accurate_reports + 1")
	} else {
		updates["false_reports"] = gorm.Expr("false_reports + 1")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ReporterCredibility{}).Where("user_id = ?", ev.UserID).Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("updating reporter credibility: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("reporter credibility for %s not found", ev.UserID)
		}
		if err := tx.Create(ev).Error; err != nil {
			return fmt.Errorf("recording credibility event: %w", err)
		}
		return nil
	})
}

func (s *GormStore) Top(ctx context.Context, n int) ([]models.ReporterCredibility, error) {
	var out []models.ReporterCredibility
	err := s.db.WithContext(ctx).
		Order("score desc").Order("total_reports desc").Order("user_id asc").
		Limit(n).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing top reporters: %w", err)
	}
	return out, nil
}

func (s *GormStore) Events(ctx context.Context, userID string, limit int) ([]models.CredibilityEvent, error) {
	var out []models.CredibilityEvent
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing credibility events: %w", err)
	}
	return out, nil
}
