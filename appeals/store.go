package appeals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluesky-social/modqueue/models"

	"gorm.io/gorm"
)

// Returned by Store.Create when the record already has a PENDING appeal.
var ErrPendingExists = errors.New("pending appeal already exists for moderated content")

type DecisionUpdate struct {
	Status         models.AppealStatus
	ModeratorID    string
	ModeratorNotes *string
	ReviewedAt     time.Time
	// when set, the moderated content record moves to this status in the same transaction
	ContentStatus *models.QueueStatus
	Notification  *models.AppealNotification
}

type Store interface {
	// Returns (nil, nil) for every "not found" lookup.
	GetModeratedContent(ctx context.Context, id uint64) (*models.ModeratedContent, error)
	FindPending(ctx context.Context, moderatedContentID uint64) (*models.Appeal, error)
	Create(ctx context.Context, appeal *models.Appeal) error
	Get(ctx context.Context, id uint64) (*models.Appeal, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]models.Appeal, error)
	// Applies the decision only if the appeal is still PENDING. Returns false when it was not.
	Decide(ctx context.Context, id uint64, upd DecisionUpdate) (bool, error)
	// Most recently resolved queue item for the content, the one whose outcome is being appealed.
	DecidingItem(ctx context.Context, contentType, contentID string) (*models.QueueItem, error)
	// Distinct reporters across every queue item for the content.
	Reporters(ctx context.Context, contentType, contentID string) ([]string, error)
	Notifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.AppealNotification, error)
	GetNotification(ctx context.Context, id uint64) (*models.AppealNotification, error)
	MarkRead(ctx context.Context, id uint64, now time.Time) error
}

type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func first[T any](q *gorm.DB, what string) (*T, error) {
	var out T
	err := q.First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", what, err)
	}
	return &out, nil
}

func (s *GormStore) GetModeratedContent(ctx context.Context, id uint64) (*models.ModeratedContent, error) {
	return first[models.ModeratedContent](s.db.WithContext(ctx).Where("id = ?", id), "moderated content")
}

func (s *GormStore) FindPending(ctx context.Context, moderatedContentID uint64) (*models.Appeal, error) {
	return first[models.Appeal](s.db.WithContext(ctx).
		Where("moderated_content_id = ? AND status = ?", moderatedContentID, models.AppealPending), "pending appeal")
}

func (s *GormStore) Create(ctx context.Context, appeal *models.Appeal) error {
	err := s.db.WithContext(ctx).Create(appeal).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrPendingExists
	}
	if err != nil {
		return fmt.Errorf("creating appeal: %w", err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id uint64) (*models.Appeal, error) {
	return first[models.Appeal](s.db.WithContext(ctx).Where("id = ?", id), "appeal")
}

func (s *GormStore) ListForUser(ctx context.Context, userID string, limit int) ([]models.Appeal, error) {
	var out []models.Appeal
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing appeals: %w", err)
	}
	return out, nil
}

func (s *GormStore) Decide(ctx context.Context, id uint64, upd DecisionUpdate) (bool, error) {
	decided := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Appeal{}).
			Where("id = ? AND status = ?", id, models.AppealPending).
			Updates(map[string]any{
				"status":          upd.Status,
				"moderator_id":    upd.ModeratorID,
				"moderator_notes": upd.ModeratorNotes,
				"reviewed_at":     upd.ReviewedAt,
				"pending_key":     nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		decided = true

		if upd.ContentStatus != nil {
			var appeal models.Appeal
			if err := tx.Select("moderated_content_id").Where("id = ?", id).First(&appeal).Error; err != nil {
				return err
			}
			err := tx.Model(&models.ModeratedContent{}).
				Where("id = ?", appeal.ModeratedContentID).
				Updates(map[string]any{
					"status":       *upd.ContentStatus,
					"moderator_id": upd.ModeratorID,
					"updated_at":   upd.ReviewedAt,
				}).Error
			if err != nil {
				return err
			}
		}
		if upd.Notification != nil {
			return tx.Create(upd.Notification).Error
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("deciding appeal: %w", err)
	}
	return decided, nil
}

func (s *GormStore) DecidingItem(ctx context.Context, contentType, contentID string) (*models.QueueItem, error) {
	return first[models.QueueItem](s.db.WithContext(ctx).
		Where("content_type = ? AND content_id = ? AND resolved_at IS NOT NULL", contentType, contentID).
		Order("resolved_at desc").Order("id desc"), "deciding queue item")
}

func (s *GormStore) Reporters(ctx context.Context, contentType, contentID string) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("content_type = ? AND content_id = ? AND reporter_id IS NOT NULL", contentType, contentID).
		Distinct().Order("reporter_id").Pluck("reporter_id", &out).Error
	if err != nil {
		return nil, fmt.Errorf("listing content reporters: %w", err)
	}
	return out, nil
}

func (s *GormStore) Notifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.AppealNotification, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("read = ?", false)
	}
	var out []models.AppealNotification
	if err := q.Order("id desc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing appeal notifications: %w", err)
	}
	return out, nil
}

func (s *GormStore) GetNotification(ctx context.Context, id uint64) (*models.AppealNotification, error) {
	return first[models.AppealNotification](s.db.WithContext(ctx).Where("id = ?", id), "appeal notification")
}

func (s *GormStore) MarkRead(ctx context.Context, id uint64, now time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.AppealNotification{}).
		Where("id = ? AND read = ?", id, false).
		Updates(map[string]any{"read": true, "read_at": now}).Error
	if err != nil {
		return fmt.Errorf("marking appeal notification read: %w", err)
	}
	return nil
}
