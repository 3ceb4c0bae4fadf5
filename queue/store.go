package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluesky-social/modqueue/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Returned by Store.Create when another open item for the same content already exists.
var ErrOpenItemExists = errors.New("open queue item already exists for content")

type ListFilter struct {
	Status      *models.QueueStatus
	ContentType string
	Priority    *models.Priority
	// only unassigned items in a claimable status
	Claimable bool
}

type ResolveUpdate struct {
	Status      models.QueueStatus
	Action      models.Action
	ModeratorID string
	Notes       string
	ResolvedAt  time.Time
}

// Persistence for queue items, their history, and the per-content moderation record.
type Store interface {
	// Returns (nil, nil) when there is no non-terminal item for the content.
	FindOpen(ctx context.Context, contentType, contentID string) (*models.QueueItem, error)
	// Returns (nil, nil) when no such item exists.
	Get(ctx context.Context, id uint64) (*models.QueueItem, error)
	// Inserts the item and, if non-nil, its first history entry in one transaction.
	Create(ctx context.Context, item *models.QueueItem, hist *models.HistoryEntry) error
	// Assigns the item only if unassigned and claimable. False means nothing was updated.
	Claim(ctx context.Context, id uint64, moderatorID string, now time.Time) (bool, error)
	// Moves a non-terminal item to a terminal status. False means nothing was updated.
	Resolve(ctx context.Context, id uint64, upd ResolveUpdate) (bool, error)
	List(ctx context.Context, filter ListFilter, order []OrderTerm, offset, limit int) ([]models.QueueItem, int64, error)
	History(ctx context.Context, id uint64) ([]models.HistoryEntry, error)
	CountByStatus(ctx context.Context) (map[models.QueueStatus]int64, error)

	// Inserts the record, or on conflict with an existing (type, id) row updates only the listed columns.
	UpsertModeratedContent(ctx context.Context, mc *models.ModeratedContent, updateColumns ...string) error
	// Returns (nil, nil) when no record exists.
	GetModeratedContent(ctx context.Context, contentType, contentID string) (*models.ModeratedContent, error)
}

type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func statusStrings(statuses ...models.QueueStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func terminalStatuses() []string {
	var out []string
	for _, s := range models.AllStatuses {
		if s.Terminal() {
			out = append(out, string(s))
		}
	}
	return out
}

func (s *GormStore) FindOpen(ctx context.Context, contentType, contentID string) (*models.QueueItem, error) {
	var item models.QueueItem
	err := s.db.WithContext(ctx).
		Where("content_type = ? AND content_id = ? AND status NOT IN ?", contentType, contentID, terminalStatuses()).
		Order("id desc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding open queue item: %w", err)
	}
	return &item, nil
}

func (s *GormStore) Get(ctx context.Context, id uint64) (*models.QueueItem, error) {
	var item models.QueueItem
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading queue item: %w", err)
	}
	return &item, nil
}

func (s *GormStore) Create(ctx context.Context, item *models.QueueItem, hist *models.HistoryEntry) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(item).Error; err != nil {
			return err
		}
		if hist != nil {
			hist.QueueItemID = item.ID
			if err := tx.Create(hist).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrOpenItemExists
	}
	if err != nil {
		return fmt.Errorf("creating queue item: %w", err)
	}
	return nil
}

func (s *GormStore) Claim(ctx context.Context, id uint64, moderatorID string, now time.Time) (bool, error) {
	claimed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// compare-and-swap: only one concurrent claim can match
		res := tx.Model(&models.QueueItem{}).
			Where("id = ? AND moderator_id IS NULL AND status IN ?", id, statusStrings(models.StatusPending, models.StatusNeedsReview)).
			Updates(map[string]any{
				"status":       models.StatusInReview,
				"moderator_id": moderatorID,
				"assigned_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		claimed = true
		action := models.ActionClaim
		return tx.Create(&models.HistoryEntry{
			QueueItemID: id,
			Status:      models.StatusInReview,
			Action:      &action,
			ModeratorID: &moderatorID,
			CreatedAt:   now,
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("claiming queue item: %w", err)
	}
	return claimed, nil
}

func (s *GormStore) Resolve(ctx context.Context, id uint64, upd ResolveUpdate) (bool, error) {
	resolved := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.QueueItem{}).
			Where("id = ? AND status NOT IN ?", id, terminalStatuses()).
			Updates(map[string]any{
				"status":       upd.Status,
				"action_taken": upd.Action,
				"moderator_id": upd.ModeratorID,
				"notes":        upd.Notes,
				"resolved_at":  upd.ResolvedAt,
				"open_key":     nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		resolved = true
		action := upd.Action
		moderatorID := upd.ModeratorID
		return tx.Create(&models.HistoryEntry{
			QueueItemID: id,
			Status:      upd.Status,
			Action:      &action,
			ModeratorID: &moderatorID,
			Notes:       upd.Notes,
			CreatedAt:   upd.ResolvedAt,
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("resolving queue item: %w", err)
	}
	return resolved, nil
}

func applyFilter(q *gorm.DB, f ListFilter) *gorm.DB {
	if f.Status != nil {
		q = q.Where("status = ?", string(*f.Status))
	}
	if f.ContentType != "" {
		q = q.Where("content_type = ?", f.ContentType)
	}
	if f.Priority != nil {
		q = q.Where("priority = ?", int(*f.Priority))
	}
	if f.Claimable {
		q = q.Where("moderator_id IS NULL AND status IN ?", statusStrings(models.StatusPending, models.StatusNeedsReview))
	}
	return q
}

func (s *GormStore) List(ctx context.Context, filter ListFilter, order []OrderTerm, offset, limit int) ([]models.QueueItem, int64, error) {
	var total int64
	if err := applyFilter(s.db.WithContext(ctx).Model(&models.QueueItem{}), filter).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting queue items: %w", err)
	}

	q := applyFilter(s.db.WithContext(ctx).Model(&models.QueueItem{}), filter)
	for _, o := range order {
		q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: o.Column}, Desc: o.Desc})
	}
	var items []models.QueueItem
	if err := q.Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("listing queue items: %w", err)
	}
	return items, total, nil
}

func (s *GormStore) History(ctx context.Context, id uint64) ([]models.HistoryEntry, error) {
	var out []models.HistoryEntry
	if err := s.db.WithContext(ctx).Where("queue_item_id = ?", id).Order("id asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("loading queue item history: %w", err)
	}
	return out, nil
}

func (s *GormStore) CountByStatus(ctx context.Context) (map[models.QueueStatus]int64, error) {
	var rows []struct {
		Status models.QueueStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.QueueItem{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting queue items by status: %w", err)
	}
	out := make(map[models.QueueStatus]int64, len(models.AllStatuses))
	for _, st := range models.AllStatuses {
		out[st] = 0
	}
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// Inserts mc or updates updateColumns on the existing row. An owner, once recorded, is never replaced; a row without one picks up mc's.
func (s *GormStore) UpsertModeratedContent(ctx context.Context, mc *models.ModeratedContent, updateColumns ...string) error {
	cols := append(append([]string{}, updateColumns...), "updated_at")
	set := clause.AssignmentColumns(cols)
	set = append(set, clause.Assignment{
		Column: clause.Column{Name: "owner_id"},
		Value:  gorm.Expr("COALESCE(moderated_contents.owner_id, excluded.owner_id)"),
	})
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "content_type"}, {Name: "content_id"}},
		DoUpdates: set,
	}).Create(mc).Error
	if err != nil {
		return fmt.Errorf("upserting moderated content: %w", err)
	}
	return nil
}

func (s *GormStore) GetModeratedContent(ctx context.Context, contentType, contentID string) (*models.ModeratedContent, error) {
	var mc models.ModeratedContent
	err := s.db.WithContext(ctx).Where("content_type = ? AND content_id = ?", contentType, contentID).First(&mc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading moderated content: %w", err)
	}
	return &mc, nil
}
