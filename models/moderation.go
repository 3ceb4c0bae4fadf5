package models

import (
	"time"
)

type QueueStatus string

const (
	StatusPending      QueueStatus = "PENDING"
	StatusNeedsReview  QueueStatus = "NEEDS_REVIEW"
	StatusInReview     QueueStatus = "IN_REVIEW"
	StatusApproved     QueueStatus = "APPROVED"
	StatusRejected     QueueStatus = "REJECTED"
	StatusAutoApproved QueueStatus = "AUTO_APPROVED"
	StatusAutoRejected QueueStatus = "AUTO_REJECTED"
)

var AllStatuses = []QueueStatus{
	StatusPending,
	StatusNeedsReview,
	StatusInReview,
	StatusApproved,
	StatusRejected,
	StatusAutoApproved,
	StatusAutoRejected,
}

// Terminal statuses are immutable: no further transition is accepted.
func (s QueueStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusAutoApproved, StatusAutoRejected:
		return true
	}
	return false
}

// Claimable statuses can be assigned to a reviewer.
func (s QueueStatus) Claimable() bool {
	return s == StatusPending || s == StatusNeedsReview
}

func (s QueueStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Outcome recorded against a queue item or history entry.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
	ActionHide    Action = "HIDE"
	ActionDelete  Action = "DELETE"
	ActionEdit    Action = "EDIT"
	ActionWarn    Action = "WARN"
	// bookkeeping actions, only seen in history
	ActionClaim Action = "CLAIM"
)

func (a Action) Valid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionHide, ActionDelete, ActionEdit, ActionWarn:
		return true
	}
	return false
}

// One contested or reported piece of content.
//
// OpenKey is "<type>:<id>" while the item is non-terminal and NULL afterwards. The unique index on it means at most one open item exists per content reference, even with concurrent submissions.
type QueueItem struct {
	ID              uint64      `gorm:"primaryKey" json:"id"`
	ContentType     string      `gorm:"not null;index:idx_queue_content" json:"contentType"`
	ContentID       string      `gorm:"not null;index:idx_queue_content" json:"contentId"`
	Status          QueueStatus `gorm:"not null;index" json:"status"`
	Priority        Priority    `gorm:"not null;index" json:"priority"`
	ReporterID      *string     `json:"reporterId,omitempty"`
	ModeratorID     *string     `gorm:"index" json:"moderatorId,omitempty"`
	OwnerID         *string     `json:"ownerId,omitempty"`
	AutoFlagged     bool        `gorm:"not null" json:"autoFlagged"`
	ConfidenceScore *float64    `json:"confidenceScore,omitempty"`
	ActionTaken     *Action     `json:"actionTaken,omitempty"`
	Reason          string      `json:"reason,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	OpenKey         *string     `gorm:"uniqueIndex" json:"-"`
	CreatedAt       time.Time   `gorm:"not null;index" json:"createdAt"`
	AssignedAt      *time.Time  `json:"assignedAt,omitempty"`
	ResolvedAt      *time.Time  `json:"resolvedAt,omitempty"`
}

// Immutable audit record of one queue item transition.
type HistoryEntry struct {
	ID          uint64      `gorm:"primaryKey" json:"id"`
	QueueItemID uint64      `gorm:"not null;index" json:"queueItemId"`
	Status      QueueStatus `gorm:"not null" json:"status"`
	Action      *Action     `json:"action,omitempty"`
	ModeratorID *string     `json:"moderatorId,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	CreatedAt   time.Time   `gorm:"not null" json:"createdAt"`
}

// Denormalized per-content moderation status, one row per (type, id).
type ModeratedContent struct {
	ID              uint64      `gorm:"primaryKey" json:"id"`
	ContentType     string      `gorm:"not null;uniqueIndex:idx_modcontent_ref" json:"contentType"`
	ContentID       string      `gorm:"not null;uniqueIndex:idx_modcontent_ref" json:"contentId"`
	OriginalContent string      `json:"originalContent"`
	ModifiedContent *string     `json:"modifiedContent,omitempty"`
	Status          QueueStatus `gorm:"not null" json:"status"`
	ClassifierScore *float64    `json:"classifierScore,omitempty"`
	ModeratorID     *string     `json:"moderatorId,omitempty"`
	OwnerID         *string     `gorm:"index" json:"ownerId,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// Moderated states are those an appeal can contest.
func (mc *ModeratedContent) Moderated() bool {
	return mc.Status == StatusRejected || mc.Status == StatusAutoRejected
}
