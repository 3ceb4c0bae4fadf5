package models

import (
	"time"

	"gorm.io/gorm"
)

// Bounded-use, time-limited capability for one piece of content.
type ModerationToken struct {
	ID                uint64    `gorm:"primaryKey" json:"-"`
	Token             string    `gorm:"not null;uniqueIndex" json:"token"`
	ContentType       string    `gorm:"not null" json:"contentType"`
	ContentID         string    `gorm:"not null" json:"contentId"`
	IssuedBy          *string   `json:"issuedBy,omitempty"`
	ExpiresAt         time.Time `gorm:"not null" json:"expiresAt"`
	MaxUsageCount     *int      `json:"maxUsageCount,omitempty"`
	CurrentUsageCount int       `gorm:"not null;default:0" json:"currentUsageCount"`
	Revoked           bool      `gorm:"not null;default:false" json:"revoked"`
	Reason            string    `json:"reason,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Trust profile for one reporting user. Lifetime counters only ever increase.
type ReporterCredibility struct {
	ID              uint64         `gorm:"primaryKey" json:"-"`
	UserID          string         `gorm:"not null;uniqueIndex" json:"userId"`
	Score           float64        `gorm:"not null" json:"score"`
	TotalReports    int64          `gorm:"not null;default:0" json:"totalReports"`
	AccurateReports int64          `gorm:"not null;default:0" json:"accurateReports"`
	FalseReports    int64          `gorm:"not null;default:0" json:"falseReports"`
	LastOutcome     map[string]any `gorm:"serializer:json;type:text" json:"lastOutcome,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Append-only log of credibility outcomes.
type CredibilityEvent struct {
	ID            uint64    `gorm:"primaryKey" json:"id"`
	UserID        string    `gorm:"not null;index" json:"userId"`
	ReportRef     string    `gorm:"not null" json:"reportRef"`
	WasAccurate   bool      `gorm:"not null" json:"wasAccurate"`
	PreviousScore float64   `gorm:"not null" json:"previousScore"`
	Adjustment    float64   `gorm:"not null" json:"adjustment"`
	UpdatedScore  float64   `gorm:"not null" json:"updatedScore"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type AppealStatus string

const (
	AppealPending  AppealStatus = "PENDING"
	AppealApproved AppealStatus = "APPROVED"
	AppealRejected AppealStatus = "REJECTED"
)

func (s AppealStatus) Terminal() bool {
	return s == AppealApproved || s == AppealRejected
}

// A content owner's contestation of a moderation decision.
//
// PendingKey holds the ModeratedContentID while the appeal is PENDING and is cleared on decision; its unique index allows only one open appeal per moderated record.
type Appeal struct {
	ID                 uint64       `gorm:"primaryKey" json:"id"`
	ModeratedContentID uint64       `gorm:"not null;index" json:"moderatedContentId"`
	UserID             string       `gorm:"not null;index" json:"userId"`
	Reason             string       `gorm:"not null" json:"reason"`
	AdditionalInfo     *string      `json:"additionalInfo,omitempty"`
	Status             AppealStatus `gorm:"not null;index" json:"status"`
	ModeratorID        *string      `json:"moderatorId,omitempty"`
	ModeratorNotes     *string      `json:"moderatorNotes,omitempty"`
	ReviewedAt         *time.Time   `json:"reviewedAt,omitempty"`
	PendingKey         *uint64      `gorm:"uniqueIndex" json:"-"`
	CreatedAt          time.Time    `json:"createdAt"`
}

type AppealNotification struct {
	ID        uint64       `gorm:"primaryKey" json:"id"`
	AppealID  uint64       `gorm:"not null;index" json:"appealId"`
	UserID    string       `gorm:"not null;index" json:"userId"`
	Status    AppealStatus `gorm:"not null" json:"status"`
	Message   string       `json:"message"`
	Read      bool         `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time    `json:"createdAt"`
	ReadAt    *time.Time   `json:"readAt,omitempty"`
}

// Persisted rules engine configuration, one row per content type.
type RuleConfig struct {
	ContentType         string    `gorm:"primaryKey" json:"contentType"`
	Enabled             bool      `gorm:"not null" json:"enabled"`
	BlockedKeywords     []string  `gorm:"serializer:json;type:text" json:"blockedKeywords"`
	AutoRejectThreshold int       `gorm:"not null" json:"autoRejectThreshold"`
	BasePriority        Priority  `gorm:"not null" json:"basePriority"`
	EscalateReportCount int       `gorm:"not null" json:"escalateReportCount"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Creates or updates tables for every model in this package.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&QueueItem{},
		&HistoryEntry{},
		&ModeratedContent{},
		&ModerationToken{},
		&ReporterCredibility{},
		&CredibilityEvent{},
		&Appeal{},
		&AppealNotification{},
		&RuleConfig{},
	)
}
