package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bluesky-social/modqueue/automod/cachestore"
	"github.com/bluesky-social/modqueue/automod/keyword"
	"github.com/bluesky-social/modqueue/content"
	"github.com/bluesky-social/modqueue/models"
	"github.com/bluesky-social/modqueue/moderr"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Per-content-type rule configuration storage.
type ConfigStore interface {
	// Returns DefaultConfig for types which have never been configured.
	Get(ctx context.Context, ct content.Type) (*models.RuleConfig, error)
	// Validates and normalizes cfg, then persists it. Returns the stored form.
	Set(ctx context.Context, cfg *models.RuleConfig) (*models.RuleConfig, error)
}

// Configuration used for any content type without a persisted row: enabled, no keywords, threshold 1.
func DefaultConfig(ct content.Type) *models.RuleConfig {
	return &models.RuleConfig{
		ContentType:         string(ct),
		Enabled:             true,
		BlockedKeywords:     []string{},
		AutoRejectThreshold: 1,
		BasePriority:        models.PriorityNormal,
	}
}

// Checks cfg and normalizes it in place: keywords are trimmed, empties dropped, and duplicates (by normalized form) removed, keeping first-seen order.
func ValidateConfig(cfg *models.RuleConfig) error {
	ct, err := content.ParseType(cfg.ContentType)
	if err != nil {
		return moderr.Validation("unknown content type: %q", cfg.ContentType)
	}
	cfg.ContentType = string(ct)
	if cfg.AutoRejectThreshold < 1 {
		return moderr.Validation("autoRejectThreshold must be at least 1")
	}
	if !cfg.BasePriority.Valid() {
		return moderr.Validation("invalid basePriority: %d", cfg.BasePriority)
	}
	if cfg.EscalateReportCount < 0 {
		return moderr.Validation("escalateReportCount must not be negative")
	}

	seen := make(map[string]bool, len(cfg.BlockedKeywords))
	kws := make([]string, 0, len(cfg.BlockedKeywords))
	for _, kw := range cfg.BlockedKeywords {
		kw = strings.TrimSpace(kw)
		norm := keyword.NormalizeText(kw)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		kws = append(kws, kw)
	}
	cfg.BlockedKeywords = kws
	return nil
}

type GormConfigStore struct {
	db *gorm.DB
}

var _ ConfigStore = (*GormConfigStore)(nil)

func NewGormConfigStore(db *gorm.DB) *GormConfigStore {
	return &GormConfigStore{db: db}
}

func (s *GormConfigStore) Get(ctx context.Context, ct content.Type) (*models.RuleConfig, error) {
	var cfg models.RuleConfig
	err := s.db.WithContext(ctx).Where("content_type = ?", string(ct)).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultConfig(ct), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading rule config for %s: %w", ct, err)
	}
	if cfg.BlockedKeywords == nil {
		cfg.BlockedKeywords = []string{}
	}
	return &cfg, nil
}

func (s *GormConfigStore) Set(ctx context.Context, cfg *models.RuleConfig) (*models.RuleConfig, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "content_type"}},
		UpdateAll: true,
	}).Create(cfg).Error
	if err != nil {
		return nil, fmt.Errorf("saving rule config for %s: %w", cfg.ContentType, err)
	}
	return cfg, nil
}

const ruleConfigCacheName = "rule-config"

// Fronts another ConfigStore with a TTL cache. Reads may be stale by up to the cache TTL on other processes; writes through this store purge the local entry.
type CachedConfigStore struct {
	Inner  ConfigStore
	Cache  cachestore.CacheStore
	Logger *slog.Logger
}

var _ ConfigStore = (*CachedConfigStore)(nil)

func NewCachedConfigStore(inner ConfigStore, cache cachestore.CacheStore, logger *slog.Logger) *CachedConfigStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedConfigStore{
		Inner:  inner,
		Cache:  cache,
		Logger: logger.With("component", "rule-config"),
	}
}

func (s *CachedConfigStore) Get(ctx context.Context, ct content.Type) (*models.RuleConfig, error) {
	cfg, ok, err := cachestore.GetJSON[models.RuleConfig](ctx, s.Cache, ruleConfigCacheName, string(ct))
	if err != nil {
		// cache is best-effort
		s.Logger.Warn("rule config cache read failed", "contentType", ct, "err", err)
	} else if ok {
		return cfg, nil
	}

	cfg, err = s.Inner.Get(ctx, ct)
	if err != nil {
		return nil, err
	}
	if err := cachestore.SetJSON(ctx, s.Cache, ruleConfigCacheName, string(ct), cfg); err != nil {
		s.Logger.Warn("rule config cache write failed", "contentType", ct, "err", err)
	}
	return cfg, nil
}

func (s *CachedConfigStore) Set(ctx context.Context, cfg *models.RuleConfig) (*models.RuleConfig, error) {
	out, err := s.Inner.Set(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Cache.Purge(ctx, ruleConfigCacheName, out.ContentType); err != nil {
		s.Logger.Warn("rule config cache purge failed", "contentType", out.ContentType, "err", err)
	}
	return out, nil
}
