package queue

import (
	"context"

	"github.com/bluesky-social/modqueue/automod/cachestore"
	"github.com/bluesky-social/modqueue/automod/countstore"
	"github.com/bluesky-social/modqueue/content"
	"github.com/bluesky-social/modqueue/models"
	"github.com/bluesky-social/modqueue/moderr"
)

const MaxListLimit = 100

type ListParams struct {
	Status      *models.QueueStatus
	ContentType *content.Type
	Priority    *models.Priority
	Page        int
	Limit       int
}

type Pagination struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	TotalItems  int64 `json:"totalItems"`
	TotalPages  int   `json:"totalPages"`
	HasNextPage bool  `json:"hasNextPage"`
	HasPrevPage bool  `json:"hasPrevPage"`
}

type Page struct {
	Items      []models.QueueItem `json:"items"`
	Pagination Pagination         `json:"pagination"`
}

// Checks every parameter before any query runs; a bad filter is rejected as a whole.
func (p *ListParams) filter() (ListFilter, error) {
	var f ListFilter
	if p.Page < 1 {
		return f, moderr.Validation("page must be at least 1")
	}
	if p.Limit < 1 || p.Limit > MaxListLimit {
		return f, moderr.Validation("limit must be within [1,%d]", MaxListLimit)
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return f, moderr.Validation("invalid status: %q", *p.Status)
		}
		f.Status = p.Status
	}
	if p.ContentType != nil {
		if !p.ContentType.Valid() {
			return f, moderr.Validation("unknown content type: %q", *p.ContentType)
		}
		f.ContentType = string(*p.ContentType)
	}
	if p.Priority != nil {
		if !p.Priority.Valid() {
			return f, moderr.Validation("invalid priority: %d", *p.Priority)
		}
		f.Priority = p.Priority
	}
	return f, nil
}

func (s *Service) List(ctx context.Context, params ListParams) (*Page, error) {
	filter, err := params.filter()
	if err != nil {
		return nil, err
	}
	items, total, err := s.Store.List(ctx, filter, s.ranker().Order(), (params.Page-1)*params.Limit, params.Limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.QueueItem{}
	}
	totalPages := int((total + int64(params.Limit) - 1) / int64(params.Limit))
	return &Page{
		Items: items,
		Pagination: Pagination{
			Page:        params.Page,
			Limit:       params.Limit,
			TotalItems:  total,
			TotalPages:  totalPages,
			HasNextPage: params.Page < totalPages,
			HasPrevPage: params.Page > 1,
		},
	}, nil
}

func (s *Service) Get(ctx context.Context, id uint64) (*models.QueueItem, error) {
	item, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, moderr.NotFound("queue item %d not found", id)
	}
	return item, nil
}

type Detail struct {
	Item    *models.QueueItem     `json:"item"`
	History []models.HistoryEntry `json:"history"`
	Flags   []string              `json:"flags"`
}

// Item plus its audit trail and any automated flags on the content.
func (s *Service) Detail(ctx context.Context, id uint64) (*Detail, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	hist, err := s.Store.History(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &Detail{Item: item, History: hist, Flags: []string{}}
	if s.Flags != nil {
		flags, err := s.Flags.Get(ctx, refOf(item).String())
		if err != nil {
			s.logger().Warn("failed to load flags", "item", id, "err", err)
		} else if len(flags) > 0 {
			out.Flags = flags
		}
	}
	return out, nil
}

func (s *Service) History(ctx context.Context, id uint64) ([]models.HistoryEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.Store.History(ctx, id)
}

type Stats struct {
	ByStatus map[models.QueueStatus]int64 `json:"byStatus"`
	// submissions per period (hour, day, total), by content type
	Submissions map[string]map[string]int `json:"submissions"`
}

const statsCacheName = "queue-stats"

// Aggregate counts. May be stale by up to the cache TTL; never used for transitions.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	if s.Cache != nil {
		cached, ok, err := cachestore.GetJSON[Stats](ctx, s.Cache, statsCacheName, "all")
		if err != nil {
			s.logger().Warn("stats cache read failed", "err", err)
		} else if ok {
			return cached, nil
		}
	}

	byStatus, err := s.Store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := &Stats{
		ByStatus:    byStatus,
		Submissions: make(map[string]map[string]int),
	}
	if s.Counters != nil {
		for _, period := range countstore.AllPeriods {
			m := make(map[string]int, len(content.AllTypes))
			for _, ct := range content.AllTypes {
				n, err := s.Counters.GetCount(ctx, CounterSubmissions, string(ct), period)
				if err != nil {
					return nil, err
				}
				m[string(ct)] = n
			}
			out.Submissions[period] = m
		}
	}

	if s.Cache != nil {
		if err := cachestore.SetJSON(ctx, s.Cache, statsCacheName, "all", out); err != nil {
			s.logger().Warn("stats cache write failed", "err", err)
		}
	}
	return out, nil
}
