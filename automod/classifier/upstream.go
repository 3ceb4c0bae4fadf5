package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carlmjohnson/versioninfo"
)

// Client for a hosted text moderation API.
//
// Request: POST {Host} with JSON {"input": "..."} and "Authorization: Bearer <key>".
// Response: {"results": [{"flagged": bool, "categories": {...}, "category_scores": {...}}]}
type HTTPUpstream struct {
	Client *http.Client
	URL    string
	APIKey string
}

var _ Upstream = (*HTTPUpstream)(nil)

type moderationRequest struct {
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []moderationResult `json:"results"`
}

type moderationResult struct {
	Flagged        bool               `json:"flagged"`
	Categories     map[string]bool    `json:"categories"`
	CategoryScores map[string]float64 `json:"category_scores"`
}

func NewHTTPUpstream(client *http.Client, url, apiKey string) *HTTPUpstream {
	return &HTTPUpstream{
		Client: client,
		URL:    url,
		APIKey: apiKey,
	}
}

func (u *HTTPUpstream) Classify(ctx context.Context, text string) (*UpstreamResult, error) {
	body, err := json.Marshal(moderationRequest{Input: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "modqueue/"+versioninfo.Short())
	if u.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+u.APIKey)
	}

	start := time.Now()
	defer func() {
		classifierDuration.Observe(time.Since(start).Seconds())
	}()

	res, err := u.Client.Do(req)
	if err != nil {
		classifierCount.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	defer res.Body.Close()

	classifierCount.WithLabelValues(fmt.Sprint(res.StatusCode)).Inc()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier request failed statusCode=%d", res.StatusCode)
	}

	respBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read classifier resp body: %w", err)
	}
	var respObj moderationResponse
	if err := json.Unmarshal(respBytes, &respObj); err != nil {
		return nil, fmt.Errorf("failed to parse classifier resp JSON: %w", err)
	}
	if len(respObj.Results) == 0 {
		return nil, fmt.Errorf("classifier response had no results")
	}
	return respObj.merge(), nil
}

// Multiple results (eg, for chunked input) are folded into one: flagged if any is flagged, per-category maximum score.
func (resp *moderationResponse) merge() *UpstreamResult {
	out := &UpstreamResult{
		Categories:     make(map[string]bool),
		CategoryScores: make(map[string]float64),
	}
	for _, r := range resp.Results {
		out.Flagged = out.Flagged || r.Flagged
		for cat, v := range r.Categories {
			out.Categories[normalizeCategory(cat)] = out.Categories[normalizeCategory(cat)] || v
		}
		for cat, score := range r.CategoryScores {
			k := normalizeCategory(cat)
			if score > out.CategoryScores[k] {
				out.CategoryScores[k] = score
			}
		}
	}
	return out
}

func normalizeCategory(cat string) string {
	return strings.ToLower(strings.TrimSpace(cat))
}
