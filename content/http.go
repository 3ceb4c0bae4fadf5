package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/carlmjohnson/versioninfo"
)

// Client for the content-owning platform service. It serves as both Fetcher (for one content type) and Actor (for any).
//
// Endpoints, relative to Host:
//
//	GET  /internal/content/{type}/{id}          -> {"body": "..."}
//	POST /internal/content/{type}/{id}/hide     {"reason": "..."}
//	POST /internal/content/{type}/{id}/restore
//	POST /internal/content/{type}/{id}/replace  {"body": "..."}
type HTTPService struct {
	Client     *http.Client
	Host       string
	AdminToken string
}

type bodyMessage struct {
	Body   string `json:"body,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (s *HTTPService) contentURL(t Type, id string, verb string) string {
	u := strings.TrimSuffix(s.Host, "/") + "/internal/content/" + strings.ToLower(string(t)) + "/" + url.PathEscape(id)
	if verb != "" {
		u += "/" + verb
	}
	return u
}

func (s *HTTPService) do(ctx context.Context, method, u string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "modqueue/"+versioninfo.Short())
	if s.AdminToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.AdminToken)
	}
	return s.Client.Do(req)
}

// Returns a Fetcher bound to a single content type.
func (s *HTTPService) FetcherFor(t Type) Fetcher {
	return FetcherFunc(func(ctx context.Context, id string) (string, error) {
		resp, err := s.do(ctx, http.MethodGet, s.contentURL(t, id, ""), nil)
		if err != nil {
			return "", fmt.Errorf("fetching content %s:%s: %w", t, id, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("fetching content %s:%s: status=%d", t, id, resp.StatusCode)
		}
		var msg bodyMessage
		if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
			return "", fmt.Errorf("parsing content response: %w", err)
		}
		return msg.Body, nil
	})
}

func (s *HTTPService) post(ctx context.Context, ref Ref, verb string, body any) error {
	resp, err := s.do(ctx, http.MethodPost, s.contentURL(ref.Type, ref.ID, verb), body)
	if err != nil {
		return fmt.Errorf("content %s request failed: %w", verb, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("content %s request failed: status=%d", verb, resp.StatusCode)
	}
	return nil
}

func (s *HTTPService) Hide(ctx context.Context, ref Ref, reason string) error {
	return s.post(ctx, ref, "hide", bodyMessage{Reason: reason})
}

func (s *HTTPService) Restore(ctx context.Context, ref Ref) error {
	return s.post(ctx, ref, "restore", nil)
}

func (s *HTTPService) Replace(ctx context.Context, ref Ref, body string) error {
	return s.post(ctx, ref, "replace", bodyMessage{Body: body})
}
