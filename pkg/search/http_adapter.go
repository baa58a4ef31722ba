package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/argus-news/argus/pkg/config"
	"github.com/argus-news/argus/pkg/models"
)

// maxSourceResponseBytes bounds an external source's response body.
const maxSourceResponseBytes = 4 << 20

// HTTPSourceAdapter queries an external web-search service over HTTP. The
// service receives the normalized query as GET parameters and answers with
// a JSON item list.
type HTTPSourceAdapter struct {
	id       string
	endpoint string
	client   *http.Client
}

// NewHTTPSourceAdapter builds an adapter from a configured source entry.
func NewHTTPSourceAdapter(src config.SourceConfig, client *http.Client) *HTTPSourceAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSourceAdapter{id: src.ID, endpoint: src.Endpoint, client: client}
}

// ID implements SourceAdapter.
func (a *HTTPSourceAdapter) ID() string { return a.id }

// sourceResponse is the wire shape external search services answer with.
type sourceResponse struct {
	Items []struct {
		ID            string     `json:"id"`
		Title         string     `json:"title"`
		Content       string     `json:"content"`
		URL           string     `json:"url"`
		Source        string     `json:"source"`
		PublishedDate *time.Time `json:"published_date"`
	} `json:"items"`
}

// Fetch implements SourceAdapter.
func (a *HTTPSourceAdapter) Fetch(ctx context.Context, req Request) (*PartialResult, error) {
	start := time.Now()

	u, err := url.Parse(a.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	params := u.Query()
	params.Set("q", req.Query.Q)
	if req.Query.Since != nil {
		params.Set("since", req.Query.Since.Format(time.RFC3339))
	}
	if req.Query.Until != nil {
		params.Set("until", req.Query.Until.Format(time.RFC3339))
	}
	for _, p := range req.PriorityURLs {
		params.Add("priority_url", p)
	}
	u.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build source request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("source %s request failed: %w", a.id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Keep the status code in the message so failure inference can
		// classify overload (429) and unavailability (502/503).
		return nil, fmt.Errorf("source %s returned status %s", a.id, strconv.Itoa(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read source %s response: %w", a.id, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response from source %s", a.id)
	}

	var parsed sourceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse source %s response: %w", a.id, err)
	}

	items := make([]models.Article, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it.URL == "" {
			continue
		}
		source := it.Source
		if source == "" {
			source = a.id
		}
		items = append(items, models.Article{
			ID:            it.ID,
			Title:         it.Title,
			Content:       it.Content,
			URL:           it.URL,
			Source:        source,
			PublishedDate: it.PublishedDate,
			CollectedAt:   time.Now().UTC(),
		})
	}

	return &PartialResult{Source: a.id, Items: items, TookMs: time.Since(start).Milliseconds()}, nil
}

var _ SourceAdapter = (*HTTPSourceAdapter)(nil)
