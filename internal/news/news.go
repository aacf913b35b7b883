// Package news reads the project's RSS or Atom feed.
package news

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// DefaultLimit is the number of entries shown by the launcher.
const DefaultLimit = 10

// Entry is one news item.
type Entry struct {
	Date  time.Time
	Title string
	Link  string
}

// Client fetches news feeds.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a Client. A nil httpClient selects one with a 30s timeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{httpClient: httpClient}
}

// Fetch returns up to limit entries from the feed at url, in feed order. An
// empty url means no feed is configured and returns nil.
func (c *Client) Fetch(ctx context.Context, url string, limit int) ([]Entry, error) {
	if url == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating news request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching news: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching news: HTTP %d", resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing news feed: %w", err)
	}

	var entries []Entry
	for _, item := range feed.Items {
		if len(entries) >= limit {
			break
		}
		e := Entry{Title: item.Title, Link: item.Link}
		switch {
		case item.UpdatedParsed != nil:
			e.Date = *item.UpdatedParsed
		case item.PublishedParsed != nil:
			e.Date = *item.PublishedParsed
		}
		entries = append(entries, e)
	}
	return entries, nil
}
