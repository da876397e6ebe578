// Package feed fetches the candidate item list from the remote JSON
// directory and filters it down to image-bearing entries.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// imagePattern matches the image references the publisher can handle:
// raw "-large" photo markers plus the usual photo extensions.
var imagePattern = regexp.MustCompile(`(?i)(jpg-large$|png-large$|\.png$|\.jpg$|\.jpeg$)`)

// Item is one candidate image from the feed. Immutable once fetched.
type Item struct {
	// Name is the feed entry name, also the image host label.
	Name string
	// Image is the filename/reference under the entry's host.
	Image string
}

// SourceID is the stable dedup identifier for this item.
func (it Item) SourceID() string { return it.Name + "/" + it.Image }

type Config struct {
	// BaseURL is the directory endpoint, e.g. "http://api.shithouse.tv".
	BaseURL string
	// ImageDomain is the host suffix for per-entry image URLs.
	ImageDomain string
	HTTPTimeout time.Duration
}

type Source struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Source {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Source{cfg: cfg, http: &http.Client{Timeout: timeout}}
}

// Fetch returns the image-bearing entries, oldest first (the feed lists
// newest first; reversing makes resumed runs extend existing sets instead
// of opening new ones at the front).
func (s *Source) Fetch(ctx context.Context) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("feed fetch: unexpected status %d", resp.StatusCode)
	}

	var entries []struct {
		Name  string `json:"name"`
		Image string `json:"image"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("feed parse: %w", err)
	}

	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		if e.Image == "" || !imagePattern.MatchString(e.Image) {
			continue
		}
		items = append(items, Item{Name: e.Name, Image: e.Image})
	}
	reverse(items)
	return items, nil
}

// ImageURL builds the fetch URL for an item.
func (s *Source) ImageURL(it Item) string {
	return fmt.Sprintf("http://%s.%s/%s", it.Name, strings.TrimSpace(s.cfg.ImageDomain), it.Image)
}

func reverse(items []Item) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
