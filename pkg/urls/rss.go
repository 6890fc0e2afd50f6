package urls

import (
	"context"
	"fmt"

	"github.com/mmcdole/gofeed"
)

// RSSSource lists the item links of an RSS or Atom feed.
type RSSSource struct {
	feedParser *gofeed.Parser
}

func NewRSSSource() *RSSSource {
	return &RSSSource{feedParser: gofeed.NewParser()}
}

// Fetch downloads and parses the feed at feedURL.
func (s *RSSSource) Fetch(ctx context.Context, feedURL string) ([]Entry, error) {
	feed, err := s.feedParser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	if feed == nil || len(feed.Items) == 0 {
		return nil, fmt.Errorf("feed contains no items")
	}

	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item.Link != "" {
			entries = append(entries, Entry{Location: item.Link, Title: item.Title})
		}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no valid URLs found in feed items")
	}
	return entries, nil
}
