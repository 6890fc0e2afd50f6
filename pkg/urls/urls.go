// Package urls collects the talk page URLs a batch run works through.
package urls

import (
	"context"
	"fmt"
)

// Entry is a URL found by a source.
type Entry struct {
	Location string
	// Title is empty for sources that carry none.
	Title string
}

// Source lists URLs from a location: a file path, a feed or a page.
type Source interface {
	Fetch(ctx context.Context, location string) ([]Entry, error)
}

// Locations returns the Location of every entry.
func Locations(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Location)
	}
	return out
}

// Collect fetches from src and applies filters.
func Collect(ctx context.Context, src Source, location string, filters ...Filter) ([]string, error) {
	entries, err := src.Fetch(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("fetch urls from %s: %w", location, err)
	}
	return FilterURLs(ctx, Locations(entries), filters...)
}
