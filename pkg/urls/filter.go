package urls

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Filter decides whether a URL stays in a batch.
type Filter interface {
	ShouldKeep(ctx context.Context, url string) (bool, error)
}

// FilterURLs keeps the URLs every filter accepts, in input order.
func FilterURLs(ctx context.Context, urls []string, filters ...Filter) ([]string, error) {
	filtered := make([]string, 0, len(urls))
	for _, u := range urls {
		keep := true
		for _, f := range filters {
			ok, err := f.ShouldKeep(ctx, u)
			if err != nil {
				return nil, fmt.Errorf("filter error for URL %s: %w", u, err)
			}
			if !ok {
				keep = false
				break
			}
		}
		if keep {
			filtered = append(filtered, u)
		}
	}
	return filtered, nil
}

// BaseURLFilter drops site roots.
type BaseURLFilter struct{}

func NewBaseURLFilter() *BaseURLFilter {
	return &BaseURLFilter{}
}

// ShouldKeep returns false if the URL path is empty or "/". Unparseable URLs are kept.
func (f *BaseURLFilter) ShouldKeep(_ context.Context, urlStr string) (bool, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return true, nil
	}
	return strings.Trim(parsed.Path, "/") != "", nil
}

// DedupFilter drops URLs already seen, either earlier in the run or in the
// initial set (for example URLs whose results are already cached).
type DedupFilter struct {
	seen map[string]bool
}

func NewDedupFilter(done ...string) *DedupFilter {
	f := &DedupFilter{seen: make(map[string]bool, len(done))}
	for _, u := range done {
		f.seen[u] = true
	}
	return f
}

func (f *DedupFilter) ShouldKeep(_ context.Context, urlStr string) (bool, error) {
	if f.seen[urlStr] {
		return false, nil
	}
	f.seen[urlStr] = true
	return true, nil
}

// ContainsPathFilter keeps URLs containing a path segment, e.g. "/session".
type ContainsPathFilter struct {
	pathSegment string
}

func NewContainsPathFilter(pathSegment string) *ContainsPathFilter {
	return &ContainsPathFilter{pathSegment: pathSegment}
}

func (f *ContainsPathFilter) ShouldKeep(_ context.Context, urlStr string) (bool, error) {
	return strings.Contains(urlStr, f.pathSegment), nil
}
