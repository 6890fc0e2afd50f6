package urls

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"talk-archive/pkg/httpclient"
)

// DefaultLinkSelector matches the session links on event listing pages.
const DefaultLinkSelector = "a[href*='/session']"

// HTMLSource lists the links of a listing page that match a CSS selector.
type HTMLSource struct {
	client   *httpclient.Client
	selector string
}

// NewHTMLSource creates a source for selector. An empty selector means DefaultLinkSelector.
func NewHTMLSource(selector string) *HTMLSource {
	if selector == "" {
		selector = DefaultLinkSelector
	}
	return &HTMLSource{
		client:   httpclient.New(httpclient.Browser, 30*time.Second),
		selector: selector,
	}
}

// Fetch downloads pageURL and extracts matching links, resolved against the page URL.
func (s *HTMLSource) Fetch(ctx context.Context, pageURL string) ([]Entry, error) {
	body, err := s.client.GetBody(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch HTML: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	entries, err := ExtractLinks(bytes.NewReader(body), base, s.selector)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no links matching %q found in %s", s.selector, pageURL)
	}
	return entries, nil
}

// ExtractLinks returns the absolute href and text of every element matching
// selector, without repeats.
func ExtractLinks(r io.Reader, base *url.URL, selector string) ([]Entry, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	seen := map[string]bool{}
	var entries []Entry
	doc.Find(selector).Each(func(_ int, link *goquery.Selection) {
		href, ok := link.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		loc := abs.String()
		if seen[loc] {
			return
		}
		seen[loc] = true

		title := strings.TrimSpace(link.Text())
		if title == "" {
			title, _ = link.Attr("title")
		}
		entries = append(entries, Entry{Location: loc, Title: title})
	})
	return entries, nil
}
