package urls

import (
	"bufio"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"talk-archive/pkg/httpclient"
	"talk-archive/pkg/logging"
)

// maxIndexDepth bounds how deep nested sitemap indexes are followed.
const maxIndexDepth = 3

// SitemapSource lists the URLs of a sitemap. Sitemap indexes are followed.
type SitemapSource struct {
	client *httpclient.Client
	logger *slog.Logger
}

func NewSitemapSource(logger *slog.Logger) *SitemapSource {
	return &SitemapSource{
		client: httpclient.New(httpclient.Browser, 30*time.Second),
		logger: logging.OrDefault(logger).With("component", "sitemap"),
	}
}

func (s *SitemapSource) Fetch(ctx context.Context, sitemapURL string) ([]Entry, error) {
	return s.fetch(ctx, sitemapURL, 0)
}

func (s *SitemapSource) fetch(ctx context.Context, sitemapURL string, depth int) ([]Entry, error) {
	resp, err := s.client.Get(ctx, sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sitemap: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &httpclient.StatusError{URL: sitemapURL, Code: resp.StatusCode}
	}

	// Peek at the head of the document to tell an index from a url set.
	body := bufio.NewReaderSize(resp.Body, 1024)
	head, err := body.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("failed to read sitemap: %w", err)
	}
	if !strings.Contains(string(head), "sitemapindex") {
		return parseSitemap(body)
	}

	if depth >= maxIndexDepth {
		return nil, fmt.Errorf("sitemap index nested deeper than %d levels", maxIndexDepth)
	}
	children, err := parseSitemapIndex(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sitemap index: %w", err)
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("sitemap index contained no sitemap URLs")
	}

	var all []Entry
	for _, child := range children {
		entries, err := s.fetch(ctx, child, depth+1)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("skipping sitemap", "url", child, "error", err)
			continue
		}
		all = append(all, entries...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no entries found in any sitemap from index")
	}
	return all, nil
}

func parseSitemapIndex(r io.Reader) ([]string, error) {
	var index sitemapIndex
	if err := xml.NewDecoder(r).Decode(&index); err != nil {
		return nil, fmt.Errorf("failed to decode sitemap index XML: %w", err)
	}
	locs := make([]string, 0, len(index.Sitemaps))
	for _, ref := range index.Sitemaps {
		if ref.Location != "" {
			locs = append(locs, strings.TrimSpace(ref.Location))
		}
	}
	return locs, nil
}

func parseSitemap(r io.Reader) ([]Entry, error) {
	var set urlSet
	if err := xml.NewDecoder(r).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode sitemap XML: %w", err)
	}
	entries := make([]Entry, 0, len(set.URLs))
	for _, u := range set.URLs {
		if loc := strings.TrimSpace(u.Location); loc != "" {
			entries = append(entries, Entry{Location: loc})
		}
	}
	return entries, nil
}

type urlSet struct {
	XMLName xml.Name   `xml:"urlset"`
	URLs    []urlEntry `xml:"url"`
}

type urlEntry struct {
	Location string `xml:"loc"`
	LastMod  string `xml:"lastmod,omitempty"`
}

type sitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []sitemapRef `xml:"sitemap"`
}

type sitemapRef struct {
	Location string `xml:"loc"`
}
