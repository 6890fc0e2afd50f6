package content

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"talk-archive/pkg/domain"
	"talk-archive/pkg/logging"
)

var (
	ErrEmptyDocument = errors.New("empty document")
	ErrNoVideoID     = errors.New("no video id found in document")
	ErrNoTranscript  = errors.New("no transcript container found in document")
)

const (
	dateSelector       = "p.content-date span.ng-binding"
	videoFrameSelector = "iframe[src*='youtube']"
	transcriptSelector = "#transcript0"
	lineBreak          = "<br>"
)

var youtubeEmbedID = regexp.MustCompile(`youtube.*\.com/embed/([^?]+)`)

// Extractor pulls talk metadata and the segmented transcript out of a rendered page.
type Extractor struct {
	segmenter *Segmenter
	logger    *slog.Logger
}

// NewExtractor creates an Extractor that hands the flattened transcript to segmenter.
func NewExtractor(segmenter *Segmenter, logger *slog.Logger) *Extractor {
	if segmenter == nil {
		segmenter = &Segmenter{}
	}
	return &Extractor{
		segmenter: segmenter,
		logger:    logging.OrDefault(logger).With("component", "extractor"),
	}
}

// Extract parses htmlContent. A page without a video id or transcript container is
// rejected with a KindFatal error; retrying it would not help.
func (e *Extractor) Extract(htmlContent string) (*domain.VideoInfo, error) {
	if strings.TrimSpace(htmlContent) == "" {
		return nil, domain.E(domain.KindFatal, "content.Extract", ErrEmptyDocument)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, domain.E(domain.KindFatal, "content.Extract", fmt.Errorf("parse html: %w", err))
	}

	videoID := findVideoID(doc)
	if videoID == "" {
		e.logger.Warn("no video id found in content")
		return nil, domain.E(domain.KindFatal, "content.Extract", ErrNoVideoID)
	}

	container := doc.Find(transcriptSelector).First()
	if container.Length() == 0 {
		e.logger.Warn("no transcript element found", "youtube_id", videoID)
		return nil, domain.E(domain.KindFatal, "content.Extract", ErrNoTranscript)
	}

	return &domain.VideoInfo{
		Metadata: domain.VideoMetadata{
			Title:     extractTitle(doc, htmlContent),
			Date:      strings.TrimSpace(doc.Find(dateSelector).First().Text()),
			YoutubeID: videoID,
		},
		Transcript: e.segmenter.Segment(FlattenTranscript(container)),
	}, nil
}

func findVideoID(doc *goquery.Document) string {
	src, ok := doc.Find(videoFrameSelector).First().Attr("src")
	if !ok {
		return ""
	}
	m := youtubeEmbedID.FindStringSubmatch(src)
	if m == nil {
		return ""
	}
	return m[1]
}

// extractTitle prefers the <title> element, then og:title, then readability's guess.
func extractTitle(doc *goquery.Document, htmlContent string) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if title, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	article, err := readability.FromReader(strings.NewReader(htmlContent), nil)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(article.Title)
}

// FlattenTranscript collapses the container into a single line-break-preserving stream:
// it starts with two breaks, then walks the descendants in document order appending
// trimmed text nodes and a break for every <br>.
func FlattenTranscript(sel *goquery.Selection) string {
	var b strings.Builder
	b.WriteString(lineBreak + lineBreak)
	for _, n := range sel.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			flatten(&b, c)
		}
	}
	return strings.TrimSpace(b.String())
}

func flatten(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(strings.TrimSpace(n.Data))
	case html.ElementNode:
		if n.Data == "br" {
			b.WriteString(lineBreak)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		flatten(b, c)
	}
}
