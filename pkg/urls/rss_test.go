package urls

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveFeed(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRSSSource(t *testing.T) {
	rssXML := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
	<channel>
		<title>Network Summit sessions</title>
		<link>https://events.example</link>
		<item>
			<title>Open RAN in Practice</title>
			<link>https://events.example/session/open-ran</link>
		</item>
		<item>
			<title>Private 5G for Factories</title>
			<link>https://events.example/session/private-5g</link>
		</item>
		<item>
			<title>Untitled draft</title>
		</item>
	</channel>
</rss>`
	server := serveFeed(t, "application/rss+xml", rssXML)

	entries, err := NewRSSSource().Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Failed to parse RSS feed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 URLs (item without link skipped), got %d", len(entries))
	}

	expected := map[string]string{
		"https://events.example/session/open-ran":   "Open RAN in Practice",
		"https://events.example/session/private-5g": "Private 5G for Factories",
	}
	for _, e := range entries {
		title, ok := expected[e.Location]
		if !ok {
			t.Errorf("Unexpected URL: %s", e.Location)
			continue
		}
		if e.Title != title {
			t.Errorf("Expected title '%s' for URL %s, got '%s'", title, e.Location, e.Title)
		}
	}
}

func TestRSSSourceAtomFeed(t *testing.T) {
	atomXML := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
	<title>Sessions</title>
	<entry>
		<title>Atom Session 1</title>
		<link href="https://events.example/session/atom1"/>
	</entry>
	<entry>
		<title>Atom Session 2</title>
		<link href="https://events.example/session/atom2"/>
	</entry>
</feed>`
	server := serveFeed(t, "application/atom+xml", atomXML)

	entries, err := NewRSSSource().Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Failed to parse Atom feed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 URLs, got %d", len(entries))
	}
}

func TestRSSSourceEmptyFeed(t *testing.T) {
	rssXML := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
	<channel>
		<title>Empty Feed</title>
		<link>https://events.example</link>
	</channel>
</rss>`
	server := serveFeed(t, "application/rss+xml", rssXML)

	if _, err := NewRSSSource().Fetch(context.Background(), server.URL); err == nil {
		t.Error("Expected error for empty feed, got nil")
	}
}

func TestRSSSourceUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	if _, err := NewRSSSource().Fetch(context.Background(), addr+"/feed"); err == nil {
		t.Error("Expected error for unreachable feed, got nil")
	}
}
