package urls

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestParseSitemap(t *testing.T) {
	xmlData := `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
	<url>
		<loc>https://events.example/session/1</loc>
		<lastmod>2024-01-15</lastmod>
		<priority>0.8</priority>
	</url>
	<url>
		<loc> https://events.example/session/2 </loc>
	</url>
	<url>
		<loc></loc>
	</url>
</urlset>`

	entries, err := parseSitemap(strings.NewReader(xmlData))
	if err != nil {
		t.Fatalf("Failed to parse sitemap: %v", err)
	}
	want := []string{"https://events.example/session/1", "https://events.example/session/2"}
	got := Locations(entries)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("locations = %v, want %v", got, want)
	}
}

func TestParseSitemapIndex(t *testing.T) {
	xmlData := `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
	<sitemap>
		<loc>https://events.example/sitemap1.xml</loc>
		<lastmod>2024-01-15</lastmod>
	</sitemap>
	<sitemap>
		<loc>https://events.example/sitemap2.xml</loc>
	</sitemap>
</sitemapindex>`

	locs, err := parseSitemapIndex(strings.NewReader(xmlData))
	if err != nil {
		t.Fatalf("Failed to parse sitemap index: %v", err)
	}
	if len(locs) != 2 || locs[0] != "https://events.example/sitemap1.xml" || locs[1] != "https://events.example/sitemap2.xml" {
		t.Errorf("locations = %v", locs)
	}
}

func TestParseSitemapInvalidXML(t *testing.T) {
	if _, err := parseSitemap(strings.NewReader(`<?xml version="1.0"?><invalid>`)); err == nil {
		t.Error("Expected error for invalid XML, got nil")
	}
}

func TestSitemapSourceFollowsIndex(t *testing.T) {
	sitemap1 := `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
	<url><loc>https://events.example/session/1</loc></url>
	<url><loc>https://events.example/session/2</loc></url>
</urlset>`
	sitemap2 := `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
	<url><loc>https://events.example/session/3</loc></url>
</urlset>`

	var serverURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		switch r.URL.Path {
		case "/sitemap-index.xml":
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
	<sitemap><loc>` + serverURL + `/sitemap1.xml</loc></sitemap>
	<sitemap><loc>` + serverURL + `/missing.xml</loc></sitemap>
	<sitemap><loc>` + serverURL + `/sitemap2.xml</loc></sitemap>
</sitemapindex>`))
		case "/sitemap1.xml":
			w.Write([]byte(sitemap1))
		case "/sitemap2.xml":
			w.Write([]byte(sitemap2))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()
	serverURL = server.URL

	entries, err := NewSitemapSource(quiet()).Fetch(context.Background(), server.URL+"/sitemap-index.xml")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 URLs from the two readable sitemaps, got %d", len(entries))
	}
}

func TestSitemapSourceStatusError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	if _, err := NewSitemapSource(quiet()).Fetch(context.Background(), server.URL+"/sitemap.xml"); err == nil {
		t.Error("Expected error for 404 sitemap, got nil")
	}
}
