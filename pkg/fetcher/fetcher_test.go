package fetcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"talk-archive/pkg/domain"
)

type scriptedRenderer struct {
	calls   int32
	results []error
	html    string
}

func (r *scriptedRenderer) Render(ctx context.Context, url string) (string, error) {
	n := atomic.AddInt32(&r.calls, 1)
	if int(n) <= len(r.results) && r.results[n-1] != nil {
		return "", r.results[n-1]
	}
	return r.html, nil
}

func fastOptions() Options {
	return Options{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestFetchRetriesThenSucceeds(t *testing.T) {
	r := &scriptedRenderer{
		results: []error{errors.New("timeout"), errors.New("navigation failed")},
		html:    "<html>ok</html>",
	}
	f := New(r, fastOptions(), quiet())

	html, err := f.Fetch(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if html != "<html>ok</html>" {
		t.Errorf("html = %q", html)
	}
	if r.calls != 3 {
		t.Errorf("calls = %d, want 3", r.calls)
	}
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	final := errors.New("still broken")
	r := &scriptedRenderer{results: []error{errors.New("a"), errors.New("b"), final, errors.New("never")}}
	f := New(r, fastOptions(), quiet())

	_, err := f.Fetch(context.Background(), "https://example.com")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, final) {
		t.Errorf("expected final error in chain, got %v", err)
	}
	if !domain.IsKind(err, domain.KindTransient) {
		t.Errorf("expected transient kind, got %v", domain.KindOf(err))
	}
	if r.calls != 3 {
		t.Errorf("calls = %d, want 3", r.calls)
	}
}

func TestFetchEmptyDocumentIsRetried(t *testing.T) {
	r := &scriptedRenderer{html: "   "}
	f := New(r, fastOptions(), quiet())

	_, err := f.Fetch(context.Background(), "https://example.com")
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
	if r.calls != 3 {
		t.Errorf("calls = %d, want 3", r.calls)
	}
}

func TestFetchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &scriptedRenderer{results: []error{context.Canceled}}
	f := New(r, fastOptions(), quiet())

	if _, err := f.Fetch(ctx, "https://example.com"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHTTPRenderer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("<html><body>talk</body></html>"))
	}))
	defer srv.Close()

	r := NewHTTPRenderer(time.Second)
	html, err := r.Render(context.Background(), srv.URL+"/talk")
	if err != nil || html != "<html><body>talk</body></html>" {
		t.Fatalf("Render = %q, %v", html, err)
	}
	if _, err := r.Render(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestNewRenderer(t *testing.T) {
	if _, err := NewRenderer("http", 0, time.Second); err != nil {
		t.Errorf("http renderer: %v", err)
	}
	if r, err := NewRenderer("chrome", 2*time.Second, 0); err != nil {
		t.Errorf("chrome renderer: %v", err)
	} else if cr, ok := r.(*ChromeRenderer); !ok || cr.Quiescence != 2*time.Second {
		t.Errorf("unexpected renderer %#v", r)
	}
	if _, err := NewRenderer("lynx", 0, 0); err == nil {
		t.Error("expected error for unknown renderer")
	}
}
