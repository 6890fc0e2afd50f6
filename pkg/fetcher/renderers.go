package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"talk-archive/pkg/httpclient"
)

// ChromeRenderer renders client-side pages in headless Chrome, then waits for a
// quiescence window before reading the document.
type ChromeRenderer struct {
	Quiescence time.Duration
	Timeout    time.Duration
	ExecPath   string
}

var _ Renderer = (*ChromeRenderer)(nil)

func (r *ChromeRenderer) Render(ctx context.Context, url string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	if r.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		browserCtx, cancel = context.WithTimeout(browserCtx, r.Timeout)
		defer cancel()
	}

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.Quiescence),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	return html, nil
}

// HTTPRenderer fetches the server-rendered document without running scripts.
type HTTPRenderer struct {
	Client *httpclient.Client
}

var _ Renderer = (*HTTPRenderer)(nil)

// NewHTTPRenderer creates a renderer using the browser header profile.
func NewHTTPRenderer(timeout time.Duration) *HTTPRenderer {
	return &HTTPRenderer{Client: httpclient.New(httpclient.Browser, timeout)}
}

func (r *HTTPRenderer) Render(ctx context.Context, url string) (string, error) {
	body, err := r.Client.GetBody(ctx, url)
	if err != nil {
		return "", err
	}
	if len(body) == 0 {
		return "", ErrEmptyDocument
	}
	return string(body), nil
}

// NewRenderer picks a renderer by name: "chrome" or "http".
func NewRenderer(name string, quiescence, timeout time.Duration) (Renderer, error) {
	switch name {
	case "", "chrome":
		return &ChromeRenderer{Quiescence: quiescence, Timeout: timeout}, nil
	case "http":
		return NewHTTPRenderer(timeout), nil
	default:
		return nil, fmt.Errorf("unknown renderer %q", name)
	}
}
