package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Profile selects the request headers sent with every request.
type Profile string

const (
	// Browser sends desktop-browser headers. Talk pages reject bare clients with 406.
	Browser Profile = "browser"

	// Curl sends a curl User-Agent only. Some CDN-fronted feeds block browser-like agents.
	Curl Profile = "curl"
)

const maxRedirects = 10

// Client wraps an http.Client and stamps profile headers on outgoing requests.
type Client struct {
	client  *http.Client
	profile Profile
}

// New creates a client with the given profile. A zero timeout means no client-side limit;
// callers are then expected to bound requests with their context.
func New(profile Profile, timeout time.Duration) *Client {
	return &Client{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		profile: profile,
	}
}

// Do sends req with the profile headers applied. Headers already set on req win.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.setHeaders(req)
	return c.client.Do(req)
}

// Get issues a GET bound to ctx.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// GetBody fetches url and returns the body of a 200 response.
func (c *Client) GetBody(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", url, err)
	}
	return body, nil
}

// StatusError reports a non-200 response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

func (c *Client) setHeaders(req *http.Request) {
	set := func(k, v string) {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	switch c.profile {
	case Browser:
		set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
		set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		set("Accept-Language", "en-US,en;q=0.9")
		set("Upgrade-Insecure-Requests", "1")
	case Curl:
		set("User-Agent", "curl/8.7.1")
	}
}
