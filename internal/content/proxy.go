// Package content forwards allow-listed reads to the content platform's API.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"recap-gateway/internal/config"
)

const (
	maxBodyBytes = 8 << 20
	browserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

var (
	// ErrMissingPath indicates the request named no upstream path.
	ErrMissingPath = errors.New("missing path parameter")
	// ErrInvalidPath indicates the path matched no allowed pattern.
	ErrInvalidPath = errors.New("invalid path")
)

// Response is an upstream reply, passed through unchanged.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// IsJSON reports whether the upstream labelled its body as JSON.
func (r *Response) IsJSON() bool {
	return strings.Contains(strings.ToLower(r.ContentType), "application/json")
}

// Proxy performs GET requests against the content platform.
type Proxy struct {
	baseURL  string
	patterns []*regexp.Regexp
	client   *http.Client
	timeout  time.Duration
}

// New compiles the allow-list and prepares the proxy.
func New(cfg config.ContentConfig, client *http.Client) (*Proxy, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("content base url must not be empty")
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.AllowedPaths))
	for _, raw := range cfg.AllowedPaths {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile allowed path %q: %w", raw, err)
		}
		patterns = append(patterns, re)
	}

	return &Proxy{
		baseURL:  baseURL,
		patterns: patterns,
		client:   client,
		timeout:  cfg.Timeout,
	}, nil
}

// Allowed reports whether path, decoded and without its query, matches an allowed pattern.
func (p *Proxy) Allowed(path string) bool {
	decoded, err := url.PathUnescape(path)
	if err != nil {
		return false
	}
	decoded, _, _ = strings.Cut(decoded, "?")
	for _, re := range p.patterns {
		if re.MatchString(decoded) {
			return true
		}
	}
	return false
}

// Fetch validates path and forwards a GET for it. Upstream non-2xx replies are
// returned as responses, not errors.
func (p *Proxy) Fetch(ctx context.Context, path string) (*Response, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return nil, ErrMissingPath
	}
	if !p.Allowed(path) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/"+path, nil)
	if err != nil {
		return nil, fmt.Errorf("construct content request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", browserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read content upstream body: %w", err)
	}

	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
