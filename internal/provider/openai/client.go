package openai

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"

	"recap-gateway/internal/provider"
)

const (
	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"
	userAgent       = "recap-gateway/0.1"

	maxErrorBody    = 64 * 1024
	maxResponseBody = 16 << 20
)

// Client speaks the chat-completions convention to any compatible vendor.
type Client struct {
	client *http.Client
}

// New creates a chat-completions client. Deadlines are applied per call, so the
// http.Client should carry no global Timeout.
func New(client *http.Client) (*Client, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	return &Client{client: client}, nil
}

// Stream is an open event stream. The vendor deadline keeps running until Ready is
// called, so a vendor that sends headers and then stalls still times out.
type Stream struct {
	vendor provider.Vendor
	body   io.Reader
	dl     *deadline
	closer func() error
}

// Read returns upstream bytes. Failures are reported as *provider.VendorError.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.body.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = classify(s.vendor, err, s.dl)
	}
	return n, err
}

// Ready ends the vendor deadline once the stream has produced output. It reports
// false when the deadline had already expired.
func (s *Stream) Ready() bool {
	return s.dl.stop()
}

// Close releases the connection and the attempt context.
func (s *Stream) Close() error {
	s.dl.stop()
	return s.closer()
}

// Complete performs a batch call. The vendor deadline covers the whole exchange,
// including reading the body.
func (c *Client) Complete(ctx context.Context, v provider.Vendor, payload Payload) (*Completion, error) {
	payload.Stream = false

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	dl := startDeadline(v.Timeout, cancel)
	defer dl.stop()

	resp, err := c.send(attemptCtx, v, payload, dl)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := decompressReader(resp)
	if err != nil {
		return nil, &provider.VendorError{Provider: v.ID, Kind: provider.KindDecode, Err: err}
	}
	defer reader.Close()

	body, err := io.ReadAll(io.LimitReader(reader, maxResponseBody))
	if err != nil {
		return nil, classify(v, err, dl)
	}

	completion, err := decodeCompletion(body)
	if err != nil {
		return nil, &provider.VendorError{Provider: v.ID, Kind: provider.KindDecode, Err: err}
	}
	if completion.Model == "" {
		completion.Model = v.Model
	}
	return completion, nil
}

// OpenStream sends a streaming call and returns once the vendor answered with a
// 2xx status. The vendor deadline stays armed until Ready. The caller must Close
// the returned Stream.
func (c *Client) OpenStream(ctx context.Context, v provider.Vendor, payload Payload) (*Stream, error) {
	payload.Stream = true

	attemptCtx, cancel := context.WithCancel(ctx)
	dl := startDeadline(v.Timeout, cancel)

	resp, err := c.send(attemptCtx, v, payload, dl)
	if err != nil {
		dl.stop()
		cancel()
		return nil, err
	}

	reader, err := decompressReader(resp)
	if err != nil {
		dl.stop()
		resp.Body.Close()
		cancel()
		return nil, &provider.VendorError{Provider: v.ID, Kind: provider.KindDecode, Err: err}
	}

	return &Stream{
		vendor: v,
		body:   reader,
		dl:     dl,
		closer: func() error {
			reader.Close()
			err := resp.Body.Close()
			cancel()
			return err
		},
	}, nil
}

func (c *Client) send(ctx context.Context, v provider.Vendor, payload Payload, dl *deadline) (*http.Response, error) {
	httpReq, err := c.newRequest(ctx, v, payload)
	if err != nil {
		return nil, &provider.VendorError{Provider: v.ID, Kind: provider.KindTransport, Err: err}
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classify(v, err, dl)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		return nil, parseAPIError(v, httpResp)
	}
	return httpResp, nil
}

func (c *Client) newRequest(ctx context.Context, v provider.Vendor, payload Payload) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	if payload.Stream {
		req.Header.Set("Accept", contentTypeSSE)
	} else {
		req.Header.Set("Accept", contentTypeJSON)
	}
	req.Header.Set("Accept-Encoding", "gzip, br")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+v.APIKey)

	return req, nil
}

// deadline cancels an attempt when its vendor timeout elapses and remembers that it did,
// so an aborted call can be told apart from a transport failure.
type deadline struct {
	timer *time.Timer
	fired atomic.Bool
}

func startDeadline(d time.Duration, cancel context.CancelFunc) *deadline {
	dl := &deadline{}
	if d > 0 {
		dl.timer = time.AfterFunc(d, func() {
			dl.fired.Store(true)
			cancel()
		})
	}
	return dl
}

// stop disarms the timer and reports whether it had not fired yet.
func (d *deadline) stop() bool {
	if d.timer == nil {
		return true
	}
	return d.timer.Stop()
}

func (d *deadline) expired() bool {
	return d.fired.Load()
}

func classify(v provider.Vendor, err error, dl *deadline) error {
	if dl.expired() || errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(v, err)
	}
	return &provider.VendorError{Provider: v.ID, Kind: provider.KindTransport, Err: err}
}

func timeoutError(v provider.Vendor, err error) error {
	return &provider.VendorError{
		Provider: v.ID,
		Kind:     provider.KindTimeout,
		Err:      fmt.Errorf("no response within %s: %w", v.Timeout, err),
	}
}

type apiErrorResponse struct {
	Error apiErrorObject `json:"error"`
}

type apiErrorObject struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func parseAPIError(v provider.Vendor, resp *http.Response) error {
	vendorErr := &provider.VendorError{
		Provider:   v.ID,
		Kind:       provider.KindHTTPStatus,
		StatusCode: resp.StatusCode,
	}

	reader, err := decompressReader(resp)
	if err != nil {
		vendorErr.Err = err
		return vendorErr
	}
	defer reader.Close()

	body, err := io.ReadAll(io.LimitReader(reader, maxErrorBody))
	if err != nil {
		vendorErr.Err = fmt.Errorf("read error body: %w", err)
		return vendorErr
	}
	vendorErr.Body = strings.TrimSpace(string(body))

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		vendorErr.Err = fmt.Errorf("%s: %s", apiErr.Error.Type, apiErr.Error.Message)
	}
	return vendorErr
}

// decompressReader undoes the Content-Encoding the vendor applied. Transparent
// decompression is off because Accept-Encoding is set explicitly.
func decompressReader(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		return gz, nil
	case "br":
		return io.NopCloser(brotli.NewReader(resp.Body)), nil
	default:
		return io.NopCloser(resp.Body), nil
	}
}

func decodeJSON(reader io.Reader, target any) error {
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
