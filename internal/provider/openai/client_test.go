package openai

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recap-gateway/internal/models"
	"recap-gateway/internal/provider"
	"recap-gateway/internal/testutil"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(&http.Client{})
	require.NoError(t, err)
	return c
}

func vendorFor(srv *httptest.Server, timeout time.Duration) provider.Vendor {
	return provider.Vendor{
		ID:        "test",
		APIKey:    "sk-test",
		BaseURL:   srv.URL + "/v1",
		Model:     "test-model",
		MaxTokens: 256,
		Timeout:   timeout,
	}
}

func payloadFor(t *testing.T, v provider.Vendor) Payload {
	t.Helper()
	payload, err := BuildPayload(v, models.ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	}, 0.7)
	require.NoError(t, err)
	return payload
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestCompleteSuccess(t *testing.T) {
	var gotBody Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, contentTypeJSON, r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", contentTypeJSON)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"hello"}}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`)
	}))
	defer srv.Close()

	v := vendorFor(srv, time.Second)
	completion, err := newClient(t).Complete(context.Background(), v, payloadFor(t, v))
	require.NoError(t, err)

	assert.Equal(t, "hello", completion.Content)
	assert.Empty(t, completion.Reasoning)
	assert.Equal(t, "test-model", completion.Model)
	require.NotNil(t, completion.Usage)
	assert.Equal(t, 2, completion.Usage.TotalTokens)
	assert.False(t, gotBody.Stream)
	assert.JSONEq(t, `{"choices":[{"message":{"content":"hello"}}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`, string(completion.Raw))
}

func TestCompleteReasoningFieldAliases(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"model":"r1","choices":[{"message":{"content":"42","reasoning":"thinking"}}]}`)
	}))
	defer srv.Close()

	v := vendorFor(srv, time.Second)
	completion, err := newClient(t).Complete(context.Background(), v, payloadFor(t, v))
	require.NoError(t, err)
	assert.Equal(t, "thinking", completion.Reasoning)
	assert.Equal(t, "r1", completion.Model)
	assert.Nil(t, completion.Usage)
}

func TestCompleteFailureKinds(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		timeout    time.Duration
		wantKind   provider.FailureKind
		wantStatus int
	}{
		{
			name: "http status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
			},
			timeout:    time.Second,
			wantKind:   provider.KindHTTPStatus,
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name: "timeout before headers",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			timeout:  50 * time.Millisecond,
			wantKind: provider.KindTimeout,
		},
		{
			name: "timeout while reading body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = io.WriteString(w, `{"choices":`)
				w.(http.Flusher).Flush()
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			timeout:  50 * time.Millisecond,
			wantKind: provider.KindTimeout,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `not json`)
			},
			timeout:  time.Second,
			wantKind: provider.KindDecode,
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"choices":[]}`)
			},
			timeout:  time.Second,
			wantKind: provider.KindDecode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			v := vendorFor(srv, tt.timeout)
			_, err := newClient(t).Complete(context.Background(), v, payloadFor(t, v))
			require.Error(t, err)

			var vendorErr *provider.VendorError
			require.True(t, errors.As(err, &vendorErr), "got %T: %v", err, err)
			assert.Equal(t, tt.wantKind, vendorErr.Kind)
			assert.Equal(t, "test", vendorErr.Provider)
			assert.Equal(t, tt.wantStatus, vendorErr.StatusCode)
		})
	}
}

func TestCompleteHTTPStatusKeepsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, "invalid api key\n")
	}))
	defer srv.Close()

	v := vendorFor(srv, time.Second)
	_, err := newClient(t).Complete(context.Background(), v, payloadFor(t, v))

	var vendorErr *provider.VendorError
	require.ErrorAs(t, err, &vendorErr)
	assert.Equal(t, "invalid api key", vendorErr.Body)
	assert.Equal(t, "test: upstream returned status 401: invalid api key", err.Error())
}

func TestCompleteTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	v := vendorFor(srv, time.Second)
	srv.Close()

	_, err := newClient(t).Complete(context.Background(), v, payloadFor(t, v))
	assert.Equal(t, provider.KindTransport, provider.KindOf(err))
}

func TestCompleteGzipBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = io.WriteString(gz, `{"choices":[{"message":{"content":"zipped"}}]}`)
		_ = gz.Close()
	}))
	defer srv.Close()

	v := vendorFor(srv, time.Second)
	completion, err := newClient(t).Complete(context.Background(), v, payloadFor(t, v))
	require.NoError(t, err)
	assert.Equal(t, "zipped", completion.Content)
}

func TestOpenStreamBrotliBody(t *testing.T) {
	const events = "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, contentTypeSSE, r.Header.Get("Accept"))
		w.Header().Set("Content-Type", contentTypeSSE)
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		_, _ = io.WriteString(bw, events)
		_ = bw.Close()
	}))
	defer srv.Close()

	v := vendorFor(srv, time.Second)
	stream, err := newClient(t).OpenStream(context.Background(), v, payloadFor(t, v))
	require.NoError(t, err)
	defer stream.Close()

	body, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, events, string(body))
}

func TestOpenStreamDeadlineCoversSilenceAfterHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentTypeSSE)
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	v := vendorFor(srv, 50*time.Millisecond)
	stream, err := newClient(t).OpenStream(context.Background(), v, payloadFor(t, v))
	require.NoError(t, err)
	defer stream.Close()

	start := time.Now()
	_, err = io.ReadAll(stream)
	assert.Equal(t, provider.KindTimeout, provider.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, stream.Ready())
}

func TestOpenStreamReadyEndsDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sent Payload
		_ = json.NewDecoder(r.Body).Decode(&sent)
		assert.True(t, sent.Stream)

		w.Header().Set("Content-Type", contentTypeSSE)
		flusher := w.(http.Flusher)
		_, _ = io.WriteString(w, "data: first\n\n")
		flusher.Flush()
		time.Sleep(150 * time.Millisecond)
		_, _ = io.WriteString(w, "data: late\n\n")
	}))
	defer srv.Close()

	v := vendorFor(srv, 50*time.Millisecond)
	stream, err := newClient(t).OpenStream(context.Background(), v, payloadFor(t, v))
	require.NoError(t, err)
	defer stream.Close()

	buf := make([]byte, 64)
	n, err := stream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "data: first\n\n", string(buf[:n]))
	require.True(t, stream.Ready())

	rest, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "data: late\n\n", string(rest))
}

func TestOpenStreamTimeoutBeforeHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	v := vendorFor(srv, 50*time.Millisecond)
	start := time.Now()
	_, err := newClient(t).OpenStream(context.Background(), v, payloadFor(t, v))
	assert.Equal(t, provider.KindTimeout, provider.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestOpenStreamCallerCancellationStopsRead(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	v := vendorFor(srv, time.Second)
	stream, err := newClient(t).OpenStream(ctx, v, payloadFor(t, v))
	require.NoError(t, err)
	defer stream.Close()

	time.AfterFunc(50*time.Millisecond, cancel)
	_, err = io.ReadAll(stream)
	assert.Error(t, err)
}

func TestCompleteReplaysRecordedVendor(t *testing.T) {
	rec := testutil.NewVCRRecorder(t, "deepseek_reasoner_batch")
	c, err := New(testutil.VCRHTTPClient(rec))
	require.NoError(t, err)

	v := provider.Vendor{
		ID:        "deepseek",
		APIKey:    "sk-replay",
		BaseURL:   "https://api.deepseek.com/v1",
		Model:     "deepseek-reasoner",
		MaxTokens: 4096,
		Timeout:   10 * time.Second,
		Reasoning: provider.ReasoningEnableFlag,
	}
	payload, err := BuildPayload(v, models.ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "Summarise my year in one sentence."}},
	}, 0.7)
	require.NoError(t, err)

	completion, err := c.Complete(context.Background(), v, payload)
	require.NoError(t, err)

	assert.Equal(t, "You read 42 books and reviewed most of them in spring.", completion.Content)
	assert.Equal(t, "The user wants one sentence. Count books, find the busiest season.", completion.Reasoning)
	assert.Equal(t, "deepseek-reasoner", completion.Model)
	require.NotNil(t, completion.Usage)
	assert.Equal(t, models.Usage{PromptTokens: 14, CompletionTokens: 31, TotalTokens: 45}, *completion.Usage)
}
