package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/binary-top/internal/domain"
)

// setupTestRegistry creates a Registry that communicates with a mock HTTP server.
func setupTestRegistry(t *testing.T, handler http.HandlerFunc) *Registry {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewRegistry(WithHTTPClient(server.Client()), WithBaseURL(server.URL+"/"))
}

type recordingProgress struct {
	calls    int
	received int64
	total    int64
	done     bool
}

func (p *recordingProgress) OnBytes(received, total int64) {
	p.calls++
	p.received, p.total = received, total
}

func (p *recordingProgress) OnDone() { p.done = true }

func TestRegistry_FetchListing(t *testing.T) {
	const body = `{"total_rows":1,"offset":0,"rows":[{"id":"foo","doc":{"name":"foo"}}]}`

	testCases := []struct {
		name         string
		source       domain.SourceType
		expectedPath string
		handlerFunc  func(w http.ResponseWriter, r *http.Request)
		expectError  bool
	}{
		{
			name:         "binary source queries the needBuild view",
			source:       domain.SourceBinary,
			expectedPath: "/_design/app/_view/needBuild",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			},
		},
		{
			name:         "all source queries every document",
			source:       domain.SourceAll,
			expectedPath: "/_all_docs",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			},
		},
		{
			name:   "server error is bad data",
			source: domain.SourceBinary,
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			expectError: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var gotPath, gotDocs string
			registry := setupTestRegistry(t, func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotDocs = r.URL.Query().Get("include_docs")
				tc.handlerFunc(w, r)
			})

			progress := &recordingProgress{}
			data, err := registry.FetchListing(context.Background(), tc.source, progress)
			if tc.expectError {
				assert.ErrorIs(t, err, ErrBadData)
				assert.Nil(t, data)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedPath, gotPath)
			assert.Equal(t, "true", gotDocs)
			assert.JSONEq(t, body, string(data))
			assert.True(t, progress.done)
			assert.Positive(t, progress.calls)
			assert.Equal(t, int64(len(body)), progress.received)
			assert.Equal(t, int64(len(body)), progress.total)
		})
	}
}

func TestRegistry_FetchListing_UnknownLength(t *testing.T) {
	registry := setupTestRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Flushing before writing the body forces a chunked response without a length.
		w.(http.Flusher).Flush()
		fmt.Fprint(w, `{"rows":[{"id":"foo"}]}`)
	})

	progress := &recordingProgress{}
	_, err := registry.FetchListing(context.Background(), domain.SourceBinary, progress)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), progress.total)
	assert.True(t, progress.done)
}

func TestRegistry_FetchListing_TransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	registry := NewRegistry(WithHTTPClient(server.Client()), WithBaseURL(server.URL))
	server.Close()

	_, err := registry.FetchListing(context.Background(), domain.SourceBinary, nil)
	assert.ErrorIs(t, err, ErrBadData)
}

func TestRegistry_FetchDependents(t *testing.T) {
	testCases := []struct {
		name        string
		status      int
		body        string
		expected    int
		expectError bool
	}{
		{name: "count from first row", status: http.StatusOK, body: `{"rows":[{"key":null,"value":7}]}`, expected: 7},
		{name: "no rows means no dependents", status: http.StatusOK, body: `{"rows":[]}`, expected: 0},
		{name: "malformed body", status: http.StatusOK, body: `{"rows":`, expectError: true},
		{name: "non numeric value", status: http.StatusOK, body: `{"rows":[{"value":"many"}]}`, expectError: true},
		{name: "server error", status: http.StatusServiceUnavailable, body: `{}`, expectError: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			registry := setupTestRegistry(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/_design/app/_view/dependedUpon", r.URL.Path)
				assert.Equal(t, `["foo"]`, r.URL.Query().Get("startkey"))
				assert.Equal(t, `["foo","zzzzz"]`, r.URL.Query().Get("endkey"))
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			})

			n, err := registry.FetchDependents(context.Background(), "foo")
			if tc.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "foo")
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.expected, n)
		})
	}
}

func TestNewRegistry_Defaults(t *testing.T) {
	registry := NewRegistry()
	t.Cleanup(func() { _ = registry.Close() })
	assert.Equal(t, DefaultRegistryURL, registry.baseURL)
	assert.NotNil(t, registry.client)
	assert.True(t, strings.HasPrefix(registry.userAgent, "binary-top/"))
}

func TestRegistry_Close(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Close())

	select {
	case <-registry.refreshDone:
	default:
		t.Fatal("DNS refresh loop still running after Close")
	}
	// A second Close is a no-op.
	assert.NoError(t, registry.Close())

	// A registry with a caller-supplied client has no refresh loop to stop.
	custom := NewRegistry(WithHTTPClient(http.DefaultClient))
	assert.Nil(t, custom.refreshDone)
	assert.NoError(t, custom.Close())
}
