package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/dnscache"

	"github.com/naka-gawa/binary-top/internal/domain"
)

// DefaultRegistryURL is the CouchDB replica of the npm registry that serves the views.
const DefaultRegistryURL = "https://skimdb.npmjs.com/registry"

const (
	needBuildView    = "/_design/app/_view/needBuild"
	allDocsView      = "/_all_docs"
	dependedUponView = "/_design/app/_view/dependedUpon"

	// dependentsUpperKey closes the key range of a dependents query; it sorts after any
	// second key component the view emits.
	dependentsUpperKey = "zzzzz"
)

// ErrBadData is returned when the registry yields no usable candidate listing.
var ErrBadData = errors.New("bad data returned from npm registry")

// ListingFetcher downloads the raw candidate listing.
type ListingFetcher interface {
	FetchListing(ctx context.Context, source domain.SourceType, hooks ProgressHooks) ([]byte, error)
}

// DependentCounter looks up how many packages depend on a package.
type DependentCounter interface {
	FetchDependents(ctx context.Context, name string) (int, error)
}

// RegistryClient is everything the ranking needs from the npm registry.
type RegistryClient interface {
	ListingFetcher
	DependentCounter
}

// Registry talks to the npm registry's CouchDB views.
type Registry struct {
	client    *http.Client
	baseURL   string
	userAgent string

	// stopRefresh ends the DNS refresh loop of the default client; nil with WithHTTPClient.
	stopRefresh chan struct{}
	refreshDone chan struct{}
	closeOnce   sync.Once
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(r *Registry) {
		r.client = c
	}
}

// WithBaseURL points the registry at another CouchDB database.
func WithBaseURL(u string) RegistryOption {
	return func(r *Registry) {
		if u != "" {
			r.baseURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) RegistryOption {
	return func(r *Registry) {
		r.userAgent = ua
	}
}

// NewRegistry creates a Registry. Unless another client is given, requests go through a
// transport that caches DNS lookups, since every dependents query hits the same host.
// Such a registry refreshes its DNS cache in the background until Close is called.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		baseURL:   DefaultRegistryURL,
		userAgent: "binary-top/1.0",
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.stopRefresh = make(chan struct{})
		r.refreshDone = make(chan struct{})
		r.client = newCachingClient(r.stopRefresh, r.refreshDone)
	}
	return r
}

// Close stops the background DNS refresh. It is safe to call more than once.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		if r.stopRefresh != nil {
			close(r.stopRefresh)
			<-r.refreshDone
		}
	})
	return nil
}

func newCachingClient(stop <-chan struct{}, done chan<- struct{}) *http.Client {
	resolver := &dnscache.Resolver{}
	go func() {
		defer close(done)
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				resolver.Refresh(true)
			case <-stop:
				return
			}
		}
	}()

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				ips, err := resolver.LookupHost(ctx, host)
				if err != nil {
					return nil, err
				}
				for _, ip := range ips {
					conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
					if err == nil {
						return conn, nil
					}
				}
				return nil, fmt.Errorf("failed to dial any resolved IP for %s", host)
			},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// FetchListing downloads the candidate listing for source and returns the raw document.
// Download progress is reported to hooks; total is -1 when the size is unknown.
func (r *Registry) FetchListing(ctx context.Context, source domain.SourceType, hooks ProgressHooks) ([]byte, error) {
	if hooks == nil {
		hooks = NoopProgress{}
	}

	var view string
	switch source {
	case domain.SourceBinary:
		view = needBuildView
	case domain.SourceAll:
		view = allDocsView
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownSource, source)
	}

	q := url.Values{}
	q.Set("include_docs", "true")
	resp, err := r.get(ctx, r.baseURL+view+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: fetching listing: %v", ErrBadData, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: listing returned status %d", ErrBadData, resp.StatusCode)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = -1
	}

	data, err := io.ReadAll(&progressReader{r: resp.Body, total: total, hooks: hooks})
	hooks.OnDone()
	if err != nil {
		return nil, fmt.Errorf("%w: reading listing: %v", ErrBadData, err)
	}
	return data, nil
}

type dependentsResponse struct {
	Rows []struct {
		Value json.Number `json:"value"`
	} `json:"rows"`
}

// FetchDependents returns the number of packages that declare a dependency on name.
// A package nobody depends on has no rows in the view and counts as zero.
func (r *Registry) FetchDependents(ctx context.Context, name string) (int, error) {
	startKey, err := json.Marshal([]string{name})
	if err != nil {
		return 0, err
	}
	endKey, err := json.Marshal([]string{name, dependentsUpperKey})
	if err != nil {
		return 0, err
	}
	q := url.Values{}
	q.Set("startkey", string(startKey))
	q.Set("endkey", string(endKey))

	resp, err := r.get(ctx, r.baseURL+dependedUponView+"?"+q.Encode())
	if err != nil {
		return 0, fmt.Errorf("failed to query dependents of %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("failed to query dependents of %s: status %d", name, resp.StatusCode)
	}

	var body dependentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode dependents of %s: %w", name, err)
	}
	if len(body.Rows) == 0 {
		return 0, nil
	}
	n, err := body.Rows[0].Value.Int64()
	if err != nil {
		return 0, fmt.Errorf("dependents of %s: non-integer value %q", name, body.Rows[0].Value)
	}
	return int(n), nil
}

func (r *Registry) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	return r.client.Do(req)
}
