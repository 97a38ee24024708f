// Package gateway provides gateways to the npm registry and the GitHub API,
// abstracting away the underlying HTTP, REST and GraphQL clients.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenk/backoff"
	"github.com/charmbracelet/log"
	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v62/github"
	lru "github.com/hashicorp/golang-lru/v2"
	circuit "github.com/rubyist/circuitbreaker"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

const (
	APIREST    = "rest"
	APIGraphQL = "graphql"

	defaultCacheSize        = 4096
	defaultBreakerThreshold = 20
	defaultRequestTimeout   = 5 * time.Second
)

var (
	ErrGraphQLRequiresToken = errors.New("the GraphQL API requires a GitHub token")
	ErrUnknownAPI           = errors.New("unknown GitHub API")
	ErrRepositoryNotFound   = errors.New("repository not found")
)

// graphqlNotFoundMessage prefixes the error GitHub's GraphQL API reports for a missing
// repository. githubv4 does not export its error type, so only the message is available.
const graphqlNotFoundMessage = "Could not resolve to a Repository"

// WatcherFetcher looks up the watcher count of a GitHub repository.
type WatcherFetcher interface {
	FetchWatchers(ctx context.Context, owner, repo string) (int, error)
}

// GitHubConfig holds the credentials and tuning of a GitHubGateway.
// Username and Password enable basic auth and take precedence over Token.
type GitHubConfig struct {
	Username string
	Password string
	Token    string

	// API selects the backend, APIREST (default) or APIGraphQL.
	API string
	// BaseURL overrides the API endpoint, e.g. for GitHub Enterprise.
	BaseURL string
	// RequestTimeout caps how long a rate limit sleep may last.
	RequestTimeout time.Duration
	// CacheSize bounds the number of memoized repositories.
	CacheSize int
	// BreakerThreshold is the number of consecutive failures that opens the circuit.
	BreakerThreshold int64
}

// GitHubGateway is the concrete implementation of the WatcherFetcher interface.
// It is safe for concurrent use; the HTTP client and its credentials are set once.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	useGraphQL    bool
	cache         *lru.Cache[string, int]
	breaker       *circuit.Breaker
	logger        *log.Logger
}

// watchersQuery reads the star count, which is what the REST API reports as watchers.
type watchersQuery struct {
	Repository struct {
		StargazerCount int
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// NewGitHubGateway is a constructor that creates a new instance of GitHubGateway.
func NewGitHubGateway(cfg GitHubConfig, logger *log.Logger) (*GitHubGateway, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	api := strings.ToLower(cfg.API)
	switch api {
	case "", APIREST:
		api = APIREST
	case APIGraphQL:
		if cfg.Token == "" {
			return nil, ErrGraphQLRequiresToken
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAPI, cfg.API)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(timeout, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}

	var transport http.RoundTripper = rateLimitWaiter
	switch {
	case cfg.Username != "" && cfg.Password != "":
		logger.Debug("GitHub: using basic auth", "user", cfg.Username)
		transport = &github.BasicAuthTransport{
			Username:  cfg.Username,
			Password:  cfg.Password,
			Transport: rateLimitWaiter,
		}
	case cfg.Token != "":
		logger.Debug("GitHub: using token auth")
		transport = &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}),
		}
	default:
		logger.Debug("GitHub: unauthenticated, rate limits will be low")
	}
	httpClient := &http.Client{Transport: transport}

	restClient := github.NewClient(httpClient)
	graphqlClient := githubv4.NewClient(httpClient)
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL: %w", err)
		}
		restClient.BaseURL = base
		graphqlClient = githubv4.NewEnterpriseClient(base.String()+"graphql", httpClient)
	}

	return newGitHubGateway(restClient, graphqlClient, api == APIGraphQL, cfg, logger)
}

func newGitHubGateway(restClient *github.Client, graphqlClient *githubv4.Client, useGraphQL bool, cfg GitHubConfig, logger *log.Logger) (*GitHubGateway, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, int](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher cache: %w", err)
	}

	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = defaultBreakerThreshold
	}
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	return &GitHubGateway{
		restClient:    restClient,
		graphqlClient: graphqlClient,
		useGraphQL:    useGraphQL,
		cache:         cache,
		breaker: circuit.NewBreakerWithOptions(&circuit.Options{
			BackOff:    expBackoff,
			ShouldTrip: circuit.ConsecutiveTripFunc(threshold),
		}),
		logger: logger,
	}, nil
}

// FetchWatchers returns the watcher count of owner/repo. A repository that exists but
// reports no count yields zero. Successful lookups are memoized, since many packages
// live in the same repository.
func (g *GitHubGateway) FetchWatchers(ctx context.Context, owner, repo string) (int, error) {
	key := strings.ToLower(owner + "/" + repo)
	if n, ok := g.cache.Get(key); ok {
		return n, nil
	}

	var (
		watchers int
		notFound error
	)
	err := g.breaker.Call(func() error {
		n, err := g.fetch(ctx, owner, repo)
		if isNotFound(err) {
			// A missing repository says nothing about the health of the API.
			notFound = err
			return nil
		}
		watchers = n
		return err
	}, 0)
	if errors.Is(err, circuit.ErrBreakerOpen) {
		return 0, fmt.Errorf("skipping %s/%s: %w", owner, repo, err)
	}
	if err != nil {
		return 0, err
	}
	if notFound != nil {
		return 0, notFound
	}

	g.cache.Add(key, watchers)
	return watchers, nil
}

func (g *GitHubGateway) fetch(ctx context.Context, owner, repo string) (int, error) {
	if g.useGraphQL {
		return g.fetchGraphQL(ctx, owner, repo)
	}
	return g.fetchREST(ctx, owner, repo)
}

func (g *GitHubGateway) fetchREST(ctx context.Context, owner, repo string) (int, error) {
	r, _, err := g.restClient.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return 0, fmt.Errorf("failed to get repository %s/%s with REST API: %w", owner, repo, err)
	}
	if r.Watchers != nil {
		return r.GetWatchers(), nil
	}
	return r.GetWatchersCount(), nil
}

func (g *GitHubGateway) fetchGraphQL(ctx context.Context, owner, repo string) (int, error) {
	var q watchersQuery
	variables := map[string]interface{}{
		"owner": githubv4.String(owner),
		"name":  githubv4.String(repo),
	}
	if err := g.graphqlClient.Query(ctx, &q, variables); err != nil {
		if strings.HasPrefix(err.Error(), graphqlNotFoundMessage) {
			return 0, fmt.Errorf("failed to execute GraphQL query for %s/%s: %w: %v", owner, repo, ErrRepositoryNotFound, err)
		}
		return 0, fmt.Errorf("failed to execute GraphQL query for %s/%s: %w", owner, repo, err)
	}
	return q.Repository.StargazerCount, nil
}

func isNotFound(err error) bool {
	if errors.Is(err, ErrRepositoryNotFound) {
		return true
	}
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}
