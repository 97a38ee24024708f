// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/binary-top/internal/domain"
	"github.com/naka-gawa/binary-top/internal/gateway"
	"github.com/naka-gawa/binary-top/internal/snapshot"
)

const (
	// DefaultConcurrency caps the in-flight requests of each resolution phase.
	DefaultConcurrency = 10
	// DefaultRequestTimeout bounds a single watcher or dependents lookup.
	DefaultRequestTimeout = 5 * time.Second
)

var (
	ErrSortKeyRequired = errors.New("a sort metric is required")
	ErrMissingGateway  = errors.New("no gateway configured for metric")
)

// Options controls a single ranking run.
type Options struct {
	// Source selects the candidate listing.
	Source domain.SourceType
	// SortBy is the metric the result is ordered by, descending. It has no default.
	SortBy domain.Metric
	// Skip lists metrics that are not computed; they are reported as domain.Unresolved.
	Skip map[domain.Metric]bool
	// LoadPath, if set, reads the listing from a snapshot instead of the registry.
	LoadPath string
	// SavePath, if set, stores the downloaded listing as a snapshot. It is ignored with LoadPath.
	SavePath string
	// Limit truncates the ranking to the top entries when positive.
	Limit int
	// RequestTimeout bounds each metric lookup. Zero means DefaultRequestTimeout.
	RequestTimeout time.Duration
	// Progress receives listing download progress. May be nil.
	Progress gateway.ProgressHooks
}

func (o *Options) validate() error {
	if o.SortBy == "" {
		return ErrSortKeyRequired
	}
	m, err := domain.ParseMetric(string(o.SortBy))
	if err != nil {
		return err
	}
	o.SortBy = m
	if o.LoadPath == "" {
		if _, err := domain.ParseSourceType(string(o.Source)); err != nil {
			return err
		}
	}
	return nil
}

// Ranker is the use case for ranking binary packages.
// It orchestrates fetching the candidates, resolving their metrics and sorting them.
type Ranker struct {
	listing     gateway.ListingFetcher
	dependents  gateway.DependentCounter
	watchers    gateway.WatcherFetcher
	logger      *log.Logger
	concurrency int
}

// NewRanker creates a new Ranker instance. A nil logger makes the ranker silent.
// watchers may be nil when every run skips the GitHub metric.
func NewRanker(registry gateway.RegistryClient, watchers gateway.WatcherFetcher, logger *log.Logger) *Ranker {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Ranker{
		listing:     registry,
		dependents:  registry,
		watchers:    watchers,
		logger:      logger,
		concurrency: DefaultConcurrency,
	}
}

// Rank performs the main business logic. The stages run strictly in sequence: every
// record has its watchers resolved before any dependents lookup starts. Only a failure to
// obtain the candidate listing is fatal; a failed lookup degrades that metric to zero.
func (r *Ranker) Rank(ctx context.Context, opts Options) ([]*domain.PackageRecord, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if !opts.Skip[domain.MetricGitHub] && r.watchers == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingGateway, domain.MetricGitHub)
	}

	r.logger.Info("Usecase: fetching candidate listing...", "source", opts.Source, "snapshot", opts.LoadPath)
	records, err := r.candidates(ctx, opts)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Usecase: candidate listing ready.", "packages", len(records))

	if opts.Skip[domain.MetricNPM] {
		for _, rec := range records {
			rec.NPMFavorites = domain.Unresolved
		}
	}

	start := time.Now()
	if err := r.resolveAll(ctx, records, opts.Skip[domain.MetricGitHub], func(ctx context.Context, rec *domain.PackageRecord) {
		r.resolveWatchers(ctx, rec, opts.RequestTimeout)
	}, func(rec *domain.PackageRecord) {
		rec.GitHubWatchers = domain.Unresolved
	}); err != nil {
		return nil, err
	}
	r.logger.Info("Usecase: GitHub watchers resolved.", "elapsed", time.Since(start).Round(time.Millisecond))

	start = time.Now()
	if err := r.resolveAll(ctx, records, opts.Skip[domain.MetricDependents], func(ctx context.Context, rec *domain.PackageRecord) {
		r.resolveDependents(ctx, rec, opts.RequestTimeout)
	}, func(rec *domain.PackageRecord) {
		rec.DependentCount = domain.Unresolved
	}); err != nil {
		return nil, err
	}
	r.logger.Info("Usecase: dependents resolved.", "elapsed", time.Since(start).Round(time.Millisecond))

	ranked := Sort(records, opts.SortBy)
	if opts.Limit > 0 && len(ranked) > opts.Limit {
		ranked = ranked[:opts.Limit]
	}
	r.logger.Info("Usecase: ranking complete.", "packages", len(ranked), "sort", opts.SortBy)
	return ranked, nil
}

// candidates loads the raw listing, from a snapshot or the registry, and parses it.
func (r *Ranker) candidates(ctx context.Context, opts Options) ([]*domain.PackageRecord, error) {
	var (
		raw []byte
		err error
	)
	if opts.LoadPath != "" {
		if opts.SavePath != "" {
			r.logger.Warn("Usecase: listing comes from a snapshot, not saving it again.", "load", opts.LoadPath, "save", opts.SavePath)
		}
		raw, err = snapshot.Load(opts.LoadPath)
		if err != nil {
			return nil, err
		}
	} else {
		raw, err = r.listing.FetchListing(ctx, opts.Source, opts.Progress)
		if err != nil {
			return nil, err
		}
		if opts.SavePath != "" {
			if err := snapshot.Save(opts.SavePath, raw); err != nil {
				r.logger.Warn("Usecase: could not save snapshot, continuing.", "path", opts.SavePath, "err", err)
			} else {
				r.logger.Info("Usecase: snapshot saved.", "path", opts.SavePath)
			}
		}
	}

	listing, err := gateway.DecodeListing(raw)
	if err != nil {
		return nil, err
	}
	records := listing.Records()
	if dropped := len(listing.Rows) - len(records); dropped > 0 {
		r.logger.Warn("Usecase: dropped unusable listing rows.", "rows", dropped)
	}
	return records, nil
}

// resolveAll runs resolve for every record with at most r.concurrency calls in flight and
// returns once all of them have finished. When skipped, mark is applied instead and no
// request is made. Each worker only touches its own record.
func (r *Ranker) resolveAll(ctx context.Context, records []*domain.PackageRecord, skipped bool, resolve func(context.Context, *domain.PackageRecord), mark func(*domain.PackageRecord)) error {
	if skipped {
		for _, rec := range records {
			mark(rec)
		}
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.concurrency)
	for _, rec := range records {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			resolve(egCtx, rec)
			return nil
		})
	}
	return eg.Wait()
}

func (r *Ranker) resolveWatchers(ctx context.Context, rec *domain.PackageRecord, timeout time.Duration) {
	owner, repo, ok := gateway.OwnerRepo(rec.RepositoryURL)
	if rec.RepositoryURL == "" || !ok {
		rec.GitHubWatchers = domain.Unresolved
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	n, err := r.watchers.FetchWatchers(reqCtx, owner, repo)
	if err != nil {
		r.logger.Debug("Usecase: watcher lookup failed, counting zero.", "package", rec.Name, "repo", owner+"/"+repo, "err", err)
		rec.GitHubWatchers = 0
		return
	}
	rec.GitHubWatchers = n
}

func (r *Ranker) resolveDependents(ctx context.Context, rec *domain.PackageRecord, timeout time.Duration) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	n, err := r.dependents.FetchDependents(reqCtx, rec.Name)
	if err != nil {
		r.logger.Debug("Usecase: dependents lookup failed, counting zero.", "package", rec.Name, "err", err)
		rec.DependentCount = 0
		return
	}
	rec.DependentCount = n
}

// Sort drops nil records and orders the rest by metric, highest first.
// Records with equal values keep their relative order.
func Sort(records []*domain.PackageRecord, metric domain.Metric) []*domain.PackageRecord {
	ranked := make([]*domain.PackageRecord, 0, len(records))
	for _, rec := range records {
		if rec != nil {
			ranked = append(ranked, rec)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Value(metric) > ranked[j].Value(metric)
	})
	return ranked
}
