// Package domain contains the core data structures and domain logic for the application.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Unresolved marks a metric that was deliberately not computed, either because the run
// skipped it or because the package has no repository the metric can be looked up on.
// It is distinct from a genuine zero.
const Unresolved = -1

// PackageRecord holds the popularity metrics of a single npm package.
// It is the core domain entity of this application.
type PackageRecord struct {
	Name           string `json:"name"`
	PURL           string `json:"purl,omitempty"`
	RepositoryURL  string `json:"repository_url,omitempty"`
	NPMFavorites   int    `json:"npm_favorites"`
	GitHubWatchers int    `json:"github_watchers"`
	DependentCount int    `json:"dependent_count"`
}

// Value returns the record's value for the given metric.
func (p *PackageRecord) Value(m Metric) int {
	switch m {
	case MetricNPM:
		return p.NPMFavorites
	case MetricGitHub:
		return p.GitHubWatchers
	case MetricDependents:
		return p.DependentCount
	}
	return 0
}

// Metric names one of the three popularity signals.
type Metric string

const (
	MetricNPM        Metric = "npm"
	MetricGitHub     Metric = "git"
	MetricDependents Metric = "dep"
)

// Metrics lists every metric in report order.
var Metrics = []Metric{MetricGitHub, MetricDependents, MetricNPM}

var ErrUnknownMetric = errors.New("unknown metric")

var metricAliases = map[string]Metric{
	"npm":        MetricNPM,
	"stars":      MetricNPM,
	"favorites":  MetricNPM,
	"git":        MetricGitHub,
	"github":     MetricGitHub,
	"watchers":   MetricGitHub,
	"dep":        MetricDependents,
	"deps":       MetricDependents,
	"dependents": MetricDependents,
}

// ParseMetric accepts a metric name or one of its aliases, case-insensitively.
func ParseMetric(s string) (Metric, error) {
	if m, ok := metricAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return m, nil
	}
	return "", fmt.Errorf("%w: %q (want one of npm, git, dep)", ErrUnknownMetric, s)
}

// ParseMetrics parses a list of metric names into a set. Empty entries are ignored.
func ParseMetrics(names []string) (map[Metric]bool, error) {
	set := make(map[Metric]bool, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		m, err := ParseMetric(name)
		if err != nil {
			return nil, err
		}
		set[m] = true
	}
	return set, nil
}

// SourceType selects which registry view provides the candidate listing.
type SourceType string

const (
	// SourceBinary lists only packages that need a native build step.
	SourceBinary SourceType = "binary"
	// SourceAll lists every document in the registry.
	SourceAll SourceType = "all"
)

var ErrUnknownSource = errors.New("unknown source type")

// ParseSourceType validates a source selector.
func ParseSourceType(s string) (SourceType, error) {
	switch t := SourceType(strings.ToLower(strings.TrimSpace(s))); t {
	case SourceBinary, SourceAll:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q (want binary or all)", ErrUnknownSource, s)
}
