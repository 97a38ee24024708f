package usecase

import (
	"github.com/montanaflynn/stats"

	"github.com/naka-gawa/binary-top/internal/domain"
)

// MetricSummary describes the distribution of one metric over a ranking.
type MetricSummary struct {
	Metric domain.Metric `json:"metric"`
	Count  int           `json:"count"`
	Mean   float64       `json:"mean"`
	Median float64       `json:"median"`
	P90    float64       `json:"p90"`
	Max    float64       `json:"max"`
}

// Summarize computes a MetricSummary for every metric that has at least one resolved
// value. Unresolved values are left out rather than counted as zero.
func Summarize(records []*domain.PackageRecord) []MetricSummary {
	var summaries []MetricSummary
	for _, m := range domain.Metrics {
		var data stats.Float64Data
		for _, rec := range records {
			if rec == nil {
				continue
			}
			if v := rec.Value(m); v != domain.Unresolved {
				data = append(data, float64(v))
			}
		}
		if len(data) == 0 {
			continue
		}

		// Mean, Median and Max only fail on empty input, ruled out above.
		mean, _ := data.Mean()
		median, _ := data.Median()
		maxV, _ := data.Max()
		p90, err := data.Percentile(90)
		if err != nil {
			// Too few values for the percentile to fall between two of them.
			p90 = maxV
		}
		summaries = append(summaries, MetricSummary{
			Metric: m,
			Count:  len(data),
			Mean:   mean,
			Median: median,
			P90:    p90,
			Max:    maxV,
		})
	}
	return summaries
}
