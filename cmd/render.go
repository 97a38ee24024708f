package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/naka-gawa/binary-top/internal/domain"
	"github.com/naka-gawa/binary-top/internal/usecase"
)

const (
	outputJSON  = "json"
	outputTable = "table"
)

var (
	colorCyan = lipgloss.Color("36")
	colorGray = lipgloss.Color("245")
	colorDim  = lipgloss.Color("240")

	styleHeader = lipgloss.NewStyle().Foreground(colorGray).Bold(true)
	styleName   = lipgloss.NewStyle().Foreground(colorCyan)
	styleNumber = lipgloss.NewStyle().Align(lipgloss.Right)
	styleDim    = lipgloss.NewStyle().Foreground(colorDim)
)

// report is the JSON document written when a summary is requested.
type report struct {
	Packages []*domain.PackageRecord `json:"packages"`
	Summary  []usecase.MetricSummary `json:"summary"`
}

func render(w io.Writer, format string, records []*domain.PackageRecord, summary []usecase.MetricSummary) error {
	if format == outputTable {
		fmt.Fprintln(w, packagesTable(records))
		if len(summary) > 0 {
			fmt.Fprintln(w, summaryTable(summary))
		}
		return nil
	}

	// Marshal the results into a pretty-printed JSON string.
	var v any = records
	if summary != nil {
		v = report{Packages: records, Summary: summary}
	}
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results to JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(jsonData))
	return err
}

func packagesTable(records []*domain.PackageRecord) *table.Table {
	rows := make([][]string, 0, len(records))
	for i, rec := range records {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			rec.Name,
			metricCell(rec.GitHubWatchers),
			metricCell(rec.DependentCount),
			metricCell(rec.NPMFavorites),
			rec.RepositoryURL,
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styleDim).
		Headers("#", "Package", "Watchers", "Dependents", "Favorites", "Repository").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return styleHeader
			case col == 1:
				return styleName
			case col == 5:
				return styleDim
			case col == 0 || col >= 2:
				return styleNumber
			}
			return lipgloss.NewStyle()
		})
}

func summaryTable(summary []usecase.MetricSummary) *table.Table {
	rows := make([][]string, 0, len(summary))
	for _, s := range summary {
		rows = append(rows, []string{
			string(s.Metric),
			strconv.Itoa(s.Count),
			strconv.FormatFloat(s.Mean, 'f', 1, 64),
			strconv.FormatFloat(s.Median, 'f', 1, 64),
			strconv.FormatFloat(s.P90, 'f', 1, 64),
			strconv.FormatFloat(s.Max, 'f', 0, 64),
		})
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styleDim).
		Headers("Metric", "Count", "Mean", "Median", "P90", "Max").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleHeader
			}
			if col > 0 {
				return styleNumber
			}
			return lipgloss.NewStyle()
		})
}

// metricCell renders a metric value, showing unresolved metrics as a dash.
func metricCell(v int) string {
	if v == domain.Unresolved {
		return "-"
	}
	return strconv.Itoa(v)
}
