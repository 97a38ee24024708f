package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/binary-top/internal/domain"
	"github.com/naka-gawa/binary-top/internal/usecase"
)

var testRecords = []*domain.PackageRecord{
	{Name: "foo", PURL: "pkg:npm/foo", RepositoryURL: "https://github.com/acme/foo", NPMFavorites: 2, GitHubWatchers: 42, DependentCount: 7},
	{Name: "bar", PURL: "pkg:npm/bar", NPMFavorites: 0, GitHubWatchers: domain.Unresolved, DependentCount: 3},
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, render(&buf, outputJSON, testRecords, nil))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "foo", got[0]["name"])
	assert.EqualValues(t, 42, got[0]["github_watchers"])
	assert.EqualValues(t, 7, got[0]["dependent_count"])
	assert.EqualValues(t, 2, got[0]["npm_favorites"])
	assert.EqualValues(t, -1, got[1]["github_watchers"])
	assert.NotContains(t, got[1], "repository_url")
}

func TestRender_JSONWithSummary(t *testing.T) {
	var buf bytes.Buffer
	summary := usecase.Summarize(testRecords)
	require.NoError(t, render(&buf, outputJSON, testRecords, summary))

	var got report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Len(t, got.Packages, 2)
	assert.Len(t, got.Summary, 3)
}

func TestRender_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, render(&buf, outputTable, testRecords, usecase.Summarize(testRecords)))

	out := buf.String()
	assert.Contains(t, out, "Package")
	assert.Contains(t, out, "foo")
	assert.Contains(t, out, "https://github.com/acme/foo")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "Median")

	lines := strings.Split(out, "\n")
	var barLine string
	for _, l := range lines {
		if strings.Contains(l, "bar") {
			barLine = l
		}
	}
	require.NotEmpty(t, barLine)
	var cells []string
	for _, c := range strings.Split(barLine, "│") {
		cells = append(cells, strings.TrimSpace(c))
	}
	assert.Contains(t, cells, "-", "unresolved watchers are shown as a dash")
}

func TestProgressLine(t *testing.T) {
	assert.Contains(t, progressLine(50, 100), " 50%")
	assert.Contains(t, progressLine(200, 100), "100%")
	assert.Contains(t, progressLine(assumedListingSize/4, -1), " 25%")
}

func TestDownloadProgress(t *testing.T) {
	var buf bytes.Buffer
	p := newDownloadProgress(&buf)
	p.interval = 0

	p.OnBytes(10, 100)
	p.OnBytes(100, 100)
	p.OnDone()
	assert.Contains(t, buf.String(), "100%")
	assert.True(t, strings.HasSuffix(buf.String(), "\r"))
}
