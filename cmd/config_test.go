package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/binary-top/internal/domain"
	"github.com/naka-gawa/binary-top/internal/gateway"
	"github.com/naka-gawa/binary-top/internal/usecase"
)

func newTestFlags(t *testing.T, args ...string) *pflag.FlagSet {
	flags := pflag.NewFlagSet("rank", pflag.ContinueOnError)
	registerRankFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func clearGitHubEnv(t *testing.T) {
	for _, key := range []string{"GITHUB_USERNAME", "GITHUB_PASSWORD", "GITHUB_TOKEN"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearGitHubEnv(t)

	cfg, err := loadConfig("", newTestFlags(t))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)

	// Without a sort metric the options are built, but ranking refuses to run.
	opts, err := cfg.options()
	require.NoError(t, err)
	assert.Empty(t, opts.SortBy)
	assert.Equal(t, domain.SourceBinary, opts.Source)
	assert.Equal(t, usecase.DefaultRequestTimeout, opts.RequestTimeout)
}

func TestLoadConfig_FileEnvAndFlags(t *testing.T) {
	clearGitHubEnv(t)
	t.Setenv("GITHUB_TOKEN", "from-env")

	path := filepath.Join(t.TempDir(), "rank.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
source = "all"
sort_by = "git"
skip = ["npm"]
top = 25
timeout = "2s"

[github]
api = "graphql"
token = "from-file"
username = "file-user"
`), 0o644))

	cfg, err := loadConfig(path, newTestFlags(t, "--sort-by", "dep", "--top", "10", "--skip", "npm,git"))
	require.NoError(t, err)

	assert.Equal(t, "all", cfg.Source)
	assert.Equal(t, "dep", cfg.SortBy, "flags override the file")
	assert.Equal(t, 10, cfg.Top)
	assert.Equal(t, []string{"npm", "git"}, cfg.Skip)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, "from-env", cfg.GitHub.Token, "environment overrides the file")
	assert.Equal(t, "file-user", cfg.GitHub.Username)
	assert.Equal(t, gateway.APIGraphQL, cfg.GitHub.API)

	opts, err := cfg.options()
	require.NoError(t, err)
	assert.Equal(t, usecase.Options{
		Source:         domain.SourceAll,
		SortBy:         domain.MetricDependents,
		Skip:           map[domain.Metric]bool{domain.MetricNPM: true, domain.MetricGitHub: true},
		Limit:          10,
		RequestTimeout: 2 * time.Second,
	}, opts)

	gh := cfg.githubGatewayConfig()
	assert.Equal(t, "from-env", gh.Token)
	assert.Equal(t, 2*time.Second, gh.RequestTimeout)
}

func TestLoadConfig_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rank.toml")
	require.NoError(t, os.WriteFile(path, []byte(`sort_by = [`), 0o644))

	_, err := loadConfig(path, newTestFlags(t))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestRankConfig_Options_Invalid(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *rankConfig)
		errMsg string
	}{
		{name: "unknown skip", mutate: func(c *rankConfig) { c.Skip = []string{"downloads"} }, errMsg: "invalid --skip"},
		{name: "unknown sort", mutate: func(c *rankConfig) { c.SortBy = "downloads" }, errMsg: "invalid --sort-by"},
		{name: "unknown source", mutate: func(c *rankConfig) { c.Source = "some" }, errMsg: "invalid --source"},
		{name: "unknown output", mutate: func(c *rankConfig) { c.Output = "xml" }, errMsg: "invalid --output"},
		{name: "negative top", mutate: func(c *rankConfig) { c.Top = -1 }, errMsg: "invalid --top"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			_, err := cfg.options()
			assert.ErrorContains(t, err, tc.errMsg)
		})
	}
}
