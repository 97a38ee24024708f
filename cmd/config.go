package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/naka-gawa/binary-top/internal/domain"
	"github.com/naka-gawa/binary-top/internal/gateway"
	"github.com/naka-gawa/binary-top/internal/usecase"
)

// rankConfig is the merged configuration of a rank run. Values come, in increasing
// priority, from defaults, the config file, the environment and explicitly set flags.
type rankConfig struct {
	Registry   string        `toml:"registry"`
	Source     string        `toml:"source"`
	SortBy     string        `toml:"sort_by"`
	Skip       []string      `toml:"skip"`
	Load       string        `toml:"load"`
	Save       string        `toml:"save"`
	Top        int           `toml:"top"`
	Output     string        `toml:"output"`
	Summary    bool          `toml:"summary"`
	Timeout    time.Duration `toml:"timeout"`
	NoProgress bool          `toml:"no_progress"`
	GitHub     githubConfig  `toml:"github"`
}

type githubConfig struct {
	API      string `toml:"api"`
	BaseURL  string `toml:"base_url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Token    string `toml:"token"`
}

func defaultConfig() rankConfig {
	return rankConfig{
		Registry: gateway.DefaultRegistryURL,
		Source:   string(domain.SourceBinary),
		Output:   outputJSON,
		Timeout:  usecase.DefaultRequestTimeout,
		GitHub:   githubConfig{API: gateway.APIREST},
	}
}

// loadConfig builds the configuration for a run. path may be empty.
func loadConfig(path string, flags *pflag.FlagSet) (rankConfig, error) {
	cfg := defaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// A missing .env file is fine; credentials may come from the real environment.
	_ = godotenv.Load()
	if v := strings.TrimSpace(os.Getenv("GITHUB_USERNAME")); v != "" {
		cfg.GitHub.Username = v
	}
	if v := os.Getenv("GITHUB_PASSWORD"); v != "" {
		cfg.GitHub.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); v != "" {
		cfg.GitHub.Token = v
	}

	if err := applyFlags(&cfg, flags); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFlags(cfg *rankConfig, flags *pflag.FlagSet) error {
	var err error
	set := func(name string, fn func()) {
		if err == nil && flags.Changed(name) {
			fn()
		}
	}
	str := func(name string, dst *string) {
		set(name, func() { *dst, err = flags.GetString(name) })
	}

	str("registry", &cfg.Registry)
	str("source", &cfg.Source)
	str("sort-by", &cfg.SortBy)
	str("load", &cfg.Load)
	str("save", &cfg.Save)
	str("output", &cfg.Output)
	str("github-api", &cfg.GitHub.API)
	str("github-url", &cfg.GitHub.BaseURL)
	str("username", &cfg.GitHub.Username)
	str("password", &cfg.GitHub.Password)
	set("skip", func() { cfg.Skip, err = flags.GetStringSlice("skip") })
	set("top", func() { cfg.Top, err = flags.GetInt("top") })
	set("summary", func() { cfg.Summary, err = flags.GetBool("summary") })
	set("timeout", func() { cfg.Timeout, err = flags.GetDuration("timeout") })
	set("no-progress", func() { cfg.NoProgress, err = flags.GetBool("no-progress") })
	return err
}

// options converts the configuration to ranking options.
func (c rankConfig) options() (usecase.Options, error) {
	skip, err := domain.ParseMetrics(c.Skip)
	if err != nil {
		return usecase.Options{}, fmt.Errorf("invalid --skip: %w", err)
	}
	var sortBy domain.Metric
	if strings.TrimSpace(c.SortBy) != "" {
		if sortBy, err = domain.ParseMetric(c.SortBy); err != nil {
			return usecase.Options{}, fmt.Errorf("invalid --sort-by: %w", err)
		}
	}
	source, err := domain.ParseSourceType(c.Source)
	if err != nil {
		return usecase.Options{}, fmt.Errorf("invalid --source: %w", err)
	}
	switch c.Output {
	case outputJSON, outputTable:
	default:
		return usecase.Options{}, fmt.Errorf("invalid --output %q (want %s or %s)", c.Output, outputJSON, outputTable)
	}
	if c.Top < 0 {
		return usecase.Options{}, fmt.Errorf("invalid --top %d", c.Top)
	}

	return usecase.Options{
		Source:         source,
		SortBy:         sortBy,
		Skip:           skip,
		LoadPath:       c.Load,
		SavePath:       c.Save,
		Limit:          c.Top,
		RequestTimeout: c.Timeout,
	}, nil
}

func (c rankConfig) githubGatewayConfig() gateway.GitHubConfig {
	return gateway.GitHubConfig{
		Username:       c.GitHub.Username,
		Password:       c.GitHub.Password,
		Token:          c.GitHub.Token,
		API:            c.GitHub.API,
		BaseURL:        c.GitHub.BaseURL,
		RequestTimeout: c.Timeout,
	}
}
