package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/naka-gawa/binary-top/internal/domain"
	"github.com/naka-gawa/binary-top/internal/gateway"
	"github.com/naka-gawa/binary-top/internal/usecase"
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Ranks binary npm packages and outputs them as JSON or a table",
	Long: `Fetches the npm packages that need a native build (or every package with --source all),
looks up their GitHub watchers and dependent counts, and prints them sorted by --sort-by.

GitHub credentials are read from GITHUB_USERNAME/GITHUB_PASSWORD (basic auth) or
GITHUB_TOKEN, also from a .env file in the working directory.`,
	Example: `  binary-top rank --sort-by dep --top 50
  binary-top rank --sort-by git --save listing.json --output table
  binary-top rank --sort-by npm --load listing.json --skip git,dep`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		verbose, _ := cmd.InheritedFlags().GetBool("verbose")
		logger := newLogger(os.Stderr, verbose)

		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := loadConfig(configPath, cmd.Flags())
		if err != nil {
			return err
		}
		opts, err := cfg.options()
		if err != nil {
			return err
		}
		if !cfg.NoProgress && cfg.Load == "" {
			opts.Progress = newDownloadProgress(os.Stderr)
		}

		// Inject dependencies and run the main business logic.
		registry := gateway.NewRegistry(gateway.WithBaseURL(cfg.Registry))
		defer registry.Close()
		var watchers gateway.WatcherFetcher
		if !opts.Skip[domain.MetricGitHub] {
			githubGateway, err := gateway.NewGitHubGateway(cfg.githubGatewayConfig(), logger)
			if err != nil {
				return fmt.Errorf("failed to create GitHub gateway: %w", err)
			}
			watchers = githubGateway
		}
		ranker := usecase.NewRanker(registry, watchers, logger)

		results, err := ranker.Rank(ctx, opts)
		if err != nil {
			return fmt.Errorf("failed to rank packages: %w", err)
		}

		var summary []usecase.MetricSummary
		if cfg.Summary {
			summary = usecase.Summarize(results)
		}
		return render(cmd.OutOrStdout(), cfg.Output, results, summary)
	},
}

func init() {
	rootCmd.AddCommand(rankCmd)
	registerRankFlags(rankCmd.Flags())
}

func registerRankFlags(f *pflag.FlagSet) {
	f.String("config", "", "Path to a TOML config file")
	f.String("sort-by", "", "Metric to sort by: dep, git or npm (required here or in the config file)")
	f.String("source", string(domain.SourceBinary), "Candidate listing: binary (needs a native build) or all")
	f.StringSlice("skip", nil, "Metrics to skip: npm, git, dep")
	f.String("load", "", "Read the candidate listing from this snapshot instead of the registry")
	f.String("save", "", "Save the downloaded candidate listing to this snapshot file")
	f.Int("top", 0, "Only output the top N packages (0 for all)")
	f.StringP("output", "o", outputJSON, "Output format: json or table")
	f.Bool("summary", false, "Include summary statistics for each metric")
	f.Duration("timeout", usecase.DefaultRequestTimeout, "Timeout of each GitHub or dependents request")
	f.Bool("no-progress", false, "Do not show download progress")
	f.String("registry", gateway.DefaultRegistryURL, "npm registry CouchDB URL")
	f.String("github-api", gateway.APIREST, "GitHub API used for watchers: rest or graphql (graphql needs GITHUB_TOKEN)")
	f.String("github-url", "", "GitHub API base URL, e.g. for GitHub Enterprise")
	f.StringP("username", "u", "", "GitHub username for basic auth")
	f.StringP("password", "p", "", "GitHub password or personal token for basic auth")
}
