package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deal-tracker/internal/cache"
	"github.com/sells-group/deal-tracker/internal/fetcher"
	"github.com/sells-group/deal-tracker/internal/pipeline"
	"github.com/sells-group/deal-tracker/internal/watchlist"
	anthropicpkg "github.com/sells-group/deal-tracker/pkg/anthropic"
)

var (
	runDryRun       bool
	runFetchOnly    bool
	runSource       string
	runCountry      string
	runNoPrefilter  bool
	runFullText     bool
	runPremium      bool
	runModel        string
	runBatch        bool
	runCollectBatch bool
	runWait         bool
	runMaxItems     int
	runOut          string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scrape all sources, classify deals, and write the snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// The client is only built when a key is present; the pipeline
		// rejects classifying runs without one before any network work.
		var client anthropicpkg.Client
		if cfg.Anthropic.Key != "" {
			client = anthropicpkg.NewClient(cfg.Anthropic.Key)
		}

		f := fetcher.New(fetcher.Options{
			UserAgent:    cfg.Network.UserAgent,
			Timeout:      cfg.Network.Timeout(),
			MaxRetries:   cfg.Network.MaxRetries,
			RequestDelay: cfg.Network.RequestDelay(),
			BackoffStart: cfg.Network.BackoffStart(),
		})

		countries := watchlist.DefaultCountries()
		if len(cfg.Watchlist) > 0 {
			countries = watchlist.FromConfig(cfg.Watchlist)
		}
		watch := watchlist.New(countries, cfg.Keywords.All())

		r := pipeline.New(cfg, f, cache.New(cfg.Cache.Dir), watch, client)
		snap, err := r.Run(ctx, pipeline.Options{
			DryRun:       runDryRun,
			FetchOnly:    runFetchOnly,
			Source:       runSource,
			Country:      runCountry,
			NoPrefilter:  runNoPrefilter,
			FullText:     runFullText,
			Premium:      runPremium,
			Model:        runModel,
			Batch:        runBatch,
			CollectBatch: runCollectBatch,
			Wait:         runWait,
			MaxItems:     runMaxItems,
			OutPath:      runOut,
		})
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("run finished",
			zap.Int("items", len(snap.Items)),
			zap.Int("errors", len(snap.Meta.Errors)))

		// Print run meta to stdout
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap.Meta)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "report the plan without fetching or classifying")
	runCmd.Flags().BoolVar(&runFetchOnly, "fetch-only", false, "discover and fetch candidates, skip classification")
	runCmd.Flags().StringVar(&runSource, "source", "", "restrict to one source (federal_register, whitehouse, commerce, ustr)")
	runCmd.Flags().StringVar(&runCountry, "country", "", "restrict to one watchlist country key (uk, japan, korea)")
	runCmd.Flags().BoolVar(&runNoPrefilter, "no-prefilter", false, "send every candidate to the classifier")
	runCmd.Flags().BoolVar(&runFullText, "full-text", false, "classify full page text without truncation")
	runCmd.Flags().BoolVar(&runPremium, "premium", false, "use the premium model")
	runCmd.Flags().StringVar(&runModel, "model", "", "explicit model override")
	runCmd.Flags().BoolVar(&runBatch, "batch", false, "submit uncached classifications as an asynchronous batch")
	runCmd.Flags().BoolVar(&runCollectBatch, "collect-batch", false, "collect a previously submitted batch before running")
	runCmd.Flags().BoolVar(&runWait, "wait", false, "with --collect-batch, poll until the batch finishes")
	runCmd.Flags().IntVar(&runMaxItems, "max-items", 0, "cap candidates per run (0 = configured default, negative = unlimited)")
	runCmd.Flags().StringVar(&runOut, "out", "", "snapshot output path override")
	rootCmd.AddCommand(runCmd)
}
