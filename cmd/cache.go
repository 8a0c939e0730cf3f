package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deal-tracker/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the on-disk content cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [stage]",
	Short: "Clear cached pages, extracted text, or classifications",
	Long:  "Clears one cache stage (page, extracted, classification) or all of them when no stage is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := cache.New(cfg.Cache.Dir)

		stages := cache.AllStages()
		if len(args) == 1 {
			stage := cache.Stage(args[0])
			valid := false
			for _, s := range stages {
				if s == stage {
					valid = true
					break
				}
			}
			if !valid {
				return eris.Errorf("unknown cache stage %q (page, extracted, classification)", args[0])
			}
			stages = []cache.Stage{stage}
		}

		total := 0
		for _, stage := range stages {
			n, err := store.Clear(stage)
			if err != nil {
				return eris.Wrapf(err, "clear %s cache", stage)
			}
			zap.L().Info("cache stage cleared",
				zap.String("stage", string(stage)),
				zap.Int("entries", n))
			total += n
		}
		zap.L().Info("cache cleared", zap.Int("entries", total))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
