// Package cmd implements the card-refine command line interface.
package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/card-refine/pkg/pprof"
	"github.com/card-refine/pkg/utils"
)

var (
	// Global flags
	verbose    bool
	configPath string
	logger     utils.Logger

	// Self-profiling flags
	pprofEnabled  bool
	pprofDir      string
	pprofProfiles string

	pprofCollector *pprof.Collector
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "card-refine",
	Short: "Mutator-side card tracking and concurrent refinement control",
	Long: `card-refine drives the written-card and dirty-card queue machinery of a
regionalized generational collector: per-thread write-barrier logs, the
lock-free completed-buffer lists, safepoint-time log retirement, and the
controller sizing the concurrent refinement worker pool.

The simulate command runs a mutator workload against the full pipeline
and records per-pause refinement statistics.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logLevel := utils.LevelInfo
		if verbose {
			logLevel = utils.LevelDebug
		}
		logger = utils.NewDefaultLogger(logLevel, os.Stdout)
		utils.SetGlobalLogger(logger)

		if pprofEnabled {
			cfg := pprof.DefaultConfig()
			if pprofDir != "" {
				cfg.Dir = pprofDir
			}
			if pprofProfiles != "" {
				cfg.Profiles = parseProfileList(pprofProfiles)
			}
			collector, err := pprof.NewCollector(cfg)
			if err != nil {
				return err
			}
			if err := collector.Start(); err != nil {
				return err
			}
			pprofCollector = collector
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if pprofCollector != nil {
			paths, err := pprofCollector.Stop()
			if err != nil {
				return err
			}
			for _, p := range paths {
				logger.Info("wrote profile %s", p)
			}
		}
		return nil
	},
}

func parseProfileList(s string) []pprof.ProfileType {
	var result []pprof.ProfileType
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, pprof.ProfileType(part))
		}
	}
	return result
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&pprofEnabled, "pprof", false, "Collect runtime profiles of the run")
	rootCmd.PersistentFlags().StringVar(&pprofDir, "pprof-dir", "", "Directory for profile output")
	rootCmd.PersistentFlags().StringVar(&pprofProfiles, "pprof-profiles", "", "Comma-separated profile types (cpu,heap,goroutine,block,mutex)")
}
