package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/card-refine/internal/repository"
	"github.com/card-refine/internal/sim"
	"github.com/card-refine/internal/storage"
	"github.com/card-refine/pkg/config"
	apperrors "github.com/card-refine/pkg/errors"
	"github.com/card-refine/pkg/model"
	"github.com/card-refine/pkg/telemetry"
)

var (
	simMutators int
	simDuration time.Duration
	simRecord   bool
	simArchive  bool
)

// simulateCmd runs the mutator workload against the full barrier and
// refinement pipeline.
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a mutator workload through the card-tracking pipeline",
	Long: `Run concurrent mutator threads against the simulated regionized heap.
Mutators log written cards through the barrier, refinement workers drain
the queues, and every heap exhaustion triggers an evacuation pause whose
retirement statistics are reported, optionally persisted to the database
and archived to storage.`,
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	shutdownTelemetry, err := telemetry.Init(ctx)
	if err != nil {
		logger.Warn("telemetry disabled: %v", err)
	} else {
		defer func() { _ = shutdownTelemetry(ctx) }()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var sink sim.PauseSink
	var repo repository.PauseRepository
	if simRecord {
		repo, err = repository.NewPauseRepository(&cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to open pause repository: %w", err)
		}
		sink = &repository.SinkAdapter{Repo: repo}
	}

	collector := sim.NewCollector(cfg, logger, sink)

	logger.Info("simulate: mutators=%d duration=%v filter=%d inline=%v deferred=%v",
		simMutators, simDuration, cfg.Barrier.WrittenCardFilter,
		cfg.Barrier.UseInlineWrittenCardBuffers, cfg.Barrier.DeferDirtyingWrittenCards)

	writes := collector.Run(simMutators, simDuration)

	logger.Info("simulate: %d reference writes across %d pauses", writes, collector.Pauses())
	fmt.Print(collector.PhaseTimes().Summary())

	if simArchive && repo != nil {
		if err := archivePauseReport(ctx, cfg, repo); err != nil {
			return err
		}
	}

	return nil
}

// archivePauseReport bundles the recorded pauses into one report, uploads
// it, and applies the retention policy.
func archivePauseReport(ctx context.Context, cfg *config.Config, repo repository.PauseRepository) error {
	records, err := repo.ListPauses(ctx, 1000)
	if err != nil {
		return apperrors.AtStage(apperrors.StageArchive, 0, err)
	}
	store, err := storage.NewReportStore(&cfg.Storage)
	if err != nil {
		return apperrors.AtStage(apperrors.StageConfig, 0, err)
	}

	report := &model.PauseReport{GeneratedAt: time.Now()}
	var lastSeq uint64
	for _, r := range records {
		report.Records = append(report.Records, *r)
		if r.PauseSeq > lastSeq {
			lastSeq = r.PauseSeq
		}
	}
	ref, err := store.Put(ctx, report)
	if err != nil {
		return apperrors.AtStage(apperrors.StageArchive, lastSeq, err)
	}
	logger.Info("archived pause report to %s", store.Location(ref))

	removed, err := store.Prune(ctx, cfg.Storage.RetainReports)
	if err != nil {
		return apperrors.AtStage(apperrors.StagePrune, 0, err)
	}
	if removed > 0 {
		logger.Info("pruned %d old pause reports", removed)
	}
	return nil
}

func init() {
	simulateCmd.Flags().IntVarP(&simMutators, "mutators", "m", 4, "Number of mutator threads")
	simulateCmd.Flags().DurationVarP(&simDuration, "duration", "d", 2*time.Second, "Workload duration")
	simulateCmd.Flags().BoolVar(&simRecord, "record", false, "Persist per-pause stats to the database")
	simulateCmd.Flags().BoolVar(&simArchive, "archive", false, "Archive the pause report to storage (requires --record)")
	rootCmd.AddCommand(simulateCmd)
}
