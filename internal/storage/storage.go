// Package storage archives pause reports: batches of per-pause
// refinement statistics, stored as compressed JSON on local disk or in a
// Tencent COS bucket.
//
// A report's key is derived from its content. The pause-sequence range is
// encoded zero-padded so that lexical key order equals pause order, which
// is what both listing and retention pruning rely on:
//
//	pause-reports/000017-000042.20250601T120000Z.json.gz
package storage

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/card-refine/pkg/config"
	"github.com/card-refine/pkg/model"
)

// Ref addresses one archived report within its store.
type Ref string

// ReportStore archives and retrieves pause reports.
type ReportStore interface {
	// Put archives the report and returns its ref.
	Put(ctx context.Context, report *model.PauseReport) (Ref, error)

	// Get loads a previously archived report.
	Get(ctx context.Context, ref Ref) (*model.PauseReport, error)

	// List returns the stored refs in pause order, oldest first.
	List(ctx context.Context) ([]Ref, error)

	// Prune deletes the oldest reports until at most keep remain.
	// Returns how many were removed.
	Prune(ctx context.Context, keep int) (int, error)

	// Location describes where a ref lives, for logging.
	Location(ref Ref) string
}

const (
	reportPrefix = "pause-reports"
	reportSuffix = ".json.gz"
)

// refFor derives the key for a report from its pause range and generation
// time. A report with no records has no range and cannot be archived.
func refFor(report *model.PauseReport) (Ref, error) {
	if len(report.Records) == 0 {
		return "", fmt.Errorf("storage: refusing to archive a report with no pause records")
	}
	first := report.Records[0].PauseSeq
	last := first
	for _, r := range report.Records[1:] {
		if r.PauseSeq < first {
			first = r.PauseSeq
		}
		if r.PauseSeq > last {
			last = r.PauseSeq
		}
	}
	stamp := report.GeneratedAt.UTC().Format("20060102T150405Z")
	return Ref(fmt.Sprintf("%s/%06d-%06d.%s%s", reportPrefix, first, last, stamp, reportSuffix)), nil
}

// encodeReport writes the report as gzip-compressed JSON. Pause records
// are highly repetitive, so the compression pays for itself quickly.
func encodeReport(w io.Writer, report *model.PauseReport) error {
	zw := gzip.NewWriter(w)
	if err := json.NewEncoder(zw).Encode(report); err != nil {
		zw.Close()
		return fmt.Errorf("storage: encoding report: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("storage: compressing report: %w", err)
	}
	return nil
}

// decodeReport is the inverse of encodeReport.
func decodeReport(r io.Reader) (*model.PauseReport, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("storage: report is not gzip data: %w", err)
	}
	defer zr.Close()
	var report model.PauseReport
	if err := json.NewDecoder(zr).Decode(&report); err != nil {
		return nil, fmt.Errorf("storage: decoding report: %w", err)
	}
	return &report, nil
}

// NewReportStore selects a backend from configuration.
func NewReportStore(cfg *config.StorageConfig) (ReportStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage: nil configuration")
	}
	switch cfg.Type {
	case "", "local":
		return NewLocalStore(cfg.LocalPath)
	case "cos":
		return NewCOSStore(cfg)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Type)
	}
}
