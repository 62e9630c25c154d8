package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/card-refine/pkg/model"
)

// LocalStore keeps one file per report under a base directory, named by
// its ref. Writes go through a temp file and a rename so a crashed run
// never leaves a half-written report behind.
type LocalStore struct {
	dir string
}

// NewLocalStore creates a store rooted at dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		dir = "./storage"
	}
	if err := os.MkdirAll(filepath.Join(dir, reportPrefix), 0755); err != nil {
		return nil, fmt.Errorf("storage: cannot create report directory under %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) pathFor(ref Ref) string {
	return filepath.Join(s.dir, filepath.FromSlash(string(ref)))
}

// Put archives the report and returns its ref.
func (s *LocalStore) Put(ctx context.Context, report *model.PauseReport) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref, err := refFor(report)
	if err != nil {
		return "", err
	}

	final := s.pathFor(ref)
	tmp, err := os.CreateTemp(filepath.Dir(final), ".report-*")
	if err != nil {
		return "", fmt.Errorf("storage: cannot stage report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encodeReport(tmp, report); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: cannot finish report file: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("storage: cannot publish report %s: %w", ref, err)
	}
	return ref, nil
}

// Get loads a previously archived report.
func (s *LocalStore) Get(ctx context.Context, ref Ref) (*model.PauseReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.pathFor(ref))
	if err != nil {
		return nil, fmt.Errorf("storage: report %s: %w", ref, err)
	}
	defer f.Close()
	return decodeReport(f)
}

// List returns the stored refs in pause order, oldest first.
func (s *LocalStore) List(ctx context.Context) ([]Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.dir, reportPrefix))
	if err != nil {
		return nil, fmt.Errorf("storage: cannot list reports: %w", err)
	}
	var refs []Ref
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), reportSuffix) {
			continue
		}
		refs = append(refs, Ref(reportPrefix+"/"+e.Name()))
	}
	// Zero-padded pause ranges make lexical order pause order.
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs, nil
}

// Prune deletes the oldest reports until at most keep remain.
func (s *LocalStore) Prune(ctx context.Context, keep int) (int, error) {
	refs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	removed := 0
	for _, ref := range refs[:max(0, len(refs)-keep)] {
		if err := os.Remove(s.pathFor(ref)); err != nil {
			return removed, fmt.Errorf("storage: pruning report %s: %w", ref, err)
		}
		removed++
	}
	return removed, nil
}

// Location returns the file path backing a ref.
func (s *LocalStore) Location(ref Ref) string {
	return s.pathFor(ref)
}
