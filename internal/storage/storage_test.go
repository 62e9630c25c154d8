package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/card-refine/pkg/config"
	"github.com/card-refine/pkg/model"
)

func reportFor(generated time.Time, seqs ...uint64) *model.PauseReport {
	report := &model.PauseReport{GeneratedAt: generated}
	for _, seq := range seqs {
		report.Records = append(report.Records, model.PauseRecord{
			PauseSeq:            seq,
			MutatorWrittenCards: 100 * seq,
		})
	}
	return report
}

func TestRefFor_EncodesPauseRange(t *testing.T) {
	generated := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	ref, err := refFor(reportFor(generated, 42, 17, 30))
	require.NoError(t, err)
	assert.Equal(t, Ref("pause-reports/000017-000042.20250601T120000Z.json.gz"), ref)

	_, err = refFor(reportFor(generated))
	assert.Error(t, err)
}

func TestLocalStore_PutGet(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	report := reportFor(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), 1, 2)
	ref, err := s.Put(ctx, report)
	require.NoError(t, err)

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	require.Len(t, got.Records, 2)
	assert.Equal(t, uint64(200), got.Records[1].MutatorWrittenCards)

	_, err = s.Get(ctx, Ref("pause-reports/missing.json.gz"))
	assert.Error(t, err)
}

func TestLocalStore_ListInPauseOrder(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Archive out of order; listing must come back in pause order.
	for _, span := range [][2]uint64{{20, 29}, {1, 9}, {10, 19}} {
		_, err := s.Put(ctx, reportFor(base.Add(time.Duration(span[0])*time.Minute), span[0], span[1]))
		require.NoError(t, err)
	}

	refs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Contains(t, string(refs[0]), "000001-000009")
	assert.Contains(t, string(refs[1]), "000010-000019")
	assert.Contains(t, string(refs[2]), "000020-000029")
}

func TestLocalStore_PruneKeepsNewest(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for seq := uint64(1); seq <= 5; seq++ {
		_, err := s.Put(ctx, reportFor(base.Add(time.Duration(seq)*time.Minute), seq))
		require.NoError(t, err)
	}

	removed, err := s.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	refs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Contains(t, string(refs[0]), "000004-000004")
	assert.Contains(t, string(refs[1]), "000005-000005")

	// Pruning below the current count is a no-op.
	removed, err = s.Prune(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestNewCOSStore_Validation(t *testing.T) {
	_, err := NewCOSStore(&config.StorageConfig{Region: "ap-guangzhou", SecretID: "i", SecretKey: "k"})
	assert.Error(t, err)

	_, err = NewCOSStore(&config.StorageConfig{Bucket: "b", SecretID: "i", SecretKey: "k"})
	assert.Error(t, err)

	_, err = NewCOSStore(&config.StorageConfig{Bucket: "b", Region: "ap-guangzhou"})
	assert.Error(t, err)

	s, err := NewCOSStore(&config.StorageConfig{
		Bucket: "b", Region: "ap-guangzhou", SecretID: "i", SecretKey: "k",
	})
	require.NoError(t, err)
	assert.Equal(t,
		"https://b.cos.ap-guangzhou.myqcloud.com/pause-reports/x.json.gz",
		s.Location(Ref("pause-reports/x.json.gz")))
}

func TestNewReportStore_Dispatch(t *testing.T) {
	store, err := NewReportStore(&config.StorageConfig{Type: "local", LocalPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store)

	_, err = NewReportStore(&config.StorageConfig{Type: "s3"})
	assert.Error(t, err)

	_, err = NewReportStore(nil)
	assert.Error(t, err)
}
