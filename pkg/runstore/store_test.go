package runstore

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vtkkrig/internal/models"
	"vtkkrig/pkg/config"
	"vtkkrig/pkg/estimation"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleReport(started time.Time) *estimation.Report {
	return &estimation.Report{
		RunID:       uuid.NewString(),
		Family:      config.Universal,
		Category:    "lito",
		Partitioned: true,
		Coordinates: estimation.Coordinates{X: "x", Y: "y", Z: "z"},
		Variables:   []string{"cu", "au"},
		Categories:  []string{"1", "2"},
		Started:     started,
		Duration:    1500 * time.Millisecond,
		Pairs: []estimation.PairReport{
			{
				Category: "1", Variable: "cu", Status: estimation.StatusEstimated,
				Samples: 12, Targets: 40, Defined: 40, Duration: 20 * time.Millisecond,
				Summary: estimation.Summary{Count: 40, Mean: 0.8, Std: 0.1, Min: 0.5, Max: 1.2},
				Diagnostics: models.Diagnostics{
					Model: "spherical", Fitted: true, CrossValidated: true,
					Q1: 0.01, Q2: 1.1, CR: 0.9, RMSE: 0.05,
				},
			},
			{
				Category: "1", Variable: "au", Status: estimation.StatusFailed,
				Samples: 2, Targets: 40, Err: errors.New("kriging matrix is singular"),
			},
			{Category: "2", Variable: "cu", Status: estimation.StatusAbsent, Targets: 8},
		},
	}
}

func TestRecordAndRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 4, 10, 30, 0, 123456789, time.FixedZone("local", -3*3600))
	report := sampleReport(started)

	id, err := s.Record(ctx, report, Paths{Grid: "grid.vtk", Samples: "hard.csv", Output: "out.vtk"})
	require.NoError(t, err)
	assert.Equal(t, report.RunID, id)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	r := runs[0]
	assert.Equal(t, id, r.ID)
	assert.True(t, started.Equal(r.Started))
	assert.Equal(t, 1500*time.Millisecond, r.Duration)
	assert.Equal(t, "universal", r.Family)
	assert.True(t, r.Partitioned)
	assert.Equal(t, [3]string{"x", "y", "z"}, r.Coordinates)
	assert.Equal(t, []string{"cu", "au"}, r.Variables)
	assert.Equal(t, []string{"1", "2"}, r.Categories)
	assert.Equal(t, Paths{Grid: "grid.vtk", Samples: "hard.csv", Output: "out.vtk"}, r.Paths)
	assert.Equal(t, 1, r.Estimated)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.Absent)
	assert.Equal(t, 0, r.Cancelled)

	parts, err := s.Partitions(ctx, id)
	require.NoError(t, err)
	require.Len(t, parts, 3)

	est := parts[0]
	assert.Equal(t, "estimated", est.Status)
	assert.Equal(t, "spherical", est.Model)
	assert.True(t, est.Fitted)
	assert.True(t, est.CrossValidated)
	assert.InDelta(t, 1.1, est.Q2, 1e-12)
	assert.InDelta(t, 0.8, est.Mean, 1e-12)
	assert.Equal(t, 20*time.Millisecond, est.Duration)

	failed := parts[1]
	assert.Equal(t, "au", failed.Variable)
	assert.Equal(t, "kriging matrix is singular", failed.Error)
	assert.True(t, math.IsNaN(failed.Q1))
	assert.True(t, math.IsNaN(failed.Mean))

	assert.Equal(t, "absent", parts[2].Status)
	assert.Equal(t, "2", parts[2].Category)
}

func TestRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	older, err := s.Record(ctx, sampleReport(base), Paths{})
	require.NoError(t, err)
	newer, err := s.Record(ctx, sampleReport(base.Add(time.Hour)), Paths{})
	require.NoError(t, err)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer, runs[0].ID)
	assert.Equal(t, older, runs[1].ID)

	parts, err := s.Partitions(ctx, "no-such-run")
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestRecordAssignsRunID(t *testing.T) {
	s := openTestStore(t)
	report := sampleReport(time.Now())
	report.RunID = ""
	report.Variables = nil
	report.Categories = nil

	id, err := s.Record(context.Background(), report, Paths{})
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)

	runs, err := s.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Empty(t, runs[0].Variables)
}

func TestRecordDuplicateRunID(t *testing.T) {
	s := openTestStore(t)
	report := sampleReport(time.Now())

	_, err := s.Record(context.Background(), report, Paths{})
	require.NoError(t, err)
	_, err = s.Record(context.Background(), report, Paths{})
	assert.Error(t, err)

	parts, err := s.Partitions(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Len(t, parts, 3, "a failed record must not add pairs")
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.Record(context.Background(), sampleReport(time.Now()), Paths{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
}

func TestRecordNilReport(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Record(context.Background(), nil, Paths{})
	assert.Error(t, err)
}
