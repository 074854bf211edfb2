// Package runstore keeps a SQLite ledger of estimation runs and the outcome
// of every (category, variable) pair.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"vtkkrig/pkg/estimation"
)

const schema = `
	PRAGMA foreign_keys = ON;
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started TEXT NOT NULL,
		duration_ms INTEGER,
		family TEXT,
		category TEXT,
		partitioned INTEGER,
		x_field TEXT,
		y_field TEXT,
		z_field TEXT,
		variables TEXT,
		categories TEXT,
		grid_path TEXT,
		samples_path TEXT,
		output_path TEXT,
		estimated INTEGER,
		absent INTEGER,
		failed INTEGER,
		cancelled INTEGER
	);
	CREATE TABLE IF NOT EXISTS partitions (
		run_id TEXT NOT NULL,
		category TEXT,
		variable TEXT,
		status TEXT,
		samples INTEGER,
		targets INTEGER,
		defined INTEGER,
		duration_ms INTEGER,
		error TEXT,
		model TEXT,
		fitted INTEGER,
		cross_validated INTEGER,
		regularized INTEGER,
		q1 DOUBLE,
		q2 DOUBLE,
		cr DOUBLE,
		rmse DOUBLE,
		mean DOUBLE,
		std DOUBLE,
		min DOUBLE,
		max DOUBLE,
		FOREIGN KEY(run_id) REFERENCES runs(run_id)
	);
	CREATE INDEX IF NOT EXISTS partitions_run ON partitions(run_id);
`

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a run ledger backed by a SQLite file.
type Store struct {
	*sql.DB
}

// Paths are the files a run read and wrote.
type Paths struct {
	Grid    string
	Samples string
	Output  string
}

// Run is one row of the runs table.
type Run struct {
	ID          string
	Started     time.Time
	Duration    time.Duration
	Family      string
	Category    string
	Partitioned bool
	Coordinates [3]string
	Variables   []string
	Categories  []string
	Paths       Paths
	Estimated   int
	Absent      int
	Failed      int
	Cancelled   int
}

// Partition is one row of the partitions table. Statistics that were not
// computed read back as NaN.
type Partition struct {
	RunID          string
	Category       string
	Variable       string
	Status         string
	Samples        int
	Targets        int
	Defined        int
	Duration       time.Duration
	Error          string
	Model          string
	Fitted         bool
	CrossValidated bool
	Regularized    bool
	Q1, Q2, CR     float64
	RMSE           float64
	Mean, Std      float64
	Min, Max       float64
}

// Open opens or creates the ledger at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}
	return &Store{db}, nil
}

// Record stores a run report and its pair outcomes in one transaction. A
// report without a run ID is given one. It returns the run ID stored.
func (s *Store) Record(ctx context.Context, report *estimation.Report, paths Paths) (string, error) {
	if report == nil {
		return "", errors.New("nil report")
	}
	id := report.RunID
	if id == "" {
		id = uuid.NewString()
	}

	variables, err := json.Marshal(nonNil(report.Variables))
	if err != nil {
		return "", err
	}
	categories, err := json.Marshal(nonNil(report.Categories))
	if err != nil {
		return "", err
	}

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (
			run_id, started, duration_ms, family, category, partitioned,
			x_field, y_field, z_field, variables, categories,
			grid_path, samples_path, output_path,
			estimated, absent, failed, cancelled
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, report.Started.UTC().Format(timeLayout), report.Duration.Milliseconds(),
		string(report.Family), report.Category, report.Partitioned,
		report.Coordinates.X, report.Coordinates.Y, report.Coordinates.Z,
		string(variables), string(categories),
		paths.Grid, paths.Samples, paths.Output,
		report.Count(estimation.StatusEstimated), report.Count(estimation.StatusAbsent),
		report.Count(estimation.StatusFailed), report.Count(estimation.StatusCancelled),
	)
	if err != nil {
		return "", fmt.Errorf("recording run %s: %w", id, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO partitions (
			run_id, category, variable, status, samples, targets, defined, duration_ms,
			error, model, fitted, cross_validated, regularized,
			q1, q2, cr, rmse, mean, std, min, max
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for _, p := range report.Pairs {
		var msg string
		if p.Err != nil {
			msg = p.Err.Error()
		}
		d := p.Diagnostics
		cv := d.CrossValidated
		_, err := stmt.ExecContext(ctx,
			id, p.Category, p.Variable, string(p.Status), p.Samples, p.Targets, p.Defined, p.Duration.Milliseconds(),
			msg, d.Model, d.Fitted, cv, d.Regularized,
			nullable(d.Q1, cv), nullable(d.Q2, cv), nullable(d.CR, cv), nullable(d.RMSE, cv),
			nullable(p.Summary.Mean, p.Summary.Count > 0), nullable(p.Summary.Std, p.Summary.Count > 0),
			nullable(p.Summary.Min, p.Summary.Count > 0), nullable(p.Summary.Max, p.Summary.Count > 0),
		)
		if err != nil {
			return "", fmt.Errorf("recording %s/%s: %w", p.Category, p.Variable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// Runs lists recorded runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.QueryContext(ctx, `SELECT
			run_id, started, duration_ms, family, category, partitioned,
			x_field, y_field, z_field, variables, categories,
			grid_path, samples_path, output_path,
			estimated, absent, failed, cancelled
		FROM runs ORDER BY started DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                     Run
			started               string
			durationMS            int64
			variables, categories string
		)
		if err := rows.Scan(
			&r.ID, &started, &durationMS, &r.Family, &r.Category, &r.Partitioned,
			&r.Coordinates[0], &r.Coordinates[1], &r.Coordinates[2], &variables, &categories,
			&r.Paths.Grid, &r.Paths.Samples, &r.Paths.Output,
			&r.Estimated, &r.Absent, &r.Failed, &r.Cancelled,
		); err != nil {
			return nil, err
		}
		if r.Started, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if err := json.Unmarshal([]byte(variables), &r.Variables); err != nil {
			return nil, fmt.Errorf("run %s variables: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(categories), &r.Categories); err != nil {
			return nil, fmt.Errorf("run %s categories: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// Partitions lists the pair outcomes of a run in the order they were recorded.
func (s *Store) Partitions(ctx context.Context, runID string) ([]Partition, error) {
	rows, err := s.QueryContext(ctx, `SELECT
			run_id, category, variable, status, samples, targets, defined, duration_ms,
			error, model, fitted, cross_validated, regularized,
			q1, q2, cr, rmse, mean, std, min, max
		FROM partitions WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Partition
	for rows.Next() {
		var (
			p          Partition
			durationMS int64
			stats      [8]sql.NullFloat64
		)
		if err := rows.Scan(
			&p.RunID, &p.Category, &p.Variable, &p.Status, &p.Samples, &p.Targets, &p.Defined, &durationMS,
			&p.Error, &p.Model, &p.Fitted, &p.CrossValidated, &p.Regularized,
			&stats[0], &stats[1], &stats[2], &stats[3], &stats[4], &stats[5], &stats[6], &stats[7],
		); err != nil {
			return nil, err
		}
		p.Duration = time.Duration(durationMS) * time.Millisecond
		targets := []*float64{&p.Q1, &p.Q2, &p.CR, &p.RMSE, &p.Mean, &p.Std, &p.Min, &p.Max}
		for i, v := range stats {
			*targets[i] = math.NaN()
			if v.Valid {
				*targets[i] = v.Float64
			}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// nullable maps statistics that were not computed, or are not finite, to NULL.
func nullable(v float64, ok bool) any {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
