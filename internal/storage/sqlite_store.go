package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/emscan/internal/geometry"
)

// SqliteStore implements Store on a SQLite database. Writes go through a
// single WAL connection; reads use a separate read-only connection.
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store backed by the database at dbPath. The
// database and its schema are created on first write.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1)

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		// The schema must exist before a read-only connection can query it.
		if _, err := s.getWriteDB(); err != nil {
			s.readDBErr = err
			return
		}

		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CreateRun(ctx context.Context, run *Run) (err error) {
	configData := sql.NullString{}
	if run.Config != nil {
		configData = sql.NullString{String: *run.Config, Valid: true}
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertRunSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	_, err = stmt.ExecContext(ctx,
		run.ID,
		run.Name,
		run.Root,
		run.VNAName,
		sql.NullString{String: run.Description, Valid: run.Description != ""},
		joinList(run.Parameters),
		run.PortMin,
		run.PortMax,
		run.PositionCount,
		run.StartedAt.UTC(),
		configData,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	return nil
}

func (s *SqliteStore) FinishRun(ctx context.Context, runID, outcome string, at time.Time) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, finishRunSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, at.UTC(), outcome, runID)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finishing run '%s': %w", runID, ErrRunNotFound)
	}

	return nil
}

func (s *SqliteStore) Run(ctx context.Context, id string) (run *Run, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, selectRunSQL)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	run, err = scanRun(stmt.QueryRowContext(ctx, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("run '%s': %w", id, ErrRunNotFound)
	case err != nil:
		return nil, fmt.Errorf("scanning run: %w", err)
	}

	return run, nil
}

func (s *SqliteStore) Runs(ctx context.Context) (runs []*Run, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectRunsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var run *Run
		if run, err = scanRun(rows); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}

	return runs, nil
}

func (s *SqliteStore) StorePosition(ctx context.Context, runID string, index int, p geometry.Point, at time.Time) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertPositionSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if _, err = stmt.ExecContext(ctx, runID, index, p.X, p.Y, p.Z, at.UTC()); err != nil {
		return fmt.Errorf("inserting position: %w", err)
	}

	return nil
}

func (s *SqliteStore) Positions(ctx context.Context, runID string) (positions []*Position, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectPositionsSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("querying positions: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var p Position
		if err = rows.Scan(&p.RunID, &p.Index, &p.Point.X, &p.Point.Y, &p.Point.Z, &p.StartedAt); err != nil {
			return nil, fmt.Errorf("scanning position: %w", err)
		}
		positions = append(positions, &p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating positions: %w", err)
	}

	return positions, nil
}

func (s *SqliteStore) StoreSweep(ctx context.Context, sweep *Sweep) (sweepID int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return 0, fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertSweepSQL)
	if err != nil {
		return 0, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx,
		sweep.RunID,
		sweep.PositionIndex,
		sweep.Pair.Transmit,
		sweep.Pair.Receive,
		joinList(sweep.Parameters),
		sweep.Duration.Nanoseconds(),
		sweep.RecordedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting sweep: %w", err)
	}

	sweepID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting sweep ID: %w", err)
	}
	return
}

func (s *SqliteStore) Sweeps(ctx context.Context, runID string, opts ...SweepOption) (sweeps []*Sweep, err error) {
	var f sweepFilter
	for _, opt := range opts {
		opt(&f)
	}

	var sb strings.Builder
	sb.WriteString(selectSweepsSQL)
	args := []any{runID}

	if f.position != nil {
		sb.WriteString(" AND position_idx = ?")
		args = append(args, *f.position)
	}
	if f.transmit != nil {
		sb.WriteString(" AND transmit = ?")
		args = append(args, *f.transmit)
	}
	if f.startTime != nil {
		sb.WriteString(" AND recorded_at >= ?")
		args = append(args, f.startTime.UTC())
	}
	if f.endTime != nil {
		sb.WriteString(" AND recorded_at <= ?")
		args = append(args, f.endTime.UTC())
	}
	sb.WriteString(" ORDER BY recorded_at, id")

	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying sweeps: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var (
			sw         Sweep
			parameters string
			durationNS int64
		)
		err = rows.Scan(
			&sw.ID,
			&sw.RunID,
			&sw.PositionIndex,
			&sw.Pair.Transmit,
			&sw.Pair.Receive,
			&parameters,
			&durationNS,
			&sw.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning sweep: %w", err)
		}
		sw.Parameters = splitList(parameters)
		sw.Duration = time.Duration(durationNS)
		sweeps = append(sweeps, &sw)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sweeps: %w", err)
	}

	return sweeps, nil
}

func (s *SqliteStore) StoreFault(ctx context.Context, fault *Fault) (faultID int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return 0, fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	result, err := tx.ExecContext(ctx, insertFaultSQL,
		fault.RunID,
		fault.PositionIndex,
		fault.Kind,
		fault.Op,
		fault.Message,
		fault.RecordedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting fault: %w", err)
	}

	if faultID, err = result.LastInsertId(); err != nil {
		return 0, fmt.Errorf("getting fault ID: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}

	return faultID, nil
}

func (s *SqliteStore) Faults(ctx context.Context, runID string) (faults []*Fault, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectFaultsSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("querying faults: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var f Fault
		if err = rows.Scan(&f.ID, &f.RunID, &f.PositionIndex, &f.Kind, &f.Op, &f.Message, &f.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning fault: %w", err)
		}
		faults = append(faults, &f)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating faults: %w", err)
	}

	return faults, nil
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
