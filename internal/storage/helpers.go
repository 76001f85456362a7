package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && cErr != sql.ErrTxDone && *err == nil {
		*err = cErr
	}
}

// toConfigData encodes an optional configuration as a nullable string.
func toConfigData(config any) (configData sql.NullString, err error) {
	if config == nil {
		return
	}

	switch c := config.(type) {
	case string:
		configData.Valid = true
		configData.String = c

	case []byte:
		configData.Valid = true
		configData.String = string(c)

	default:
		var p []byte
		if p, err = json.Marshal(config); err != nil {
			err = fmt.Errorf("marshaling config: %w", err)
			return
		}

		configData.Valid = true
		configData.String = string(p)
	}

	return
}

func joinList(values []string) string {
	return strings.Join(values, ",")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run         Run
		description sql.NullString
		parameters  string
		finishedAt  sql.NullTime
		outcome     sql.NullString
		config      sql.NullString
	)

	err := row.Scan(
		&run.ID,
		&run.Name,
		&run.Root,
		&run.VNAName,
		&description,
		&parameters,
		&run.PortMin,
		&run.PortMax,
		&run.PositionCount,
		&run.StartedAt,
		&finishedAt,
		&outcome,
		&config,
	)
	if err != nil {
		return nil, err
	}

	run.Description = description.String
	run.Parameters = splitList(parameters)
	run.FinishedAt = fromNullTime(finishedAt)
	run.Outcome = fromNullString(outcome)
	run.Config = fromNullString(config)

	return &run, nil
}
