package storage

import (
	_ "embed"
)

const (
	insertRunSQL = `
INSERT INTO runs (id,
                  name,
                  root,
                  vna_name,
                  description,
                  parameters,
                  port_min,
                  port_max,
                  position_count,
                  started_at,
                  config)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	finishRunSQL = `
UPDATE runs
SET finished_at = ?,
    outcome     = ?
WHERE id = ?`

	selectRunSQL = `
SELECT id,
       name,
       root,
       vna_name,
       description,
       parameters,
       port_min,
       port_max,
       position_count,
       started_at,
       finished_at,
       outcome,
       config
FROM runs
WHERE id = ?`

	selectRunsSQL = `
SELECT id,
       name,
       root,
       vna_name,
       description,
       parameters,
       port_min,
       port_max,
       position_count,
       started_at,
       finished_at,
       outcome,
       config
FROM runs
ORDER BY started_at, id`

	insertPositionSQL = `
INSERT OR REPLACE INTO positions (run_id,
                                  idx,
                                  x,
                                  y,
                                  z,
                                  started_at)
VALUES (?, ?, ?, ?, ?, ?)`

	selectPositionsSQL = `
SELECT run_id,
       idx,
       x,
       y,
       z,
       started_at
FROM positions
WHERE run_id = ?
ORDER BY idx`

	insertSweepSQL = `
INSERT INTO sweeps (run_id,
                    position_idx,
                    transmit,
                    receive,
                    parameters,
                    duration_ns,
                    recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	selectSweepsSQL = `
SELECT id,
       run_id,
       position_idx,
       transmit,
       receive,
       parameters,
       duration_ns,
       recorded_at
FROM sweeps
WHERE run_id = ?`

	insertFaultSQL = `
INSERT INTO faults (run_id,
                    position_idx,
                    kind,
                    op,
                    message,
                    recorded_at)
VALUES (?, ?, ?, ?, ?, ?)`

	selectFaultsSQL = `
SELECT id,
       run_id,
       position_idx,
       kind,
       op,
       message,
       recorded_at
FROM faults
WHERE run_id = ?
ORDER BY id`

	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_sweeps_run_position ON sweeps (run_id, position_idx);
CREATE INDEX IF NOT EXISTS idx_faults_run ON faults (run_id);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs (started_at);`
)

//go:embed schema.sql
var initSchemaSQL string
