package storage

import (
	_ "embed"
)

const (
	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_cycles_session ON cycles (session_id, seq);
CREATE INDEX IF NOT EXISTS idx_cycle_events_cycle ON cycle_events (cycle_id, seq)`

	insertSessionSQL = `
INSERT INTO sessions (run_id,
                      started_at,
                      seed,
                      frequency,
                      noise_level,
                      threshold,
                      channel_plan,
                      config)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	selectSessionSQL = `
SELECT id,
       run_id,
       started_at,
       seed,
       frequency,
       noise_level,
       threshold,
       channel_plan,
       config
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT id,
       run_id,
       started_at,
       seed,
       frequency,
       noise_level,
       threshold,
       channel_plan,
       config
FROM sessions
ORDER BY started_at`

	insertCycleSQL = `
INSERT INTO cycles (session_id,
                    seq,
                    cycle_id,
                    started_at,
                    duration_ns,
                    frequency,
                    noise_level,
                    peak_amplitude,
                    anomalous,
                    jammed,
                    switched,
                    switched_from,
                    switched_to,
                    hopped_from,
                    hopped_to,
                    channel,
                    secured)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectCyclesSQL = `
SELECT id,
       session_id,
       seq,
       cycle_id,
       started_at,
       duration_ns,
       frequency,
       noise_level,
       peak_amplitude,
       anomalous,
       jammed,
       switched,
       switched_from,
       switched_to,
       hopped_from,
       hopped_to,
       channel,
       secured
FROM cycles
WHERE
    session_id = ?`

	countCyclesSQL = `
SELECT COUNT(*)
FROM cycles
WHERE
    session_id = ?`

	selectEventsSQL = `
SELECT id,
       cycle_id,
       seq,
       phase,
       at,
       message
FROM cycle_events
WHERE
    cycle_id = ?
ORDER BY seq`
)

//go:embed schema.sql
var schemaSQL string
