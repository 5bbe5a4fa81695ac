package storage

import (
	_ "embed"
)

//go:embed schema.sql
var initSchemaSQL string

const (
	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_samples_session_time_freq
    ON samples (session_id, timestamp, frequency)`

	insertSessionSQL = `
INSERT INTO sessions (
                      start_time, 
                      device_type, 
                      device_id, 
                      config) 
VALUES (?, ?, ?, ?)`

	selectSessionSQL = `
SELECT 
    id, 
    start_time, 
    device_type, 
    device_id, 
    config 
FROM sessions 
WHERE 
    id = ?`

	selectSessionsSQL = `
SELECT 
    id, 
    start_time, 
    device_type, 
    device_id, 
    config 
FROM sessions
ORDER BY id`

	insertSampleSQL = `
INSERT INTO samples (session_id,
                     timestamp,
                     frequency,
                     bin_width,
                     power,
                     num_samples)
VALUES `

	selectSamplesSQL = `
SELECT 
    timestamp, 
    frequency, 
    power, 
    bin_width
FROM samples
WHERE 
    session_id = ?
    AND timestamp BETWEEN ? AND ?
    AND frequency BETWEEN ? AND ?
ORDER BY timestamp, frequency`
)
