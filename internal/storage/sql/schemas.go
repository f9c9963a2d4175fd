package sql

// Schemas are created on startup, per driver. Runs hold the request and
// outcome of one scheduling invocation; task_events append every observed
// array-task state change during monitoring.

const SQLITE_SCHEMA = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    cluster TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'building',
    entity TEXT NOT NULL,
    output_dir TEXT NOT NULL DEFAULT '',
    slurm_job_id INTEGER NOT NULL DEFAULT 0,
    job_count INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    submitted_at TIMESTAMP,
    finished_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS task_events (
    run_id TEXT NOT NULL,
    task_index INTEGER NOT NULL,
    status TEXT NOT NULL,
    exit_code TEXT NOT NULL DEFAULT '',
    observed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_task_events_run ON task_events (run_id, task_index);
`

const POSTGRES_SCHEMA = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    cluster TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'building',
    entity TEXT NOT NULL,
    output_dir TEXT NOT NULL DEFAULT '',
    slurm_job_id BIGINT NOT NULL DEFAULT 0,
    job_count INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    submitted_at TIMESTAMPTZ,
    finished_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS task_events (
    run_id TEXT NOT NULL,
    task_index INTEGER NOT NULL,
    status TEXT NOT NULL,
    exit_code TEXT NOT NULL DEFAULT '',
    observed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_task_events_run ON task_events (run_id, task_index);
`
