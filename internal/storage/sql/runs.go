package sql

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/oellm/evalsched/internal/abstractions"
	"github.com/oellm/evalsched/pkg/api"
)

//#######################################################################
// Run operations
//#######################################################################

// CreateRun stores a new run record. The request config is stored in the
// runs table as a JSON string; scalar columns carry the fields that are
// queried or updated during the run.
func (s *SQLStorage) CreateRun(config *api.RunConfig, cluster string, outputDir string) (*api.RunResource, error) {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return nil, err
	}
	runID := s.generateID()
	tenant := s.getTenant()
	s.logger.Info("Creating run record", "id", runID, "tenant", tenant, "cluster", cluster)

	insert := rebind(s.sqlConfig.Driver,
		`INSERT INTO runs (id, tenant_id, cluster, state, entity, output_dir) VALUES (?, ?, ?, ?, ?, ?);`)
	_, err = s.exec(s.ctx, insert, runID, string(tenant), cluster, string(api.RunStateBuilding), string(configJSON), outputDir)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &api.RunResource{
		Resource: api.Resource{
			ID:        runID,
			Tenant:    tenant,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Cluster:   cluster,
		State:     api.RunStateBuilding,
		Config:    *config,
		OutputDir: outputDir,
	}, nil
}

func (s *SQLStorage) GetRun(id string) (*api.RunResource, error) {
	query := rebind(s.sqlConfig.Driver,
		`SELECT id, tenant_id, cluster, state, entity, output_dir, slurm_job_id, job_count, message, created_at, updated_at, submitted_at, finished_at FROM runs WHERE id = ?;`)
	return s.scanRun(s.pool.QueryRowContext(s.ctx, query, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStorage) scanRun(row rowScanner) (*api.RunResource, error) {
	var run api.RunResource
	var tenant, state, entity, message string
	var submittedAt, finishedAt sql.NullTime
	err := row.Scan(
		&run.ID, &tenant, &run.Cluster, &state, &entity, &run.OutputDir,
		&run.SlurmJobID, &run.JobCount, &message,
		&run.CreatedAt, &run.UpdatedAt, &submittedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Tenant = api.Tenant(tenant)
	runState, err := api.GetRunState(state)
	if err != nil {
		return nil, err
	}
	run.State = runState
	if err := json.Unmarshal([]byte(entity), &run.Config); err != nil {
		return nil, err
	}
	if message != "" {
		run.Message = &api.MessageInfo{Message: message}
	}
	if submittedAt.Valid {
		t := submittedAt.Time
		run.SubmittedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func (s *SQLStorage) GetRuns(limit int, offset int, stateFilter string) (*abstractions.QueryResults[api.RunResource], error) {
	countQuery := `SELECT COUNT(*) FROM runs;`
	listQuery := `SELECT id, tenant_id, cluster, state, entity, output_dir, slurm_job_id, job_count, message, created_at, updated_at, submitted_at, finished_at FROM runs ORDER BY created_at DESC LIMIT ? OFFSET ?;`
	args := []any{limit, offset}
	if stateFilter != "" {
		countQuery = `SELECT COUNT(*) FROM runs WHERE state = ?;`
		listQuery = `SELECT id, tenant_id, cluster, state, entity, output_dir, slurm_job_id, job_count, message, created_at, updated_at, submitted_at, finished_at FROM runs WHERE state = ? ORDER BY created_at DESC LIMIT ? OFFSET ?;`
		args = []any{stateFilter, limit, offset}
	}

	var total int
	countArgs := []any{}
	if stateFilter != "" {
		countArgs = []any{stateFilter}
	}
	if err := s.pool.QueryRowContext(s.ctx, rebind(s.sqlConfig.Driver, countQuery), countArgs...).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.pool.QueryContext(s.ctx, rebind(s.sqlConfig.Driver, listQuery), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := &abstractions.QueryResults[api.RunResource]{TotalStored: total}
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		results.Items = append(results.Items, *run)
	}
	return results, rows.Err()
}

func (s *SQLStorage) UpdateRunState(id string, state api.RunState, message *api.MessageInfo) error {
	msg := ""
	if message != nil {
		msg = message.Message
	}
	var update string
	switch state {
	case api.RunStateCompleted, api.RunStateDegraded, api.RunStateFailed:
		update = `UPDATE runs SET state = ?, message = ?, updated_at = CURRENT_TIMESTAMP, finished_at = CURRENT_TIMESTAMP WHERE id = ?;`
	default:
		update = `UPDATE runs SET state = ?, message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
	}
	s.logger.Debug("Updating run state", "id", id, "state", state.String())
	_, err := s.exec(s.ctx, rebind(s.sqlConfig.Driver, update), state.String(), msg, id)
	return err
}

func (s *SQLStorage) UpdateRunSubmission(id string, slurmJobID int64, jobCount int) error {
	update := rebind(s.sqlConfig.Driver,
		`UPDATE runs SET slurm_job_id = ?, job_count = ?, submitted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`)
	_, err := s.exec(s.ctx, update, slurmJobID, jobCount, id)
	return err
}

//#######################################################################
// Array-task status operations
//#######################################################################

func (s *SQLStorage) RecordTaskStatus(runID string, event *api.TaskStatusEvent) error {
	observed := time.Now().UTC()
	if event.ObservedAt != nil {
		observed = *event.ObservedAt
	}
	insert := rebind(s.sqlConfig.Driver,
		`INSERT INTO task_events (run_id, task_index, status, exit_code, observed_at) VALUES (?, ?, ?, ?, ?);`)
	_, err := s.exec(s.ctx, insert, runID, event.Index, string(event.Status), event.ExitCode, observed)
	return err
}

// GetTaskStatuses returns the latest observed status per array index.
func (s *SQLStorage) GetTaskStatuses(runID string) ([]api.TaskStatusEvent, error) {
	query := rebind(s.sqlConfig.Driver,
		`SELECT task_index, status, exit_code, observed_at FROM task_events WHERE run_id = ? ORDER BY observed_at, task_index;`)
	rows, err := s.pool.QueryContext(s.ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	latest := make(map[int]api.TaskStatusEvent)
	order := []int{}
	for rows.Next() {
		var event api.TaskStatusEvent
		var status string
		var observed time.Time
		if err := rows.Scan(&event.Index, &status, &event.ExitCode, &observed); err != nil {
			return nil, err
		}
		event.Status = api.State(status)
		event.ObservedAt = &observed
		if _, seen := latest[event.Index]; !seen {
			order = append(order, event.Index)
		}
		latest[event.Index] = event
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	statuses := make([]api.TaskStatusEvent, 0, len(latest))
	for _, index := range order {
		statuses = append(statuses, latest[index])
	}
	return statuses, nil
}
