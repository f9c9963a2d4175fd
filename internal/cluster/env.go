package cluster

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
)

// envVars returns the environment variables a resolved profile exports,
// in deterministic order. These are the values the sbatch template and the
// harness read at array-task time.
func (p *Profile) envVars() [][2]string {
	vars := [][2]string{
		{"EVAL_CLUSTER", p.Name},
		{"EVAL_PARTITION", p.Partition},
		{"EVAL_ACCOUNT", p.Account},
		{"EVAL_TIME_LIMIT", p.TimeLimit},
		{"EVAL_GPUS_PER_NODE", strconv.Itoa(p.GPUsPerNode)},
		{"EVAL_MODEL_CACHE_DIR", p.ModelCacheDir},
		{"EVAL_DATASET_CACHE_DIR", p.DatasetCacheDir},
		{"EVAL_OUTPUT_DIR", p.OutputRoot},
		{"EVAL_QUEUE_LIMIT", strconv.Itoa(p.QueueLimit)},
	}
	if p.ContainerImage != "" {
		vars = append(vars, [2]string{"EVAL_CONTAINER_IMAGE", p.ContainerImage})
	}
	if p.SIFPath != "" {
		vars = append(vars, [2]string{"EVAL_SIF_PATH", p.SIFPath})
	}

	extra := make([]string, 0, len(p.Env))
	for k := range p.Env {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		vars = append(vars, [2]string{k, p.Env[k]})
	}
	return vars
}

// Materialize exports the profile into the process environment. Kept apart
// from Resolve so resolution stays a pure function and tests never mutate
// process state.
func (p *Profile) Materialize(logger *slog.Logger) error {
	for _, kv := range p.envVars() {
		if err := os.Setenv(kv[0], kv[1]); err != nil {
			return err
		}
		logger.Debug("Exported profile variable", "name", kv[0], "value", kv[1])
	}
	return nil
}

// ExportLines renders the profile as shell export statements, for the `env`
// subcommand (eval'd by interactive shells).
func (p *Profile) ExportLines() []string {
	lines := make([]string, 0)
	for _, kv := range p.envVars() {
		lines = append(lines, fmt.Sprintf("export %s=%q", kv[0], kv[1]))
	}
	return lines
}
