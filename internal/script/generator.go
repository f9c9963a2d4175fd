package script

import (
	"bytes"
	"fmt"
	"strconv"
	"text/template"

	"github.com/oellm/evalsched/internal/cluster"
	"github.com/oellm/evalsched/internal/manifest"
	"github.com/oellm/evalsched/internal/runerrors"
)

// sbatchTemplate is the batch script submitted to Slurm. Each array task
// looks up its own line in the tab-separated task list by
// SLURM_ARRAY_TASK_ID and hands the resolved model argument and task name
// to the evaluation harness inside the container image. The list is split
// on tabs because revision-pinned model arguments contain commas.
const sbatchTemplate = `#!/bin/bash
#SBATCH --job-name={{.JobName}}
#SBATCH --partition={{.Partition}}
#SBATCH --account={{.Account}}
#SBATCH --time={{.TimeLimit}}
#SBATCH --nodes=1
#SBATCH --gres=gpu:{{.GPUsPerNode}}
#SBATCH --array=0-{{.ArrayEnd}}%{{.ArrayLimit}}
#SBATCH --output={{.LogDir}}/%A_%a.out
#SBATCH --error={{.LogDir}}/%A_%a.err

set -euo pipefail

export EVAL_MODEL_CACHE_DIR="{{.ModelCacheDir}}"
export EVAL_DATASET_CACHE_DIR="{{.DatasetCacheDir}}"
export HF_HUB_OFFLINE=1

TASK_LIST="{{.TaskListPath}}"
ROW=$(sed -n "$((SLURM_ARRAY_TASK_ID + 1))p" "$TASK_LIST")
MODEL=$(echo "$ROW" | cut -f1)
TASK=$(echo "$ROW" | cut -f2)
N_SHOT=$(echo "$ROW" | cut -f3)

RESULT_DIR="{{.ResultsDir}}/${SLURM_ARRAY_TASK_ID}"
mkdir -p "$RESULT_DIR"

srun apptainer exec --nv "{{.SIFPath}}" \
    {{.HarnessCommand}} \
    --model_args "pretrained=${MODEL}" \
    --tasks "$TASK" \
    --num_fewshot "$N_SHOT" \
    --output_path "$RESULT_DIR/results.json"
`

// Params collects everything the template needs beyond the profile.
type Params struct {
	Profile  *cluster.Profile
	Manifest *manifest.Manifest
	JobName  string
	// TaskListPath names the tab-separated task list written next to the
	// manifest; the human-readable CSV is not shell-splittable.
	TaskListPath string
	LogDir       string
	ResultsDir   string
	// ArrayLimit is the effective concurrency limit, already clamped to
	// min(profile queue limit, observed remaining quota) by the caller.
	ArrayLimit int
}

// Generate renders the batch script. Rendering substitutes from a field map
// with missingkey=error, so a profile field the template needs but the
// configuration never set fails loudly instead of producing a script with a
// hole in it.
func Generate(params Params) (string, error) {
	fields := map[string]string{
		"JobName":         params.JobName,
		"Partition":       params.Profile.Partition,
		"Account":         params.Profile.Account,
		"TimeLimit":       params.Profile.TimeLimit,
		"GPUsPerNode":     strconv.Itoa(params.Profile.GPUsPerNode),
		"ModelCacheDir":   params.Profile.ModelCacheDir,
		"DatasetCacheDir": params.Profile.DatasetCacheDir,
		"SIFPath":         params.Profile.SIFPath,
		"HarnessCommand":  params.Profile.HarnessCommand,
		"TaskListPath":    params.TaskListPath,
		"LogDir":          params.LogDir,
		"ResultsDir":      params.ResultsDir,
	}
	for field, value := range fields {
		if value == "" {
			return "", runerrors.NewScriptGenerationError(field)
		}
	}
	if params.Profile.GPUsPerNode <= 0 {
		return "", runerrors.NewScriptGenerationError("GPUsPerNode")
	}
	if params.Manifest == nil || params.Manifest.Len() == 0 {
		return "", runerrors.NewScriptGenerationError("ArrayEnd")
	}
	if params.ArrayLimit <= 0 {
		return "", runerrors.NewScriptGenerationError("ArrayLimit")
	}
	fields["ArrayEnd"] = strconv.Itoa(params.Manifest.Len() - 1)
	fields["ArrayLimit"] = strconv.Itoa(params.ArrayLimit)

	tmpl, err := template.New("sbatch").Option("missingkey=error").Parse(sbatchTemplate)
	if err != nil {
		return "", fmt.Errorf("parse sbatch template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, fields); err != nil {
		return "", fmt.Errorf("render sbatch template: %w", err)
	}
	return buf.String(), nil
}
