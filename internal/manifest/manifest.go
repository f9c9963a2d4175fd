package manifest

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/oellm/evalsched/internal/messages"
	"github.com/oellm/evalsched/internal/runerrors"
	"github.com/oellm/evalsched/pkg/api"
)

// Manifest is the ordered, deduplicated list of evaluation jobs for one run.
// It is immutable after Build: downstream components hold it by reference
// and only read. Building from identical inputs reproduces an identical
// manifest, row for row.
type Manifest struct {
	Jobs []api.EvalJob
}

// Availability answers whether a model argument refers to a resource that
// survived preparation. A nil Availability treats everything as available.
type Availability func(modelArg string) bool

// Build constructs the default-mode manifest: the cross product of models,
// tasks and shot counts, with rows whose resource is unavailable either
// dropped (skipUnavailable) or fatal. Rows are deduplicated on the
// (model, task, shots) triple and sorted deterministically before ordinal
// assignment.
func Build(logger *slog.Logger, modelArgs []string, tasks []string, shots []int, available Availability, skipUnavailable bool) (*Manifest, error) {
	var rows []api.EvalJob
	for _, model := range modelArgs {
		for _, task := range tasks {
			for _, shot := range shots {
				rows = append(rows, api.EvalJob{ModelPath: model, TaskPath: task, NumShot: shot})
			}
		}
	}
	rows, err := filterAvailable(logger, rows, available, skipUnavailable)
	if err != nil {
		return nil, err
	}
	rows = dedupe(rows)
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.ModelPath != b.ModelPath {
			return a.ModelPath < b.ModelPath
		}
		if a.TaskPath != b.TaskPath {
			return a.TaskPath < b.TaskPath
		}
		return a.NumShot < b.NumShot
	})
	return finish(rows)
}

// BuildCustom constructs the manifest from externally supplied rows,
// expanding each row's model through the expansion map (one output row per
// expanded ref), deduplicating, and preserving caller order for ordinal
// assignment.
func BuildCustom(logger *slog.Logger, rows []api.EvalJob, expansion map[string][]api.ResourceRef, available Availability, skipUnavailable bool) (*Manifest, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	var expanded []api.EvalJob
	for i, row := range rows {
		if err := validate.Struct(row); err != nil {
			return nil, runerrors.NewManifestBuildError(fmt.Sprintf("%d (%s,%s,%d)", i, row.ModelPath, row.TaskPath, row.NumShot), err)
		}
		refs, ok := expansion[row.ModelPath]
		if !ok {
			expanded = append(expanded, row)
			continue
		}
		for _, ref := range refs {
			r := row
			r.ModelPath = ref.ModelArg()
			expanded = append(expanded, r)
		}
	}
	expanded, err := filterAvailable(logger, expanded, available, skipUnavailable)
	if err != nil {
		return nil, err
	}
	return finish(dedupe(expanded))
}

func filterAvailable(logger *slog.Logger, rows []api.EvalJob, available Availability, skipUnavailable bool) ([]api.EvalJob, error) {
	if available == nil {
		return rows, nil
	}
	kept := rows[:0]
	for _, row := range rows {
		if available(row.ModelPath) {
			kept = append(kept, row)
			continue
		}
		if !skipUnavailable {
			return nil, runerrors.NewManifestBuildError(
				fmt.Sprintf("(%s,%s,%d)", row.ModelPath, row.TaskPath, row.NumShot),
				fmt.Errorf("resource %s is unavailable", row.ModelPath),
			)
		}
		logger.Warn("Dropping manifest row, resource unavailable", "model", row.ModelPath, "task", row.TaskPath, "n_shot", row.NumShot)
	}
	return kept, nil
}

func dedupe(rows []api.EvalJob) []api.EvalJob {
	seen := make(map[string]bool, len(rows))
	kept := rows[:0]
	for _, row := range rows {
		if seen[row.TripleKey()] {
			continue
		}
		seen[row.TripleKey()] = true
		kept = append(kept, row)
	}
	return kept
}

func finish(rows []api.EvalJob) (*Manifest, error) {
	if len(rows) == 0 {
		return nil, runerrors.New(messages.ManifestEmpty)
	}
	for i := range rows {
		rows[i].Index = i
		rows[i].Status = api.StatePending
	}
	return &Manifest{Jobs: rows}, nil
}

// Len returns the array size of the manifest.
func (m *Manifest) Len() int {
	return len(m.Jobs)
}
