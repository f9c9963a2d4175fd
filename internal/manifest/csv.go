package manifest

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/oellm/evalsched/pkg/api"
)

// Column layout of the manifest file. The ordinal index is implied by row
// position.
var csvHeader = []string{"model_path", "task_path", "n_shot"}

// ReadCSV parses a user-supplied manifest CSV. The three required columns
// may appear in any order; unknown columns are ignored.
func ReadCSV(path string) ([]api.EvalJob, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("read %s: empty file", path)
	}

	col := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		col[name] = i
	}
	for _, required := range csvHeader {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("read %s: missing column %q", path, required)
		}
	}

	rows := make([]api.EvalJob, 0, len(records)-1)
	for i, record := range records[1:] {
		shots, err := strconv.Atoi(record[col["n_shot"]])
		if err != nil {
			return nil, fmt.Errorf("read %s row %d: n_shot %q is not an integer", path, i+1, record[col["n_shot"]])
		}
		rows = append(rows, api.EvalJob{
			ModelPath: record[col["model_path"]],
			TaskPath:  record[col["task_path"]],
			NumShot:   shots,
		})
	}
	return rows, nil
}

// WriteCSV serializes the manifest. Output is byte-identical for identical
// manifests; nothing time-dependent is written here.
func (m *Manifest) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, job := range m.Jobs {
		if err := w.Write([]string{job.ModelPath, job.TaskPath, strconv.Itoa(job.NumShot)}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteTasks writes the script-facing task list: one tab-separated line per
// job, no header and no quoting. Revision-pinned model arguments carry
// commas, so the batch script splits on tabs rather than parsing CSV.
func (m *Manifest) WriteTasks(path string) error {
	var b strings.Builder
	for _, job := range m.Jobs {
		for _, field := range []string{job.ModelPath, job.TaskPath} {
			if strings.ContainsAny(field, "\t\n") {
				return fmt.Errorf("write %s: field %q contains a tab or newline", path, field)
			}
		}
		fmt.Fprintf(&b, "%s\t%s\t%d\n", job.ModelPath, job.TaskPath, job.NumShot)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
