package results

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/PaesslerAG/jsonpath"
)

// Row is the summarized outcome of one array task. Metrics hold whatever
// the configured jsonpath expressions extracted from the harness result
// artifact; the core never interprets the values.
type Row struct {
	Index   int            `json:"index"`
	Metrics map[string]any `json:"metrics,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type Summary struct {
	Rows []Row `json:"rows"`
}

// Summarize reads each task's result artifact (results/<index>/results.json)
// and extracts the configured metric paths. Summarizing is advisory: a
// missing or unreadable artifact yields a row carrying the problem instead
// of failing the run, which at this point is already terminal.
func Summarize(logger *slog.Logger, resultsDir string, indices []int, metricPaths map[string]string) *Summary {
	summary := &Summary{}
	for _, index := range indices {
		summary.Rows = append(summary.Rows, summarizeOne(logger, resultsDir, index, metricPaths))
	}
	return summary
}

func summarizeOne(logger *slog.Logger, resultsDir string, index int, metricPaths map[string]string) Row {
	row := Row{Index: index}
	artifact := filepath.Join(resultsDir, fmt.Sprintf("%d", index), "results.json")
	raw, err := os.ReadFile(artifact)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		row.Error = fmt.Sprintf("parse %s: %v", artifact, err)
		return row
	}
	row.Metrics = make(map[string]any, len(metricPaths))
	for label, path := range metricPaths {
		value, err := jsonpath.Get(path, doc)
		if err != nil {
			logger.Debug("Metric path not found in result artifact", "artifact", artifact, "label", label, "path", path)
			continue
		}
		row.Metrics[label] = value
	}
	return row
}

// Write serializes the summary next to the artifacts it came from.
func (s *Summary) Write(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
