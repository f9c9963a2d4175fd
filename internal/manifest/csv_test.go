package manifest_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oellm/evalsched/internal/logging"
	"github.com/oellm/evalsched/internal/manifest"
)

func TestReadCSV(t *testing.T) {
	t.Run("columns may appear in any order", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "manifest.csv")
		content := "n_shot,model_path,task_path\n5,org/model,hellaswag\n"
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("Failed to write fixture: %v", err)
		}
		rows, err := manifest.ReadCSV(path)
		if err != nil {
			t.Fatalf("Failed to read manifest: %v", err)
		}
		if len(rows) != 1 || rows[0].ModelPath != "org/model" || rows[0].NumShot != 5 {
			t.Fatalf("Unexpected rows: %+v", rows)
		}
	})

	t.Run("missing required column", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "manifest.csv")
		content := "model_path,task_path\norg/model,hellaswag\n"
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("Failed to write fixture: %v", err)
		}
		if _, err := manifest.ReadCSV(path); err == nil {
			t.Fatal("Expected an error for a manifest without n_shot")
		}
	})

	t.Run("non-integer shot count", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "manifest.csv")
		content := "model_path,task_path,n_shot\norg/model,hellaswag,many\n"
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("Failed to write fixture: %v", err)
		}
		if _, err := manifest.ReadCSV(path); err == nil {
			t.Fatal("Expected an error for a non-integer n_shot")
		}
	})
}

func TestWriteCSV(t *testing.T) {
	t.Run("identical manifests write identical bytes", func(t *testing.T) {
		logger := logging.FallbackLogger()
		m, err := manifest.Build(logger, []string{"org/model"}, []string{"t1", "t2"}, []int{0}, nil, true)
		if err != nil {
			t.Fatalf("Failed to build manifest: %v", err)
		}
		dir := t.TempDir()
		first := filepath.Join(dir, "a.csv")
		second := filepath.Join(dir, "b.csv")
		if err := m.WriteCSV(first); err != nil {
			t.Fatalf("Failed to write manifest: %v", err)
		}
		if err := m.WriteCSV(second); err != nil {
			t.Fatalf("Failed to write manifest: %v", err)
		}
		a, _ := os.ReadFile(first)
		b, _ := os.ReadFile(second)
		if string(a) != string(b) {
			t.Fatal("Manifest serialization is not deterministic")
		}
	})
}

func TestWriteTasks(t *testing.T) {
	t.Run("revision-pinned model survives the tab split", func(t *testing.T) {
		logger := logging.FallbackLogger()
		m, err := manifest.Build(logger,
			[]string{"EleutherAI/pythia-160m,revision=step100000"},
			[]string{"hellaswag"}, []int{0}, nil, true)
		if err != nil {
			t.Fatalf("Failed to build manifest: %v", err)
		}
		path := filepath.Join(t.TempDir(), "tasks.tsv")
		if err := m.WriteTasks(path); err != nil {
			t.Fatalf("Failed to write task list: %v", err)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read task list: %v", err)
		}
		lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
		if len(lines) != 1 {
			t.Fatalf("Expected 1 line without a header, got %d", len(lines))
		}
		fields := strings.Split(lines[0], "\t")
		if len(fields) != 3 {
			t.Fatalf("Expected 3 tab-separated fields, got %q", lines[0])
		}
		if fields[0] != "EleutherAI/pythia-160m,revision=step100000" {
			t.Fatalf("Model argument mangled: %q", fields[0])
		}
		if fields[1] != "hellaswag" || fields[2] != "0" {
			t.Fatalf("Unexpected task fields: %v", fields)
		}
	})

	t.Run("line number matches the array task index plus one", func(t *testing.T) {
		logger := logging.FallbackLogger()
		m, err := manifest.Build(logger, []string{"org/model"}, []string{"t1", "t2", "t3"}, []int{0}, nil, true)
		if err != nil {
			t.Fatalf("Failed to build manifest: %v", err)
		}
		path := filepath.Join(t.TempDir(), "tasks.tsv")
		if err := m.WriteTasks(path); err != nil {
			t.Fatalf("Failed to write task list: %v", err)
		}
		content, _ := os.ReadFile(path)
		lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
		for _, job := range m.Jobs {
			if got := strings.Split(lines[job.Index], "\t")[1]; got != job.TaskPath {
				t.Fatalf("Line %d holds task %q, manifest says %q", job.Index, got, job.TaskPath)
			}
		}
	})

	t.Run("field containing a tab is rejected", func(t *testing.T) {
		logger := logging.FallbackLogger()
		m, err := manifest.Build(logger, []string{"org/model"}, []string{"task\twith-tab"}, []int{0}, nil, true)
		if err != nil {
			t.Fatalf("Failed to build manifest: %v", err)
		}
		if err := m.WriteTasks(filepath.Join(t.TempDir(), "tasks.tsv")); err == nil {
			t.Fatal("Expected an error for a field containing a tab")
		}
	})
}
