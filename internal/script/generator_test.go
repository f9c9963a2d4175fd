package script_test

import (
	"strings"
	"testing"

	"github.com/oellm/evalsched/internal/cluster"
	"github.com/oellm/evalsched/internal/logging"
	"github.com/oellm/evalsched/internal/manifest"
	"github.com/oellm/evalsched/internal/messages"
	"github.com/oellm/evalsched/internal/runerrors"
	"github.com/oellm/evalsched/internal/script"
)

func testProfile() *cluster.Profile {
	return &cluster.Profile{
		Name:            "lumi",
		Partition:       "standard-g",
		Account:         "project_465000000",
		TimeLimit:       "04:00:00",
		GPUsPerNode:     8,
		ModelCacheDir:   "/scratch/models",
		DatasetCacheDir: "/scratch/datasets",
		OutputRoot:      "/scratch/evals",
		QueueLimit:      100,
		SIFPath:         "/scratch/images/lm-eval.sif",
		HarnessCommand:  "lm_eval",
	}
}

func testManifest(t *testing.T, jobs int) *manifest.Manifest {
	t.Helper()
	tasks := make([]string, jobs)
	for i := range tasks {
		tasks[i] = strings.Repeat("t", i+1)
	}
	m, err := manifest.Build(logging.FallbackLogger(), []string{"org/model"}, tasks, []int{0}, nil, true)
	if err != nil {
		t.Fatalf("Failed to build manifest: %v", err)
	}
	return m
}

func TestGenerate(t *testing.T) {
	t.Run("renders the array directive", func(t *testing.T) {
		out, err := script.Generate(script.Params{
			Profile:      testProfile(),
			Manifest:     testManifest(t, 12),
			JobName:      "eval-test",
			TaskListPath: "/run/tasks.tsv",
			LogDir:       "/run/slurm_logs",
			ResultsDir:   "/run/results",
			ArrayLimit:   8,
		})
		if err != nil {
			t.Fatalf("Failed to generate script: %v", err)
		}
		if !strings.Contains(out, "#SBATCH --array=0-11%8") {
			t.Fatalf("Array directive missing or wrong:\n%s", out)
		}
		if !strings.Contains(out, "--partition=standard-g") {
			t.Fatal("Partition directive missing")
		}
		if strings.Contains(out, "{{") {
			t.Fatal("Unrendered template placeholders left in script")
		}
	})

	t.Run("row lookup splits the task list on tabs", func(t *testing.T) {
		out, err := script.Generate(script.Params{
			Profile:      testProfile(),
			Manifest:     testManifest(t, 2),
			JobName:      "eval-test",
			TaskListPath: "/run/tasks.tsv",
			LogDir:       "/run/slurm_logs",
			ResultsDir:   "/run/results",
			ArrayLimit:   2,
		})
		if err != nil {
			t.Fatalf("Failed to generate script: %v", err)
		}
		// the task list has no header, line number is index + 1
		if !strings.Contains(out, `sed -n "$((SLURM_ARRAY_TASK_ID + 1))p" "$TASK_LIST"`) {
			t.Fatalf("Row lookup does not address the headerless task list:\n%s", out)
		}
		// revision-pinned model arguments contain commas, a comma split
		// would hand the harness a truncated model string
		if strings.Contains(out, "cut -d,") {
			t.Fatalf("Row fields are split on commas:\n%s", out)
		}
		for _, field := range []string{"cut -f1", "cut -f2", "cut -f3"} {
			if !strings.Contains(out, field) {
				t.Fatalf("Row extraction missing %q:\n%s", field, out)
			}
		}
	})

	t.Run("single row renders array 0-0", func(t *testing.T) {
		out, err := script.Generate(script.Params{
			Profile:      testProfile(),
			Manifest:     testManifest(t, 1),
			JobName:      "eval-test",
			TaskListPath: "/run/tasks.tsv",
			LogDir:       "/run/slurm_logs",
			ResultsDir:   "/run/results",
			ArrayLimit:   1,
		})
		if err != nil {
			t.Fatalf("Failed to generate script: %v", err)
		}
		if !strings.Contains(out, "--array=0-0%1") {
			t.Fatalf("Single-row array directive wrong:\n%s", out)
		}
	})

	t.Run("missing field fails loudly", func(t *testing.T) {
		profile := testProfile()
		profile.HarnessCommand = ""
		_, err := script.Generate(script.Params{
			Profile:      profile,
			Manifest:     testManifest(t, 2),
			JobName:      "eval-test",
			TaskListPath: "/run/tasks.tsv",
			LogDir:       "/run/slurm_logs",
			ResultsDir:   "/run/results",
			ArrayLimit:   2,
		})
		if err == nil {
			t.Fatal("Expected an error for a profile without a harness command")
		}
		if got := runerrors.AsRunError(err).Stage(); got != messages.StageScript {
			t.Fatalf("Error carries stage %s, expected the script stage", got)
		}
		if !strings.Contains(err.Error(), "HarnessCommand") {
			t.Fatalf("Error does not name the missing field: %v", err)
		}
	})

	t.Run("zero concurrency is rejected", func(t *testing.T) {
		_, err := script.Generate(script.Params{
			Profile:      testProfile(),
			Manifest:     testManifest(t, 2),
			JobName:      "eval-test",
			TaskListPath: "/run/tasks.tsv",
			LogDir:       "/run/slurm_logs",
			ResultsDir:   "/run/results",
		})
		if err == nil {
			t.Fatal("Expected an error for a zero array limit")
		}
	})
}
