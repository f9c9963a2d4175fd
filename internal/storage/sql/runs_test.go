package sql_test

import (
	"testing"
	"time"

	"github.com/oellm/evalsched/internal/abstractions"
	"github.com/oellm/evalsched/internal/logging"
	"github.com/oellm/evalsched/internal/storage"
	"github.com/oellm/evalsched/pkg/api"
)

func newTestStorage(t *testing.T) abstractions.Storage {
	t.Helper()
	store, err := storage.NewStorage(map[string]any{
		"driver": "sqlite",
		"url":    "file::memory:?mode=memory&cache=shared",
	}, logging.FallbackLogger())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Logf("Failed to close storage: %v", err)
		}
	})
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := newTestStorage(t)

	config := &api.RunConfig{
		Models:   []string{"org/model"},
		Tasks:    []string{"hellaswag"},
		NumShots: []int{0, 5},
	}
	created, err := store.CreateRun(config, "lumi", "/scratch/evals/runs/20260831-120000")
	if err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}
	if created.ID == "" {
		t.Fatal("Created run has no id")
	}
	if created.State != api.RunStateBuilding {
		t.Fatalf("New run is not building, got %s", created.State)
	}

	t.Run("round trip preserves the config", func(t *testing.T) {
		got, err := store.GetRun(created.ID)
		if err != nil {
			t.Fatalf("Failed to get run: %v", err)
		}
		if got.Cluster != "lumi" {
			t.Fatalf("Cluster lost: %s", got.Cluster)
		}
		if len(got.Config.Models) != 1 || got.Config.Models[0] != "org/model" {
			t.Fatalf("Config lost: %+v", got.Config)
		}
	})

	t.Run("submission details are recorded", func(t *testing.T) {
		if err := store.UpdateRunState(created.ID, api.RunStateSubmitting, nil); err != nil {
			t.Fatalf("Failed to update state: %v", err)
		}
		if err := store.UpdateRunSubmission(created.ID, 98765, 4); err != nil {
			t.Fatalf("Failed to update submission: %v", err)
		}
		got, err := store.GetRun(created.ID)
		if err != nil {
			t.Fatalf("Failed to get run: %v", err)
		}
		if got.SlurmJobID != 98765 || got.JobCount != 4 {
			t.Fatalf("Submission not persisted: %+v", got)
		}
		if got.SubmittedAt == nil {
			t.Fatal("SubmittedAt not set")
		}
	})

	t.Run("terminal state sets the finish time", func(t *testing.T) {
		message := &api.MessageInfo{Message: "1 of 4 tasks failed"}
		if err := store.UpdateRunState(created.ID, api.RunStateDegraded, message); err != nil {
			t.Fatalf("Failed to update state: %v", err)
		}
		got, err := store.GetRun(created.ID)
		if err != nil {
			t.Fatalf("Failed to get run: %v", err)
		}
		if got.State != api.RunStateDegraded {
			t.Fatalf("State not persisted: %s", got.State)
		}
		if got.FinishedAt == nil {
			t.Fatal("FinishedAt not set for a terminal state")
		}
		if got.Message == nil || got.Message.Message == "" {
			t.Fatal("Message not persisted")
		}
	})

	t.Run("unknown run id", func(t *testing.T) {
		if _, err := store.GetRun("no-such-run"); err == nil {
			t.Fatal("Expected an error for an unknown run")
		}
	})
}

func TestTaskStatuses(t *testing.T) {
	store := newTestStorage(t)
	created, err := store.CreateRun(&api.RunConfig{Models: []string{"m"}, Tasks: []string{"t"}}, "lumi", "/tmp/out")
	if err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}

	first := time.Now().UTC()
	second := first.Add(time.Second)
	transitions := []api.TaskStatusEvent{
		{Index: 0, Status: api.StateRunning, ObservedAt: &first},
		{Index: 1, Status: api.StateRunning, ObservedAt: &first},
		{Index: 0, Status: api.StateCompleted, ExitCode: "0:0", ObservedAt: &second},
	}
	for i := range transitions {
		if err := store.RecordTaskStatus(created.ID, &transitions[i]); err != nil {
			t.Fatalf("Failed to record status: %v", err)
		}
	}

	statuses, err := store.GetTaskStatuses(created.ID)
	if err != nil {
		t.Fatalf("Failed to get statuses: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("Expected the latest status per index, got %+v", statuses)
	}
	byIndex := make(map[int]api.State, len(statuses))
	for _, status := range statuses {
		byIndex[status.Index] = status.Status
	}
	if byIndex[0] != api.StateCompleted || byIndex[1] != api.StateRunning {
		t.Fatalf("Unexpected latest statuses: %+v", byIndex)
	}
}
