package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oellm/evalsched/internal/config"
	"github.com/oellm/evalsched/internal/logging"
	"github.com/oellm/evalsched/internal/messages"
	"github.com/oellm/evalsched/internal/runerrors"
)

func writeClusters(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clusters.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write clusters file: %v", err)
	}
	return path
}

func TestLoadClusters(t *testing.T) {
	logger := logging.FallbackLogger()

	t.Run("valid catalog parses with shared defaults", func(t *testing.T) {
		path := writeClusters(t, `
shared:
  queue_limit: 100
  partition: gpu
clusters:
  - name: lumi
    hostname_pattern: "uan*"
    account: project_465000000
  - name: leonardo
    hostname_pattern: "*.leonardo.local"
`)
		clusters, err := config.LoadClusters(logger, path)
		if err != nil {
			t.Fatalf("Failed to load clusters: %v", err)
		}
		if len(clusters.Clusters) != 2 {
			t.Fatalf("Expected 2 clusters, got %d", len(clusters.Clusters))
		}
		if clusters.Clusters[0].Name != "lumi" {
			t.Fatalf("Entry order not preserved: %+v", clusters.Clusters)
		}
		if clusters.Clusters[0].Settings["account"] != "project_465000000" {
			t.Fatalf("Per-cluster setting lost: %+v", clusters.Clusters[0].Settings)
		}
		if clusters.Shared["queue_limit"] == nil {
			t.Fatalf("Shared defaults lost: %+v", clusters.Shared)
		}
	})

	t.Run("entry without a hostname pattern is rejected", func(t *testing.T) {
		path := writeClusters(t, `
clusters:
  - name: lumi
    partition: gpu
`)
		if _, err := config.LoadClusters(logger, path); err == nil {
			t.Fatal("Expected schema validation to fail")
		}
	})

	t.Run("empty cluster list is rejected", func(t *testing.T) {
		path := writeClusters(t, `
clusters: []
`)
		if _, err := config.LoadClusters(logger, path); err == nil {
			t.Fatal("Expected schema validation to fail")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := config.LoadClusters(logger, filepath.Join(t.TempDir(), "clusters.yaml")); err == nil {
			t.Fatal("Expected an error for a missing catalog")
		}
	})

	t.Run("path without an extension is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clusters")
		if err := os.WriteFile(path, []byte("clusters: []\n"), 0600); err != nil {
			t.Fatalf("Failed to write clusters file: %v", err)
		}
		_, err := config.LoadClusters(logger, path)
		if err == nil {
			t.Fatal("Expected an error for a file without an extension")
		}
		if got := runerrors.AsRunError(err).Stage(); got != messages.StageResolve {
			t.Fatalf("Error carries stage %s, expected the resolve stage", got)
		}
	})
}
