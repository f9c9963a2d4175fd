package resources

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/oellm/evalsched/pkg/api"
)

// checkpointNamePattern matches the subdirectory naming convention used by
// training runs that dump intermediate checkpoints (iter_0001000, step500).
var checkpointNamePattern = regexp.MustCompile(`^(iter|step|ckpt|checkpoint)[-_]?\d+$`)

// ExpandModelRefs turns user model strings into resource refs, keyed by the
// original string. A string naming an existing local directory is either a
// single checkpoint (contains *.safetensors) or a container of checkpoint
// subdirectories, each of which becomes its own ref. Anything else is
// assumed to be a hub identifier, optionally carrying ",revision=...".
func ExpandModelRefs(logger *slog.Logger, models []string) map[string][]api.ResourceRef {
	expanded := make(map[string][]api.ResourceRef, len(models))
	for _, model := range models {
		if info, err := os.Stat(model); err == nil && info.IsDir() {
			refs := expandLocalDir(model)
			if len(refs) == 0 {
				logger.Warn("No usable checkpoint found under local model directory", "model", model)
			}
			expanded[model] = refs
			continue
		}
		logger.Info("Model not found locally, assuming it is a hub model", "model", model)
		expanded[model] = []api.ResourceRef{api.ParseResourceRef(model)}
	}
	return expanded
}

// expandLocalDir enumerates the checkpoints reachable from path. The base
// case is path itself holding weights; otherwise checkpoint subdirectories
// are searched directly under path and under an "hf" subdirectory, the
// layout training runs conventionally export to.
func expandLocalDir(path string) []api.ResourceRef {
	var refs []api.ResourceRef
	if isCheckpoint(path) {
		refs = append(refs, api.ResourceRef{Name: path, Local: true})
	}

	base := path
	if filepath.Base(path) != "hf" {
		if info, err := os.Stat(filepath.Join(path, "hf")); err == nil && info.IsDir() {
			base = filepath.Join(path, "hf")
		}
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		return refs
	}
	for _, entry := range entries {
		if !entry.IsDir() || !checkpointNamePattern.MatchString(entry.Name()) {
			continue
		}
		sub := filepath.Join(base, entry.Name())
		if isCheckpoint(sub) {
			refs = append(refs, api.ResourceRef{Name: sub, Local: true})
		}
	}
	return refs
}

// isCheckpoint reports whether dir directly contains model weights.
func isCheckpoint(dir string) bool {
	matches, err := filepath.Glob(filepath.Join(dir, "*.safetensors"))
	return err == nil && len(matches) > 0
}

// DistinctRefs flattens an expansion map into a deduplicated ref list with
// stable ordering (first appearance wins).
func DistinctRefs(expanded map[string][]api.ResourceRef, order []string) []api.ResourceRef {
	seen := make(map[string]bool)
	var refs []api.ResourceRef
	for _, model := range order {
		for _, ref := range expanded[model] {
			if seen[ref.Key()] {
				continue
			}
			seen[ref.Key()] = true
			refs = append(refs, ref)
		}
	}
	return refs
}
