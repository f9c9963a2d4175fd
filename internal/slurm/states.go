package slurm

import (
	"strings"

	"github.com/oellm/evalsched/pkg/api"
)

// stateFromSlurm maps a Slurm job state string to the run model's task
// state. Slurm sometimes suffixes states ("CANCELLED by 12345"), so only
// the leading token is matched.
func stateFromSlurm(s string) api.State {
	fields := strings.Fields(strings.ToUpper(s))
	if len(fields) == 0 {
		return api.StateQueued
	}
	switch fields[0] {
	case "PENDING", "REQUEUED", "RESIZING", "SUSPENDED":
		return api.StateQueued
	case "RUNNING", "COMPLETING":
		return api.StateRunning
	case "COMPLETED":
		return api.StateCompleted
	case "CANCELLED", "REVOKED":
		return api.StateCancelled
	case "FAILED", "TIMEOUT", "OUT_OF_MEMORY", "NODE_FAIL", "BOOT_FAIL", "DEADLINE", "PREEMPTED":
		return api.StateFailed
	default:
		return api.StateQueued
	}
}
