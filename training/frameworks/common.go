package frameworks

import (
	"strings"

	"vision-trainer/training"
)

// rendezvousVars put torch launchers into distributed mode when present
var rendezvousVars = []string{"RANK", "WORLD_SIZE", "MASTER_ADDR", "MASTER_PORT"}

// BuildEnvironment derives the collaborator's environment from base. In
// single mode the rendezvous variables are removed and LOCAL_RANK defaults
// to 0, so a lone worker never tries to join a process group.
func BuildEnvironment(base []string, mode training.ExecutionMode) []string {
	if mode == training.ExecutionDistributed {
		return append([]string(nil), base...)
	}

	out := make([]string, 0, len(base)+1)
	hasLocalRank := false
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if isRendezvous(key) {
			continue
		}
		if key == "LOCAL_RANK" {
			hasLocalRank = true
		}
		out = append(out, kv)
	}
	if !hasLocalRank {
		out = append(out, "LOCAL_RANK=0")
	}
	return out
}

func isRendezvous(key string) bool {
	for _, k := range rendezvousVars {
		if key == k {
			return true
		}
	}
	return false
}
