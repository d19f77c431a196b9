// Copyright Contributors to the Mellea project

// Package run owns the Run state machine and the Run Service
// (spec.md §4.6).
package run

import "github.com/mellea/controlplane/internal/model"

// validTransitions enumerates every allowed edge in the Run state
// machine. SUCCEEDED, FAILED, and CANCELLED are terminal: a Run in one of
// those states is never observed transitioning further.
var validTransitions = map[model.RunStatus][]model.RunStatus{
	model.RunQueued:    {model.RunStarting, model.RunFailed, model.RunCancelled},
	model.RunStarting:  {model.RunRunning, model.RunFailed, model.RunCancelled},
	model.RunRunning:   {model.RunSucceeded, model.RunFailed, model.RunCancelled},
	model.RunSucceeded: {},
	model.RunFailed:    {},
	model.RunCancelled: {},
}

// IsValidTransition reports whether moving from `from` to `to` is
// allowed. A state transitioning to itself is always a no-op.
func IsValidTransition(from, to model.RunStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
