// Copyright Contributors to the Mellea project

// Package environment owns the Environment state machine and the
// Environment Service (spec.md §4.5). Transitions are validated against
// a fixed allowed-transition table, the same shape as the other_examples
// virtengine Kubernetes adapter's validTransitions map, adapted to the
// exact states and edges spec.md §4.5 names.
package environment

import "github.com/mellea/controlplane/internal/model"

// validTransitions enumerates every allowed edge in the Environment state
// machine. DELETING has no outbound edges: it is terminal from the core's
// point of view and the entity is removed from the store on entry.
var validTransitions = map[model.EnvironmentStatus][]model.EnvironmentStatus{
	model.EnvironmentCreating: {model.EnvironmentReady, model.EnvironmentFailed},
	model.EnvironmentReady:    {model.EnvironmentStarting, model.EnvironmentDeleting},
	model.EnvironmentStarting: {model.EnvironmentRunning, model.EnvironmentFailed},
	model.EnvironmentRunning:  {model.EnvironmentStopping, model.EnvironmentFailed},
	model.EnvironmentStopping: {model.EnvironmentStopped},
	model.EnvironmentStopped:  {model.EnvironmentDeleting},
	model.EnvironmentFailed:   {model.EnvironmentDeleting},
	model.EnvironmentDeleting: {},
}

// IsValidTransition reports whether moving from `from` to `to` is allowed.
// A state transitioning to itself is always a no-op allowed transition,
// matching every state machine's "any state → itself" row.
func IsValidTransition(from, to model.EnvironmentStatus) bool {
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
