package reconcile

// Turn tracks the drafted/aborted pairing of one turn attempt. Both
// outcomes share the same subscription: whichever fires first resolves
// the turn and the other becomes a no-op. The engine's serialized event
// queue is the only caller, so no locking is needed.
type Turn struct {
	action   Action
	resolved bool
}

// BeginTurn arms a new pairing for the given action type.
func BeginTurn(action Action) *Turn {
	return &Turn{action: action}
}

// Action returns the action type the turn was armed with.
func (t *Turn) Action() Action { return t.action }

// Resolve marks the turn consumed. It returns true exactly once; later
// calls report that the paired outcome already fired.
func (t *Turn) Resolve() bool {
	if t == nil || t.resolved {
		return false
	}
	t.resolved = true
	return true
}

// Resolved reports whether either outcome has fired.
func (t *Turn) Resolved() bool { return t == nil || t.resolved }
