package checker

// undoStack records cleanup actions as pipeline steps acquire resources
// (masked refs, moved backup files). It unwinds in reverse order on every
// exit path and tolerates partially completed runs: an action is only on
// the stack if its step actually happened.
type undoStack struct {
	actions []func()
}

func (u *undoStack) push(fn func()) {
	u.actions = append(u.actions, fn)
}

func (u *undoStack) unwind() {
	for i := len(u.actions) - 1; i >= 0; i-- {
		u.actions[i]()
	}
	u.actions = nil
}
