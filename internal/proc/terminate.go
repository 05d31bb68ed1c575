package proc

// Terminator ends a process together with every process it spawned.
type Terminator interface {
	// Terminate asks the process tree rooted at pid to exit. With force set
	// the tree is killed without a chance to clean up.
	Terminate(pid int, force bool) error
}

// TerminatorFunc adapts a function to the Terminator interface.
type TerminatorFunc func(pid int, force bool) error

func (f TerminatorFunc) Terminate(pid int, force bool) error {
	return f(pid, force)
}
