// Package proc runs a single external command and captures its output.
//
// A Runner owns exactly one child process. The command string is handed to
// the host shell (/bin/sh -c, cmd /C) verbatim, so quoting is the caller's
// business.
//
// Capture
//
// The child writes into two os.Pipe pairs. One goroutine per stream reads
// its pipe line by line and appends the trimmed lines to an Output, which is
// a lock guarded append log. Nothing else ever reads the pipes: observers
// (the liveness monitor, the drain logic) only look at the Output and can
// wait for the next append through Output.Changed.
//
// Lifecycle
//
//	NewRunner ---> Start ---> poll loop (PollInterval)
//	                 |          | exited      -> finished, DrainAll
//	                 |          | timeout     -> timeout,  terminate, DrainLastLine
//	                 |          | Stop(mode)  -> aborted,  terminate, mode
//	                 |          | ctx.Done    -> aborted,  terminate, DrainAll
//	                 v
//	           ExecutionResult (terminal, exactly once)
//
// Termination goes through a Terminator, which signals the whole process
// group on unix and runs taskkill /T on windows. Failures to terminate are
// logged and otherwise ignored.
//
// Invariants:
//   - Start returns exactly one terminal result and never an error.
//   - The process handle is set only while the child is owned by the Runner.
//   - Outputs are sealed before the result is published; no line is
//     appended afterwards.
//   - Stop is idempotent and a no-op once the Runner is no longer running.
package proc
