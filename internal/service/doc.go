// Package service runs batches of programs on demand or on a schedule and
// hands their reports to uploaders.
//
// Overview
// The Supervisor owns an event loop, an Executor built from model.Config and
// the list of ProgramRequests forming the batch. A start request launches
// the batch; the finished Report is sent to every configured Uploader.
//
// Modes:
//   - manual: the batch runs once and Do returns the upload error.
//   - timer: gocron calls Start on a cron expression or ISO8601 duration;
//     errors are logged and the loop runs until ctx is cancelled.
//
// Data flow:
//
//	Supervisor             parallel.Batch            proc.Runner{name}
//	    |                        |                          |
//	start() -> callStart ------->| Start() ---------------->| Start()
//	    |                        | monitor.Run (optional)   | capture goroutines
//	    |                        |<------ result -----------| (exit, timeout, abort)
//	    |<------ Report ---------|                          |
//	upload -> writer, dir, repository, nats, sqs
//
// Invariants:
//   - At most one batch runs at a time; a start during a run is ignored.
//   - Every batch produces one Report with one terminal result per program.
//   - Uploaders run concurrently, their errors are joined.
//   - Uploaders holding resources are closed when Do returns.
package service
