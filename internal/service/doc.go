// Package service assembles the tool from its parts and runs it.
//
// Overview
// A Service owns one session.Registry, the workspace, the run history and a
// job.Coordinator. It is driven in one of two ways:
//
//   - Serve runs the registry event loop, the workspace janitor and the HTTP
//     server until the context is cancelled.
//   - Run executes a single job in the terminal and prints its log lines.
//
// Data flow of a job:
//
//	HTTP/CLI            Coordinator             runner goroutine        Registry
//	    |                    |                        |                    |
//	execute ------------->   | ClearLogs/MarkActive ----------------------> |
//	    |<---- queued ------ | go run() ------------> |                    |
//	    |                    |                        | SendLog ---------> | archive + live queue
//	stream <------------------------------------------------------------- | Stream.Next
//	    |                    |                        | terminal line ---> |
//	    |                    |                        | MarkInactive ----> |
//
// Invariants:
//   - The registry loop is started exactly once, by Serve or Run.
//   - Every accepted job ends with exactly one terminal line.
//   - Close releases the workspace and the history database and must be
//     called after Serve or Run returned.
package service
