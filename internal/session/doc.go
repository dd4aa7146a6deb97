// Package session keeps per-client log history and run state, and delivers
// log lines to connected clients.
//
// Overview
// A Registry owns an event loop (Do) and a map of client sessions keyed by an
// opaque client id. Every public method turns into an op value sent on a
// channel; the loop applies ops one at a time, so the map never needs a lock
// and job goroutines never touch it directly.
//
// A client session has:
//   - an archive of every line sent since the last clear
//   - at most one live Stream (an unbounded queue drained by the transport)
//   - an active flag and a cancel flag for the job running on behalf of it
//
// Data flow:
//
//	job goroutine           Registry.Do               Stream (SSE handler)
//	     |                      |                          |
//	SendLog ---- op ----------->| archive += line          |
//	     |                      | live.push(line) -------->| Next() -> client
//	IsCancelled -- op + reply ->|                          |
//	     |<------- bool --------|                          |
//
// Invariants:
//   - A line is archived before (or with) its live delivery, so a reconnect
//     replays it; a client may see a line twice, never zero times.
//   - MarkActive and MarkInactive always reset the cancel flag.
//   - RequestCancel on an idle client is ignored.
//   - Closing a replaced Stream never detaches the newer one.
package session
