// Package jobs implements the Video Job Tracker.
//
// # Lifecycle
//
//	created ──▶ running ──▶ completed
//	   │           │
//	   └───────────┴──────▶ failed
//
// A job enters running on the first successful poll, completed when the
// capability reports a result reference, and failed on a backend failure, a
// rejected poll, or when it exceeds its poll count or age budget. Completed
// and failed are terminal; no operation changes a terminal job.
//
// # Reads and Polls
//
// GetStatus returns the last persisted state and never calls the
// capability. RefreshStatus performs one poll. The Poller calls
// RefreshStatus for every active job on an interval.
//
// # Notifications
//
// Subscribe registers a callback that runs exactly once when the job reaches
// a terminal state. Callback errors are logged and otherwise ignored.
// Subscriptions live in memory; after a restart callers re-subscribe for the
// jobs returned by ListActive.
package jobs
