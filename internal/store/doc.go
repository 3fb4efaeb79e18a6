// Package store provides persistent storage for tubeagent using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with two
// specialized interfaces:
//
//   - SessionStore: users, conversation turns and job references
//   - JobStore: video generation jobs and per-user job statistics
//
// Store combines both with Ping and Close. SQLiteStore implements all of
// them in a single struct.
//
// # Data Models
//
//   - User: end user, created at first interaction
//   - SessionRecord: one per user, created lazily
//   - Turn: an immutable user or assistant utterance with a per-user sequence number
//   - JobRef: weak link from a session to a job
//   - VideoJob: a long-running generation request and its lifecycle state
//
// # Job Updates
//
// UpdateJob is a compare-and-set on the previous state. Callers that lose a
// race receive ErrStateConflict and must re-read the job.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as fixed-width UTC strings so they sort lexically.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrStorageUnavailable: the backing store failed; use Unavailable to wrap
//   - ErrStateConflict: a job changed state underneath an update
//   - ErrDuplicateJob: a job ID already exists
//
// # Testing
//
// Use NewMockStore() for unit tests. FailWith injects a failure into every
// subsequent call. Use NewSQLiteStore with a t.TempDir() path for
// integration tests.
package store
