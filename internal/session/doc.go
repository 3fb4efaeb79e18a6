// Package session implements the Session Store: one conversation per user,
// holding the ordered turns and the video jobs the user has requested.
//
// All writes for a user are serialized with a per-user lock; different
// users never contend. Each successful write replaces the cached snapshot
// with a new value, so a Session returned by Load or List never changes
// after it is handed out. Backend failures surface as
// store.ErrStorageUnavailable and leave the cache untouched.
package session
