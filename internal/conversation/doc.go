// Package conversation provides the Conversation Orchestrator.
//
// # Overview
//
// Every chat surface (the web API, Slack, the Matrix bridge) hands inbound
// messages to a single Orchestrator. For each message it:
//
//  1. Loads the user's session (creating it on first contact)
//  2. Classifies intent: general chat, video request, or ambiguous
//  3. Answers status and help commands itself, asks the capability for a
//     reply to other chat, or extracts a VideoSpec and starts a job
//  4. Records the user turn, the assistant turn and any job link in one
//     write, then returns the reply
//
// The final write survives a caller that has gone away, so an exchange is
// either fully recorded or not at all.
//
// Messages from one user are processed strictly in arrival order; messages
// from different users run concurrently.
//
// # Failures
//
// A transient capability failure is retried once after RetryBackoff. If the
// retry also fails the user is told to try again. A rejected request is
// explained to the user. An incomplete video request gets a clarifying
// question and no job. Only storage failures surface as errors to callers.
//
// # Completion
//
// When a job reaches a terminal state the orchestrator appends an assistant
// turn to the owner's session, publishes a JobEvent on the EventBroadcaster,
// and forwards the text to the Notifier registered for the job's surface.
// Call Resume at startup to re-attach to jobs that were active before a
// restart.
package conversation
