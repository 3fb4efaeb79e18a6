// Package capability is the boundary to the AI text and video generation backend.
//
// Client exposes three operations: GenerateReply for conversational answers,
// StartVideoJob to submit a generation request, and PollVideoJob to read a
// job's backend status. Every failure is classified as either ErrUnavailable
// (transient, safe to retry) or ErrRejected (permanent). Timeouts count as
// unavailable.
//
// HTTPClient speaks an OpenAI-compatible chat completions API and a simple
// REST video API, with a circuit breaker in front of both. MockClient runs
// entirely in process and backs local development and tests.
package capability
