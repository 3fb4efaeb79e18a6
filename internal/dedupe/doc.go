// Package dedupe drops inbound events that a chat surface delivers more
// than once. Slack retries webhooks it thinks timed out, and a Matrix client
// can replay timeline events after a resync; both carry stable event IDs.
package dedupe
