// Package slack connects a Slack workspace to the conversation orchestrator.
//
// EventHandler receives Events API callbacks at POST /slack/events. It
// answers url_verification challenges, acknowledges event callbacks right
// away, and handles message and app_mention events on a goroutine so Slack's
// three second deadline is never at risk. Bot messages, edits and other
// subtypes are ignored, redeliveries are dropped, and mention tokens are
// stripped before the text reaches the orchestrator.
//
// Client posts replies with chat.postMessage and doubles as the
// conversation.Notifier for jobs that were requested from Slack.
//
// Slack users appear to the rest of the service as "slack:<member id>".
package slack
