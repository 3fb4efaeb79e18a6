// Package intent classifies inbound messages and extracts video job specs.
//
// Classification is a pure policy behind the Classifier interface. The
// default KeywordClassifier looks for a creation verb that governs a video
// noun; a message with only one of the two is Ambiguous, and callers treat
// Ambiguous as general chat. Questions only start jobs when they ask for one
// outright. DetectCommand spots the status and help commands.
//
// Extractor turns a video request into a store.VideoSpec. When the request
// lacks a topic, or names a duration outside 15s to 10m, it returns a
// *ValidationError so the caller can ask a clarifying question instead of
// starting a job.
package intent
