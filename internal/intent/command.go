// ABOUTME: Detection of chat commands answered without the AI capability
// ABOUTME: Recognizes job status queries and help requests in general chat

package intent

import (
	"regexp"
	"strings"
)

// Command is a chat message the service answers itself
type Command int

const (
	NoCommand Command = iota
	StatusCommand
	HelpCommand
)

func (c Command) String() string {
	switch c {
	case StatusCommand:
		return "status"
	case HelpCommand:
		return "help"
	default:
		return "none"
	}
}

var (
	helpPattern = regexp.MustCompile(`(?i)^\s*/?(?:help|help me|what can you do|how do i use (?:this|you)|what are your commands|commands)\s*[?!.]*\s*$`)

	statusPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*/?(?:status|progress)\s*[?!.]*\s*$`),
		regexp.MustCompile(`(?i)\b(?:what(?:'s| is)|show(?: me)?|check)\s+(?:the\s+|my\s+)?(?:video\s+|job\s+)?(?:status|progress)(?:\s*[?!.]*\s*$|\s+(?:of|on|for)\s+my\b)`),
		regexp.MustCompile(`(?i)\b(?:status|progress)\s+of\s+my\s+(?:videos?|jobs?)\b`),
		regexp.MustCompile(`(?i)\b(?:is|are)\s+my\s+(?:videos?|jobs?)\s+(?:ready|done|finished)\b`),
		regexp.MustCompile(`(?i)\bhow(?:'s|\s+is|\s+are)\s+my\s+(?:videos?|jobs?)\b`),
	}
)

// DetectCommand reports which command, if any, text asks for. It only
// applies to messages already classified as chat.
func DetectCommand(text string) Command {
	text = strings.TrimSpace(text)
	if helpPattern.MatchString(text) {
		return HelpCommand
	}
	for _, p := range statusPatterns {
		if p.MatchString(text) {
			return StatusCommand
		}
	}
	return NoCommand
}
