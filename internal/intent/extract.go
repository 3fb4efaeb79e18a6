// ABOUTME: Extraction of a structured VideoSpec from a free-text video request
// ABOUTME: Applies defaults and reports missing or invalid fields as a ValidationError

package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/2389/tubeagent/internal/store"
)

// Defaults applied when a request does not say otherwise
const (
	DefaultDuration = 60
	DefaultStyle    = "educational"
	DefaultLanguage = "en"
	DefaultAudience = "general"

	MinDuration = 15
	MaxDuration = 600

	maxTopicRunes = 100
)

// ValidationError reports why a request cannot become a job yet
type ValidationError struct {
	Missing []string          // required fields the text did not provide
	Invalid map[string]string // field -> reason
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	for field, reason := range e.Invalid {
		parts = append(parts, field+": "+reason)
	}
	return "invalid video request: " + strings.Join(parts, "; ")
}

// Extractor turns a video request into a VideoSpec
type Extractor interface {
	Extract(text string) (store.VideoSpec, error)
}

// SpecExtractor is the default rule-based Extractor
type SpecExtractor struct{}

// NewSpecExtractor returns the default extractor
func NewSpecExtractor() *SpecExtractor {
	return &SpecExtractor{}
}

var (
	topicPattern    = regexp.MustCompile(`(?i)\b(?:about|on|covering|explaining|regarding)\s+(.+)`)
	topicStop       = regexp.MustCompile(`(?i)\s+(?:for|in|with|that|lasting|under|around)\s+|\s+\d+(?:[\s-]*(?:secs?|seconds?|mins?|minutes?|m)|\s+s)\b|[,.!?;:]`)
	durationPattern = regexp.MustCompile(`(?i)\b(\d+)([\s-]*(?:secs?|seconds?|mins?|minutes?|m)|\s+s)\b`)
	audiencePattern = regexp.MustCompile(`(?i)\bfor\s+(kids|children|beginners|developers|students|teens|teenagers|professionals|everyone|adults|seniors|experts)\b`)
	languagePattern = regexp.MustCompile(`(?i)\bin\s+(english|spanish|french|german|portuguese|italian|japanese|hindi|chinese|korean)\b`)
)

var languages = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"portuguese": "pt",
	"italian":    "it",
	"japanese":   "ja",
	"hindi":      "hi",
	"chinese":    "zh",
	"korean":     "ko",
}

// style keywords, first match wins
var styles = []struct {
	keyword string
	style   string
}{
	{"tutorial", "tutorial"},
	{"how-to", "tutorial"},
	{"documentary", "documentary"},
	{"funny", "entertainment"},
	{"entertaining", "entertainment"},
	{"entertainment", "entertainment"},
	{"business", "business"},
	{"marketing", "business"},
	{"cinematic", "cinematic"},
	{"animated", "animated"},
	{"educational", "educational"},
}

var stopwords = set("the", "and", "for", "with", "how", "why", "what", "its", "their", "from", "into", "your", "our")

// Extract implements Extractor
func (e *SpecExtractor) Extract(text string) (store.VideoSpec, error) {
	spec := store.VideoSpec{
		TargetAudience:  DefaultAudience,
		DurationSeconds: DefaultDuration,
		Style:           DefaultStyle,
		Language:        DefaultLanguage,
	}
	verr := &ValidationError{}

	spec.Topic = extractTopic(text)
	if spec.Topic == "" {
		verr.Missing = append(verr.Missing, "topic")
	}

	if m := durationPattern.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			unit := strings.TrimLeft(strings.ToLower(m[2]), " \t-")
			if strings.HasPrefix(unit, "m") {
				n *= 60
			}
			if n < MinDuration || n > MaxDuration {
				verr.Invalid = map[string]string{
					"duration": fmt.Sprintf("must be between %d and %d seconds, got %d", MinDuration, MaxDuration, n),
				}
			}
			spec.DurationSeconds = n
		}
	}

	if m := audiencePattern.FindStringSubmatch(text); m != nil {
		spec.TargetAudience = strings.ToLower(m[1])
	}

	if m := languagePattern.FindStringSubmatch(text); m != nil {
		spec.Language = languages[strings.ToLower(m[1])]
	}

	lower := strings.ToLower(text)
	for _, s := range styles {
		if strings.Contains(lower, s.keyword) {
			spec.Style = s.style
			break
		}
	}

	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		return spec, verr
	}

	spec.Title = titleCase(spec.Topic)
	spec.Tags = tagsFor(spec.Topic)
	spec.Description = fmt.Sprintf("A %d-second %s video about %s for a %s audience.",
		spec.DurationSeconds, spec.Style, spec.Topic, spec.TargetAudience)

	return spec, nil
}

func extractTopic(text string) string {
	m := topicPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	topic := m[1]
	if loc := topicStop.FindStringIndex(topic); loc != nil {
		topic = topic[:loc[0]]
	}
	topic = strings.TrimSpace(topic)
	topic = strings.TrimPrefix(topic, "the ")
	if r := []rune(topic); len(r) > maxTopicRunes {
		topic = strings.TrimSpace(string(r[:maxTopicRunes]))
	}
	return topic
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

func tagsFor(topic string) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(topic), -1) {
		if utf8.RuneCountInString(w) < 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		tags = append(tags, w)
		if len(tags) == 5 {
			break
		}
	}
	return tags
}
