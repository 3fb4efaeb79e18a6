// ABOUTME: Pure intent classification for inbound chat messages
// ABOUTME: Keyword policy separating general chat from video generation requests

package intent

import (
	"regexp"
	"strings"
)

// Kind is the classified purpose of a message
type Kind int

const (
	GeneralChat Kind = iota
	VideoRequest
	Ambiguous
)

func (k Kind) String() string {
	switch k {
	case GeneralChat:
		return "general_chat"
	case VideoRequest:
		return "video_request"
	case Ambiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// Classifier decides what a message is asking for. Implementations must be
// pure: the same text always yields the same Kind.
type Classifier interface {
	Classify(text string) Kind
}

// ClassifierFunc adapts a function to the Classifier interface
type ClassifierFunc func(text string) Kind

// Classify calls f(text)
func (f ClassifierFunc) Classify(text string) Kind {
	return f(text)
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}']+`)

// DefaultReach is how many words may sit between a creation verb and the
// video noun it governs.
const DefaultReach = 4

// KeywordClassifier flags a video request when a creation verb governs a
// video noun, as in "make me a short video". A verb or noun on its own is
// Ambiguous. Questions only count when they ask for the video outright
// ("can you make a video about...").
type KeywordClassifier struct {
	Verbs map[string]bool
	Nouns map[string]bool
	Reach int
}

// NewKeywordClassifier returns the default keyword policy.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		Verbs: set("create", "make", "generate", "produce", "render", "film"),
		Nouns: set("video", "videos", "vid", "clip", "clips", "shorts", "youtube", "explainer"),
		Reach: DefaultReach,
	}
}

var (
	// "make sure the video..." is not a request
	idioms          = set("sure", "sense", "fun", "up", "out")
	questionOpeners = set("what", "what's", "whats", "why", "how", "how's", "when", "where", "who", "which",
		"can", "could", "would", "will", "do", "does", "did", "is", "are", "should", "shall")
	modals  = set("can", "could", "would", "will")
	fillers = set("please", "just", "kindly", "quickly")
)

// Classify implements Classifier
func (c *KeywordClassifier) Classify(text string) Kind {
	lower := strings.ToLower(strings.TrimSpace(text))
	words := wordPattern.FindAllString(lower, -1)
	question := strings.HasSuffix(lower, "?") || (len(words) > 0 && questionOpeners[words[0]])

	var verb, noun, governed bool
	for i, w := range words {
		if c.Nouns[w] {
			noun = true
		}
		if !c.Verbs[w] {
			continue
		}
		verb = true
		if c.governs(words, i) && (!question || asked(words, i)) {
			governed = true
		}
	}

	switch {
	case governed:
		return VideoRequest
	case verb || noun:
		return Ambiguous
	default:
		return GeneralChat
	}
}

// governs reports whether the verb at i is followed, within Reach words, by a video noun.
func (c *KeywordClassifier) governs(words []string, i int) bool {
	reach := c.Reach
	if reach <= 0 {
		reach = DefaultReach
	}
	if i+1 < len(words) && idioms[words[i+1]] {
		return false
	}
	for j := i + 1; j < len(words) && j <= i+reach; j++ {
		if c.Nouns[words[j]] {
			return true
		}
		if c.Verbs[words[j]] {
			return false
		}
	}
	return false
}

// asked reports whether the verb at i is phrased as a request: it opens the
// message, follows "please", or follows "can/could/would/will you".
func asked(words []string, i int) bool {
	j := i - 1
	polite := false
	for j >= 0 && fillers[words[j]] {
		polite = polite || words[j] == "please"
		j--
	}
	switch {
	case j < 0 || polite:
		return true
	case words[j] == "you" && j > 0 && modals[words[j-1]]:
		return true
	default:
		return false
	}
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
