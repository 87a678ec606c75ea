package steward

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

const defaultHeavyMessageLength = 600

// Classification is the outcome of tier routing for one message.
type Classification struct {
	Tier   Tier
	Reason string
}

// TierClassifier assigns each turn a light or heavy tier from message shape
// alone: long messages and messages matching any heavy pattern go heavy,
// everything else goes light. It also knows which tools force a mid-turn
// escalation.
type TierClassifier struct {
	heavyTools    map[string]bool
	heavyPatterns []*regexp.Regexp
	heavyLength   int
}

// TierOption configures a TierClassifier.
type TierOption func(*TierClassifier)

// HeavyTools marks tool names whose invocation escalates a light run.
func HeavyTools(names ...string) TierOption {
	return func(t *TierClassifier) {
		for _, n := range names {
			t.heavyTools[n] = true
		}
	}
}

// HeavyPatterns adds case-insensitive regular expressions that classify a
// message as heavy. Invalid patterns are ignored.
func HeavyPatterns(patterns ...string) TierOption {
	return func(t *TierClassifier) {
		for _, p := range patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				continue
			}
			t.heavyPatterns = append(t.heavyPatterns, re)
		}
	}
}

// HeavyMessageLength sets the rune count above which a message is heavy
// (default 600).
func HeavyMessageLength(n int) TierOption {
	return func(t *TierClassifier) { t.heavyLength = n }
}

// NewTierClassifier creates a classifier with the given options.
func NewTierClassifier(opts ...TierOption) *TierClassifier {
	t := &TierClassifier{
		heavyTools:  make(map[string]bool),
		heavyLength: defaultHeavyMessageLength,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Classify assigns a tier to one inbound message.
func (t *TierClassifier) Classify(text string) Classification {
	if n := utf8.RuneCountInString(text); n > t.heavyLength {
		return Classification{
			Tier:   TierHeavy,
			Reason: fmt.Sprintf("message length %d exceeds %d", n, t.heavyLength),
		}
	}
	for _, re := range t.heavyPatterns {
		if re.MatchString(text) {
			return Classification{
				Tier:   TierHeavy,
				Reason: "matched heavy pattern " + re.String(),
			}
		}
	}
	return Classification{Tier: TierLight, Reason: "default"}
}

// ShouldEscalate reports whether invoking the named tool requires a
// heavy-tier provider.
func (t *TierClassifier) ShouldEscalate(toolName string) bool {
	return t.heavyTools[toolName]
}
