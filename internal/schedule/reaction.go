package schedule

import (
	"slices"
	"strings"
)

// Reaction adds emojis to messages that mention PromptText.
type Reaction struct {
	PromptText string
	Emojis     []string
}

// Matches reports whether text contains the prompt, ignoring case.
func (r Reaction) Matches(text string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(r.PromptText))
}

func (r Reaction) clone() Reaction {
	return Reaction{PromptText: r.PromptText, Emojis: slices.Clone(r.Emojis)}
}
