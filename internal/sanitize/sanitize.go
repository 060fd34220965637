// Package sanitize keeps untrusted text from forging the delimiters kodo
// uses to separate instructions from data in prompts.
package sanitize

import "strings"

// Tags used to fence untrusted data inside prompts.
const (
	TagGoal         = "goal"
	TagSummary      = "claimed-summary"
	TagReport       = "agent-report"
	TagPriorSummary = "prior-summary"
)

var tags = []string{TagGoal, TagSummary, TagReport, TagPriorSummary}

var replacer = func() *strings.Replacer {
	var pairs []string
	for _, t := range tags {
		pairs = append(pairs, "<"+t+">", "", "</"+t+">", "")
	}
	return strings.NewReplacer(pairs...)
}()

// Content strips any fencing delimiters from content.
func Content(content string) string {
	return replacer.Replace(content)
}

// Wrap fences content in tag after sanitizing it.
func Wrap(tag, content string) string {
	return "<" + tag + ">\n" + Content(content) + "\n</" + tag + ">"
}
