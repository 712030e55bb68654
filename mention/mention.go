// Package mention tokenizes @name references in chat text and matches them
// against participant names. Matching folds case and treats hyphens and
// spaces as equivalent, so "@my-agent" resolves the participant "My Agent".
package mention

import (
	"regexp"
	"strings"
)

var tokenRe = regexp.MustCompile(`@([\w.-]+)`)

// ExtractAll returns every @name token in text, in order of appearance,
// without any participant filtering. Used to discover candidates for
// auto-adding new participants.
func ExtractAll(text string) []string {
	matches := tokenRe.FindAllStringSubmatch(text, -1)
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, m[1])
	}
	return tokens
}

// Extract returns the participant names mentioned in text, de-duplicated by
// matched participant identity in first-seen order. A token matches a
// participant via Matches, so "@Foo-Bar" and "@foo-bar" both resolve a
// participant named "Foo Bar" (and count once).
func Extract(text string, participants []string) []string {
	var found []string
	seen := make(map[string]bool)
	for _, token := range ExtractAll(text) {
		for _, name := range participants {
			if !Matches(token, name) {
				continue
			}
			if !seen[name] {
				seen[name] = true
				found = append(found, name)
			}
			break
		}
	}
	return found
}

// Matches reports whether a mention token refers to the given name.
// Comparison is case-insensitive with hyphens and spaces folded together,
// so "my-agent" and "My Agent" are the same identity.
func Matches(candidate, name string) bool {
	return fold(candidate) == fold(name)
}

// fold lowercases and normalizes spaces to hyphens.
func fold(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "-")
}
