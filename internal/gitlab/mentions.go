package gitlab

import "strings"

// DetectMention returns true when the comment body contains a literal
// @username mention of the bot. The match is a plain substring test: that is
// the contract users rely on when summoning the bot, and GitLab preserves
// the mention text verbatim in note bodies.
func DetectMention(commentBody, botUsername string) bool {
	if strings.TrimSpace(botUsername) == "" {
		return false
	}
	return strings.Contains(commentBody, "@"+botUsername)
}
