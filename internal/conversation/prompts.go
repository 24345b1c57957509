package conversation

import (
	"fmt"
	"strings"
)

// suggestionMarker prefixes suggest_prompt replies so users can tell a
// proposed issue edit from a plain answer.
const suggestionMarker = "💡 "

// buildIssuePrompt renders the JSON-intent prompt for an issue comment. The
// model must reply with exactly one JSON object; the fence-strip rule in the
// ai package covers the times it ignores that.
func buildIssuePrompt(comment, issueTitle, issueDescription, wikiContext string) string {
	var sb strings.Builder
	sb.WriteString("You are fluffybot, the AI assistant for GitLab issues.\n")
	sb.WriteString("You respond to user comments.\n\n")

	if wikiContext != "" {
		sb.WriteString("# Project wiki context\n\n")
		sb.WriteString(wikiContext)
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString(`Response format (JSON):
{
  "type": "answer" | "suggest_prompt",
  "content": "the reply to show the user (Markdown)"
}

Rules:
- Simple question -> type: "answer"
- Code change request -> type: "suggest_prompt", propose content to add to the issue body
- Do not modify the issue directly
- Respond with JSON only (no other text)
- IMPORTANT: output pure JSON. Do NOT wrap it in a markdown code block.
- Use mermaid diagrams where helpful
- Use the wiki context to answer accurately about project structure, entities, and recent changes

---

`)

	sb.WriteString(fmt.Sprintf("Issue title: %s\n\nIssue description:\n%s\n\n---\n\nUser comment: %s\n",
		issueTitle, issueDescription, comment))

	return sb.String()
}

// buildLineCommentPrompt renders the free-text prompt for an MR line
// comment. Unlike the issue protocol the reply is posted verbatim, so no
// JSON constraint applies.
func buildLineCommentPrompt(comment, mrTitle, mrDescription, filePath string, lineNumber int, codeContext string) string {
	return fmt.Sprintf(`You are fluffybot, the code review AI assistant for GitLab merge requests.
You provide detailed, useful explanations for line comments.

Follow these rules:
- Be concise and clear
- Use mermaid diagrams where helpful
- Code examples are welcome

# MR info
- Title: %s
- Description: %s

# Comment location
- File: %s
- Line: %d

# Code context
`+"```"+`
%s
`+"```"+`

# User question
%s

---
Answer the user's question based on the information above.
`, mrTitle, mrDescription, filePath, lineNumber, codeContext, comment)
}
