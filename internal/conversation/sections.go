package conversation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// botSectionMarker delimits the bot-maintained block appended to issue
// descriptions. Everything after it belongs to the bot and is replaced
// wholesale on each update.
const botSectionMarker = "\n---\n🤖 **Fluffybot task info**\n"

var (
	branchPattern = regexp.MustCompile("Branch:\\s*`([^`]+)`")
	mrPattern     = regexp.MustCompile(`MR:\s*!([0-9]+)`)
)

// ExtractBranchFromDescription finds the worker branch name recorded in the
// bot section of an issue description, "" when absent.
func ExtractBranchFromDescription(description string) string {
	m := branchPattern.FindStringSubmatch(description)
	if m == nil {
		return ""
	}
	return m[1]
}

// ExtractMRIIDFromDescription finds the MR iid recorded in the bot section
// of an issue description, 0 when absent.
func ExtractMRIIDFromDescription(description string) int64 {
	m := mrPattern.FindStringSubmatch(description)
	if m == nil {
		return 0
	}
	iid, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return iid
}

// AppendBotSection replaces any prior bot section in the description with a
// fresh one recording the worker branch and MR. Idempotent across repeated
// worker runs on the same issue.
func AppendBotSection(description, branchName string, mrIID int64) string {
	base := description
	if idx := strings.Index(base, botSectionMarker); idx >= 0 {
		base = base[:idx]
	}

	section := fmt.Sprintf("%s- Branch: `%s`\n- MR: !%d", botSectionMarker, branchName, mrIID)
	return strings.TrimSpace(base) + section
}
