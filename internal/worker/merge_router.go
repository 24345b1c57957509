package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fluffybot/internal/gitlab"
	"github.com/fluffybot/internal/webhook"
)

// issueGetter is the slice of the GitLab client the router needs to confirm
// a linked issue exists before dispatching.
type issueGetter interface {
	GetIssue(ctx context.Context, projectID, issueIID int64) (*gitlab.Issue, error)
}

// jobDispatcher lets tests substitute the real dispatcher.
type jobDispatcher interface {
	Dispatch(ctx context.Context, req Request) (string, error)
}

// MergeRouter turns merged-MR events into wiki-mode worker dispatches. Every
// failure on this path is swallowed: a failed wiki update must never affect
// the merge webhook's acknowledgment.
type MergeRouter struct {
	gitlab     issueGetter
	dispatcher jobDispatcher
}

// NewMergeRouter creates a router dispatching through the given dispatcher.
func NewMergeRouter(gitlab issueGetter, dispatcher jobDispatcher) *MergeRouter {
	return &MergeRouter{gitlab: gitlab, dispatcher: dispatcher}
}

// closing keywords recognized in MR descriptions, matched case-insensitively.
var closingKeywords = []string{"closes #", "fixes #", "resolves #"}

// ExtractIssueIID finds the first closing-keyword reference in an MR
// description and returns the linked issue iid. Most MRs have no linked
// issue; a missing or digit-less reference is not an error.
func ExtractIssueIID(description string) (int64, bool) {
	if description == "" {
		return 0, false
	}

	// Index and scan in the same lowered string: lowering can change the
	// byte length of earlier runes, so offsets into it do not transfer back
	// to the original. Digits are untouched by ToLower.
	lower := strings.ToLower(description)
	for _, kw := range closingKeywords {
		idx := strings.Index(lower, kw)
		if idx < 0 {
			continue
		}

		start := idx + len(kw)
		end := start
		for end < len(lower) && lower[end] >= '0' && lower[end] <= '9' {
			end++
		}
		if end == start {
			continue
		}

		var iid int64
		for _, ch := range lower[start:end] {
			iid = iid*10 + int64(ch-'0')
		}
		return iid, true
	}

	return 0, false
}

// HandleMergeEvent dispatches a wiki-update worker for the issue the merged
// MR closes, if it references one.
func (m *MergeRouter) HandleMergeEvent(ctx context.Context, ev *webhook.MergeRequestEvent) {
	if !ev.IsMerged() || ev.Project == nil {
		return
	}

	projectID := ev.Project.ID
	mrIID := ev.IID()

	issueIID, ok := ExtractIssueIID(ev.Description())
	if !ok {
		log.Warn().Int64("project", projectID).Int64("mr", mrIID).
			Msg("No issue IID found in MR description, skipping wiki update")
		return
	}

	if _, err := m.gitlab.GetIssue(ctx, projectID, issueIID); err != nil {
		log.Error().Err(err).Int64("issue", issueIID).
			Msg("Failed to fetch linked issue, skipping wiki update")
		return
	}

	jobName, err := m.dispatcher.Dispatch(ctx, Request{
		ProjectPath:     ev.Project.PathWithNamespace,
		ProjectID:       projectID,
		IssueIID:        issueIID,
		Mode:            TaskModeWiki,
		MRIID:           mrIID,
		TaskDescription: fmt.Sprintf("Wiki update after MR !%d merge", mrIID),
	})
	if err != nil {
		log.Error().Err(err).Int64("mr", mrIID).Msg("Failed to create wiki update worker")
		return
	}

	log.Info().Str("job", jobName).Int64("mr", mrIID).Msg("Created wiki update worker")
}
