// Package conversation implements the synchronous reply paths: comments on
// issues answered through a JSON intent protocol with wiki context, and MR
// line comments answered free-text with diff context. Both paths convert
// every failure into a best-effort comment on the originating thread and
// never propagate errors.
package conversation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fluffybot/internal/ai"
	"github.com/fluffybot/internal/gitlab"
	"github.com/fluffybot/internal/webhook"
)

// issueAPI is the slice of the GitLab client the issue responder consumes.
type issueAPI interface {
	GetIssue(ctx context.Context, projectID, issueIID int64) (*gitlab.Issue, error)
	WikiContext(ctx context.Context, projectID int64) (string, error)
	PostIssueComment(ctx context.Context, projectID, issueIID int64, body string) error
}

// Chatter is the single-call LLM surface both responders consume.
type Chatter interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// IssueResponder answers @-mentions in issue comments.
type IssueResponder struct {
	gitlab      issueAPI
	llm         Chatter
	botUsername string
}

// NewIssueResponder creates an issue-comment responder.
func NewIssueResponder(gitlabClient issueAPI, llm Chatter, botUsername string) *IssueResponder {
	return &IssueResponder{gitlab: gitlabClient, llm: llm, botUsername: botUsername}
}

// HandleComment processes one issue comment end to end. The bot-actor gate
// runs at the routing layer; the mention gate is checked here for callers
// invoking the responder directly.
func (r *IssueResponder) HandleComment(ctx context.Context, ev *webhook.IssueNoteEvent) {
	if ev.Project == nil || ev.Issue == nil {
		return
	}

	comment := ev.Note()
	projectID := ev.Project.ID
	issueIID := ev.Issue.IID

	if !gitlab.DetectMention(comment, r.botUsername) {
		log.Debug().Msg("Comment does not mention fluffybot, ignoring")
		return
	}

	log.Info().Int64("project", projectID).Int64("issue", issueIID).Msg("Processing issue comment")

	issue, err := r.gitlab.GetIssue(ctx, projectID, issueIID)
	if err != nil {
		r.postFailure(ctx, projectID, issueIID, err)
		return
	}

	// A degraded wiki is no reason to leave the user without an answer.
	wikiContext, err := r.gitlab.WikiContext(ctx, projectID)
	if err != nil {
		log.Warn().Err(err).Int64("project", projectID).Msg("Failed to build wiki context, proceeding without")
		wikiContext = ""
	}

	prompt := buildIssuePrompt(comment, issue.Title, issue.Description, wikiContext)

	response, err := r.llm.Chat(ctx, prompt)
	if err != nil {
		r.postFailure(ctx, projectID, issueIID, err)
		return
	}

	r.postIntent(ctx, projectID, issueIID, response)
}

// postIntent parses the model reply as a typed intent and posts the matching
// comment. A malformed reply degrades to a fixed generic failure comment; it
// is never escalated.
func (r *IssueResponder) postIntent(ctx context.Context, projectID, issueIID int64, response string) {
	intent, err := ai.ParseIntent(response)
	if err != nil {
		log.Error().Err(err).Msg("Failed to parse model response")
		r.postComment(ctx, projectID, issueIID, "❌ Failed to process the AI response.")
		return
	}

	switch intent.Type {
	case ai.IntentAnswer:
		r.postComment(ctx, projectID, issueIID, intent.Content)
	case ai.IntentSuggestPrompt:
		r.postComment(ctx, projectID, issueIID, suggestionMarker+intent.Content)
	}
}

func (r *IssueResponder) postFailure(ctx context.Context, projectID, issueIID int64, cause error) {
	log.Error().Err(cause).Int64("project", projectID).Int64("issue", issueIID).
		Msg("Failed to handle issue comment")
	r.postComment(ctx, projectID, issueIID,
		fmt.Sprintf("❌ Comment processing failed: %s", cause.Error()))
}

func (r *IssueResponder) postComment(ctx context.Context, projectID, issueIID int64, body string) {
	if err := r.gitlab.PostIssueComment(ctx, projectID, issueIID, body); err != nil {
		log.Error().Err(err).Msg("Failed to post issue comment")
	}
}
