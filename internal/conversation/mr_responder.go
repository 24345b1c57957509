package conversation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fluffybot/internal/gitlab"
	"github.com/fluffybot/internal/webhook"
)

// maxCodeContextBytes caps the diff excerpt embedded in the prompt.
const maxCodeContextBytes = 4000

// mrAPI is the slice of the GitLab client the MR responder consumes.
type mrAPI interface {
	GetMergeRequest(ctx context.Context, projectID, mrIID int64) (*gitlab.MergeRequest, error)
	GetMergeRequestChanges(ctx context.Context, projectID, mrIID int64) (*gitlab.MergeRequestChanges, error)
	PostMergeRequestComment(ctx context.Context, projectID, mrIID int64, body string) error
}

// MRResponder answers @-mentions on merge request diff lines.
type MRResponder struct {
	gitlab      mrAPI
	llm         Chatter
	botUsername string
}

// NewMRResponder creates an MR line-comment responder.
func NewMRResponder(gitlabClient mrAPI, llm Chatter, botUsername string) *MRResponder {
	return &MRResponder{gitlab: gitlabClient, llm: llm, botUsername: botUsername}
}

// HandleLineComment processes one MR line comment end to end.
func (r *MRResponder) HandleLineComment(ctx context.Context, ev *webhook.MergeRequestNoteEvent) {
	if ev.Project == nil || ev.MergeRequest == nil {
		return
	}

	comment := ev.Note()
	projectID := ev.Project.ID
	mrIID := ev.MergeRequest.IID

	if !gitlab.DetectMention(comment, r.botUsername) {
		log.Debug().Msg("Comment does not mention fluffybot, ignoring")
		return
	}

	if !ev.IsLineComment() {
		log.Debug().Int64("mr", mrIID).Msg("Not a line comment, ignoring")
		return
	}

	filePath := ev.ResolvedPath()
	lineNumber := ev.ResolvedLine()

	log.Info().Int64("project", projectID).Int64("mr", mrIID).
		Str("file", filePath).Int("line", lineNumber).
		Msg("Processing MR line comment")

	mr, err := r.gitlab.GetMergeRequest(ctx, projectID, mrIID)
	if err != nil {
		r.postFailure(ctx, projectID, mrIID, err)
		return
	}

	changes, err := r.gitlab.GetMergeRequestChanges(ctx, projectID, mrIID)
	if err != nil {
		r.postFailure(ctx, projectID, mrIID, err)
		return
	}

	codeContext := extractCodeContext(changes, filePath, lineNumber)
	prompt := buildLineCommentPrompt(comment, mr.Title, mr.Description, filePath, lineNumber, codeContext)

	reply, err := r.llm.Chat(ctx, prompt)
	if err != nil {
		r.postFailure(ctx, projectID, mrIID, err)
		return
	}

	r.postComment(ctx, projectID, mrIID, reply)
}

// extractCodeContext returns the diff of the file the comment anchors to,
// falling back to a plain file/line note when the file is not in the change
// set.
func extractCodeContext(changes *gitlab.MergeRequestChanges, filePath string, lineNumber int) string {
	for _, change := range changes.Changes {
		if change.NewPath != filePath && change.OldPath != filePath {
			continue
		}
		diff := change.Diff
		if len(diff) > maxCodeContextBytes {
			diff = diff[:maxCodeContextBytes]
		}
		return diff
	}
	return fmt.Sprintf("File: %s, Line: %d", filePath, lineNumber)
}

func (r *MRResponder) postFailure(ctx context.Context, projectID, mrIID int64, cause error) {
	log.Error().Err(cause).Int64("project", projectID).Int64("mr", mrIID).
		Msg("Failed to handle line comment")
	r.postComment(ctx, projectID, mrIID,
		fmt.Sprintf("❌ Line comment processing failed: %s", cause.Error()))
}

func (r *MRResponder) postComment(ctx context.Context, projectID, mrIID int64, body string) {
	if err := r.gitlab.PostMergeRequestComment(ctx, projectID, mrIID, body); err != nil {
		log.Error().Err(err).Msg("Failed to post MR comment")
	}
}
