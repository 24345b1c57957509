package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluffybot/internal/gitlab"
	"github.com/fluffybot/internal/webhook"
	"github.com/fluffybot/internal/worker"
)

// WebhookResponse is the acknowledgment body of the webhook endpoint. A
// recognized-but-rejected event is still a 200; only the status field tells
// GitLab whether anything will happen.
type WebhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func accepted(message string) WebhookResponse {
	return WebhookResponse{Status: "accepted", Message: message}
}

func ignored(message string) WebhookResponse {
	return WebhookResponse{Status: "ignored", Message: message}
}

// GitLabWebhookHandler classifies one webhook delivery and hands the chosen
// handler's remote I/O to the pool. The response never waits on that work.
func (s *Server) GitLabWebhookHandler(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusOK, ignored("Failed to parse payload"))
	}

	deliveryID := uuid.NewString()
	logger := log.With().Str("delivery", deliveryID).Logger()

	ev, err := webhook.ParseEvent(body)
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrUnknownKind):
			logger.Debug().Msg("Unsupported webhook type")
			return c.JSON(http.StatusOK, ignored("Unsupported webhook type"))
		case errors.Is(err, webhook.ErrUnknownNoteable):
			logger.Debug().Msg("Unsupported noteable type")
			return c.JSON(http.StatusOK, ignored("Unsupported noteable type"))
		default:
			logger.Error().Err(err).Msg("Failed to parse webhook payload")
			return c.JSON(http.StatusOK, ignored("Failed to parse payload"))
		}
	}

	// Anti-feedback-loop gate: the bot's own activity must never trigger
	// the bot, whatever the event kind.
	if ev.Actor() == s.deps.BotUsername {
		logger.Debug().Msg("Ignoring event from fluffybot itself")
		return c.JSON(http.StatusOK, ignored("Event from bot itself"))
	}

	switch ev := ev.(type) {
	case *webhook.IssueEvent:
		return s.handleIssueEvent(c, logger, ev)
	case *webhook.IssueNoteEvent:
		return s.handleIssueNote(c, logger, ev)
	case *webhook.MergeRequestNoteEvent:
		return s.handleMergeRequestNote(c, logger, ev)
	case *webhook.MergeRequestEvent:
		return s.handleMergeRequestEvent(c, logger, ev)
	default:
		return c.JSON(http.StatusOK, ignored("Unsupported webhook type"))
	}
}

func (s *Server) handleIssueEvent(c echo.Context, logger zerolog.Logger, ev *webhook.IssueEvent) error {
	if reason := webhook.Validate(ev); reason != "" {
		logger.Debug().Str("reason", reason).Msg("Webhook ignored")
		return c.JSON(http.StatusOK, ignored(reason))
	}

	if !ev.HasAssignee(s.deps.BotUsername) {
		logger.Debug().Msg("Bot not assigned, ignoring webhook")
		return c.JSON(http.StatusOK, ignored("Bot not assigned"))
	}

	previous, current, hasDiff := ev.DescriptionChange()
	req := worker.Request{
		ProjectPath:         ev.Project.PathWithNamespace,
		ProjectID:           ev.Project.ID,
		IssueIID:            ev.IID(),
		Mode:                worker.TaskModeIssue,
		DescriptionPrevious: previous,
		DescriptionCurrent:  current,
		HasDescriptionDiff:  hasDiff,
		TaskDescription:     ev.TaskDescription(),
	}

	logger.Info().Int64("project", req.ProjectID).Int64("issue", req.IssueIID).Msg("Processing task")

	ok := s.deps.Pool.Submit(fmt.Sprintf("dispatch-issue-%d", req.IssueIID), func(ctx context.Context) {
		if _, err := s.deps.Dispatcher.Dispatch(ctx, req); err != nil {
			logger.Error().Err(err).Msg("Failed to create worker job")
		}
	})
	if !ok {
		return c.JSON(http.StatusOK, ignored("Processing queue full"))
	}

	return c.JSON(http.StatusOK, accepted("Task accepted and worker job is being created"))
}

func (s *Server) handleIssueNote(c echo.Context, logger zerolog.Logger, ev *webhook.IssueNoteEvent) error {
	if ev.Project == nil || ev.Issue == nil {
		return c.JSON(http.StatusOK, ignored("Failed to parse payload"))
	}

	if !gitlab.DetectMention(ev.Note(), s.deps.BotUsername) {
		logger.Debug().Msg("Comment does not mention fluffybot, ignoring")
		return c.JSON(http.StatusOK, ignored("Comment does not mention bot"))
	}

	logger.Info().Int64("project", ev.Project.ID).Int64("issue", ev.Issue.IID).
		Msg("Processing issue note hook")

	ok := s.deps.Pool.Submit(fmt.Sprintf("issue-note-%d", ev.Issue.IID), func(ctx context.Context) {
		s.deps.IssueResponder.HandleComment(ctx, ev)
	})
	if !ok {
		return c.JSON(http.StatusOK, ignored("Processing queue full"))
	}

	return c.JSON(http.StatusOK, accepted("Issue comment processing started"))
}

func (s *Server) handleMergeRequestNote(c echo.Context, logger zerolog.Logger, ev *webhook.MergeRequestNoteEvent) error {
	if ev.Project == nil || ev.MergeRequest == nil {
		return c.JSON(http.StatusOK, ignored("Failed to parse payload"))
	}

	if !gitlab.DetectMention(ev.Note(), s.deps.BotUsername) {
		logger.Debug().Msg("Comment does not mention fluffybot, ignoring")
		return c.JSON(http.StatusOK, ignored("Comment does not mention bot"))
	}

	logger.Info().Int64("project", ev.Project.ID).Int64("mr", ev.MergeRequest.IID).
		Msg("Processing MR note hook")

	ok := s.deps.Pool.Submit(fmt.Sprintf("mr-note-%d", ev.MergeRequest.IID), func(ctx context.Context) {
		s.deps.MRResponder.HandleLineComment(ctx, ev)
	})
	if !ok {
		return c.JSON(http.StatusOK, ignored("Processing queue full"))
	}

	return c.JSON(http.StatusOK, accepted("MR comment processing started"))
}

func (s *Server) handleMergeRequestEvent(c echo.Context, logger zerolog.Logger, ev *webhook.MergeRequestEvent) error {
	if !ev.IsMerged() {
		logger.Debug().Msg("MR not merged, ignoring webhook")
		return c.JSON(http.StatusOK, ignored("MR not merged"))
	}

	logger.Info().Int64("mr", ev.IID()).Msg("Processing MR merge event")

	ok := s.deps.Pool.Submit(fmt.Sprintf("mr-merge-%d", ev.IID()), func(ctx context.Context) {
		s.deps.MergeRouter.HandleMergeEvent(ctx, ev)
	})
	if !ok {
		return c.JSON(http.StatusOK, ignored("Processing queue full"))
	}

	return c.JSON(http.StatusOK, accepted("MR merge event processing started"))
}
