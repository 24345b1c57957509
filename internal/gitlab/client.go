// Package gitlab is the controller's view of the GitLab REST API. It pairs
// the official client with a custom HTTP client for the endpoints the
// library doesn't cover cleanly, and normalizes every 4xx/5xx response into
// a typed APIError.
package gitlab

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// Config contains the GitLab connection settings.
type Config struct {
	URL         string
	Token       string
	BotUsername string
	Timeout     time.Duration
}

// Issue is the subset of issue fields the responders need.
type Issue struct {
	IID         int64
	Title       string
	Description string
	State       string
}

// MergeRequest is the subset of MR fields the responders need.
type MergeRequest struct {
	IID          int64
	Title        string
	Description  string
	State        string
	SourceBranch string
	TargetBranch string
}

// Client wraps the GitLab API surface this controller consumes.
type Client struct {
	api        *gitlab.Client
	httpClient *HTTPClient
	config     Config
}

// New creates a new GitLab client.
func New(config Config) (*Client, error) {
	api, err := gitlab.NewClient(config.Token,
		gitlab.WithBaseURL(fmt.Sprintf("%s/api/v4", config.URL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		api:        api,
		httpClient: NewHTTPClient(config.URL, config.Token, config.Timeout),
		config:     config,
	}, nil
}

// BotUsername returns the configured bot account name.
func (c *Client) BotUsername() string { return c.config.BotUsername }

// BaseURL returns the configured GitLab base URL.
func (c *Client) BaseURL() string { return c.config.URL }

// Token returns the configured access token. The dispatcher propagates it
// into worker environments.
func (c *Client) Token() string { return c.config.Token }

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.config.Timeout)
}

// GetIssue fetches one issue by project id and iid.
func (c *Client) GetIssue(ctx context.Context, projectID, issueIID int64) (*Issue, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	issue, resp, err := c.api.Issues.GetIssue(int(projectID), int(issueIID), gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrapAPIError("failed to get issue", resp, err)
	}

	return &Issue{
		IID:         int64(issue.IID),
		Title:       issue.Title,
		Description: issue.Description,
		State:       issue.State,
	}, nil
}

// UpdateIssueDescription replaces an issue's description.
func (c *Client) UpdateIssueDescription(ctx context.Context, projectID, issueIID int64, description string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	_, resp, err := c.api.Issues.UpdateIssue(int(projectID), int(issueIID), &gitlab.UpdateIssueOptions{
		Description: gitlab.Ptr(description),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return wrapAPIError("failed to update issue description", resp, err)
	}

	log.Debug().Int64("project", projectID).Int64("issue", issueIID).Msg("Issue description updated")
	return nil
}

// PostIssueComment posts a note on an issue.
func (c *Client) PostIssueComment(ctx context.Context, projectID, issueIID int64, body string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	_, resp, err := c.api.Notes.CreateIssueNote(int(projectID), int(issueIID), &gitlab.CreateIssueNoteOptions{
		Body: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return wrapAPIError("failed to post comment", resp, err)
	}

	log.Debug().Int64("project", projectID).Int64("issue", issueIID).Msg("Comment posted")
	return nil
}

// GetMergeRequest fetches one merge request by project id and iid.
func (c *Client) GetMergeRequest(ctx context.Context, projectID, mrIID int64) (*MergeRequest, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	mr, resp, err := c.api.MergeRequests.GetMergeRequest(int(projectID), int(mrIID),
		&gitlab.GetMergeRequestsOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrapAPIError("failed to get merge request", resp, err)
	}

	return &MergeRequest{
		IID:          int64(mr.IID),
		Title:        mr.Title,
		Description:  mr.Description,
		State:        mr.State,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
	}, nil
}

// PostMergeRequestComment posts a note on a merge request.
func (c *Client) PostMergeRequestComment(ctx context.Context, projectID, mrIID int64, body string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	_, resp, err := c.api.Notes.CreateMergeRequestNote(int(projectID), int(mrIID), &gitlab.CreateMergeRequestNoteOptions{
		Body: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return wrapAPIError("failed to post MR comment", resp, err)
	}

	log.Debug().Int64("project", projectID).Int64("mr", mrIID).Msg("MR comment posted")
	return nil
}

// CreateMergeRequest opens a merge request and returns its iid. The source
// branch is removed on merge, matching the worker's branch lifecycle.
func (c *Client) CreateMergeRequest(ctx context.Context, projectID int64, sourceBranch, targetBranch, title, description string) (int64, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	mr, resp, err := c.api.MergeRequests.CreateMergeRequest(int(projectID), &gitlab.CreateMergeRequestOptions{
		SourceBranch:       gitlab.Ptr(sourceBranch),
		TargetBranch:       gitlab.Ptr(targetBranch),
		Title:              gitlab.Ptr(title),
		Description:        gitlab.Ptr(description),
		RemoveSourceBranch: gitlab.Ptr(true),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return 0, wrapAPIError("failed to create merge request", resp, err)
	}

	log.Info().Int64("project", projectID).Int("mr", mr.IID).Msg("Merge request created")
	return int64(mr.IID), nil
}

// ListRelatedMergeRequests lists the merge requests GitLab links to an issue.
func (c *Client) ListRelatedMergeRequests(ctx context.Context, projectID, issueIID int64) ([]MergeRequest, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	mrs, resp, err := c.api.Issues.ListMergeRequestsRelatedToIssue(int(projectID), int(issueIID),
		&gitlab.ListMergeRequestsRelatedToIssueOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrapAPIError("failed to list related merge requests", resp, err)
	}

	out := make([]MergeRequest, 0, len(mrs))
	for _, mr := range mrs {
		out = append(out, MergeRequest{
			IID:          int64(mr.IID),
			Title:        mr.Title,
			Description:  mr.Description,
			State:        mr.State,
			SourceBranch: mr.SourceBranch,
			TargetBranch: mr.TargetBranch,
		})
	}
	return out, nil
}

// GetMergeRequestChanges fetches the code changes of a merge request via the
// custom HTTP client.
func (c *Client) GetMergeRequestChanges(ctx context.Context, projectID, mrIID int64) (*MergeRequestChanges, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	return c.httpClient.GetMergeRequestChanges(ctx, projectID, mrIID)
}

// wrapAPIError converts a failed GitLab call into an *APIError when a
// response status is available, otherwise wraps the transport error.
func wrapAPIError(msg string, resp *gitlab.Response, err error) error {
	if resp != nil && resp.Response != nil && resp.StatusCode >= 400 {
		log.Error().Int("status", resp.StatusCode).Str("op", msg).Msg("GitLab API error")
		return &APIError{Status: resp.StatusCode, Body: err.Error()}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
