package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient is a custom HTTP client for the GitLab API endpoints the
// official client does not cover cleanly: wiki pages and the MR changes
// endpoint.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a new GitLab HTTP client
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	// Make sure baseURL doesn't end with a slash
	if len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}

	return &HTTPClient{
		baseURL: fmt.Sprintf("%s/api/v4", baseURL),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// WikiPage represents a GitLab wiki page
type WikiPage struct {
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Format  string `json:"format"`
}

// MergeRequestChange is one file entry of the MR changes endpoint.
type MergeRequestChange struct {
	OldPath     string `json:"old_path"`
	NewPath     string `json:"new_path"`
	Diff        string `json:"diff"`
	NewFile     bool   `json:"new_file"`
	RenamedFile bool   `json:"renamed_file"`
	DeletedFile bool   `json:"deleted_file"`
}

// MergeRequestChanges represents the changes in a GitLab merge request
type MergeRequestChanges struct {
	ID        int64                `json:"id"`
	IID       int64                `json:"iid"`
	ProjectID int64                `json:"project_id"`
	Title     string               `json:"title"`
	State     string               `json:"state"`
	Changes   []MergeRequestChange `json:"changes"`
}

// GetMergeRequestChanges gets the changes for a merge request
func (c *HTTPClient) GetMergeRequestChanges(ctx context.Context, projectID, mrIID int64) (*MergeRequestChanges, error) {
	path := fmt.Sprintf("/projects/%d/merge_requests/%d/changes", projectID, mrIID)

	var changes MergeRequestChanges
	if err := c.do(ctx, http.MethodGet, path, nil, &changes); err != nil {
		return nil, err
	}
	return &changes, nil
}

// ListWikiPages lists all wiki pages of a project, in GitLab's page-list
// order, without content.
func (c *HTTPClient) ListWikiPages(ctx context.Context, projectID int64) ([]WikiPage, error) {
	path := fmt.Sprintf("/projects/%d/wikis", projectID)

	var pages []WikiPage
	if err := c.do(ctx, http.MethodGet, path, nil, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

// GetWikiPage fetches a single wiki page, including its content.
func (c *HTTPClient) GetWikiPage(ctx context.Context, projectID int64, slug string) (*WikiPage, error) {
	path := fmt.Sprintf("/projects/%d/wikis/%s", projectID, url.PathEscape(slug))

	var page WikiPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CreateWikiPage creates a wiki page. Format defaults to markdown.
func (c *HTTPClient) CreateWikiPage(ctx context.Context, projectID int64, title, content, format string) (*WikiPage, error) {
	if format == "" {
		format = "markdown"
	}
	path := fmt.Sprintf("/projects/%d/wikis", projectID)
	body := map[string]string{
		"title":   title,
		"content": content,
		"format":  format,
	}

	var page WikiPage
	if err := c.do(ctx, http.MethodPost, path, body, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// UpdateWikiPage updates an existing wiki page by slug.
func (c *HTTPClient) UpdateWikiPage(ctx context.Context, projectID int64, slug, title, content, format string) (*WikiPage, error) {
	if format == "" {
		format = "markdown"
	}
	path := fmt.Sprintf("/projects/%d/wikis/%s", projectID, url.PathEscape(slug))
	body := map[string]string{
		"title":   title,
		"content": content,
		"format":  format,
	}

	var page WikiPage
	if err := c.do(ctx, http.MethodPut, path, body, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// do executes one API request. Non-2xx responses become an *APIError
// carrying the status and body.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Add("PRIVATE-TOKEN", c.token)
	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
