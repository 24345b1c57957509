package gitlab

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// WikiContext aggregates every wiki page of a project into one context
// string for prompting: pages are fetched independently, rendered as
// title+content blocks, and joined in page-list order. A project without a
// wiki yields "" and no error.
func (c *Client) WikiContext(ctx context.Context, projectID int64) (string, error) {
	listCtx, cancel := c.callCtx(ctx)
	pages, err := c.httpClient.ListWikiPages(listCtx, projectID)
	cancel()
	if err != nil {
		return "", err
	}

	if len(pages) == 0 {
		log.Debug().Int64("project", projectID).Msg("No wiki pages found")
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("# Project Wiki\n\n")
	for _, page := range pages {
		if page.Slug == "" {
			continue
		}

		pageCtx, cancel := c.callCtx(ctx)
		full, err := c.httpClient.GetWikiPage(pageCtx, projectID, page.Slug)
		cancel()
		if err != nil {
			// A single unreadable page must not sink the whole context.
			log.Warn().Err(err).Str("slug", page.Slug).Msg("Failed to fetch wiki page")
			continue
		}
		if full.Title == "" || full.Content == "" {
			continue
		}

		sb.WriteString(fmt.Sprintf("## %s\n\n%s\n", full.Title, full.Content))
		sb.WriteString("\n---\n\n")
	}

	return sb.String(), nil
}

// CreateWikiPage creates a wiki page in the project's wiki.
func (c *Client) CreateWikiPage(ctx context.Context, projectID int64, title, content string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	if _, err := c.httpClient.CreateWikiPage(ctx, projectID, title, content, "markdown"); err != nil {
		return err
	}
	log.Info().Int64("project", projectID).Str("title", title).Msg("Created wiki page")
	return nil
}

// UpdateWikiPage updates an existing wiki page by slug.
func (c *Client) UpdateWikiPage(ctx context.Context, projectID int64, slug, title, content string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	if _, err := c.httpClient.UpdateWikiPage(ctx, projectID, slug, title, content, "markdown"); err != nil {
		return err
	}
	log.Info().Int64("project", projectID).Str("slug", slug).Msg("Updated wiki page")
	return nil
}
