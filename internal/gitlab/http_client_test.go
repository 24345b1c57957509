package gitlab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMergeRequestChanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/projects/42/merge_requests/3/changes", r.URL.Path)
		assert.Equal(t, "glpat-secret", r.Header.Get("PRIVATE-TOKEN"))

		json.NewEncoder(w).Encode(MergeRequestChanges{
			IID:   3,
			Title: "Refactor fetcher",
			Changes: []MergeRequestChange{
				{OldPath: "main.go", NewPath: "main.go", Diff: "@@ -1 +1 @@"},
			},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "glpat-secret", 5*time.Second)
	changes, err := c.GetMergeRequestChanges(context.Background(), 42, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), changes.IID)
	require.Len(t, changes.Changes, 1)
	assert.Equal(t, "main.go", changes.Changes[0].NewPath)
}

func TestListAndGetWikiPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v4/projects/42/wikis":
			json.NewEncoder(w).Encode([]WikiPage{
				{Slug: "home", Title: "Home"},
				{Slug: "architecture", Title: "Architecture"},
			})
		case "/api/v4/projects/42/wikis/home":
			json.NewEncoder(w).Encode(WikiPage{
				Slug: "home", Title: "Home", Content: "welcome", Format: "markdown",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "glpat-secret", 5*time.Second)

	pages, err := c.ListWikiPages(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, pages, 2)

	page, err := c.GetWikiPage(context.Background(), 42, "home")
	require.NoError(t, err)
	assert.Equal(t, "welcome", page.Content)
}

func TestCreateWikiPageDefaultsFormat(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(WikiPage{Slug: "new-page", Title: received["title"]})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "glpat-secret", 5*time.Second)
	page, err := c.CreateWikiPage(context.Background(), 42, "New Page", "content", "")
	require.NoError(t, err)
	assert.Equal(t, "new-page", page.Slug)
	assert.Equal(t, "markdown", received["format"])
}

func TestUpdateWikiPageEscapesSlug(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v4/projects/42/wikis/deep%2Fpage", r.URL.EscapedPath())
		json.NewEncoder(w).Encode(WikiPage{Slug: "deep/page"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "glpat-secret", 5*time.Second)
	_, err := c.UpdateWikiPage(context.Background(), 42, "deep/page", "Deep", "content", "markdown")
	require.NoError(t, err)
}

func TestErrorResponsesBecomeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message": "403 Forbidden"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "glpat-secret", 5*time.Second)
	_, err := c.GetMergeRequestChanges(context.Background(), 42, 3)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Contains(t, apiErr.Body, "403 Forbidden")
}

func TestBaseURLTrailingSlashTrimmed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/projects/42/wikis", r.URL.Path)
		json.NewEncoder(w).Encode([]WikiPage{})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "glpat-secret", 5*time.Second)
	_, err := c.ListWikiPages(context.Background(), 42)
	require.NoError(t, err)
}
