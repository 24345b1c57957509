package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluffybot/internal/batch"
	"github.com/fluffybot/internal/webhook"
	"github.com/fluffybot/internal/worker"
)

type fakeIssueResponder struct {
	mu     sync.Mutex
	events []*webhook.IssueNoteEvent
}

func (f *fakeIssueResponder) HandleComment(ctx context.Context, ev *webhook.IssueNoteEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeIssueResponder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeMRResponder struct {
	mu     sync.Mutex
	events []*webhook.MergeRequestNoteEvent
}

func (f *fakeMRResponder) HandleLineComment(ctx context.Context, ev *webhook.MergeRequestNoteEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeMRResponder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeMergeRouter struct {
	mu     sync.Mutex
	events []*webhook.MergeRequestEvent
}

func (f *fakeMergeRouter) HandleMergeEvent(ctx context.Context, ev *webhook.MergeRequestEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeMergeRouter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeJobDispatcher struct {
	mu       sync.Mutex
	requests []worker.Request
	err      error
}

func (f *fakeJobDispatcher) Dispatch(ctx context.Context, req worker.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return "fluffybot-worker-12-1700000000", f.err
}

func (f *fakeJobDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeStatusReporter struct {
	views []worker.JobStatusView
	view  *worker.JobStatusView
	logs  string
	err   error
}

func (f *fakeStatusReporter) List(ctx context.Context) ([]worker.JobStatusView, error) {
	return f.views, f.err
}

func (f *fakeStatusReporter) Get(ctx context.Context, name string) (*worker.JobStatusView, error) {
	return f.view, f.err
}

func (f *fakeStatusReporter) Logs(ctx context.Context, name string) (string, error) {
	return f.logs, f.err
}

type testHarness struct {
	server     *Server
	pool       *batch.Pool
	issues     *fakeIssueResponder
	mrs        *fakeMRResponder
	router     *fakeMergeRouter
	dispatcher *fakeJobDispatcher
	status     *fakeStatusReporter
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		pool:       batch.NewPool(2, 8),
		issues:     &fakeIssueResponder{},
		mrs:        &fakeMRResponder{},
		router:     &fakeMergeRouter{},
		dispatcher: &fakeJobDispatcher{},
		status:     &fakeStatusReporter{},
	}
	h.server = NewServer(0, Deps{
		BotUsername:    "fluffybot",
		Pool:           h.pool,
		IssueResponder: h.issues,
		MRResponder:    h.mrs,
		MergeRouter:    h.router,
		Dispatcher:     h.dispatcher,
		StatusReporter: h.status,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h.pool.Shutdown(ctx)
	})
	return h
}

func (h *testHarness) post(t *testing.T, body string) (int, WebhookResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/gitlab", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.server.echo.ServeHTTP(rec, req)

	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

// waitFor polls until cond holds or the deadline passes; async handler work
// finishes shortly after the synchronous 200.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

const validIssuePayload = `{
	"object_kind": "issue",
	"user": {"username": "alice"},
	"project": {"id": 42, "path_with_namespace": "group/repo"},
	"assignees": [{"username": "fluffybot"}],
	"object_attributes": {
		"iid": 12,
		"title": "Add caching",
		"description": "Cache the hot path",
		"action": "open"
	}
}`

func TestWebhookAcceptsAssignedIssue(t *testing.T) {
	h := newHarness(t)

	code, resp := h.post(t, validIssuePayload)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, "Task accepted and worker job is being created", resp.Message)

	waitFor(t, func() bool { return h.dispatcher.count() == 1 })
	req := h.dispatcher.requests[0]
	assert.Equal(t, int64(42), req.ProjectID)
	assert.Equal(t, int64(12), req.IssueIID)
	assert.Equal(t, worker.TaskModeIssue, req.Mode)
	assert.Equal(t, "# Add caching\n\nCache the hot path", req.TaskDescription)
	assert.False(t, req.HasDescriptionDiff)
}

func TestWebhookIssueUpdateCarriesDescriptionDiff(t *testing.T) {
	h := newHarness(t)

	payload := `{
		"object_kind": "issue",
		"user": {"username": "alice"},
		"project": {"id": 42, "path_with_namespace": "group/repo"},
		"assignees": [{"username": "fluffybot"}],
		"object_attributes": {"iid": 12, "title": "Add caching", "description": "new", "action": "update"},
		"changes": {"description": {"previous": "old", "current": "new"}}
	}`

	_, resp := h.post(t, payload)
	assert.Equal(t, "accepted", resp.Status)

	waitFor(t, func() bool { return h.dispatcher.count() == 1 })
	req := h.dispatcher.requests[0]
	assert.True(t, req.HasDescriptionDiff)
	assert.Equal(t, "old", req.DescriptionPrevious)
	assert.Equal(t, "new", req.DescriptionCurrent)
}

func TestWebhookIgnoresUnassignedIssue(t *testing.T) {
	h := newHarness(t)

	payload := strings.Replace(validIssuePayload, `"assignees": [{"username": "fluffybot"}]`,
		`"assignees": [{"username": "bob"}]`, 1)
	_, resp := h.post(t, payload)
	assert.Equal(t, "ignored", resp.Status)
	assert.Equal(t, "Bot not assigned", resp.Message)
	assert.Zero(t, h.dispatcher.count())
}

func TestWebhookIgnoresInvalidIssueWithReason(t *testing.T) {
	h := newHarness(t)

	payload := strings.Replace(validIssuePayload, `"action": "open"`, `"action": "close"`, 1)
	_, resp := h.post(t, payload)
	assert.Equal(t, "ignored", resp.Status)
	assert.Equal(t, "Issue is being closed - ignoring", resp.Message)
}

func TestWebhookIgnoresBotOwnEvents(t *testing.T) {
	h := newHarness(t)

	payload := strings.Replace(validIssuePayload, `"user": {"username": "alice"}`,
		`"user": {"username": "fluffybot"}`, 1)
	_, resp := h.post(t, payload)
	assert.Equal(t, "ignored", resp.Status)
	assert.Equal(t, "Event from bot itself", resp.Message)
	assert.Zero(t, h.dispatcher.count())
}

func TestWebhookIgnoresUnsupportedKind(t *testing.T) {
	h := newHarness(t)

	code, resp := h.post(t, `{"object_kind": "pipeline"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ignored", resp.Status)
	assert.Equal(t, "Unsupported webhook type", resp.Message)
}

func TestWebhookIgnoresUnsupportedNoteable(t *testing.T) {
	h := newHarness(t)

	_, resp := h.post(t, `{"object_kind": "note", "object_attributes": {"noteable_type": "Snippet"}}`)
	assert.Equal(t, "ignored", resp.Status)
	assert.Equal(t, "Unsupported noteable type", resp.Message)
}

func TestWebhookIgnoresMalformedPayload(t *testing.T) {
	h := newHarness(t)

	code, resp := h.post(t, `{broken`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ignored", resp.Status)
	assert.Equal(t, "Failed to parse payload", resp.Message)
}

func TestWebhookRoutesIssueNote(t *testing.T) {
	h := newHarness(t)

	payload := `{
		"object_kind": "note",
		"user": {"username": "alice"},
		"project": {"id": 42},
		"object_attributes": {"note": "@fluffybot what is left?", "noteable_type": "Issue"},
		"issue": {"iid": 12, "title": "Add caching"}
	}`

	_, resp := h.post(t, payload)
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, "Issue comment processing started", resp.Message)

	waitFor(t, func() bool { return h.issues.count() == 1 })
}

func TestWebhookIgnoresNoteWithoutMention(t *testing.T) {
	h := newHarness(t)

	payload := `{
		"object_kind": "note",
		"user": {"username": "alice"},
		"project": {"id": 42},
		"object_attributes": {"note": "no mention here", "noteable_type": "Issue"},
		"issue": {"iid": 12}
	}`

	_, resp := h.post(t, payload)
	assert.Equal(t, "ignored", resp.Status)
	assert.Equal(t, "Comment does not mention bot", resp.Message)
	assert.Zero(t, h.issues.count())
}

func TestWebhookRoutesMRNote(t *testing.T) {
	h := newHarness(t)

	payload := `{
		"object_kind": "note",
		"user": {"username": "alice"},
		"project": {"id": 42},
		"object_attributes": {
			"note": "@fluffybot why?",
			"noteable_type": "MergeRequest",
			"position": {"new_path": "main.go", "new_line": 10}
		},
		"merge_request": {"iid": 3}
	}`

	_, resp := h.post(t, payload)
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, "MR comment processing started", resp.Message)

	waitFor(t, func() bool { return h.mrs.count() == 1 })
}

func TestWebhookRoutesMergedMR(t *testing.T) {
	h := newHarness(t)

	payload := `{
		"object_kind": "merge_request",
		"user": {"username": "alice"},
		"project": {"id": 42, "path_with_namespace": "group/repo"},
		"object_attributes": {"iid": 3, "state": "merged", "action": "merge", "description": "Closes #12"}
	}`

	_, resp := h.post(t, payload)
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, "MR merge event processing started", resp.Message)

	waitFor(t, func() bool { return h.router.count() == 1 })
}

func TestWebhookIgnoresUnmergedMR(t *testing.T) {
	h := newHarness(t)

	payload := `{
		"object_kind": "merge_request",
		"user": {"username": "alice"},
		"project": {"id": 42},
		"object_attributes": {"iid": 3, "state": "opened", "action": "update"}
	}`

	_, resp := h.post(t, payload)
	assert.Equal(t, "ignored", resp.Status)
	assert.Equal(t, "MR not merged", resp.Message)
	assert.Zero(t, h.router.count())
}

// A dispatch failure happens after the acknowledgment and never changes it.
func TestWebhookAcksBeforeDispatchFailure(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.err = errors.New("quota exceeded")

	_, resp := h.post(t, validIssuePayload)
	assert.Equal(t, "accepted", resp.Status)
	waitFor(t, func() bool { return h.dispatcher.count() == 1 })
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook/health", nil)
	rec := httptest.NewRecorder()
	h.server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
