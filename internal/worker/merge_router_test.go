package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluffybot/internal/gitlab"
	"github.com/fluffybot/internal/webhook"
)

type fakeIssueGetter struct {
	issue *gitlab.Issue
	err   error
	calls int
}

func (f *fakeIssueGetter) GetIssue(ctx context.Context, projectID, issueIID int64) (*gitlab.Issue, error) {
	f.calls++
	return f.issue, f.err
}

type fakeDispatcher struct {
	requests []Request
	err      error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return "fluffybot-worker-12-1700000000", nil
}

func TestExtractIssueIID(t *testing.T) {
	tests := []struct {
		description string
		iid         int64
		ok          bool
	}{
		{"Closes #12", 12, true},
		{"closes #12", 12, true},
		{"Fixes #7 and more", 7, true},
		{"Resolves #123", 123, true},
		{"RESOLVES #5", 5, true},
		{"some text\n\nCloses #42\n", 42, true},
		{"", 0, false},
		{"no reference here", 0, false},
		{"Closes #", 0, false},
		{"Closes #abc", 0, false},
		// A digit-less first keyword must not hide a later valid one.
		{"Closes # and fixes #9", 9, true},
		// Runes whose lowercase form has a different byte length must not
		// shift the digit scan off the reference.
		{"İstanbul rollout\n\nCloses #12", 12, true},
		{"Set 300K limit. Fixes #7", 7, true},
	}

	for _, tt := range tests {
		iid, ok := ExtractIssueIID(tt.description)
		assert.Equal(t, tt.ok, ok, "description: %q", tt.description)
		assert.Equal(t, tt.iid, iid, "description: %q", tt.description)
	}
}

func mergedEvent(description string) *webhook.MergeRequestEvent {
	return &webhook.MergeRequestEvent{
		Project: &webhook.Project{ID: 42, PathWithNamespace: "group/repo"},
		ObjectAttributes: &webhook.MergeRequestAttributes{
			IID:         3,
			State:       "merged",
			Action:      "merge",
			Description: description,
		},
	}
}

func TestHandleMergeEventDispatchesWikiWorker(t *testing.T) {
	getter := &fakeIssueGetter{issue: &gitlab.Issue{IID: 12, Title: "Add caching"}}
	dispatcher := &fakeDispatcher{}
	router := NewMergeRouter(getter, dispatcher)

	router.HandleMergeEvent(context.Background(), mergedEvent("Closes #12"))

	require.Len(t, dispatcher.requests, 1)
	req := dispatcher.requests[0]
	assert.Equal(t, TaskModeWiki, req.Mode)
	assert.Equal(t, int64(42), req.ProjectID)
	assert.Equal(t, int64(12), req.IssueIID)
	assert.Equal(t, int64(3), req.MRIID)
	assert.Equal(t, "Wiki update after MR !3 merge", req.TaskDescription)
}

func TestHandleMergeEventWithoutIssueReference(t *testing.T) {
	getter := &fakeIssueGetter{}
	dispatcher := &fakeDispatcher{}
	router := NewMergeRouter(getter, dispatcher)

	router.HandleMergeEvent(context.Background(), mergedEvent("routine cleanup"))

	assert.Zero(t, getter.calls)
	assert.Empty(t, dispatcher.requests)
}

func TestHandleMergeEventIssueLookupFails(t *testing.T) {
	getter := &fakeIssueGetter{err: errors.New("404 issue not found")}
	dispatcher := &fakeDispatcher{}
	router := NewMergeRouter(getter, dispatcher)

	router.HandleMergeEvent(context.Background(), mergedEvent("Closes #12"))

	assert.Equal(t, 1, getter.calls)
	assert.Empty(t, dispatcher.requests)
}

func TestHandleMergeEventIgnoresUnmerged(t *testing.T) {
	getter := &fakeIssueGetter{}
	dispatcher := &fakeDispatcher{}
	router := NewMergeRouter(getter, dispatcher)

	ev := mergedEvent("Closes #12")
	ev.ObjectAttributes.Action = "update"
	router.HandleMergeEvent(context.Background(), ev)

	assert.Empty(t, dispatcher.requests)
}

// Dispatch failures are logged and swallowed; the router never panics or
// propagates on this path.
func TestHandleMergeEventDispatchFails(t *testing.T) {
	getter := &fakeIssueGetter{issue: &gitlab.Issue{IID: 12}}
	dispatcher := &fakeDispatcher{err: errors.New("quota exceeded")}
	router := NewMergeRouter(getter, dispatcher)

	router.HandleMergeEvent(context.Background(), mergedEvent("Closes #12"))
	require.Len(t, dispatcher.requests, 1)
}
