// Package webhook models the GitLab webhook payloads this controller reacts
// to. The wire format is one JSON shape discriminated by object_kind (and,
// for notes, noteable_type); ParseEvent decodes it into one concrete variant
// per combination so handlers never see fields that don't belong to them.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownKind is returned for object_kind values this controller
	// does not handle.
	ErrUnknownKind = errors.New("unsupported webhook type")

	// ErrUnknownNoteable is returned for note events attached to anything
	// other than an issue or a merge request.
	ErrUnknownNoteable = errors.New("unsupported noteable type")
)

// User identifies the GitLab user who triggered an event.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Project identifies the project an event belongs to.
type Project struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
	GitHTTPURL        string `json:"git_http_url"`
}

// DescriptionChange carries the previous/current pair GitLab sends when an
// issue description is edited.
type DescriptionChange struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// Position anchors a note to a file/line in a merge request diff.
type Position struct {
	BaseSHA  string `json:"base_sha"`
	HeadSHA  string `json:"head_sha"`
	StartSHA string `json:"start_sha"`
	OldPath  string `json:"old_path"`
	NewPath  string `json:"new_path"`
	OldLine  *int   `json:"old_line"`
	NewLine  *int   `json:"new_line"`
}

// Event is the decoded form of one webhook delivery.
type Event interface {
	// Kind returns the object_kind discriminator value.
	Kind() string
	// Actor returns the username of the user who triggered the event.
	Actor() string
}

// IssueAttributes is the object_attributes block of an issue hook.
type IssueAttributes struct {
	ID          int64  `json:"id"`
	IID         int64  `json:"iid"`
	Title       string `json:"title"`
	Description string `json:"description"`
	State       string `json:"state"`
	Action      string `json:"action"`
}

// IssueChanges holds the subset of the changes block we care about.
type IssueChanges struct {
	Description *DescriptionChange `json:"description"`
}

// IssueEvent is an issue hook (open/update/close/reopen).
type IssueEvent struct {
	ObjectKind       string           `json:"object_kind"`
	User             *User            `json:"user"`
	Project          *Project         `json:"project"`
	Assignees        []User           `json:"assignees"`
	ObjectAttributes *IssueAttributes `json:"object_attributes"`
	Changes          *IssueChanges    `json:"changes"`
}

func (e *IssueEvent) Kind() string { return "issue" }

func (e *IssueEvent) Actor() string {
	if e.User == nil {
		return ""
	}
	return e.User.Username
}

// IID returns the project-scoped issue number, 0 when absent.
func (e *IssueEvent) IID() int64 {
	if e.ObjectAttributes == nil {
		return 0
	}
	return e.ObjectAttributes.IID
}

// Title returns the issue title, "" when absent.
func (e *IssueEvent) Title() string {
	if e.ObjectAttributes == nil {
		return ""
	}
	return e.ObjectAttributes.Title
}

// Description returns the issue description, "" when absent.
func (e *IssueEvent) Description() string {
	if e.ObjectAttributes == nil {
		return ""
	}
	return e.ObjectAttributes.Description
}

func (e *IssueEvent) action() string {
	if e.ObjectAttributes == nil {
		return ""
	}
	return e.ObjectAttributes.Action
}

// IsCloseAction reports whether the event closes the issue.
func (e *IssueEvent) IsCloseAction() bool { return e.action() == "close" }

// IsReopenAction reports whether the event reopens the issue.
func (e *IssueEvent) IsReopenAction() bool { return e.action() == "reopen" }

// IsOpenOrUpdate reports whether the event is one of the two actions that
// can trigger work.
func (e *IssueEvent) IsOpenOrUpdate() bool {
	a := e.action()
	return a == "open" || a == "update"
}

// HasDescriptionChange reports whether GitLab included a description
// previous/current pair. Update events without one are label/assignee-only
// edits and must not trigger work.
func (e *IssueEvent) HasDescriptionChange() bool {
	return e.Changes != nil && e.Changes.Description != nil
}

// DescriptionChange returns the previous/current description pair when the
// event carries one.
func (e *IssueEvent) DescriptionChange() (previous, current string, ok bool) {
	if !e.HasDescriptionChange() {
		return "", "", false
	}
	return e.Changes.Description.Previous, e.Changes.Description.Current, true
}

// HasAssignee reports whether the given username appears in the issue's
// assignee list.
func (e *IssueEvent) HasAssignee(username string) bool {
	for _, a := range e.Assignees {
		if a.Username == username {
			return true
		}
	}
	return false
}

// TaskDescription renders the issue title and description as the task text
// handed to a worker.
func (e *IssueEvent) TaskDescription() string {
	var sb strings.Builder
	if t := e.Title(); t != "" {
		sb.WriteString("# ")
		sb.WriteString(t)
		sb.WriteString("\n\n")
	}
	sb.WriteString(e.Description())
	return strings.TrimSpace(sb.String())
}

// NoteAttributes is the object_attributes block of a note hook.
type NoteAttributes struct {
	ID           int64     `json:"id"`
	Note         string    `json:"note"`
	NoteableType string    `json:"noteable_type"`
	Position     *Position `json:"position"`
}

// IssueRef is the issue block embedded in a note-on-issue hook.
type IssueRef struct {
	IID         int64  `json:"iid"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// IssueNoteEvent is a comment on an issue.
type IssueNoteEvent struct {
	ObjectKind       string          `json:"object_kind"`
	User             *User           `json:"user"`
	Project          *Project        `json:"project"`
	ObjectAttributes *NoteAttributes `json:"object_attributes"`
	Issue            *IssueRef       `json:"issue"`
}

func (e *IssueNoteEvent) Kind() string { return "note" }

func (e *IssueNoteEvent) Actor() string {
	if e.User == nil {
		return ""
	}
	return e.User.Username
}

// Note returns the comment body.
func (e *IssueNoteEvent) Note() string {
	if e.ObjectAttributes == nil {
		return ""
	}
	return e.ObjectAttributes.Note
}

// MergeRequestRef is the merge_request block embedded in a note-on-MR hook.
type MergeRequestRef struct {
	IID          int64  `json:"iid"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	State        string `json:"state"`
}

// MergeRequestNoteEvent is a comment on a merge request, possibly anchored
// to a diff line.
type MergeRequestNoteEvent struct {
	ObjectKind       string           `json:"object_kind"`
	User             *User            `json:"user"`
	Project          *Project         `json:"project"`
	ObjectAttributes *NoteAttributes  `json:"object_attributes"`
	MergeRequest     *MergeRequestRef `json:"merge_request"`
}

func (e *MergeRequestNoteEvent) Kind() string { return "note" }

func (e *MergeRequestNoteEvent) Actor() string {
	if e.User == nil {
		return ""
	}
	return e.User.Username
}

// Note returns the comment body.
func (e *MergeRequestNoteEvent) Note() string {
	if e.ObjectAttributes == nil {
		return ""
	}
	return e.ObjectAttributes.Note
}

// IsLineComment reports whether the note is anchored to a diff line: a
// position record with a resolvable line number must be present.
func (e *MergeRequestNoteEvent) IsLineComment() bool {
	if e.ObjectAttributes == nil || e.ObjectAttributes.Position == nil {
		return false
	}
	pos := e.ObjectAttributes.Position
	return pos.NewLine != nil || pos.OldLine != nil
}

// ResolvedPath returns the file path the note anchors to, preferring the
// new path over the old one.
func (e *MergeRequestNoteEvent) ResolvedPath() string {
	pos := e.ObjectAttributes.Position
	if pos.NewPath != "" {
		return pos.NewPath
	}
	return pos.OldPath
}

// ResolvedLine returns the line number the note anchors to, preferring
// new_line over old_line. Call only when IsLineComment holds.
func (e *MergeRequestNoteEvent) ResolvedLine() int {
	pos := e.ObjectAttributes.Position
	if pos.NewLine != nil {
		return *pos.NewLine
	}
	if pos.OldLine != nil {
		return *pos.OldLine
	}
	return 0
}

// MergeRequestAttributes is the object_attributes block of a merge request hook.
type MergeRequestAttributes struct {
	ID           int64  `json:"id"`
	IID          int64  `json:"iid"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	State        string `json:"state"`
	Action       string `json:"action"`
	MergeStatus  string `json:"merge_status"`
}

// MergeRequestEvent is a merge request hook (open/update/merge/...).
type MergeRequestEvent struct {
	ObjectKind       string                  `json:"object_kind"`
	User             *User                   `json:"user"`
	Project          *Project                `json:"project"`
	ObjectAttributes *MergeRequestAttributes `json:"object_attributes"`
}

func (e *MergeRequestEvent) Kind() string { return "merge_request" }

func (e *MergeRequestEvent) Actor() string {
	if e.User == nil {
		return ""
	}
	return e.User.Username
}

// IID returns the project-scoped MR number, 0 when absent.
func (e *MergeRequestEvent) IID() int64 {
	if e.ObjectAttributes == nil {
		return 0
	}
	return e.ObjectAttributes.IID
}

// Description returns the MR description, "" when absent.
func (e *MergeRequestEvent) Description() string {
	if e.ObjectAttributes == nil {
		return ""
	}
	return e.ObjectAttributes.Description
}

// IsMerged reports whether this event is the authoritative merge signal.
// GitLab emits update actions on already-merged MRs; only state=merged
// combined with action=merge counts.
func (e *MergeRequestEvent) IsMerged() bool {
	return e.ObjectAttributes != nil &&
		e.ObjectAttributes.State == "merged" &&
		e.ObjectAttributes.Action == "merge"
}

// ParseEvent decodes one webhook delivery into its concrete variant based on
// the object_kind discriminator (and noteable_type for note hooks).
func ParseEvent(raw []byte) (Event, error) {
	var head struct {
		ObjectKind       string `json:"object_kind"`
		ObjectAttributes struct {
			NoteableType string `json:"noteable_type"`
		} `json:"object_attributes"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}

	switch head.ObjectKind {
	case "issue":
		var ev IssueEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("failed to parse issue hook: %w", err)
		}
		return &ev, nil

	case "note":
		switch head.ObjectAttributes.NoteableType {
		case "Issue":
			var ev IssueNoteEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				return nil, fmt.Errorf("failed to parse note hook: %w", err)
			}
			return &ev, nil
		case "MergeRequest":
			var ev MergeRequestNoteEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				return nil, fmt.Errorf("failed to parse note hook: %w", err)
			}
			return &ev, nil
		default:
			return nil, ErrUnknownNoteable
		}

	case "merge_request":
		var ev MergeRequestEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("failed to parse merge request hook: %w", err)
		}
		return &ev, nil

	default:
		return nil, ErrUnknownKind
	}
}
