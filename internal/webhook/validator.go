package webhook

// Validate applies the issue-event acceptance rules in order and returns the
// rejection reason for the first rule that matches, or "" when the event is
// accepted. Close and reopen are rejected before the generic action check so
// their reasons stay specific: a reopen that also edits the description
// arrives again as a separate update event, and processing both would
// duplicate work.
func Validate(ev *IssueEvent) string {
	if ev == nil {
		return "Not an issue hook"
	}

	if ev.IsCloseAction() {
		return "Issue is being closed - ignoring"
	}

	if ev.IsReopenAction() {
		return "Issue is being reopened - ignoring (description update will trigger separately)"
	}

	if !ev.IsOpenOrUpdate() {
		return "Issue action is not open or update"
	}

	// Update events without a description change are label/assignee-only
	// edits.
	if ev.action() == "update" && !ev.HasDescriptionChange() {
		return "Update without description change - ignoring"
	}

	if ev.Project == nil || ev.Project.ID == 0 {
		return "Missing project information"
	}

	if ev.ObjectAttributes == nil {
		return "Missing object attributes"
	}

	if ev.IID() == 0 {
		return "Missing issue IID"
	}

	if ev.Title() == "" {
		return "Missing issue title"
	}

	return ""
}
