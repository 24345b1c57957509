// Package worker owns the ephemeral worker lifecycle: converting a validated
// event into an immutable task, building and submitting the Kubernetes Job
// that runs it, routing merge events into wiki-mode tasks, and projecting
// native job state into the controller's status vocabulary.
package worker

import (
	"fmt"
	"strconv"
	"time"

	corev1 "k8s.io/api/core/v1"
)

// TaskMode selects what a dispatched worker does.
type TaskMode string

const (
	// TaskModeIssue makes the worker implement the issue's description.
	TaskModeIssue TaskMode = "issue"
	// TaskModeWiki makes the worker update the project wiki after a merge.
	TaskModeWiki TaskMode = "wiki"
)

// Task is the dispatch unit handed to a worker. It is never mutated after
// construction; one Task produces exactly one Job.
type Task struct {
	GitLabURL       string
	GitLabToken     string
	BotUsername     string
	ProjectPath     string
	ProjectID       int64
	IssueIID        int64
	AnthropicAPIKey string
	Mode            TaskMode
	// MRIID is set for wiki-mode tasks only.
	MRIID int64
	// Description previous/current pair for incremental work; valid only
	// when HasDescriptionDiff is set.
	DescriptionPrevious string
	DescriptionCurrent  string
	HasDescriptionDiff  bool
	SkipMRCreation      bool
}

// JobName builds the unique-per-dispatch job name. Two dispatches for the
// same issue inside one second collide; the substrate's AlreadyExists error
// then surfaces through the dispatch failure channel.
func JobName(issueIID int64, now time.Time) string {
	return fmt.Sprintf("fluffybot-worker-%d-%d", issueIID, now.Unix())
}

// Env serializes the task into the container environment. These variable
// names are the ABI between the controller and the worker image; do not
// rename them.
func (t Task) Env() []corev1.EnvVar {
	env := []corev1.EnvVar{
		{Name: "GITLAB_URL", Value: t.GitLabURL},
		{Name: "GITLAB_TOKEN", Value: t.GitLabToken},
		{Name: "BOT_USERNAME", Value: t.BotUsername},
		{Name: "PROJECT_PATH", Value: t.ProjectPath},
		{Name: "PROJECT_ID", Value: strconv.FormatInt(t.ProjectID, 10)},
		{Name: "ISSUE_IID", Value: strconv.FormatInt(t.IssueIID, 10)},
		{Name: "ANTHROPIC_API_KEY", Value: t.AnthropicAPIKey},
		{Name: "SKIP_MR_CREATION", Value: strconv.FormatBool(t.SkipMRCreation)},
		{Name: "TASK_MODE", Value: string(t.Mode)},
	}

	if t.MRIID > 0 {
		env = append(env, corev1.EnvVar{Name: "MR_IID", Value: strconv.FormatInt(t.MRIID, 10)})
	}
	if t.HasDescriptionDiff {
		env = append(env,
			corev1.EnvVar{Name: "DESCRIPTION_PREVIOUS", Value: t.DescriptionPrevious},
			corev1.EnvVar{Name: "DESCRIPTION_CURRENT", Value: t.DescriptionCurrent},
		)
	}

	return env
}

// Labels returns the label set attached to both the job and its pod
// template. The status reporter correlates jobs back to GitLab entities
// through these labels alone; there is no side database.
func (t Task) Labels() map[string]string {
	return map[string]string{
		"app":        appLabel,
		"managed-by": managedByLabel,
		"project-id": strconv.FormatInt(t.ProjectID, 10),
		"issue-iid":  strconv.FormatInt(t.IssueIID, 10),
	}
}
