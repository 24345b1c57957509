package worker

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Job status vocabulary exposed by the reporter.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// JobStatusView is the external projection of one worker job, derived
// exclusively from the job's labels and its native status block.
type JobStatusView struct {
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	ProjectID      int64      `json:"project_id"`
	IssueIID       int64      `json:"issue_iid"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
	Succeeded      int32      `json:"succeeded"`
	Failed         int32      `json:"failed"`
}

// StatusReporter reads worker job state from the cluster.
type StatusReporter struct {
	client    kubernetes.Interface
	namespace string
}

// NewStatusReporter creates a reporter over the configured namespace.
func NewStatusReporter(client kubernetes.Interface, namespace string) *StatusReporter {
	return &StatusReporter{client: client, namespace: namespace}
}

// List enumerates all worker jobs in the namespace.
func (r *StatusReporter) List(ctx context.Context) ([]JobStatusView, error) {
	jobs, err := r.client.BatchV1().Jobs(r.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "app=" + appLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	views := make([]JobStatusView, 0, len(jobs.Items))
	for i := range jobs.Items {
		views = append(views, projectJob(&jobs.Items[i]))
	}
	return views, nil
}

// Get fetches one worker job by name. An absent job yields nil without an
// error.
func (r *StatusReporter) Get(ctx context.Context, name string) (*JobStatusView, error) {
	job, err := r.client.BatchV1().Jobs(r.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	view := projectJob(job)
	return &view, nil
}

// Logs returns the log text of the first pod belonging to the named job.
// A job without pods yields a sentinel string rather than an error.
func (r *StatusReporter) Logs(ctx context.Context, name string) (string, error) {
	pods, err := r.client.CoreV1().Pods(r.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "job-name=" + name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to list pods: %w", err)
	}

	if len(pods.Items) == 0 {
		return fmt.Sprintf("No pods found for job: %s", name), nil
	}

	podName := pods.Items[0].Name
	stream, err := r.client.CoreV1().Pods(r.namespace).GetLogs(podName, &corev1.PodLogOptions{}).Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch pod logs: %w", err)
	}
	defer stream.Close()

	logs, err := io.ReadAll(stream)
	if err != nil {
		return "", fmt.Errorf("failed to read pod logs: %w", err)
	}

	log.Debug().Str("job", name).Str("pod", podName).Int("bytes", len(logs)).Msg("Fetched job logs")
	return string(logs), nil
}

// projectJob derives the external view from labels plus the native status
// block only.
func projectJob(job *batchv1.Job) JobStatusView {
	view := JobStatusView{
		Name:      job.Name,
		Status:    deriveStatus(job.Status),
		Succeeded: job.Status.Succeeded,
		Failed:    job.Status.Failed,
	}

	if v, err := strconv.ParseInt(job.Labels["project-id"], 10, 64); err == nil {
		view.ProjectID = v
	}
	if v, err := strconv.ParseInt(job.Labels["issue-iid"], 10, 64); err == nil {
		view.IssueIID = v
	}
	if job.Status.StartTime != nil {
		t := job.Status.StartTime.Time
		view.StartTime = &t
	}
	if job.Status.CompletionTime != nil {
		t := job.Status.CompletionTime.Time
		view.CompletionTime = &t
	}

	return view
}

// deriveStatus maps the native status block into the closed vocabulary.
// Succeeded wins over failed wins over active; a zero-value block is
// pending.
func deriveStatus(status batchv1.JobStatus) string {
	switch {
	case status.Succeeded > 0:
		return StatusSucceeded
	case status.Failed > 0:
		return StatusFailed
	case status.Active > 0:
		return StatusRunning
	default:
		return StatusPending
	}
}
