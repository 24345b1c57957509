package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	appLabel       = "fluffybot-worker"
	managedByLabel = "fluffybot-webhook"

	// Finished jobs are garbage-collected by the substrate after this
	// window; the controller never deletes jobs itself.
	jobTTLSeconds = 3600

	registrySecretName = "fluffy-registry-secret"
	workerEntrypoint   = "/entrypoint.sh"
)

// DispatchError signals that a requested worker was never launched. Unlike
// conversational failures this one propagates: the webhook was already
// acknowledged, and without the error the work would silently not happen.
type DispatchError struct {
	JobName string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("failed to create worker job %s: %v", e.JobName, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Config contains everything a dispatched worker inherits from the
// controller's configuration.
type Config struct {
	Namespace       string
	Image           string
	GitLabURL       string
	GitLabToken     string
	BotUsername     string
	AnthropicAPIKey string
	CPURequest      string
	CPULimit        string
	MemoryRequest   string
	MemoryLimit     string
}

// commenter is the slice of the GitLab client the dispatcher needs for
// best-effort failure reporting.
type commenter interface {
	PostIssueComment(ctx context.Context, projectID, issueIID int64, body string) error
}

// Dispatcher converts validated events into worker Jobs on the cluster.
type Dispatcher struct {
	client kubernetes.Interface
	gitlab commenter
	config Config
	now    func() time.Time
}

// NewDispatcher creates a dispatcher submitting jobs through the given
// clientset.
func NewDispatcher(client kubernetes.Interface, gitlab commenter, config Config) *Dispatcher {
	return &Dispatcher{
		client: client,
		gitlab: gitlab,
		config: config,
		now:    time.Now,
	}
}

// Request carries the event-specific fields of one dispatch.
type Request struct {
	ProjectPath         string
	ProjectID           int64
	IssueIID            int64
	Mode                TaskMode
	MRIID               int64
	DescriptionPrevious string
	DescriptionCurrent  string
	HasDescriptionDiff  bool
	TaskDescription     string
	SkipMRCreation      bool
}

// Dispatch builds a worker task for the request, submits its job
// specification to the cluster, and returns the created job's name. On
// submission failure a best-effort error comment is posted to the
// originating issue and a *DispatchError is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	task := d.buildTask(req)
	jobName := JobName(task.IssueIID, d.now())

	log.Info().
		Str("job", jobName).
		Int64("project", task.ProjectID).
		Int64("issue", task.IssueIID).
		Str("mode", string(task.Mode)).
		Str("task", req.TaskDescription).
		Msg("Dispatching worker job")

	job := buildJobSpec(jobName, d.config, task)

	created, err := d.client.BatchV1().Jobs(d.config.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		log.Error().Err(err).Str("job", jobName).Msg("Failed to create worker job")
		d.postErrorComment(ctx, task, err)
		return "", &DispatchError{JobName: jobName, Err: err}
	}

	log.Info().
		Str("job", created.Name).
		Str("namespace", d.config.Namespace).
		Msg("Created worker job")
	return created.Name, nil
}

func (d *Dispatcher) buildTask(req Request) Task {
	mode := req.Mode
	if mode == "" {
		mode = TaskModeIssue
	}

	return Task{
		GitLabURL:           d.config.GitLabURL,
		GitLabToken:         d.config.GitLabToken,
		BotUsername:         d.config.BotUsername,
		ProjectPath:         req.ProjectPath,
		ProjectID:           req.ProjectID,
		IssueIID:            req.IssueIID,
		AnthropicAPIKey:     d.config.AnthropicAPIKey,
		Mode:                mode,
		MRIID:               req.MRIID,
		DescriptionPrevious: req.DescriptionPrevious,
		DescriptionCurrent:  req.DescriptionCurrent,
		HasDescriptionDiff:  req.HasDescriptionDiff,
		SkipMRCreation:      req.SkipMRCreation,
	}
}

// buildJobSpec constructs the single-container job: no restarts, no retry
// budget, fixed TTL after completion, task serialized into the environment,
// labels on both job and pod template.
func buildJobSpec(jobName string, cfg Config, task Task) *batchv1.Job {
	labels := task.Labels()

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: cfg.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			TTLSecondsAfterFinished: ptrInt32(jobTTLSeconds),
			BackoffLimit:            ptrInt32(0),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					ImagePullSecrets: []corev1.LocalObjectReference{
						{Name: registrySecretName},
					},
					Containers: []corev1.Container{
						{
							Name:    "worker",
							Image:   cfg.Image,
							Command: []string{workerEntrypoint},
							Env:     task.Env(),
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceCPU:    resource.MustParse(cfg.CPURequest),
									corev1.ResourceMemory: resource.MustParse(cfg.MemoryRequest),
								},
								Limits: corev1.ResourceList{
									corev1.ResourceCPU:    resource.MustParse(cfg.CPULimit),
									corev1.ResourceMemory: resource.MustParse(cfg.MemoryLimit),
								},
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "workspace", MountPath: "/workspace"},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: "workspace",
							VolumeSource: corev1.VolumeSource{
								EmptyDir: &corev1.EmptyDirVolumeSource{},
							},
						},
					},
				},
			},
		},
	}
}

func (d *Dispatcher) postErrorComment(ctx context.Context, task Task, cause error) {
	comment := fmt.Sprintf(
		"❌ Failed to create worker job\n\nError: %s\n\nPlease contact an administrator.",
		cause.Error(),
	)

	if err := d.gitlab.PostIssueComment(ctx, task.ProjectID, task.IssueIID, comment); err != nil {
		log.Error().Err(err).Msg("Failed to post dispatch error comment")
	}
}

func ptrInt32(v int32) *int32 { return &v }
