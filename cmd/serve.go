package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/fluffybot/internal/ai"
	"github.com/fluffybot/internal/api"
	"github.com/fluffybot/internal/batch"
	"github.com/fluffybot/internal/config"
	"github.com/fluffybot/internal/conversation"
	"github.com/fluffybot/internal/gitlab"
	"github.com/fluffybot/internal/worker"
)

// ServeCommand returns the CLI command for starting the webhook server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the fluffybot webhook server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the webhook server (overrides config)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	configPath := c.String("config")
	if _, err := os.Stat(configPath); err != nil {
		// Fall back to the default search paths and environment.
		configPath = ""
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	port := cfg.Server.Port
	if c.IsSet("port") {
		port = c.Int("port")
	}

	gitlabClient, err := gitlab.New(gitlab.Config{
		URL:         cfg.GitLab.URL,
		Token:       cfg.GitLab.Token,
		BotUsername: cfg.GitLab.BotUsername,
		Timeout:     cfg.GitLabTimeout(),
	})
	if err != nil {
		return fmt.Errorf("failed to create GitLab client: %w", err)
	}

	llm, err := ai.NewConnector(ai.Options{
		APIKey:            cfg.Anthropic.APIKey,
		Model:             cfg.Anthropic.Model,
		MaxTokens:         cfg.Anthropic.MaxTokens,
		Timeout:           cfg.AnthropicTimeout(),
		RequestsPerMinute: cfg.Anthropic.RequestsPerMinute,
	})
	if err != nil {
		return fmt.Errorf("failed to create AI connector: %w", err)
	}

	clientset, err := newKubeClient(cfg.Worker.Kubeconfig)
	if err != nil {
		return fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	dispatcher := worker.NewDispatcher(clientset, gitlabClient, worker.Config{
		Namespace:       cfg.Worker.Namespace,
		Image:           cfg.Worker.Image,
		GitLabURL:       cfg.GitLab.URL,
		GitLabToken:     cfg.GitLab.Token,
		BotUsername:     cfg.GitLab.BotUsername,
		AnthropicAPIKey: cfg.Anthropic.APIKey,
		CPURequest:      cfg.Worker.CPURequest,
		CPULimit:        cfg.Worker.CPULimit,
		MemoryRequest:   cfg.Worker.MemoryRequest,
		MemoryLimit:     cfg.Worker.MemoryLimit,
	})

	pool := batch.NewPool(cfg.Pool.Workers, cfg.Pool.QueueSize)

	server := api.NewServer(port, api.Deps{
		BotUsername:    cfg.GitLab.BotUsername,
		Pool:           pool,
		IssueResponder: conversation.NewIssueResponder(gitlabClient, llm, cfg.GitLab.BotUsername),
		MRResponder:    conversation.NewMRResponder(gitlabClient, llm, cfg.GitLab.BotUsername),
		MergeRouter:    worker.NewMergeRouter(gitlabClient, dispatcher),
		Dispatcher:     dispatcher,
		StatusReporter: worker.NewStatusReporter(clientset, cfg.Worker.Namespace),
	})

	log.Info().Int("port", port).Str("namespace", cfg.Worker.Namespace).
		Msg("Starting fluffybot webhook server")

	return server.Start()
}

// newKubeClient prefers in-cluster credentials and falls back to a kubeconfig
// file for local runs.
func newKubeClient(kubeconfig string) (kubernetes.Interface, error) {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		if kubeconfig == "" {
			home, herr := os.UserHomeDir()
			if herr != nil {
				return nil, fmt.Errorf("not in cluster and no kubeconfig available: %w", err)
			}
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubeconfig: %w", err)
		}
	}
	return kubernetes.NewForConfig(restConfig)
}
