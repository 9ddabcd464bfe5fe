// Package runner starts render engine jobs on an execution backend.
package runner

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/alessio/shellescape"

	"github.com/paperhtml/renderd/internal/backend"
	"github.com/paperhtml/renderd/internal/config"
	"github.com/paperhtml/renderd/internal/logger"
)

// Mount point of the media root inside job containers in local storage mode
const containerMountRoot = "/mnt"

// EnvCredentials carries the storage credentials into jobs in gcs mode
const EnvCredentials = "GOOGLE_APPLICATION_CREDENTIALS_JSON"

// Config holds what the runner needs to build a job
type Config struct {
	Image   string
	Network string
	Storage config.StorageConfig
}

// Job is one engine invocation. Source and Output are storage keys.
type Job struct {
	Source string
	Output string
	// WebhookURL is called with the exit code before the job exits; empty
	// disables the callback.
	WebhookURL string
	Labels     map[string]string
}

// Runner launches detached engine containers
type Runner struct {
	backend backend.Backend
	cfg     Config
}

// New creates a runner on top of b
func New(b backend.Backend, cfg Config) *Runner {
	return &Runner{backend: b, cfg: cfg}
}

// Start launches job and returns the container id. Backend errors are
// returned as is; retrying is up to the caller.
func (r *Runner) Start(ctx context.Context, job Job) (string, error) {
	spec, err := r.Spec(job)
	if err != nil {
		return "", err
	}

	id, err := r.backend.Run(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("failed to start render job for %s: %w", job.Source, err)
	}
	logger.InfoWithFields("Started render job", map[string]interface{}{
		"job_handle": id,
		"source":     job.Source,
		"output":     job.Output,
	})
	return id, nil
}

// Spec builds the container spec for job
func (r *Runner) Spec(job Job) (backend.RunSpec, error) {
	if job.Source == "" || job.Output == "" {
		return backend.RunSpec{}, fmt.Errorf("source and output are required")
	}

	spec := backend.RunSpec{
		Image:   r.cfg.Image,
		Env:     map[string]string{},
		Labels:  job.Labels,
		Network: r.cfg.Network,
	}

	var source, output string
	switch r.cfg.Storage.Mode {
	case config.StorageModeGCS:
		source = gcsURI(r.cfg.Storage.Bucket, job.Source)
		output = gcsURI(r.cfg.Storage.Bucket, job.Output)
		if r.cfg.Storage.CredentialsJSON != "" {
			spec.Env[EnvCredentials] = r.cfg.Storage.CredentialsJSON
		}
	default:
		hostRoot := r.cfg.Storage.HostMediaRoot
		if hostRoot == "" {
			abs, err := filepath.Abs(r.cfg.Storage.MediaRoot)
			if err != nil {
				return backend.RunSpec{}, fmt.Errorf("failed to resolve media root: %w", err)
			}
			hostRoot = abs
		}
		target := path.Join(containerMountRoot, filepath.Base(r.cfg.Storage.MediaRoot))
		spec.Mounts = []backend.Mount{{Source: hostRoot, Target: target}}
		source = path.Join(target, job.Source)
		output = path.Join(target, job.Output)
	}

	spec.Cmd = Command(source, output, job.WebhookURL)
	return spec, nil
}

// Command returns the argv running the engine and reporting its exit code.
// The callback has to happen inside the job because the container is still
// alive while it runs.
func Command(source, output, webhookURL string) []string {
	steps := []string{
		fmt.Sprintf("engrafo -o %s %s", shellescape.Quote(output), shellescape.Quote(source)),
		"EXIT_CODE=$?",
	}
	if webhookURL != "" {
		steps = append(steps,
			fmt.Sprintf("echo Calling webhook %s with payload exit_code=$EXIT_CODE", shellescape.Quote(webhookURL)),
			fmt.Sprintf("curl -D - -X POST -F exit_code=$EXIT_CODE %s", shellescape.Quote(webhookURL)),
		)
	}
	steps = append(steps, "exit $EXIT_CODE")
	return []string{"sh", "-c", strings.Join(steps, "; ")}
}

func gcsURI(bucket, key string) string {
	return "gs://" + bucket + "/" + strings.TrimPrefix(key, "/")
}
