package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperhtml/renderd/internal/backend"
	"github.com/paperhtml/renderd/internal/config"
)

func TestCommand(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		output  string
		webhook string
		want    string
	}{
		{
			name:   "without webhook",
			source: "/mnt/media/src/1802.00001.tar.gz",
			output: "/mnt/media/render-output/1",
			want:   "engrafo -o /mnt/media/render-output/1 /mnt/media/src/1802.00001.tar.gz; EXIT_CODE=$?; exit $EXIT_CODE",
		},
		{
			name:    "with webhook",
			source:  "gs://b/src/a b.tar.gz",
			output:  "gs://b/render-output/2",
			webhook: "http://web:8080/renders/2/update-state",
			want: "engrafo -o gs://b/render-output/2 'gs://b/src/a b.tar.gz'; EXIT_CODE=$?; " +
				"echo Calling webhook http://web:8080/renders/2/update-state with payload exit_code=$EXIT_CODE; " +
				"curl -D - -X POST -F exit_code=$EXIT_CODE http://web:8080/renders/2/update-state; " +
				"exit $EXIT_CODE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := Command(tt.source, tt.output, tt.webhook)
			require.Len(t, cmd, 3)
			assert.Equal(t, "sh", cmd[0])
			assert.Equal(t, "-c", cmd[1])
			assert.Equal(t, tt.want, cmd[2])
		})
	}
}

func TestRunner_SpecLocal(t *testing.T) {
	r := New(backend.NewFake(), Config{
		Image:   "engine",
		Network: "renderd_default",
		Storage: config.StorageConfig{
			Mode:          config.StorageModeLocal,
			MediaRoot:     "/srv/app/media",
			HostMediaRoot: "/home/me/app/media",
		},
	})

	spec, err := r.Spec(Job{Source: "src/1.tar.gz", Output: "render-output/1", Labels: map[string]string{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, "engine", spec.Image)
	assert.Equal(t, "renderd_default", spec.Network)
	assert.Equal(t, []backend.Mount{{Source: "/home/me/app/media", Target: "/mnt/media"}}, spec.Mounts)
	assert.Contains(t, spec.Cmd[2], "engrafo -o /mnt/media/render-output/1 /mnt/media/src/1.tar.gz")
	assert.Equal(t, "v", spec.Labels["k"])
	assert.Empty(t, spec.Env)
}

func TestRunner_SpecGCS(t *testing.T) {
	r := New(backend.NewFake(), Config{
		Image: "engine",
		Storage: config.StorageConfig{
			Mode:            config.StorageModeGCS,
			Bucket:          "renders",
			CredentialsJSON: `{"type":"service_account"}`,
		},
	})

	spec, err := r.Spec(Job{Source: "src/1.tar.gz", Output: "render-output/1"})
	require.NoError(t, err)
	assert.Empty(t, spec.Mounts)
	assert.Contains(t, spec.Cmd[2], "engrafo -o gs://renders/render-output/1 gs://renders/src/1.tar.gz")
	assert.Equal(t, `{"type":"service_account"}`, spec.Env[EnvCredentials])

	_, err = r.Spec(Job{Output: "render-output/1"})
	assert.Error(t, err)
}

func TestRunner_Start(t *testing.T) {
	fake := backend.NewFake()
	r := New(fake, Config{Image: "engine", Storage: config.StorageConfig{Mode: config.StorageModeGCS, Bucket: "b"}})

	id, err := r.Start(context.Background(), Job{Source: "s", Output: "o", WebhookURL: "http://x/renders/1/update-state"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, fake.Runs(), 1)
	assert.Contains(t, fake.Runs()[0].Cmd[2], "curl -D - -X POST -F exit_code=$EXIT_CODE http://x/renders/1/update-state")

	fake.FailRun(errors.New("connection refused"))
	_, err = r.Start(context.Background(), Job{Source: "s", Output: "o"})
	assert.ErrorContains(t, err, "connection refused")
}
