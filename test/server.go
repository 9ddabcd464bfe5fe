package test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/paperhtml/renderd/pkg/api/v1/client"
	"github.com/paperhtml/renderd/pkg/api/v1/handlers"
)

// testClientTimeout is the timeout for test API client requests
const testClientTimeout = 5 * time.Second

// WithServer returns an option that serves the API on a real listener, so
// jobs can call back on the webhook URL they are started with.
func WithServer() Option {
	return func(env *TestEnvironment) {
		env.withServer = true
	}
}

// startServer reserves a listener first, since the webhook URL prefix is
// part of the service configuration
func startServer(env *TestEnvironment) {
	env.Server = httptest.NewUnstartedServer(nil)
	env.renderOptions.WebhookURLPrefix = "http://" + env.Server.Listener.Addr().String()

	env.App = env.buildApp()
	env.Server.Config.Handler = adaptor.FiberApp(env.App.NewServer())
	env.Server.Start()

	apiClient, err := client.NewClient(&client.Options{
		BaseURL: env.Server.URL,
		Timeout: testClientTimeout,
	})
	env.Require().NoError(err, "Failed to create API client")
	env.APIClient = apiClient

	originalCleanup := env.cleanup
	env.cleanup = func() {
		env.Server.Close()
		if originalCleanup != nil {
			originalCleanup()
		}
	}
}

// PostWebhook plays the part of a finished job: it posts the exit code to
// the webhook URL of the render and returns the response status.
func (e *TestEnvironment) PostWebhook(renderID uint, exitCode string) int {
	e.Require().NotNil(e.Server, "PostWebhook needs WithServer")

	form := url.Values{handlers.ExitCodeField: {exitCode}}
	req, err := http.NewRequestWithContext(e.ctx, http.MethodPost, e.App.Renders.WebhookURL(renderID), strings.NewReader(form.Encode()))
	e.Require().NoError(err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	e.Require().NoError(err)
	defer resp.Body.Close()
	return resp.StatusCode
}
