package server

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/swaggerfix/internal/api"
	"github.com/jackzampolin/swaggerfix/internal/home"
	"github.com/jackzampolin/swaggerfix/internal/pipeline"
	"github.com/jackzampolin/swaggerfix/internal/providers"
	"github.com/jackzampolin/swaggerfix/internal/server/endpoints"
	"github.com/jackzampolin/swaggerfix/internal/testutil"
)

const brokenPetstore = `openapi: 3.0.3
info:
  title: Petstore
paths:
  /pets:
    get:
      responses:
        "200":
          description: ok
`

const petstoreFix = `---
YAML:
openapi: 3.0.3
info:
  title: Petstore
  version: 1.0.0
paths:
  /pets:
    get:
      responses:
        "200":
          description: ok
---
EXPLANATIONS:
- Added info.version.
`

// startServer runs a server with a scripted provider and returns its URL.
func startServer(t *testing.T, mock *providers.MockClient) (*Server, string) {
	t.Helper()
	cfg := testutil.NewServerConfig(t)
	h, err := home.New(cfg.HomeDir)
	require.NoError(t, err)

	srv, err := New(Config{Host: cfg.Host, Port: cfg.Port, Home: h, Logger: cfg.Logger})
	require.NoError(t, err)
	if mock != nil {
		srv.Registry().RegisterLLM(providers.MockClientName, mock)
		srv.Registry().SetDefault(providers.MockClientName)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	starter := testutil.StartServer{Cancel: cancel, Done: done}
	t.Cleanup(starter.Stop)

	require.NoError(t, testutil.WaitForServer(cfg.URL(), 30*time.Second))
	return srv, cfg.URL()
}

func TestServer_UploadCorrectWorkflow(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Latency = 0
	mock.Responses = []string{petstoreFix}
	srv, url := startServer(t, mock)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	client := api.NewClient(url)

	path := filepath.Join(t.TempDir(), "petstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(brokenPetstore), 0o644))

	var uploaded endpoints.UploadResponse
	require.NoError(t, client.UploadFile(ctx, "/upload", path, &uploaded))
	assert.Equal(t, "petstore.yaml", uploaded.Filename)

	var validated endpoints.ValidateResponse
	require.NoError(t, client.Post(ctx, "/validate", endpoints.ValidateRequest{
		SpecSource: endpoints.SpecSource{ID: uploaded.ID},
	}, &validated))
	assert.False(t, validated.Valid)

	var (
		types []string
		done  pipeline.Done
	)
	err := client.Stream(ctx, "/llm-correct", endpoints.CorrectRequest{
		SpecSource: endpoints.SpecSource{ID: uploaded.ID},
	}, func(event string, data []byte) error {
		types = append(types, event)
		if event == pipeline.EventDone {
			return json.Unmarshal(data, &done)
		}
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, types)
	assert.Equal(t, pipeline.EventDone, types[len(types)-1])
	assert.True(t, done.Valid)
	require.NotNil(t, done.Corrected)
	assert.Contains(t, done.Corrected.Diff, "+  version: 1.0.0")

	var runs endpoints.RunsResponse
	require.NoError(t, client.Get(ctx, "/api/runs?spec_id="+uploaded.ID, &runs))
	require.Equal(t, 1, runs.Total)
	assert.Equal(t, done.RunID, runs.Runs[0].ID)

	// LLM call records go through the sink; wait for the flush.
	require.Eventually(t, func() bool {
		var calls endpoints.LLMCallsResponse
		if err := client.Get(ctx, "/api/llmcalls?run_id="+done.RunID, &calls); err != nil {
			return false
		}
		return calls.Total == 1
	}, 10*time.Second, 100*time.Millisecond)

	require.NoError(t, client.Delete(ctx, "/api/specs/"+uploaded.ID))
	err = client.Get(ctx, "/api/specs/"+uploaded.ID, &struct{}{})
	assert.Error(t, err)

	assert.True(t, srv.IsRunning())
}

func TestServer_ContextCancellation(t *testing.T) {
	cfg := testutil.NewServerConfig(t)
	h, err := home.New(cfg.HomeDir)
	require.NoError(t, err)

	srv, err := New(Config{Host: cfg.Host, Port: cfg.Port, Home: h, Logger: cfg.Logger})
	require.NoError(t, err)

	serverErr := make(chan error, 1)
	serverCtx, serverCancel := context.WithCancel(context.Background())
	go func() { serverErr <- srv.Start(serverCtx) }()

	require.NoError(t, testutil.WaitForServer(cfg.URL(), 30*time.Second))

	// Cancel context immediately
	serverCancel()

	require.NoError(t, testutil.WaitForShutdown(serverErr, 30*time.Second))
	assert.False(t, srv.IsRunning())
}
