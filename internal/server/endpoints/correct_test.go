package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/swaggerfix/internal/api"
	"github.com/jackzampolin/swaggerfix/internal/pipeline"
	"github.com/jackzampolin/swaggerfix/internal/providers"
	"github.com/jackzampolin/swaggerfix/internal/store"
)

type sseEvent struct {
	Type string
	Data json.RawMessage
}

func (e *testEnv) correct(t *testing.T, req CorrectRequest) []sseEvent {
	t.Helper()
	rec := e.postJSON(t, "/llm-correct", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var events []sseEvent
	err := api.ReadEvents(bytes.NewReader(rec.Body.Bytes()), func(event string, data []byte) error {
		events = append(events, sseEvent{Type: event, Data: append(json.RawMessage(nil), data...)})
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	return events
}

func eventTypes(events []sseEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestCorrect_ValidInput(t *testing.T) {
	env := newTestEnv(t, "")

	events := env.correct(t, CorrectRequest{SpecSource: SpecSource{Content: validSpec}})
	last := events[len(events)-1]
	require.Equal(t, pipeline.EventDone, last.Type)

	var done pipeline.Done
	require.NoError(t, json.Unmarshal(last.Data, &done))
	assert.True(t, done.Valid)
	assert.True(t, done.InputValid)
	assert.Zero(t, done.Attempts)
	assert.Nil(t, done.Corrected)
	assert.Zero(t, env.mock.RequestCount())
}

func TestCorrect_FixesDocument(t *testing.T) {
	env := newTestEnv(t, "")
	id := env.uploadSpec(t, brokenSpec)

	events := env.correct(t, CorrectRequest{SpecSource: SpecSource{ID: id}})
	types := eventTypes(events)
	assert.Equal(t, pipeline.EventProgress, types[0])
	assert.Contains(t, types, pipeline.EventCorrection)
	require.Equal(t, pipeline.EventDone, types[len(types)-1])

	var done pipeline.Done
	require.NoError(t, json.Unmarshal(events[len(events)-1].Data, &done))
	assert.True(t, done.Valid)
	assert.False(t, done.InputValid)
	assert.Equal(t, 1, done.Attempts)
	require.NotNil(t, done.Corrected)
	assert.Contains(t, done.Corrected.YAML, "version: 1.0.0")
	assert.Equal(t, []string{"Added the missing info.version field."}, done.Explanations)
	assert.NotEmpty(t, done.RunID)

	run, err := env.store.GetRun(t.Context(), done.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.KindCorrect, run.Kind)
	assert.Equal(t, store.StatusValid, run.Status)
	assert.Equal(t, id, run.SpecID)
}

func TestCorrect_StreamTokens(t *testing.T) {
	env := newTestEnv(t, "")

	events := env.correct(t, CorrectRequest{
		SpecSource:   SpecSource{Content: brokenSpec},
		StreamTokens: true,
	})

	var text string
	for _, e := range events {
		if e.Type != pipeline.EventToken {
			continue
		}
		var tok pipeline.Token
		require.NoError(t, json.Unmarshal(e.Data, &tok))
		assert.Equal(t, 1, tok.Attempt)
		text += tok.Delta
	}
	assert.Equal(t, fixedResponse, text)
}

func TestCorrect_ProviderFailure(t *testing.T) {
	env := newTestEnv(t, "")
	env.mock.Err = errors.New("upstream unavailable")

	events := env.correct(t, CorrectRequest{SpecSource: SpecSource{Content: brokenSpec}})
	last := events[len(events)-1]
	require.Equal(t, pipeline.EventError, last.Type)

	var failure pipeline.Failure
	require.NoError(t, json.Unmarshal(last.Data, &failure))
	assert.Contains(t, failure.Error, "upstream unavailable")

	// Exactly one terminal event.
	n := 0
	for _, e := range events {
		if e.Type == pipeline.EventError || e.Type == pipeline.EventDone {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestCorrect_NoProvider(t *testing.T) {
	env := newTestEnv(t, "")
	env.registry.UnregisterLLM(providers.MockClientName)

	events := env.correct(t, CorrectRequest{SpecSource: SpecSource{Content: brokenSpec}})
	assert.Equal(t, pipeline.EventError, events[len(events)-1].Type)
}

func TestCorrect_BadRequests(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.postJSON(t, "/llm-correct", CorrectRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.postJSON(t, "/llm-correct", CorrectRequest{SpecSource: SpecSource{Content: brokenSpec}, MaxAttempts: 11})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.postJSON(t, "/llm-correct", CorrectRequest{SpecSource: SpecSource{ID: "5f0c7e1e-2d7b-4c3a-9a51-0c1f1f7f0b11"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerate(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.postJSON(t, "/generate", GenerateRequest{Description: "A petstore API"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var gen pipeline.Generated
	decode(t, rec, &gen)
	assert.True(t, gen.Valid)
	assert.Contains(t, gen.YAML, "title: Petstore")
	assert.Contains(t, gen.JSON, `"openapi"`)
	assert.Equal(t, fixedResponse, gen.Raw)
	assert.NotEmpty(t, gen.RunID)

	last := env.mock.LastRequest()
	require.NotNil(t, last)
	found := false
	for _, m := range last.Messages {
		if bytes.Contains([]byte(m.Content), []byte("A petstore API")) {
			found = true
		}
	}
	assert.True(t, found, "description not sent to the provider")
}

func TestGenerate_Errors(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.postJSON(t, "/generate", GenerateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.postJSON(t, "/generate", GenerateRequest{Description: "x", Provider: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.mock.Err = errors.New("upstream unavailable")
	rec = env.postJSON(t, "/generate", GenerateRequest{Description: "x"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCorrect_Heartbeat(t *testing.T) {
	env := newTestEnv(t, "pipeline:\n  heartbeat_interval: 10ms\n")
	env.mock.Latency = 150 * time.Millisecond

	rec := env.postJSON(t, "/llm-correct", CorrectRequest{SpecSource: SpecSource{Content: brokenSpec}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := rec.Body.String()
	assert.Contains(t, body, ": heartbeat\n\n")

	// Comments are not events; the stream still ends with done.
	var types []string
	require.NoError(t, api.ReadEvents(strings.NewReader(body), func(event string, data []byte) error {
		types = append(types, event)
		return nil
	}))
	require.NotEmpty(t, types)
	assert.Equal(t, pipeline.EventDone, types[len(types)-1])
}

func TestCorrect_ClientDisconnect(t *testing.T) {
	env := newTestEnv(t, "")
	env.mock.Latency = 10 * time.Second

	data, err := json.Marshal(CorrectRequest{SpecSource: SpecSource{Content: brokenSpec}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/llm-correct", bytes.NewReader(data)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		env.do(req)
	}()

	require.Eventually(t, func() bool { return env.mock.RequestCount() > 0 },
		5*time.Second, 10*time.Millisecond, "LLM was never called")
	cancel()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return after the client went away")
	}

	// The run was closed out even though nobody was listening.
	runs, err := env.store.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.StatusFailed, runs[0].Status)
	assert.NotNil(t, runs[0].FinishedAt)
}
