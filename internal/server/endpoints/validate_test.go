package endpoints

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name      string
		content   string
		wantValid bool
		wantError string
	}{
		{name: "valid openapi 3.0", content: validSpec, wantValid: true},
		{name: "missing info.version", content: brokenSpec, wantError: "version"},
		{name: "not a document", content: "just: [text", wantError: ""},
		{
			name:      "swagger 2.0",
			content:   `{"swagger": "2.0", "info": {"title": "t", "version": "1"}, "paths": {}}`,
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.postJSON(t, "/validate", ValidateRequest{SpecSource{Content: tt.content}})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp ValidateResponse
			decode(t, rec, &resp)
			assert.Equal(t, tt.wantValid, resp.Valid)
			assert.NotNil(t, resp.Errors)
			assert.NotNil(t, resp.Problems)
			if tt.wantValid {
				assert.Empty(t, resp.Errors)
			} else {
				require.NotEmpty(t, resp.Errors)
				assert.Contains(t, resp.Errors[0], tt.wantError)
			}
		})
	}
}

func TestValidate_ByID(t *testing.T) {
	env := newTestEnv(t, "")
	id := env.uploadSpec(t, brokenSpec)

	rec := env.postJSON(t, "/validate", ValidateRequest{SpecSource{ID: id}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ValidateResponse
	decode(t, rec, &resp)
	assert.False(t, resp.Valid)
	assert.Equal(t, id, resp.SpecID)
	assert.Equal(t, "3.0", resp.Version)
	assert.Equal(t, "yaml", resp.Format)
}

func TestValidate_BadRequests(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.postJSON(t, "/validate", ValidateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.postJSON(t, "/validate", ValidateRequest{SpecSource{ID: "not-a-uuid"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.postJSON(t, "/validate", ValidateRequest{SpecSource{ID: uuid.New().String()}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "spec not found", errorMessage(t, rec))

	rec = env.postJSON(t, "/validate", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
