package endpoints

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/swaggerfix/internal/store"
)

func TestUpload_File(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.upload(t, "../petstore.yaml", map[string]string{"file": validSpec})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp UploadResponse
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, store.SourceFile, resp.Source)
	assert.Equal(t, "petstore.yaml", resp.Filename)
	assert.Equal(t, "yaml", resp.Format)
	assert.Equal(t, "3.0.3", resp.Version)
	assert.Equal(t, validSpec, resp.Content)
	assert.EqualValues(t, len(validSpec), resp.Size)
	assert.Len(t, resp.SHA256, 64)
	assert.Equal(t, env.home.UploadPath(resp.ID, "yaml"), resp.Path)

	saved, err := os.ReadFile(resp.Path)
	require.NoError(t, err)
	assert.Equal(t, validSpec, string(saved))

	spec, err := env.store.GetSpec(t.Context(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, validSpec, spec.Content)
}

func TestUpload_JSONFile(t *testing.T) {
	env := newTestEnv(t, "")
	content := `{"swagger": "2.0", "info": {"title": "t", "version": "1"}, "paths": {}}`

	rec := env.upload(t, "api.json", map[string]string{"file": content})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp UploadResponse
	decode(t, rec, &resp)
	assert.Equal(t, "json", resp.Format)
	assert.Equal(t, "2.0", resp.Version)
	assert.True(t, strings.HasSuffix(resp.Path, ".json"))
}

func TestUpload_URL(t *testing.T) {
	env := newTestEnv(t, "")
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write([]byte(validSpec))
	}))
	defer origin.Close()

	rec := env.upload(t, "", map[string]string{"url": origin.URL + "/specs/petstore.yaml"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp UploadResponse
	decode(t, rec, &resp)
	assert.Equal(t, store.SourceURL, resp.Source)
	assert.Equal(t, origin.URL+"/specs/petstore.yaml", resp.URL)
	assert.Equal(t, validSpec, resp.Content)
}

func TestUpload_URLFailures(t *testing.T) {
	env := newTestEnv(t, "")
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer origin.Close()

	rec := env.upload(t, "", map[string]string{"url": origin.URL + "/missing.yaml"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = env.upload(t, "", map[string]string{"url": "ftp://example.com/spec.yaml"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_NoInput(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.upload(t, "", map[string]string{"note": "nothing here"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file or URL provided.", errorMessage(t, rec))

	// A body that is not multipart at all is treated the same way.
	rec = env.do(httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file or URL provided.", errorMessage(t, rec))
}

func TestUpload_TooLarge(t *testing.T) {
	env := newTestEnv(t, "upload:\n  max_bytes: 64\n")

	rec := env.upload(t, "big.yaml", map[string]string{"file": validSpec + strings.Repeat("# padding\n", 10)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	count, err := env.store.Count(t.Context(), store.TableSpecs)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUpload_NotText(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.upload(t, "blob.bin", map[string]string{"file": "\xff\xfe\x00binary"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
