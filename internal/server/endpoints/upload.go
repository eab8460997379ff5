package endpoints

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/swaggerfix/internal/api"
	"github.com/jackzampolin/swaggerfix/internal/fetch"
	"github.com/jackzampolin/swaggerfix/internal/openapi"
	"github.com/jackzampolin/swaggerfix/internal/store"
	"github.com/jackzampolin/swaggerfix/internal/svcctx"
)

// UploadResponse describes a stored document.
type UploadResponse struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Path     string `json:"path"`
	Source   string `json:"source"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`
	Format   string `json:"format"`
	Version  string `json:"version,omitempty"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256"`
}

// UploadEndpoint handles POST /upload.
type UploadEndpoint struct{}

var _ api.Endpoint = (*UploadEndpoint)(nil)

func (e *UploadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/upload", e.handler
}

func (e *UploadEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Upload a document
//	@Description	Store an OpenAPI/Swagger document from a file upload or a public URL
//	@Tags			specs
//	@Accept			mpfd
//	@Produce		json
//	@Param			file	formData	file	false	"Document to upload"
//	@Param			url		formData	string	false	"Public http(s) URL to fetch"
//	@Success		200		{object}	UploadResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		413		{object}	ErrorResponse
//	@Failure		502		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/upload [post]
func (e *UploadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg := svcctx.ConfigFrom(ctx)
	maxBytes := cfg.Upload.MaxBytes
	m := svcctx.MetricsFrom(ctx)
	logger := svcctx.LoggerFrom(ctx)

	st := svcctx.StoreFrom(ctx)
	homeDir := svcctx.HomeFrom(ctx)
	if st == nil || homeDir == nil {
		writeError(w, http.StatusServiceUnavailable, "store not available")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+bodyOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("document exceeds %d bytes", maxBytes))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	spec := &store.Spec{ID: uuid.New().String()}
	var content []byte

	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		spec.Source = store.SourceFile
		spec.Filename = filepath.Base(header.Filename)
		content, err = io.ReadAll(io.LimitReader(file, maxBytes+1))
		if err != nil {
			m.ObserveUpload(spec.Source, false, 0)
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read file: %v", err))
			return
		}
		if int64(len(content)) > maxBytes {
			m.ObserveUpload(spec.Source, false, 0)
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("document exceeds %d bytes", maxBytes))
			return
		}

	case strings.TrimSpace(r.FormValue("url")) != "":
		spec.Source = store.SourceURL
		spec.URL = strings.TrimSpace(r.FormValue("url"))

		fetcher := svcctx.FetcherFrom(ctx)
		if fetcher == nil {
			writeError(w, http.StatusServiceUnavailable, "fetcher not available")
			return
		}
		res, err := fetcher.Fetch(ctx, spec.URL)
		if err != nil {
			m.ObserveUpload(spec.Source, false, 0)
			logger.Warn("url fetch failed", "url", spec.URL, "error", err)
			var tooLarge *fetch.TooLargeError
			switch {
			case errors.As(err, &tooLarge):
				writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			case errors.Is(err, fetch.ErrUnsupportedScheme):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				writeError(w, http.StatusBadGateway, fmt.Sprintf("failed to fetch url: %v", err))
			}
			return
		}
		content = res.Content
		spec.Filename = res.Filename

	default:
		writeError(w, http.StatusBadRequest, "No file or URL provided.")
		return
	}

	if !utf8.Valid(content) {
		m.ObserveUpload(spec.Source, false, 0)
		writeError(w, http.StatusBadRequest, "document is not UTF-8 text")
		return
	}

	format, docVersion := describe(string(content))
	sum := sha256.Sum256(content)
	spec.Content = string(content)
	spec.Size = int64(len(content))
	spec.SHA256 = hex.EncodeToString(sum[:])
	spec.Format = string(format)
	spec.Version = docVersion
	spec.Path = homeDir.UploadPath(spec.ID, spec.Format)

	if err := os.WriteFile(spec.Path, content, 0o644); err != nil {
		m.ObserveUpload(spec.Source, false, 0)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save upload: %v", err))
		return
	}
	if err := st.CreateSpec(ctx, spec); err != nil {
		os.Remove(spec.Path)
		m.ObserveUpload(spec.Source, false, 0)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	m.ObserveUpload(spec.Source, true, spec.Size)
	logger.Info("document uploaded", "id", spec.ID, "source", spec.Source, "size", spec.Size, "format", spec.Format)

	writeJSON(w, http.StatusOK, UploadResponse{
		ID:       spec.ID,
		Content:  spec.Content,
		Path:     spec.Path,
		Source:   spec.Source,
		Filename: spec.Filename,
		URL:      spec.URL,
		Format:   spec.Format,
		Version:  spec.Version,
		Size:     spec.Size,
		SHA256:   spec.SHA256,
	})
}

// describe reports the serialization and declared version of content,
// falling back to a guess from the first character when it does not parse.
func describe(content string) (openapi.Format, string) {
	doc, err := openapi.Parse(content)
	if err == nil {
		return doc.Format, doc.VersionString
	}
	if strings.HasPrefix(strings.TrimSpace(content), "{") {
		return openapi.FormatJSON, ""
	}
	return openapi.FormatYAML, ""
}

func (e *UploadEndpoint) Command(getServerURL func() string) *cobra.Command {
	var fromURL string
	var showContent bool
	cmd := &cobra.Command{
		Use:   "upload [file]",
		Short: "Upload a document from a file or URL",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())

			var resp UploadResponse
			switch {
			case len(args) == 1:
				if err := client.UploadFile(ctx, "/upload", args[0], &resp); err != nil {
					return err
				}
			case fromURL != "":
				if err := client.UploadURL(ctx, "/upload", fromURL, &resp); err != nil {
					return err
				}
			default:
				return fmt.Errorf("a file argument or --url is required")
			}

			if !showContent {
				resp.Content = ""
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&fromURL, "url", "", "Fetch the document from this URL instead of a file")
	cmd.Flags().BoolVar(&showContent, "show-content", false, "Include the document content in the output")
	return cmd
}
