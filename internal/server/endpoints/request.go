package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jackzampolin/swaggerfix/internal/metrics"
	"github.com/jackzampolin/swaggerfix/internal/openapi"
	"github.com/jackzampolin/swaggerfix/internal/store"
	"github.com/jackzampolin/swaggerfix/internal/svcctx"
)

var validate = validator.New()

// bodyOverhead is added to upload.max_bytes to cover JSON escaping and the
// other request fields.
const bodyOverhead = 1 << 20

// decodeRequest reads a JSON body into v and validates its struct tags.
// On failure the error response has already been written.
func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	limit := svcctx.ConfigFrom(r.Context()).Upload.MaxBytes*2 + bodyOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage turns validator errors into "field: rule" text.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required", "required_without":
			msgs = append(msgs, field+" is required")
		default:
			if fe.Param() != "" {
				msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
			} else {
				msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", field, fe.Tag()))
			}
		}
	}
	return "invalid request: " + strings.Join(msgs, "; ")
}

// SpecSource is embedded by requests that take inline content or a stored
// spec ID.
type SpecSource struct {
	Content string `json:"content,omitempty" validate:"required_without=ID"`
	ID      string `json:"id,omitempty" validate:"omitempty,uuid"`
}

// resolveContent returns the document a request refers to. Inline content
// wins over an ID. On failure the error response has already been written.
func resolveContent(ctx context.Context, w http.ResponseWriter, src SpecSource) (content, specID string, ok bool) {
	if src.Content != "" {
		return src.Content, src.ID, true
	}

	st := svcctx.StoreFrom(ctx)
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not available")
		return "", "", false
	}
	spec, err := st.GetSpec(ctx, src.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "spec not found")
		return "", "", false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return "", "", false
	}
	return spec.Content, spec.ID, true
}

func observeValidation(m *metrics.Metrics, res openapi.Result) {
	if m == nil {
		return
	}
	counts := make([]metrics.ProblemCount, 0, len(res.Problems))
	for _, p := range res.Problems {
		counts = append(counts, metrics.ProblemCount{Rule: p.Rule, Severity: string(p.Severity)})
	}
	m.ObserveValidation(string(res.Version), res.Valid, counts)
}

func isJSONPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
