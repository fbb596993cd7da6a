package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ashureev/sahayak/internal/tools"
	"github.com/flexigpt/llmtools-go"
	llmtoolsgoSpec "github.com/flexigpt/llmtools-go/spec"
	"github.com/go-chi/chi/v5"
)

// ToolHandler publishes the scheme tools as llmtools-go manifests and runs
// them for external agents.
type ToolHandler struct {
	*Handler
	specs    []llmtoolsgoSpec.Tool
	funcs    map[string]llmtoolsgoSpec.FuncID
	exported *llmtools.Registry
}

// NewToolHandler exports every tool of reg.
func NewToolHandler(base *Handler, reg *tools.Registry) (*ToolHandler, error) {
	exported, err := tools.ExportLLMTools(reg)
	if err != nil {
		return nil, err
	}
	specs := reg.LLMToolSpecs()
	funcs := make(map[string]llmtoolsgoSpec.FuncID, len(specs))
	for _, s := range specs {
		funcs[strings.TrimPrefix(s.Slug, tools.LLMToolSlugPrefix)] = s.GoImpl.FuncID
	}
	return &ToolHandler{Handler: base, specs: specs, funcs: funcs, exported: exported}, nil
}

// RegisterRoutes registers the tool routes.
func (h *ToolHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/tools", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/{name}", h.Call)
	})
}

// List returns the tool manifests, ordered by name.
func (h *ToolHandler) List(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"count": len(h.specs),
		"tools": h.specs,
	})
}

// Call runs one tool with the request body as its arguments. The tool's
// own failures come back as a 200 with success false.
func (h *ToolHandler) Call(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	funcID, ok := h.funcs[name]
	if !ok {
		Error(w, http.StatusNotFound, "unknown tool")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}

	outputs, err := h.exported.Call(r.Context(), funcID, json.RawMessage(body))
	if err != nil {
		h.logger.Warn("Tool call rejected", "tool", name, "error", err)
		Error(w, http.StatusBadRequest, "invalid tool arguments")
		return
	}
	for _, o := range outputs {
		if o.Kind == llmtoolsgoSpec.ToolStoreOutputKindText && o.TextItem != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, o.TextItem.Text)
			return
		}
	}
	Error(w, http.StatusInternalServerError, "tool returned no output")
}
