package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/sahayak/internal/catalog"
	"github.com/ashureev/sahayak/internal/domain"
	"github.com/ashureev/sahayak/internal/retrieval"
	"github.com/go-chi/chi/v5"
)

const maxSchemeLimit = 50

// SchemeSearcher ranks schemes for a free-text query.
type SchemeSearcher interface {
	Search(query string, f retrieval.Filters, limit int) []retrieval.Hit
}

// SchemeHandler serves read-only catalog queries.
type SchemeHandler struct {
	cat         *catalog.Catalog
	search      SchemeSearcher
	defaultLang string
}

// NewSchemeHandler creates a scheme handler.
func NewSchemeHandler(cat *catalog.Catalog, search SchemeSearcher, defaultLang string) *SchemeHandler {
	return &SchemeHandler{cat: cat, search: search, defaultLang: defaultLang}
}

// RegisterRoutes registers the scheme routes.
func (h *SchemeHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/schemes", h.List)
}

type schemeItem struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description,omitempty"`
	Website     string   `json:"website,omitempty"`
	States      []string `json:"states,omitempty"`
	Similarity  *float64 `json:"similarity,omitempty"`
	Matched     string   `json:"matched,omitempty"`
}

// List searches schemes when q is set and lists them otherwise. category
// and state narrow either form.
func (h *SchemeHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lang := q.Get("lang")
	if lang == "" {
		lang = h.defaultLang
	}
	if !h.cat.SupportsLanguage(lang) {
		Error(w, http.StatusBadRequest, "unsupported language")
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSchemeLimit)
	}
	filters := retrieval.Filters{
		Category: strings.TrimSpace(q.Get("category")),
		State:    strings.TrimSpace(q.Get("state")),
	}

	items := []schemeItem{}
	if query := strings.TrimSpace(q.Get("q")); query != "" {
		for _, hit := range h.search.Search(query, filters, limit) {
			item := h.item(hit.Scheme, lang)
			sim := hit.Similarity
			item.Similarity = &sim
			item.Matched = hit.Matched
			items = append(items, item)
		}
	} else {
		for _, s := range h.cat.Schemes() {
			if filters.Category != "" && !strings.EqualFold(s.Category, filters.Category) {
				continue
			}
			if !s.AvailableIn(filters.State) {
				continue
			}
			items = append(items, h.item(s, lang))
			if limit > 0 && len(items) == limit {
				break
			}
		}
	}

	JSON(w, http.StatusOK, map[string]any{
		"language": lang,
		"count":    len(items),
		"schemes":  items,
	})
}

func (h *SchemeHandler) item(s *domain.SchemeRecord, lang string) schemeItem {
	desc := s.Description[lang]
	if desc == "" {
		desc = s.Description["english"]
	}
	return schemeItem{
		ID:          s.ID,
		Name:        s.Name(lang),
		Category:    s.Category,
		Description: desc,
		Website:     s.Website,
		States:      s.States,
	}
}
