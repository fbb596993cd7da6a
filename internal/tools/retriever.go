package tools

import (
	"context"

	"github.com/ashureev/sahayak/internal/retrieval"
)

// SchemeSearcher is the retrieval surface the scheme_retriever tool needs.
type SchemeSearcher interface {
	Search(query string, f retrieval.Filters, limit int) []retrieval.Hit
}

// RetrievalReport is the scheme_retriever payload.
type RetrievalReport struct {
	Query   string            `json:"query"`
	Filters retrieval.Filters `json:"filters"`
	Hits    []retrieval.Hit   `json:"hits"`
}

// SchemeRetriever ranks schemes against free text.
type SchemeRetriever struct {
	r SchemeSearcher
}

// NewSchemeRetriever creates the scheme_retriever tool.
func NewSchemeRetriever(r SchemeSearcher) *SchemeRetriever {
	return &SchemeRetriever{r: r}
}

func (*SchemeRetriever) Name() string { return NameRetriever }

func (*SchemeRetriever) Description() string {
	return "Find welfare schemes whose name, alias or keywords resemble a free-text query, optionally filtered by category and state."
}

func (*SchemeRetriever) Schema() string {
	return `{
  "$schema":"http://json-schema.org/draft-07/schema#",
  "type":"object",
  "properties":{
    "query":{"type":"string"},
    "category":{"type":"string"},
    "state":{"type":"string"},
    "limit":{"type":"integer","minimum":1}
  },
  "required":["query"],
  "additionalProperties":false
}`
}

func (s *SchemeRetriever) Run(ctx context.Context, args Args) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	query, err := stringArg(args, "query", true)
	if err != nil {
		return Output{}, err
	}
	var f retrieval.Filters
	if f.Category, err = stringArg(args, "category", false); err != nil {
		return Output{}, err
	}
	if f.State, err = stringArg(args, "state", false); err != nil {
		return Output{}, err
	}
	limit, err := intArg(args, "limit")
	if err != nil {
		return Output{}, err
	}

	hits := s.r.Search(query, f, limit)
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.SchemeID
	}
	bindings := map[string]any{
		BindSchemeIDs: ids,
		BindFiltered:  !f.IsZero(),
		BindEmpty:     len(hits) == 0,
		BindBestScore: 0.0,
	}
	if len(hits) > 0 {
		bindings[BindTopSchemeID] = hits[0].SchemeID
		bindings[BindBestScore] = hits[0].Similarity
	}
	return Output{
		Payload:  RetrievalReport{Query: query, Filters: f, Hits: hits},
		Bindings: bindings,
	}, nil
}
