package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/flexigpt/llmtools-go"
	llmtoolsgoSpec "github.com/flexigpt/llmtools-go/spec"
)

const funcIDPrefix = "github.com/ashureev/sahayak/internal/tools."

// LLMToolSlugPrefix starts the slug of every exported tool.
const LLMToolSlugPrefix = "sahayak."

var llmToolIDs = map[string]string{
	NameEligibility: "019a3c52-6f1e-7c40-9b2d-5e8a1f0c7d01",
	NameRetriever:   "019a3c52-6f1e-7c40-9b2d-5e8a1f0c7d02",
	NameApplication: "019a3c52-6f1e-7c40-9b2d-5e8a1f0c7d03",
}

var llmToolTitles = map[string]string{
	NameEligibility: "Eligibility Checker",
	NameRetriever:   "Scheme Retriever",
	NameApplication: "Application Helper",
}

// LLMToolSpec describes t in the llmtools-go manifest format.
func LLMToolSpec(t Tool) llmtoolsgoSpec.Tool {
	title := llmToolTitles[t.Name()]
	if title == "" {
		title = t.Name()
	}
	return llmtoolsgoSpec.Tool{
		SchemaVersion: llmtoolsgoSpec.SchemaVersion,
		ID:            llmToolIDs[t.Name()],
		Slug:          LLMToolSlugPrefix + t.Name(),
		Version:       "v1.0.0",
		DisplayName:   title,
		Description:   t.Description(),
		Tags:          []string{"welfare", "schemes"},
		ArgSchema:     llmtoolsgoSpec.JSONSchema(t.Schema()),
		GoImpl:        llmtoolsgoSpec.GoToolImpl{FuncID: llmtoolsgoSpec.FuncID(funcIDPrefix + t.Name())},
		CreatedAt:     llmtoolsgoSpec.SchemaStartTime,
		ModifiedAt:    llmtoolsgoSpec.SchemaStartTime,
	}
}

// LLMToolSpecs describes every registered tool, ordered by name.
func (r *Registry) LLMToolSpecs() []llmtoolsgoSpec.Tool {
	names := r.Names()
	out := make([]llmtoolsgoSpec.Tool, 0, len(names))
	for _, n := range names {
		t, _ := r.Get(n)
		out = append(out, LLMToolSpec(t))
	}
	return out
}

// ExportLLMTools registers every tool of reg into an llmtools-go registry
// so a hosted model can call them. Calls go through reg.Invoke and return
// the structured Result as JSON text.
func ExportLLMTools(reg *Registry, opts ...llmtools.RegistryOption) (*llmtools.Registry, error) {
	if reg == nil {
		return nil, errors.New("nil registry")
	}
	out, err := llmtools.NewRegistry(opts...)
	if err != nil {
		return nil, err
	}
	for _, name := range reg.Names() {
		t, _ := reg.Get(name)
		if err := llmtools.RegisterTypedAsTextTool(
			out,
			LLMToolSpec(t),
			func(ctx context.Context, args map[string]any) (Result, error) {
				return reg.Invoke(ctx, name, Args(args)), nil
			},
		); err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
	}
	return out, nil
}
