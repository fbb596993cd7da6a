package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

const extractPrompt = `You read one utterance from a user asking about Indian government welfare schemes.
Reply with a single JSON object and nothing else:
{"intent": one of ["greeting","closing","scheme_search","eligibility_check","application_help","affirm","deny","provide_info","unknown"],
 "entities": {profile fields stated by the user, any of: age (number), income (annual rupees, number), gender ("male"/"female"),
   caste_category ("sc"/"st"/"obc"/"general"), state (lowercase English name), is_farmer, is_bpl, has_land, is_widow, is_disabled (booleans),
   land_size (acres, number), occupation, education (strings), family_size (number)},
 "category": one of [%s] or "",
 "action": one of ["overview","get_documents","get_process","find_office","check_status"] or "",
 "ordinal": 1-based pick from earlier suggestions or 0}
Only include entities the user actually stated.%s
Recent conversation:
%s
Utterance: %s`

const rewritePrompt = `Rewrite the following assistant message in %s so it sounds natural when spoken aloud.
Keep every scheme name, number, document and step. Do not add information. Reply with the message only.

%s`

// Gemini calls the hosted Gemini API for extraction and rewriting.
type Gemini struct {
	client     *genai.Client
	model      string
	categories []string
	logger     *slog.Logger
}

// NewGemini creates a Gemini-backed capability.
func NewGemini(ctx context.Context, apiKey, model string, categories []string, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model, categories: categories, logger: logger}, nil
}

func (g *Gemini) ExtractEntities(ctx context.Context, text string, prior Prior) (Extraction, error) {
	hint := ""
	if prior.ExpectYesNo {
		hint = "\nThe assistant just asked a yes/no question."
	}
	prompt := fmt.Sprintf(extractPrompt,
		quoteList(g.categories), hint, strings.Join(prior.History, "\n"), text)

	out, err := g.generate(ctx, prompt, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return Extraction{}, err
	}
	return DecodeExtraction(out)
}

func (g *Gemini) GenerateResponse(ctx context.Context, tc TemplateContext, lang string) (string, error) {
	out, err := g.generate(ctx, fmt.Sprintf(rewritePrompt, lang, tc.Text), nil)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: empty rewrite", ErrMalformed)
	}
	return out, nil
}

func (g *Gemini) generate(ctx context.Context, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		g.logger.Warn("Gemini request failed", "model", g.model, "error", err)
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return resp.Text(), nil
}

// DecodeExtraction parses a JSON extraction, tolerating a fenced code block.
func DecodeExtraction(raw string) (Extraction, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var ex Extraction
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &ex); err != nil {
		return Extraction{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if !ex.Intent.Valid() {
		ex.Intent = IntentUnknown
	}
	if ex.Entities == nil {
		ex.Entities = map[string]any{}
	}
	for k, v := range ex.Entities {
		if v == nil {
			delete(ex.Entities, k)
		}
	}
	return ex, nil
}

func quoteList(items []string) string {
	q := make([]string, len(items))
	for i, s := range items {
		q[i] = `"` + s + `"`
	}
	return strings.Join(q, ",")
}
