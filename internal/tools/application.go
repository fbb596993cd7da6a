package tools

import (
	"context"
	"fmt"

	"github.com/ashureev/sahayak/internal/catalog"
	"github.com/ashureev/sahayak/internal/domain"
)

// Action selects what application_helper returns.
type Action string

const (
	ActionOverview     Action = "overview"
	ActionGetDocuments Action = "get_documents"
	ActionGetProcess   Action = "get_process"
	ActionFindOffice   Action = "find_office"
	ActionCheckStatus  Action = "check_status"
)

func validAction(a Action) bool {
	switch a {
	case ActionOverview, ActionGetDocuments, ActionGetProcess, ActionFindOffice, ActionCheckStatus:
		return true
	}
	return false
}

// Guidance is the application_helper payload, localized to Language.
type Guidance struct {
	SchemeID    string          `json:"scheme_id"`
	Action      Action          `json:"action"`
	Language    string          `json:"language"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
	Benefits    []string        `json:"benefits,omitempty"`
	Documents   []string        `json:"documents,omitempty"`
	Steps       []string        `json:"steps,omitempty"`
	Offices     []domain.Office `json:"offices,omitempty"`
	Website     string          `json:"website,omitempty"`
}

// ApplicationHelper looks up how to apply for a scheme.
type ApplicationHelper struct {
	cat *catalog.Catalog
}

// NewApplicationHelper creates the application_helper tool.
func NewApplicationHelper(cat *catalog.Catalog) *ApplicationHelper {
	return &ApplicationHelper{cat: cat}
}

func (*ApplicationHelper) Name() string { return NameApplication }

func (*ApplicationHelper) Description() string {
	return "Return the required documents, application steps, offices or an overview for one welfare scheme."
}

func (*ApplicationHelper) Schema() string {
	return `{
  "$schema":"http://json-schema.org/draft-07/schema#",
  "type":"object",
  "properties":{
    "scheme_id":{"type":"string"},
    "action":{"type":"string","enum":["overview","get_documents","get_process","find_office","check_status"],"default":"overview"},
    "language":{"type":"string","enum":["tamil","english"],"default":"english"}
  },
  "required":["scheme_id"],
  "additionalProperties":false
}`
}

func (a *ApplicationHelper) Run(ctx context.Context, args Args) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	id, err := stringArg(args, "scheme_id", true)
	if err != nil {
		return Output{}, err
	}
	rawAction, err := stringArg(args, "action", false)
	if err != nil {
		return Output{}, err
	}
	action := ActionOverview
	if rawAction != "" {
		action = Action(rawAction)
	}
	if !validAction(action) {
		return Output{}, fmt.Errorf("%w: unknown action %q", ErrInvalidArgument, rawAction)
	}
	lang, err := stringArg(args, "language", false)
	if err != nil {
		return Output{}, err
	}
	if lang == "" {
		lang = "english"
	}

	s, err := a.cat.Scheme(id)
	if err != nil {
		return Output{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	g := Guidance{
		SchemeID: s.ID,
		Action:   action,
		Language: lang,
		Name:     s.Name(lang),
		Category: s.Category,
		Website:  s.Website,
	}
	switch action {
	case ActionOverview:
		g.Description = s.Description[lang]
		g.Benefits = domain.Localized(s.Benefits, lang)
		g.Documents = domain.Localized(s.Documents, lang)
		g.Steps = domain.Localized(s.Steps, lang)
	case ActionGetDocuments:
		g.Documents = domain.Localized(s.Documents, lang)
	case ActionGetProcess:
		g.Steps = domain.Localized(s.Steps, lang)
		g.Offices = a.cat.Offices(s.Category)
	case ActionFindOffice:
		g.Offices = a.cat.Offices(s.Category)
	case ActionCheckStatus:
		// Only the tracking site is known locally.
	}
	return Output{
		Payload:  g,
		Bindings: map[string]any{BindTopSchemeID: s.ID, BindBestScore: 1.0},
	}, nil
}
