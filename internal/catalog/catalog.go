// Package catalog holds the static question catalog for every intake form
// type and resolves which fields apply to a given type.
package catalog

// FormType identifies one question-set, corresponding to a single IP-service
// application category.
type FormType string

const (
	FormPatentabilitySearch FormType = "patentability_search"
	FormDrafting            FormType = "drafting"
	FormProvisionalFiling   FormType = "provisional_filing"
	FormCompleteFiling      FormType = "complete_non_provisional_filing"
	FormPCTFiling           FormType = "pct_filing"
	FormPSCS                FormType = "ps_cs"
	FormFERResponse         FormType = "fer_response"
)

// KnownFormTypes lists every form type in display order.
var KnownFormTypes = []FormType{
	FormPatentabilitySearch,
	FormDrafting,
	FormProvisionalFiling,
	FormCompleteFiling,
	FormPCTFiling,
	FormPSCS,
	FormFERResponse,
}

// ParseFormType validates a raw identifier. ok is false for anything outside
// the known set.
func ParseFormType(raw string) (FormType, bool) {
	for _, ft := range KnownFormTypes {
		if string(ft) == raw {
			return ft, true
		}
	}
	return "", false
}

var displayTitles = map[FormType]string{
	FormPatentabilitySearch: "Patentability Search",
	FormDrafting:            "Patent Drafting",
	FormProvisionalFiling:   "Provisional Filing",
	FormCompleteFiling:      "Complete Non-Provisional Filing",
	FormPCTFiling:           "PCT Filing",
	FormPSCS:                "PS-CS",
	FormFERResponse:         "FER Response",
}

// DisplayTitle returns the human heading for a form type.
func DisplayTitle(ft FormType) string {
	if title, ok := displayTitles[ft]; ok {
		return title
	}
	return string(ft)
}

// serviceKeys maps storefront order service keys to the form type whose
// question set they open.
var serviceKeys = map[string]FormType{
	"patentability-search":            FormPatentabilitySearch,
	"patent-drafting":                 FormDrafting,
	"provisional-filing":              FormProvisionalFiling,
	"complete-non-provisional-filing": FormCompleteFiling,
	"pct-filing":                      FormPCTFiling,
	"ps-cs":                           FormPSCS,
	"fer-response":                    FormFERResponse,
}

// FormTypeForServiceKey resolves a paid order's service key to its form type.
func FormTypeForServiceKey(key string) (FormType, bool) {
	ft, ok := serviceKeys[key]
	return ft, ok
}

// LimitKind selects how a field's text budget is counted.
type LimitKind string

const (
	LimitChars LimitKind = "chars"
	LimitWords LimitKind = "words"
)

// Limit is a free-text budget attached to a field.
type Limit struct {
	Kind LimitKind
	Max  int
}

// FieldDefinition describes one question. Title is unique within a form type
// and doubles as the storage key for the answer value.
type FieldDefinition struct {
	Title     string
	AppliesTo []FormType
	Limit     *Limit
}

func appliesTo(def FieldDefinition, formType FormType) bool {
	for _, ft := range def.AppliesTo {
		if ft == formType {
			return true
		}
	}
	return false
}

var allTypes = KnownFormTypes

var draftingFamily = []FormType{FormDrafting, FormProvisionalFiling, FormCompleteFiling, FormPCTFiling, FormPSCS}

// fields is the master catalog, in render order. Applicability here mirrors
// the service definitions on the storefront; the catalog is external data the
// core does not control, which is why field traits are derived from titles
// (see traits.go) instead of being stored alongside.
var fields = []FieldDefinition{
	{Title: "Title of Invention", AppliesTo: allTypes, Limit: &Limit{Kind: LimitChars, Max: 500}},
	{Title: "Applicant Name(s)", AppliesTo: allTypes},
	{Title: "Inventor Name(s)", AppliesTo: draftingFamily},
	{Title: "Field of Invention", AppliesTo: []FormType{FormPatentabilitySearch, FormDrafting, FormProvisionalFiling, FormCompleteFiling, FormPCTFiling, FormPSCS}, Limit: &Limit{Kind: LimitWords, Max: 100}},
	{Title: "Background and Problem Statement", AppliesTo: draftingFamily, Limit: &Limit{Kind: LimitWords, Max: 500}},
	{Title: "Brief Summary of the Invention", AppliesTo: allTypes, Limit: &Limit{Kind: LimitWords, Max: 300}},
	{Title: "Detailed Description", AppliesTo: []FormType{FormDrafting, FormCompleteFiling, FormPSCS}, Limit: &Limit{Kind: LimitWords, Max: 2000}},
	{Title: "Novel Features and Advantages", AppliesTo: []FormType{FormPatentabilitySearch, FormDrafting, FormProvisionalFiling, FormCompleteFiling, FormPCTFiling}, Limit: &Limit{Kind: LimitWords, Max: 400}},
	{Title: "Prior Application Number", AppliesTo: []FormType{FormPCTFiling, FormFERResponse}, Limit: &Limit{Kind: LimitChars, Max: 64}},
	{Title: "Priority Date", AppliesTo: []FormType{FormCompleteFiling, FormPCTFiling}, Limit: &Limit{Kind: LimitChars, Max: 32}},
	{Title: "Examiner Objections Summary", AppliesTo: []FormType{FormFERResponse}, Limit: &Limit{Kind: LimitWords, Max: 500}},
	{Title: "Invention Disclosure Upload", AppliesTo: allTypes},
	{Title: "Drawings/Figures", AppliesTo: draftingFamily},
	{Title: "Provisional Specification Upload", AppliesTo: []FormType{FormCompleteFiling, FormPSCS, FormFERResponse}},
	{Title: "Claims Upload", AppliesTo: []FormType{FormCompleteFiling, FormPCTFiling, FormPSCS, FormFERResponse}},
	{Title: "Abstract Upload", AppliesTo: []FormType{FormCompleteFiling, FormPCTFiling, FormPSCS}},
	{Title: "Additional Comments", AppliesTo: allTypes, Limit: &Limit{Kind: LimitWords, Max: 200}},
	{Title: "Special Instructions", AppliesTo: allTypes, Limit: &Limit{Kind: LimitWords, Max: 200}},
}

// FieldsFor returns the ordered field definitions applicable to formType.
// An unknown form type yields an empty list so callers can render an empty
// state instead of failing.
func FieldsFor(formType FormType) []FieldDefinition {
	var out []FieldDefinition
	for _, def := range fields {
		if appliesTo(def, formType) {
			out = append(out, def)
		}
	}
	return out
}

// LimitFor returns the configured limit for a field title, looked up under
// the normalized form of the title. nil when no limit is configured.
func LimitFor(title string) *Limit {
	key := NormalizeTitle(title)
	for _, def := range fields {
		if NormalizeTitle(def.Title) == key {
			return def.Limit
		}
	}
	return nil
}
