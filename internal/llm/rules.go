package llm

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var (
	greetings = set("hi", "hello", "hey", "hai", "vanakkam", "வணக்கம்", "namaste", "नमस्ते")
	closings  = set(
		"thanks", "thank you", "thankyou", "bye", "goodbye", "good bye", "ok bye",
		"நன்றி", "நன்ரி", "நன்றிங்க", "நன்றீ", "நன்ற",
	)
	yesWords = set(
		"yes", "y", "yeah", "yep", "ok", "okay", "sure", "correct", "right",
		"ஆம்", "ஆம", "ஆமா", "ஆமாம்", "அம்", "அம்ம", "ம்", "ம்ம", "ம்ம்", "ஓம்", "உண்டு", "இருக்கு",
	)
	noWords = set(
		"no", "n", "nope", "not", "wrong",
		"இல்லை", "இலல", "இல்ல", "இல்லங்க", "இல்லா", "இல்லே", "இல்லப்பா",
	)
	ordinals = map[string]int{
		"first": 1, "1st": 1, "முதல்": 1, "முதலாவது": 1,
		"second": 2, "2nd": 2, "இரண்டாவது": 2,
		"third": 3, "3rd": 3, "மூன்றாவது": 3,
	}
	actionWords = []struct {
		action string
		words  []string
	}{
		{"get_documents", []string{"document", "documents", "papers", "ஆவண"}},
		{"find_office", []string{"office", "where", "அலுவலக", "எங்கே"}},
		{"check_status", []string{"status", "track"}},
		{"get_process", []string{"apply", "application", "process", "steps", "விண்ணப்ப"}},
	}
	eligibilityWords = []string{"eligible", "eligibility", "qualify", "entitled", "தகுதி"}
	schemeWords      = []string{"scheme", "yojana", "pm ", "pension", "திட்ட", "யோஜ"}

	states = map[string]string{
		"maharashtra": "maharashtra", "மகாராஷ்டிரா": "maharashtra",
		"tamil nadu": "tamil nadu", "tamilnadu": "tamil nadu", "தமிழ்நாடு": "tamil nadu",
		"karnataka": "karnataka", "kerala": "kerala", "gujarat": "gujarat",
		"andhra pradesh": "andhra pradesh", "telangana": "telangana",
		"uttar pradesh": "uttar pradesh", "bihar": "bihar", "rajasthan": "rajasthan",
		"west bengal": "west bengal", "delhi": "delhi",
	}

	reAge = []*regexp.Regexp{
		regexp.MustCompile(`(?:^| )(?:age|aged|வயது)(?: is)? (\d{1,3})(?: |$)`),
		regexp.MustCompile(`(?:^| )(\d{1,3}) ?(?:years?|yrs?|வயது)`),
		regexp.MustCompile(`(?:^| )i am (\d{1,3})(?: |$)`),
	}
	reLakh   = regexp.MustCompile(`(\d+(?:\.\d+)?) ?(?:lakhs?|lacs?|லட்சம்|லட்ச)`)
	reIncome = []*regexp.Regexp{
		regexp.MustCompile(`(?:income|earn|earning|salary|வருமானம்)(?: is| of)? (?:rs |₹ ?)?(\d[\d,]*)`),
		regexp.MustCompile(`(?:rs |₹ ?)(\d[\d,]*)`),
	}
	reLand = regexp.MustCompile(`(\d+(?:\.\d+)?) ?(?:acres?|ஏக்கர்)`)
	reFam  = regexp.MustCompile(`family of (\d{1,2})|(\d{1,2}) (?:family members|members in (?:my|the) family)`)
)

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Rules is the offline extractor: keyword sets and regular expressions
// over English and Tamil text. GenerateResponse returns the template text
// unchanged.
type Rules struct {
	categories []categoryWords
}

type categoryWords struct {
	name  string
	words []string
}

// NewRules creates the rule extractor. categories maps a scheme category
// to the keywords that select it.
func NewRules(categories map[string][]string) *Rules {
	r := &Rules{}
	for name, words := range categories {
		r.categories = append(r.categories, categoryWords{name: name, words: words})
	}
	sort.Slice(r.categories, func(i, j int) bool { return r.categories[i].name < r.categories[j].name })
	return r
}

// Clean lowercases text and replaces punctuation with single spaces.
// Separators inside numbers ("1,00,000", "2.5") are kept.
func Clean(text string) string {
	rs := []rune(strings.ToLower(text))
	var b strings.Builder
	for i, r := range rs {
		switch {
		case unicode.IsLetter(r), unicode.IsMark(r), unicode.IsNumber(r), r == '₹':
			b.WriteRune(r)
		case (r == '.' || r == ',') && i > 0 && i+1 < len(rs) && unicode.IsDigit(rs[i-1]) && unicode.IsDigit(rs[i+1]):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// YesNo reads a yes/no answer. ok is false when the text is neither.
func YesNo(text string) (yes, ok bool) {
	t := Clean(text)
	if t == "" {
		return false, false
	}
	tokens := strings.Fields(t)
	if len(tokens) > 4 {
		return false, false
	}
	for _, tok := range tokens {
		if noWords[tok] {
			return false, true
		}
	}
	for _, tok := range tokens {
		if yesWords[tok] {
			return true, true
		}
	}
	return false, false
}

func (r *Rules) ExtractEntities(ctx context.Context, text string, prior Prior) (Extraction, error) {
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}
	t := Clean(text)
	ex := Extraction{Intent: IntentUnknown, Entities: map[string]any{}}
	if t == "" {
		return ex, nil
	}
	padded := " " + t + " "

	switch {
	case greetings[t]:
		ex.Intent = IntentGreeting
		return ex, nil
	case closings[t]:
		ex.Intent = IntentClosing
		return ex, nil
	}

	extractEntities(t, padded, ex.Entities)
	ex.Category = r.category(padded)
	ex.Ordinal = ordinal(t)
	for _, aw := range actionWords {
		if containsAny(padded, aw.words) {
			ex.Action = aw.action
			break
		}
	}

	if yes, ok := YesNo(t); ok && (prior.ExpectYesNo || len(ex.Entities) == 0) {
		ex.Intent = IntentDeny
		if yes {
			ex.Intent = IntentAffirm
		}
		return ex, nil
	}

	switch {
	case ex.Action != "":
		ex.Intent = IntentApplicationHelp
	case ex.Ordinal > 0:
		ex.Intent = IntentApplicationHelp
	case containsAny(padded, eligibilityWords):
		ex.Intent = IntentEligibilityCheck
	case len(ex.Entities) > 0 && !containsAny(padded, schemeWords):
		ex.Intent = IntentProvideInfo
	default:
		ex.Intent = IntentSchemeSearch
	}
	return ex, nil
}

func (*Rules) GenerateResponse(ctx context.Context, tc TemplateContext, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return tc.Text, nil
}

func (r *Rules) category(padded string) string {
	for _, c := range r.categories {
		if containsAny(padded, c.words) {
			return c.name
		}
	}
	return ""
}

func extractEntities(t, padded string, out map[string]any) {
	for _, re := range reAge {
		if m := re.FindStringSubmatch(t); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 && n < 120 {
				out["age"] = float64(n)
				break
			}
		}
	}

	if m := reLakh.FindStringSubmatch(t); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			out["income"] = v * 100000
		}
	} else {
		for _, re := range reIncome {
			if m := re.FindStringSubmatch(t); m != nil {
				if v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimRight(m[1], ","), ",", ""), 64); err == nil {
					out["income"] = v
					break
				}
			}
		}
	}

	if m := reLand.FindStringSubmatch(t); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			out["land_size"] = v
			out["has_land"] = v > 0
		}
	}
	if m := reFam.FindStringSubmatch(t); m != nil {
		n := m[1]
		if n == "" {
			n = m[2]
		}
		if v, err := strconv.Atoi(n); err == nil {
			out["family_size"] = float64(v)
		}
	}

	switch {
	case containsAny(padded, []string{" not a farmer ", " not farmer ", " no farming "}):
		out["is_farmer"] = false
	case containsAny(padded, []string{" farmer ", " farming ", " i farm ", "விவசாயி"}):
		out["is_farmer"] = true
	}

	switch {
	case containsAny(padded, []string{" woman ", " female ", " lady ", " girl ", " mother ", " widow ", "பெண்", "விதவை"}):
		out["gender"] = "female"
	case containsAny(padded, []string{" man ", " male ", " boy ", "ஆண்"}):
		out["gender"] = "male"
	}

	for _, c := range []string{"sc", "st", "obc", "general"} {
		if strings.Contains(padded, " "+c+" ") {
			out["caste_category"] = c
			break
		}
	}

	for _, name := range sortedKeys(states) {
		if strings.Contains(padded, " "+name+" ") || (!isASCII(name) && strings.Contains(padded, name)) {
			out["state"] = states[name]
			break
		}
	}

	if containsAny(padded, []string{" bpl ", "below poverty", "வறுமைக் கோட்டுக்குக் கீழ்"}) {
		out["is_bpl"] = true
	}
	if containsAny(padded, []string{" widow ", "விதவை"}) {
		out["is_widow"] = true
	}
	if containsAny(padded, []string{" disabled ", " disability ", " handicapped ", "மாற்றுத்திறன்"}) {
		out["is_disabled"] = true
	}
	if containsAny(padded, []string{" student ", "மாணவ"}) {
		out["occupation"] = "student"
	}
}

func ordinal(t string) int {
	for _, tok := range strings.Fields(t) {
		if n, ok := ordinals[tok]; ok {
			return n
		}
	}
	return 0
}

// containsAny matches ASCII words on word boundaries and everything else
// (Tamil stems, phrases with explicit spaces) as substrings.
func containsAny(padded string, words []string) bool {
	for _, w := range words {
		if isASCII(w) && strings.TrimSpace(w) == w {
			if strings.Contains(padded, " "+w+" ") {
				return true
			}
			continue
		}
		if strings.Contains(padded, w) {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= unicode.MaxASCII {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// Longer names first so "tamil nadu" wins over any shorter overlap.
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}
