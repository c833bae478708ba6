package normalize

import "regexp"

// correction pairs a compiled case-insensitive whole-word pattern with the
// canonical replacement text.
type correction struct {
	pattern   *regexp.Regexp
	canonical string
}

// correctionEntries is the fixed radiology dictionary. Multi-word phrases
// come first so they win over any overlapping single-word entry. Most
// entries map a term to its lower-case canonical spelling; the
// abbreviation entries restore canonical capitalization.
var correctionEntries = []struct {
	match     string
	canonical string
}{
	{"pleural effusion", "pleural effusion"},
	{"computed tomography", "computed tomography"},
	{"magnetic resonance", "magnetic resonance"},
	{"ct scan", "CT scan"},
	{"x ray", "X-ray"},

	{"anterior", "anterior"},
	{"posterior", "posterior"},
	{"lateral", "lateral"},
	{"medial", "medial"},
	{"superior", "superior"},
	{"inferior", "inferior"},
	{"proximal", "proximal"},
	{"distal", "distal"},
	{"bilateral", "bilateral"},
	{"unilateral", "unilateral"},
	{"consolidation", "consolidation"},
	{"atelectasis", "atelectasis"},
	{"pneumothorax", "pneumothorax"},
	{"cardiomegaly", "cardiomegaly"},
	{"hepatomegaly", "hepatomegaly"},
	{"splenomegaly", "splenomegaly"},
	{"lymphadenopathy", "lymphadenopathy"},
	{"calcification", "calcification"},
	{"contrast", "contrast"},
	{"enhancement", "enhancement"},
	{"hypoechoic", "hypoechoic"},
	{"hyperechoic", "hyperechoic"},
	{"echogenic", "echogenic"},
	{"anechoic", "anechoic"},
	{"doppler", "Doppler"},
	{"ultrasound", "ultrasound"},
	{"radiograph", "radiograph"},
	{"mri", "MRI"},
	{"xray", "X-ray"},
}

// corrections holds the compiled dictionary, built once at package init.
var corrections = compileCorrections()

func compileCorrections() []correction {
	out := make([]correction, 0, len(correctionEntries))
	for _, e := range correctionEntries {
		out = append(out, correction{
			pattern:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(e.match) + `\b`),
			canonical: e.canonical,
		})
	}
	return out
}

// CanonicalTerms returns the canonical forms of the dictionary, for use as
// a phonetic-matching vocabulary. The slice is a fresh copy.
func CanonicalTerms() []string {
	seen := make(map[string]struct{}, len(correctionEntries))
	terms := make([]string, 0, len(correctionEntries))
	for _, e := range correctionEntries {
		if _, ok := seen[e.canonical]; ok {
			continue
		}
		seen[e.canonical] = struct{}{}
		terms = append(terms, e.canonical)
	}
	return terms
}
