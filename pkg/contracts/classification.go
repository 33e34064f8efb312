package contracts

import "strings"

// Category is the label assigned by a classifier or by wormhole analysis.
type Category string

const (
	CategorySuspicious  Category = "Suspicious"
	CategoryConfirmed   Category = "Confirmed"
	CategoryNeedsMirror Category = "Needs-Mirror"

	CategorySystemCommand Category = "System Command"
	CategoryDiagnostic    Category = "Diagnostic"
	CategorySelfRepair    Category = "Self-Repair"
	CategoryStandard      Category = "Standard"

	CategoryUnclassified Category = "Unclassified"
)

var knownCategories = []Category{
	CategorySuspicious,
	CategoryConfirmed,
	CategoryNeedsMirror,
	CategorySystemCommand,
	CategoryDiagnostic,
	CategorySelfRepair,
	CategoryStandard,
}

func categoryKey(s string) string {
	r := strings.NewReplacer("-", "", "_", "", " ", "")
	return strings.ToLower(r.Replace(strings.TrimSpace(s)))
}

// NormalizeCategory maps free-form model output onto a known category,
// ignoring case, spaces, dashes and underscores. Anything unrecognized
// becomes CategoryUnclassified.
func NormalizeCategory(s string) Category {
	k := categoryKey(s)
	for _, c := range knownCategories {
		if categoryKey(string(c)) == k {
			return c
		}
	}
	return CategoryUnclassified
}

// ClassificationResult is a classifier verdict.
type ClassificationResult struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Rationale  string   `json:"rationale"`
}

// ClampConfidence bounds c into [0, 1]. NaN becomes 0.
func ClampConfidence(c float64) float64 {
	switch {
	case c != c:
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
