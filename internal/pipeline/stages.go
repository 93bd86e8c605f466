package pipeline

import (
	"fmt"
	"strings"
)

// Variant identifies a fixed stage composition.
type Variant string

const (
	// VariantQuick is the single-stage analysis used for simple requests.
	VariantQuick Variant = "quick"
	// VariantComprehensive runs verification, clinical analysis, and both
	// specialist stages.
	VariantComprehensive Variant = "comprehensive"
)

// Stage names. Prompt templates in internal/prompts/analysis.json are keyed by
// these names.
const (
	StageSummary         = "summary"
	StageVerification    = "verification"
	StageMedicalAnalysis = "medical_analysis"
	StageNutrition       = "nutrition"
	StageExercise        = "exercise"
)

// promptFile holds the stage prompt templates.
const promptFile = "analysis.json"

// StageSpec is the static configuration of one pipeline stage. DependsOn names
// prior stages whose outputs feed this stage's input, in declaration order.
type StageSpec struct {
	Name      string
	DependsOn []string
}

// Variants returns all registered pipeline variants.
func Variants() []Variant {
	return []Variant{VariantQuick, VariantComprehensive}
}

// StagesFor returns the stage composition for a variant in declaration order.
func StagesFor(v Variant) ([]StageSpec, error) {
	switch v {
	case VariantQuick:
		return []StageSpec{
			{Name: StageSummary},
		}, nil
	case VariantComprehensive:
		return []StageSpec{
			{Name: StageVerification},
			{Name: StageMedicalAnalysis, DependsOn: []string{StageVerification}},
			{Name: StageNutrition, DependsOn: []string{StageVerification, StageMedicalAnalysis}},
			{Name: StageExercise, DependsOn: []string{StageVerification, StageMedicalAnalysis}},
		}, nil
	default:
		return nil, fmt.Errorf("unknown pipeline variant: %q", v)
	}
}

// DefaultQuery returns the query substituted when a submission leaves it blank.
func DefaultQuery(v Variant) string {
	if v == VariantComprehensive {
		return "Provide comprehensive analysis with nutrition and exercise recommendations"
	}
	return "Summarize my blood test report"
}

// NormalizeQuery trims the query and substitutes the variant default when the
// result is empty. Applied once, at job descriptor creation.
func NormalizeQuery(v Variant, query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return DefaultQuery(v)
	}
	return query
}
