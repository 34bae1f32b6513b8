package index

import (
	"fmt"
	"strings"
)

// parsedFormula is the result of splitting a formula per the grammar of
// spec.md §4.3: after stripping whitespace and parentheses, a formula is
// NUMERATOR ('/' DIVISOR)? where NUMERATOR := KEY ('+' KEY)*.
type parsedFormula struct {
	operands    []PriceKey
	declaredDiv string // the literal divisor text; CalculateIndex never divides by it
	hasDeclDiv  bool
}

func parseFormula(formula string) (parsedFormula, error) {
	stripped := strings.NewReplacer(" ", "", "\t", "", "(", "", ")", "").Replace(formula)
	if stripped == "" {
		return parsedFormula{}, fmt.Errorf("empty formula")
	}

	parts := strings.Split(stripped, "/")
	if len(parts) > 2 {
		return parsedFormula{}, fmt.Errorf("more than one '/' in formula")
	}

	numeratorText := parts[0]
	if numeratorText == "" {
		return parsedFormula{}, fmt.Errorf("empty numerator")
	}

	operandTexts := strings.Split(numeratorText, "+")
	operands := make([]PriceKey, 0, len(operandTexts))
	for _, t := range operandTexts {
		if t == "" {
			return parsedFormula{}, fmt.Errorf("empty operand key")
		}
		operands = append(operands, PriceKey(t))
	}

	pf := parsedFormula{operands: operands}
	if len(parts) == 2 {
		if parts[1] == "" {
			return parsedFormula{}, fmt.Errorf("empty divisor")
		}
		pf.declaredDiv = parts[1]
		pf.hasDeclDiv = true
	}
	return pf, nil
}
