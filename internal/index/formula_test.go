package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormulaTwoOperandDivision(t *testing.T) {
	pf, err := parseFormula("(Binance.BTCUSDT + Bitget.BTCUSDT)/2")
	require.NoError(t, err)
	require.Len(t, pf.operands, 2)
	assert.Equal(t, PriceKey("Binance.BTCUSDT"), pf.operands[0])
	assert.Equal(t, PriceKey("Bitget.BTCUSDT"), pf.operands[1])
	assert.True(t, pf.hasDeclDiv)
	assert.Equal(t, "2", pf.declaredDiv)
}

func TestParseFormulaSingleOperandNoDivision(t *testing.T) {
	pf, err := parseFormula("Binance.BTCUSDT")
	require.NoError(t, err)
	require.Len(t, pf.operands, 1)
	assert.False(t, pf.hasDeclDiv)
}

func TestParseFormulaRejectsMultipleDivisions(t *testing.T) {
	_, err := parseFormula("A.X/2/3")
	assert.Error(t, err)
}

func TestParseFormulaRejectsEmptyOperand(t *testing.T) {
	_, err := parseFormula("A.X++B.Y")
	assert.Error(t, err)
}

func TestParseFormulaRejectsEmptyFormula(t *testing.T) {
	_, err := parseFormula("   ")
	assert.Error(t, err)
}

func TestParseFormulaStripsWhitespaceAndParens(t *testing.T) {
	pf, err := parseFormula(" ( A.X + B.Y ) / 2 ")
	require.NoError(t, err)
	assert.Equal(t, []PriceKey{"A.X", "B.Y"}, pf.operands)
}
