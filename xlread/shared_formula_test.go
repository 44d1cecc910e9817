package xlread

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShiftFormula(t *testing.T) {
	tests := []struct {
		name    string
		formula string
		dr, dc  int
		want    string
	}{
		{"no shift", "A1+B2", 0, 0, "A1+B2"},
		{"relative cells", "A1+B2", 1, 0, "A2+B3"},
		{"absolute parts stay", "$A$1+A1+$A1+A$1", 2, 1, "$A$1+B3+$A3+B$1"},
		{"range in function", "SUM(A1:B1)", 1, 1, "SUM(B2:C2)"},
		{"quoted sheet", "'My Sheet'!A1*2", 1, 0, "'My Sheet'!A2*2"},
		{"plain sheet", "Data!B2", 0, 2, "Data!D2"},
		{"strings kept", `IF(A1="x","y""z",B1)`, 0, 1, `IF(B1="x","y""z",C1)`},
		{"names kept", "Rate*A1", 3, 0, "Rate*A4"},
		{"whole column", "SUM(A:A)", 5, 1, "SUM(B:B)"},
		{"off the sheet", "A1", -1, 0, "#REF!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shiftFormula(tt.formula, tt.dr, tt.dc))
		})
	}
}

func TestQuoteSheetRef(t *testing.T) {
	assert.Equal(t, "Sheet1", quoteSheetRef("Sheet1"))
	assert.Equal(t, "'My Sheet'", quoteSheetRef("My Sheet"))
	assert.Equal(t, "'2020'", quoteSheetRef("2020"))
	assert.Equal(t, "'It''s'", quoteSheetRef("It's"))
}
