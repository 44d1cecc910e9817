package xlread

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuiltinFormatClass(t *testing.T) {
	tests := map[int]formatClass{
		0:  classNumber,
		2:  classNumber,
		14: classDate,
		22: classDate,
		45: classDate,
		46: classDuration,
		47: classDate,
		49: classNumber,
	}
	for id, want := range tests {
		assert.Equal(t, want, builtinFormatClass(id), "format id %d", id)
	}
}

func TestClassifyFormatCode(t *testing.T) {
	tests := []struct {
		code string
		want formatClass
	}{
		{"yyyy-mm-dd", classDate},
		{"m/d/yyyy\\ h:mm:ss AM/PM;@", classDate},
		{"[$-409]d/m/yyyy", classDate},
		{"[h]:mm:ss", classDuration},
		{"0.00", classNumber},
		{"#,##0", classNumber},
		{"General", classNumber},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyFormatCode(tt.code))
		})
	}
}

func TestStyleTable(t *testing.T) {
	st := newStyleTable()
	st.addFormat(164, "yyyy-mm-dd")
	st.addFormat(165, "[mm]:ss")
	st.addStyle(0)
	st.addStyle(164)
	st.addStyle(165)
	st.addStyle(14)

	assert.Equal(t, classNumber, st.formatClass(0))
	assert.Equal(t, classDate, st.formatClass(1))
	assert.Equal(t, classDuration, st.formatClass(2))
	assert.Equal(t, classDate, st.formatClass(3))
	assert.Equal(t, classNumber, st.formatClass(99), "unknown style")

	var missing *styleTable
	assert.Equal(t, classNumber, missing.formatClass(0))
}
