package xlread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColname(t *testing.T) {
	tests := map[int]string{
		0:     "A",
		25:    "Z",
		26:    "AA",
		51:    "AZ",
		701:   "ZZ",
		702:   "AAA",
		16383: "XFD",
		-1:    "",
	}
	for col, want := range tests {
		assert.Equal(t, want, Colname(col), "column %d", col)
	}
}

func TestParseCellRef(t *testing.T) {
	tests := []struct {
		ref  string
		want Position
	}{
		{"A1", Position{0, 0}},
		{"$B$3", Position{2, 1}},
		{"xfd1048576", Position{1048575, 16383}},
		{"AA10", Position{9, 26}},
	}
	for _, tt := range tests {
		got, err := parseCellRef(tt.ref)
		require.NoError(t, err, tt.ref)
		assert.Equal(t, tt.want, got, tt.ref)
	}

	for _, bad := range []string{"", "A", "1", "A0", "A1B"} {
		_, err := parseCellRef(bad)
		assert.ErrorIs(t, err, ErrCorruption, bad)
	}
}

func TestParseRangeRef(t *testing.T) {
	d, err := parseRangeRef("B2:D5")
	require.NoError(t, err)
	assert.Equal(t, Dimensions{Start: Position{1, 1}, End: Position{4, 3}}, d)
	assert.Equal(t, 4, d.Height())
	assert.Equal(t, 3, d.Width())
	assert.Equal(t, "B2:D5", d.String())
	assert.True(t, d.Contains(Position{3, 2}))
	assert.False(t, d.Contains(Position{0, 2}))

	d, err = parseRangeRef("C7")
	require.NoError(t, err)
	assert.Equal(t, Dimensions{Start: Position{6, 2}, End: Position{6, 2}}, d)

	_, err = parseRangeRef("A1:")
	assert.ErrorIs(t, err, ErrCorruption)
}

func sampleCells() []rawCell {
	return []rawCell{
		{pos: Position{1, 1}, value: StringValue("a")},
		{pos: Position{1, 3}, value: FloatValue(2)},
		{pos: Position{3, 2}, value: BoolValue(true)},
		{pos: Position{4, 4}, formula: "A1+1"},
	}
}

func TestBuildGrid(t *testing.T) {
	g := buildGrid(sampleCells(), false)
	require.True(t, g.region.ok)
	assert.Equal(t, Dimensions{Start: Position{1, 1}, End: Position{3, 3}}, g.region.dims,
		"a formula cell without a value does not count without formulas")

	rows := g.rows(true, -1)
	require.Len(t, rows, 3)
	assert.Equal(t, []Value{StringValue("a"), {}, FloatValue(2)}, rows[0])
	assert.Equal(t, []Value{{}, {}, {}}, rows[1])
	assert.Equal(t, []Value{{}, BoolValue(true), {}}, rows[2])

	full := g.rows(false, -1)
	require.Len(t, full, 4)
	assert.Len(t, full[0], 4)
	assert.Equal(t, StringValue("a"), full[1][1])

	assert.Len(t, g.rows(true, 2), 2)
	assert.Len(t, g.rows(true, 0), 0)
	assert.Len(t, g.rows(true, 10), 3)
}

func TestBuildGridWithFormulas(t *testing.T) {
	g := buildGrid(sampleCells(), true)
	assert.Equal(t, Position{4, 4}, g.region.dims.End)
	f := g.formulaRows(true, -1)
	require.Len(t, f, 4)
	assert.Equal(t, "A1+1", f[3][3])
	assert.Equal(t, "", f[0][0])
}

func TestBuildGridEmpty(t *testing.T) {
	g := buildGrid(nil, false)
	assert.False(t, g.region.ok)
	assert.Equal(t, [][]Value{}, g.rows(true, -1))
	assert.Equal(t, [][]Value{}, g.rows(false, -1))
	assert.True(t, g.at(Position{0, 0}).IsEmpty())
}

func TestSortCells(t *testing.T) {
	cells := []rawCell{
		{pos: Position{2, 0}, value: IntValue(1)},
		{pos: Position{0, 1}, value: IntValue(2)},
		{pos: Position{2, 0}, value: IntValue(3)},
		{pos: Position{0, 0}, value: IntValue(4)},
	}
	var reg region
	for _, c := range cells {
		reg.add(c.pos)
	}
	assert.True(t, reg.unordered)

	sortCells(cells)
	got := make([]Value, len(cells))
	for i, c := range cells {
		got[i] = c.value
	}
	assert.Equal(t, []Value{IntValue(4), IntValue(2), IntValue(1), IntValue(3)}, got)
	assert.Equal(t, IntValue(3), buildGrid(cells, false).at(Position{2, 0}), "last write wins")

	var ordered region
	for _, c := range cells {
		ordered.add(c.pos)
	}
	assert.False(t, ordered.unordered)
}

func TestSubgrid(t *testing.T) {
	g := buildGrid(sampleCells(), false)
	sub := g.subgrid(Dimensions{Start: Position{0, 0}, End: Position{1, 1}})
	assert.Equal(t, [][]Value{{{}, {}}, {{}, StringValue("a")}}, sub)
}
