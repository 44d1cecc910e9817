package xlread

import (
	"cmp"
	"fmt"
	"slices"
)

// Position is a zero-based cell coordinate.
type Position struct {
	Row int
	Col int
}

func (p Position) String() string {
	return fmt.Sprintf("%s%d", Colname(p.Col), p.Row+1)
}

// comparePositions orders positions row-major.
func comparePositions(a, b Position) int {
	if c := cmp.Compare(a.Row, b.Row); c != 0 {
		return c
	}
	return cmp.Compare(a.Col, b.Col)
}

// sortCells puts cells in row-major order. Cells at the same position keep
// their stream order, so the last one still wins.
func sortCells(cells []rawCell) {
	slices.SortStableFunc(cells, func(a, b rawCell) int {
		return comparePositions(a.pos, b.pos)
	})
}

// Dimensions is an inclusive rectangle of cells.
type Dimensions struct {
	Start Position
	End   Position
}

// Height returns the number of rows covered by d.
func (d Dimensions) Height() int { return d.End.Row - d.Start.Row + 1 }

// Width returns the number of columns covered by d.
func (d Dimensions) Width() int { return d.End.Col - d.Start.Col + 1 }

// Contains reports whether p lies inside d.
func (d Dimensions) Contains(p Position) bool {
	return p.Row >= d.Start.Row && p.Row <= d.End.Row && p.Col >= d.Start.Col && p.Col <= d.End.Col
}

func (d Dimensions) String() string {
	return d.Start.String() + ":" + d.End.String()
}

// rawCell is one decoded cell as produced by a decoder.
type rawCell struct {
	pos     Position
	value   Value
	formula string
}

// occupied reports whether the cell contributes to the used region.
func (c rawCell) occupied(withFormulas bool) bool {
	return !c.value.IsEmpty() || (withFormulas && c.formula != "")
}

// region accumulates the bounding box of occupied cells. It also notes
// whether they arrived out of row-major order.
type region struct {
	dims      Dimensions
	ok        bool
	last      Position
	unordered bool
}

func (r *region) add(p Position) {
	if !r.ok {
		r.dims = Dimensions{Start: p, End: p}
		r.ok = true
		r.last = p
		return
	}
	if comparePositions(p, r.last) < 0 {
		r.unordered = true
	}
	r.last = p
	r.dims.Start.Row = min(r.dims.Start.Row, p.Row)
	r.dims.Start.Col = min(r.dims.Start.Col, p.Col)
	r.dims.End.Row = max(r.dims.End.Row, p.Row)
	r.dims.End.Col = max(r.dims.End.Col, p.Col)
}

// frame returns the rectangle rows are emitted from: the used region, or
// the full rectangle anchored at A1 when empty areas are kept.
func (r region) frame(skipEmptyArea bool) (Dimensions, bool) {
	if !r.ok {
		return Dimensions{}, false
	}
	if skipEmptyArea {
		return r.dims, true
	}
	return Dimensions{End: r.dims.End}, true
}

// grid is a dense, row-major materialisation of a sheet's used region.
type grid struct {
	region   region
	values   []Value
	formulas []string
}

// buildGrid places cells into a dense grid covering their used region.
// Formulas are kept only when withFormulas is set.
func buildGrid(cells []rawCell, withFormulas bool) *grid {
	g := &grid{}
	for _, c := range cells {
		if c.occupied(withFormulas) {
			g.region.add(c.pos)
		}
	}
	if !g.region.ok {
		return g
	}
	d := g.region.dims
	g.values = make([]Value, d.Height()*d.Width())
	if withFormulas {
		g.formulas = make([]string, len(g.values))
	}
	for _, c := range cells {
		if !d.Contains(c.pos) {
			continue
		}
		i := (c.pos.Row-d.Start.Row)*d.Width() + c.pos.Col - d.Start.Col
		g.values[i] = c.value
		if withFormulas {
			g.formulas[i] = c.formula
		}
	}
	return g
}

// at returns the value at absolute position p, Empty outside the region.
func (g *grid) at(p Position) Value {
	if !g.region.ok || !g.region.dims.Contains(p) {
		return Value{}
	}
	d := g.region.dims
	return g.values[(p.Row-d.Start.Row)*d.Width()+p.Col-d.Start.Col]
}

func (g *grid) formulaAt(p Position) string {
	if g.formulas == nil || !g.region.ok || !g.region.dims.Contains(p) {
		return ""
	}
	d := g.region.dims
	return g.formulas[(p.Row-d.Start.Row)*d.Width()+p.Col-d.Start.Col]
}

// rows copies the grid out row by row. nrows < 0 means no limit.
func (g *grid) rows(skipEmptyArea bool, nrows int) [][]Value {
	f, ok := g.region.frame(skipEmptyArea)
	if !ok {
		return [][]Value{}
	}
	return sliceRows(f, nrows, func(p Position) Value { return g.at(p) })
}

func (g *grid) formulaRows(skipEmptyArea bool, nrows int) [][]string {
	f, ok := g.region.frame(skipEmptyArea)
	if !ok {
		return [][]string{}
	}
	return sliceRows(f, nrows, func(p Position) string { return g.formulaAt(p) })
}

// subgrid copies an arbitrary rectangle, used for table extraction.
func (g *grid) subgrid(d Dimensions) [][]Value {
	return sliceRows(d, -1, func(p Position) Value { return g.at(p) })
}

func sliceRows[T any](f Dimensions, nrows int, cell func(Position) T) [][]T {
	h := f.Height()
	if nrows >= 0 && nrows < h {
		h = nrows
	}
	out := make([][]T, h)
	for i := range out {
		row := make([]T, f.Width())
		for j := range row {
			row[j] = cell(Position{Row: f.Start.Row + i, Col: f.Start.Col + j})
		}
		out[i] = row
	}
	return out
}

// Colname returns the column name for a given column index (0-based).
// Example: Colname(0) returns "A", Colname(25) returns "Z", Colname(26) returns "AA"
func Colname(colx int) string {
	if colx < 0 {
		return ""
	}

	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	name := ""
	for {
		quot := colx / 26
		rem := colx % 26
		name = string(alphabet[rem]) + name
		if quot == 0 {
			break
		}
		colx = quot - 1
	}
	return name
}

// parseCellRef parses an A1-style reference, ignoring '$' markers.
func parseCellRef(ref string) (Position, error) {
	var p Position
	i := 0
	col := 0
	for i < len(ref) && (ref[i] == '$' || (ref[i] >= 'A' && ref[i] <= 'Z') || (ref[i] >= 'a' && ref[i] <= 'z')) {
		c := ref[i]
		i++
		if c == '$' {
			continue
		}
		if c >= 'a' {
			c -= 'a' - 'A'
		}
		col = col*26 + int(c-'A') + 1
	}
	row := 0
	digits := 0
	for ; i < len(ref); i++ {
		c := ref[i]
		if c == '$' && digits == 0 {
			continue
		}
		if c < '0' || c > '9' {
			return p, corruptf("invalid cell reference %q", ref)
		}
		row = row*10 + int(c-'0')
		digits++
	}
	if col == 0 || digits == 0 || row == 0 {
		return p, corruptf("invalid cell reference %q", ref)
	}
	return Position{Row: row - 1, Col: col - 1}, nil
}

// parseRangeRef parses "A1:C3" or a single cell reference.
func parseRangeRef(ref string) (Dimensions, error) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == ':' {
			start, err := parseCellRef(ref[:i])
			if err != nil {
				return Dimensions{}, err
			}
			end, err := parseCellRef(ref[i+1:])
			if err != nil {
				return Dimensions{}, err
			}
			return Dimensions{Start: start, End: end}, nil
		}
	}
	p, err := parseCellRef(ref)
	if err != nil {
		return Dimensions{}, err
	}
	return Dimensions{Start: p, End: p}, nil
}
