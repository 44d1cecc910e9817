package xlread

import "fmt"

// Table is a named, rectangular table defined in a worksheet. Start and End
// delimit the data area, which excludes the header row.
type Table struct {
	wb         *Workbook
	name       string
	sheet      string
	sheetIndex int
	columns    []string
	data       Dimensions
	empty      bool
}

func (t *Table) Name() string { return t.name }

// Sheet returns the name of the sheet holding the table.
func (t *Table) Sheet() string { return t.sheet }

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

func (t *Table) Start() Position { return t.data.Start }

func (t *Table) End() Position { return t.data.End }

// Height is the number of data rows.
func (t *Table) Height() int {
	if t.empty {
		return 0
	}
	return t.data.Height()
}

func (t *Table) Width() int { return t.data.Width() }

// Rows returns the data rows of the table.
func (t *Table) Rows() ([][]Value, error) {
	if err := t.wb.checkOpen(); err != nil {
		return nil, err
	}
	if t.empty {
		return [][]Value{}, nil
	}
	g, err := t.wb.sheetGrid(t.sheetIndex)
	if err != nil {
		return nil, err
	}
	return g.subgrid(t.data), nil
}

func (t *Table) String() string {
	return fmt.Sprintf("Table(%s, sheet=%s, %s)", t.name, t.sheet, t.data)
}
