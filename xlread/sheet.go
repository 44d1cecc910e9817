package xlread

import "fmt"

// SheetKind is the type of a sheet.
type SheetKind int

const (
	WorkSheet SheetKind = iota
	DialogSheet
	MacroSheet
	ChartSheet
	Vba
)

func (k SheetKind) String() string {
	switch k {
	case WorkSheet:
		return "WorkSheet"
	case DialogSheet:
		return "DialogSheet"
	case MacroSheet:
		return "MacroSheet"
	case ChartSheet:
		return "ChartSheet"
	case Vba:
		return "Vba"
	}
	return fmt.Sprintf("SheetKind(%d)", int(k))
}

// SheetVisibility is the visibility state of a sheet.
type SheetVisibility int

const (
	Visible SheetVisibility = iota
	Hidden
	// VeryHidden sheets can only be made visible again from a macro.
	VeryHidden
)

func (v SheetVisibility) String() string {
	switch v {
	case Visible:
		return "Visible"
	case Hidden:
		return "Hidden"
	case VeryHidden:
		return "VeryHidden"
	}
	return fmt.Sprintf("SheetVisibility(%d)", int(v))
}

// SheetMetadata describes a sheet without decoding it.
type SheetMetadata struct {
	Name       string
	Kind       SheetKind
	Visibility SheetVisibility
}

// Sheet contains the decoded data for one sheet.
//
// Rows are indexed from zero. You don't instantiate this type yourself;
// use Workbook.SheetByName or Workbook.SheetByIndex.
type Sheet struct {
	wb    *Workbook
	index int
	meta  SheetMetadata
	grid  *grid
}

func (s *Sheet) Name() string                { return s.meta.Name }
func (s *Sheet) Kind() SheetKind             { return s.meta.Kind }
func (s *Sheet) Visibility() SheetVisibility { return s.meta.Visibility }
func (s *Sheet) Metadata() SheetMetadata     { return s.meta }

// Start returns the top-left cell of the used region; ok is false for an
// empty sheet.
func (s *Sheet) Start() (Position, bool) {
	return s.grid.region.dims.Start, s.grid.region.ok
}

// End returns the bottom-right cell of the used region.
func (s *Sheet) End() (Position, bool) {
	return s.grid.region.dims.End, s.grid.region.ok
}

// Height is the number of rows in the used region.
func (s *Sheet) Height() int {
	if !s.grid.region.ok {
		return 0
	}
	return s.grid.region.dims.Height()
}

// Width is the number of columns in the used region.
func (s *Sheet) Width() int {
	if !s.grid.region.ok {
		return 0
	}
	return s.grid.region.dims.Width()
}

// TotalHeight is the number of rows counted from the first row of the
// sheet to the end of the used region.
func (s *Sheet) TotalHeight() int {
	if !s.grid.region.ok {
		return 0
	}
	return s.grid.region.dims.End.Row + 1
}

// TotalWidth is the number of columns counted from column A.
func (s *Sheet) TotalWidth() int {
	if !s.grid.region.ok {
		return 0
	}
	return s.grid.region.dims.End.Col + 1
}

// Rows returns the sheet's rows.
func (s *Sheet) Rows(opts ...RowOption) ([][]Value, error) {
	if err := s.wb.checkOpen(); err != nil {
		return nil, err
	}
	o := newRowOptions(opts)
	return s.grid.rows(o.skipEmptyArea, o.nrows), nil
}

// IterRows re-reads the sheet from the workbook, one row at a time.
func (s *Sheet) IterRows(opts ...RowOption) (*RowIterator, error) {
	if err := s.wb.checkOpen(); err != nil {
		return nil, err
	}
	return newIterator(s.wb, s.index, s.grid.region, false, newRowOptions(opts), valueOf)
}

// Formulas returns the formula text of every cell, aligned with Rows.
// Cells without a formula hold "".
func (s *Sheet) Formulas(opts ...RowOption) ([][]string, error) {
	if err := s.checkFormulas(); err != nil {
		return nil, err
	}
	o := newRowOptions(opts)
	return s.grid.formulaRows(o.skipEmptyArea, o.nrows), nil
}

// IterFormulas is the streaming form of Formulas.
func (s *Sheet) IterFormulas(opts ...RowOption) (*FormulaIterator, error) {
	if err := s.checkFormulas(); err != nil {
		return nil, err
	}
	return newIterator(s.wb, s.index, s.grid.region, true, newRowOptions(opts), formulaOf)
}

func (s *Sheet) checkFormulas() error {
	if err := s.wb.checkOpen(); err != nil {
		return err
	}
	if !s.wb.opts.ReadFormulas {
		return newError(ErrFormulaIterationDisabled, "")
	}
	return nil
}

// MergedCellRanges returns the merged areas of the sheet. It returns nil
// for formats that do not record merges (xlsb, ods).
func (s *Sheet) MergedCellRanges() ([]Dimensions, error) {
	if err := s.wb.checkOpen(); err != nil {
		return nil, err
	}
	m, ok, err := s.wb.dec.mergedCells(s.index)
	if err != nil || !ok {
		return nil, err
	}
	if m == nil {
		m = []Dimensions{}
	}
	return m, nil
}

func (s *Sheet) String() string {
	return fmt.Sprintf("Sheet(%s, %s, %s, %dx%d)", s.meta.Name, s.meta.Kind, s.meta.Visibility, s.Height(), s.Width())
}

// RowOption configures row reads.
type RowOption func(*rowOptions)

type rowOptions struct {
	skipEmptyArea bool
	nrows         int
}

func newRowOptions(opts []RowOption) rowOptions {
	o := rowOptions{skipEmptyArea: true, nrows: -1}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithSkipEmptyArea controls whether leading empty rows and columns are
// trimmed. The default is true; false keeps the rectangle anchored at A1.
func WithSkipEmptyArea(skip bool) RowOption {
	return func(o *rowOptions) { o.skipEmptyArea = skip }
}

// WithNRows limits the number of rows returned. Negative means no limit.
func WithNRows(n int) RowOption {
	return func(o *rowOptions) { o.nrows = n }
}
