package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yamitzky/xlread-go/xlread"
)

func newCSVCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "csv <input> [output]",
		Short: "Convert workbook sheets to CSV",
		Long: `Convert one or more sheets of a workbook to CSV.

Use '-' as input to read the workbook from stdin. When output is a
directory every selected sheet is written to <input>-<sheet>.csv. When
input is a directory every workbook in it is converted to <name>.csv in
the output directory, which defaults to the input directory.`,
		Example: `  # First sheet to stdout
  xlread csv book.xlsx

  # All sheets whose name starts with "2024", tab separated
  xlread csv -a -I '^2024' -d tab book.xls out.tsv

  # Formulas instead of values
  xlread csv --formulas book.xlsb`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runCSV,
	}
	f := cmd.Flags()
	f.BoolP("all", "a", false, "export all sheets")
	f.IntP("sheet", "s", -1, "sheet number to convert, 0 for all")
	f.StringP("sheetname", "n", "", "sheet name to convert")
	f.StringP("delimiter", "d", ",", "column delimiter, 'tab' or 'x09' for a tab")
	f.StringP("lineterminator", "l", "", `line terminator, '\n' '\r\n' or '\r' (default: os line separator)`)
	f.StringP("dateformat", "f", "", "override date/time format (ex. %Y/%m/%d)")
	f.String("floatformat", "", "override float format (ex. %.15f)")
	f.BoolP("ignoreempty", "i", false, "skip empty lines")
	f.BoolP("escape", "e", false, `escape \r\n\t characters`)
	f.StringP("sheetdelimiter", "p", defaultSheetDelimiter, `sheet delimiter, '' for none, 'x07' or '\f' for form feed`)
	f.StringP("quoting", "q", "minimal", "field quoting, 'none' 'minimal' 'nonnumeric' or 'all'")
	f.StringArrayP("include_sheet_pattern", "I", nil, "only include sheets matching the pattern, with -a")
	f.StringArrayP("exclude_sheet_pattern", "E", nil, "exclude sheets matching the pattern, with -a")
	f.BoolP("merge-cells", "m", false, "fill merged ranges with their top-left value")
	f.Bool("formulas", false, "write formula text where a cell has a formula")
	f.Bool("skip-empty-area", true, "drop leading empty rows and columns")
	return cmd
}

func runCSV(cmd *cobra.Command, args []string) error {
	cfg, logger := settingsFrom(cmd.Context())
	o, err := newCSVOptions(cmd, cfg)
	if err != nil {
		return err
	}
	o.logger = logger

	input, dest := args[0], ""
	if len(args) == 2 {
		dest = args[1]
	}
	if input == "-" {
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		return convert(source{path: "-", content: content}, dest, o, cmd.OutOrStdout())
	}

	st, err := os.Stat(input)
	if err != nil {
		return err
	}
	if st.IsDir() {
		return convertDir(cmd.Context(), input, dest, o)
	}
	return convert(source{path: input}, dest, o, cmd.OutOrStdout())
}

// source is a workbook named on the command line. content is set when it
// was read from stdin.
type source struct {
	path    string
	content []byte
}

func (s source) open(o csvOptions) (*xlread.Workbook, error) {
	opts := xlread.Options{ReadFormulas: o.formulas, Logger: o.logger}
	if s.content != nil {
		return xlread.Open(s.content, opts)
	}
	return xlread.OpenPath(s.path, opts)
}

// convert writes the selected sheets of one workbook to stdout when dest
// is empty, to one file per sheet when dest is a directory (or -s 0 was
// given), and to the file dest otherwise.
func convert(src source, dest string, o csvOptions, stdout io.Writer) error {
	book, err := src.open(o)
	if err != nil {
		return err
	}
	defer book.Close()

	sheets, err := selectSheets(book, o)
	if err != nil {
		return err
	}
	if dest == "" {
		return writeCSV(stdout, book, sheets, o)
	}
	if o.sheetNum != 0 {
		if st, err := os.Stat(dest); err != nil || !st.IsDir() {
			return writeCSVFile(dest, book, sheets, o)
		}
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	names, err := book.SheetNames()
	if err != nil {
		return err
	}
	for _, i := range sheets {
		name := fmt.Sprintf("%s-%s.csv", stem(src.path), safeSheetName(names[i]))
		if err := writeCSVFile(filepath.Join(dest, name), book, []int{i}, o); err != nil {
			return err
		}
	}
	return nil
}

// convertDir converts every workbook in dir, one goroutine and one
// Workbook per file.
func convertDir(ctx context.Context, dir, dest string, o csvOptions) error {
	if dest == "" {
		dest = dir
	}
	books, err := findWorkbooks(dir)
	if err != nil {
		return err
	}
	if len(books) == 0 {
		return fmt.Errorf("no workbooks found in %s", dir)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for _, path := range books {
		out := filepath.Join(dest, stem(path)+".csv")
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			o.logger.Debug("converting workbook", "input", path, "output", out)
			if err := convert(source{path: path}, out, o, io.Discard); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// findWorkbooks lists the regular files of dir whose content is a
// workbook. Extensions are not consulted.
func findWorkbooks(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var books []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		format, err := xlread.InspectFormat(path, nil)
		if err != nil {
			return nil, err
		}
		switch format {
		case xlread.FormatUnknown, xlread.FormatZip:
		default:
			books = append(books, path)
		}
	}
	return books, nil
}

func selectSheets(book *xlread.Workbook, o csvOptions) ([]int, error) {
	names, err := book.SheetNames()
	if err != nil {
		return nil, err
	}
	switch {
	case o.sheetName != "":
		if i := slices.Index(names, o.sheetName); i >= 0 {
			return []int{i}, nil
		}
		return nil, fmt.Errorf("sheet %s not found", o.sheetName)
	case o.all:
		var picked []int
		for i, name := range names {
			if o.filter.allows(name) {
				picked = append(picked, i)
			}
		}
		if len(picked) == 0 {
			return nil, errors.New("no sheets matched selection")
		}
		return picked, nil
	case o.sheetNum > len(names):
		return nil, fmt.Errorf("sheet index %d out of range", o.sheetNum)
	case o.sheetNum > 0:
		return []int{o.sheetNum - 1}, nil
	case len(names) == 0:
		return nil, errors.New("workbook has no sheets")
	}
	return []int{0}, nil
}

func writeCSVFile(path string, book *xlread.Workbook, sheets []int, o csvOptions) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return writeCSV(f, book, sheets, o)
}

func writeCSV(w io.Writer, book *xlread.Workbook, sheets []int, o csvOptions) error {
	bw := bufio.NewWriter(w)
	cw := newCSVWriter(bw, o)
	for n, i := range sheets {
		if n > 0 && o.between != "" {
			if _, err := bw.WriteString(string(o.between) + string(o.lineEnding)); err != nil {
				return err
			}
		}
		sheet, err := book.SheetByIndex(i)
		if err != nil {
			return err
		}
		if err := writeSheet(cw, sheet, o); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeSheet(cw *csvWriter, sheet *xlread.Sheet, o csvOptions) error {
	area := xlread.WithSkipEmptyArea(o.skipEmptyArea)
	rows, err := sheet.Rows(area)
	if err != nil {
		return err
	}
	var formulas [][]string
	if o.formulas {
		if formulas, err = sheet.Formulas(area); err != nil {
			return err
		}
	}
	if o.mergeCells {
		if err := fillMerged(sheet, rows, o.skipEmptyArea); err != nil {
			return err
		}
	}

	var fields []field
	for r, row := range rows {
		fields = fields[:0]
		blank := true
		for c, v := range row {
			fd := renderCell(v, o)
			if text := formulaAt(formulas, r, c); text != "" {
				fd = field{text: maybeEscape(text, o.escape)}
			}
			blank = blank && fd.text == ""
			fields = append(fields, fd)
		}
		if blank && o.skipBlank {
			continue
		}
		if err := cw.writeRow(fields); err != nil {
			return err
		}
	}
	return nil
}

func formulaAt(formulas [][]string, r, c int) string {
	if r >= len(formulas) || c >= len(formulas[r]) {
		return ""
	}
	return formulas[r][c]
}

// fillMerged copies the top-left value of every merged range into the
// rest of the range, clipped to the rows being written.
func fillMerged(sheet *xlread.Sheet, rows [][]xlread.Value, skipEmptyArea bool) error {
	merged, err := sheet.MergedCellRanges()
	if err != nil || len(merged) == 0 {
		return err
	}
	var origin xlread.Position
	if skipEmptyArea {
		origin, _ = sheet.Start()
	}
	at := func(p xlread.Position) *xlread.Value {
		r, c := p.Row-origin.Row, p.Col-origin.Col
		if r < 0 || c < 0 || r >= len(rows) || c >= len(rows[r]) {
			return nil
		}
		return &rows[r][c]
	}
	for _, d := range merged {
		top := at(d.Start)
		if top == nil {
			continue
		}
		for r := d.Start.Row; r <= d.End.Row; r++ {
			for c := d.Start.Col; c <= d.End.Col; c++ {
				if cell := at(xlread.Position{Row: r, Col: c}); cell != nil {
					*cell = *top
				}
			}
		}
	}
	return nil
}

// stem is the file name of path without directory or extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// safeSheetName makes a sheet name usable inside a file name.
func safeSheetName(name string) string {
	name = strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, name))
	if name == "" {
		return "sheet"
	}
	return name
}
