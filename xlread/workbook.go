package xlread

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
)

// Options contains options for opening a workbook.
type Options struct {
	// ReadFormulas keeps the formula text of every cell so that
	// Sheet.Formulas and Sheet.IterFormulas can be used. The default is
	// false, which saves memory and decoding time.
	ReadFormulas bool

	// LoadTables parses table definitions when the workbook is opened.
	// Only xlsx workbooks carry tables; for any other format Open fails
	// with ErrTablesNotSupported.
	LoadTables bool

	// Logger receives diagnostics about skipped records and unsupported
	// constructs. Nil discards them.
	Logger *slog.Logger
}

// decoder is implemented once per container format.
type decoder interface {
	sheets() []SheetMetadata
	// cells streams the cells of sheet index in row-major order.
	cells(index int, withFormulas bool) (cellReader, error)
	// mergedCells reports false when the format has no merge information.
	mergedCells(index int) ([]Dimensions, bool, error)
	close() error
}

// tableDecoder is implemented by formats that can carry tables.
type tableDecoder interface {
	loadTables(wb *Workbook) ([]*Table, error)
}

// cellReader yields cells until it returns io.EOF.
type cellReader interface {
	next() (rawCell, error)
	close() error
}

// Workbook is an open spreadsheet document.
//
// A Workbook is not safe for concurrent use. Sheets, tables and iterators
// obtained from it fail with ErrWorkbookClosed once it has been closed.
type Workbook struct {
	format Format
	path   string
	opts   Options
	logger *slog.Logger

	dec    decoder
	closer io.Closer

	meta         []SheetMetadata
	grids        map[int]*grid
	tables       []*Table
	tablesLoaded bool
	closed       bool
}

// OpenPath opens the workbook stored at path.
func OpenPath(path string, opts Options) (*Workbook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapError(ErrNotFound, err, "open %s", path)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapError(ErrNotFound, err, "stat %s", path)
	}
	if st.IsDir() {
		f.Close()
		return nil, wrapError(ErrNotFound, fs.ErrInvalid, "%s is a directory", path)
	}
	wb, err := openReaderAt(f, st.Size(), path, f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return wb, nil
}

type sizedReaderAt interface {
	io.ReaderAt
	Size() int64
}

// OpenReader opens a workbook from r. Readers that also implement
// io.ReaderAt and Size (such as *bytes.Reader) are used in place; anything
// else is read into memory first.
func OpenReader(r io.Reader, opts Options) (*Workbook, error) {
	if ra, ok := r.(sizedReaderAt); ok {
		return openReaderAt(ra, ra.Size(), "", nil, opts)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, wrapError(ErrNotFound, err, "read workbook")
	}
	return openReaderAt(bytes.NewReader(data), int64(len(data)), "", nil, opts)
}

// Open opens a workbook from a path (string), the file contents ([]byte),
// an io.ReaderAt with a Size method or an io.Reader. Any other source
// fails with ErrInvalidArgument.
func Open(src interface{}, opts Options) (*Workbook, error) {
	switch s := src.(type) {
	case string:
		return OpenPath(s, opts)
	case []byte:
		return openReaderAt(bytes.NewReader(s), int64(len(s)), "", nil, opts)
	case sizedReaderAt:
		return openReaderAt(s, s.Size(), "", nil, opts)
	case io.Reader:
		return OpenReader(s, opts)
	case nil:
		return nil, newError(ErrInvalidArgument, "nil workbook source")
	}
	return nil, newError(ErrInvalidArgument, "unsupported workbook source %T", src)
}

// LoadWorkbook is an alias of Open.
func LoadWorkbook(src interface{}, opts Options) (*Workbook, error) {
	return Open(src, opts)
}

func openReaderAt(ra io.ReaderAt, size int64, path string, closer io.Closer, opts Options) (*Workbook, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	candidates, err := sniff(ra, size)
	if err != nil {
		return nil, err
	}

	var dec decoder
	var format Format
	for _, f := range candidates {
		d, derr := openDecoder(f, ra, size, opts, logger)
		if derr == nil {
			dec, format = d, f
			break
		}
		if !errors.Is(derr, ErrUnrecognizedContainer) {
			return nil, derr
		}
		logger.Debug("format candidate rejected", "format", f, "error", derr)
		err = derr
	}
	if dec == nil {
		if err == nil {
			err = newError(ErrUnrecognizedContainer, "no candidate format")
		}
		return nil, err
	}

	wb := &Workbook{
		format: format,
		path:   path,
		opts:   opts,
		logger: logger,
		dec:    dec,
		closer: closer,
		meta:   dec.sheets(),
		grids:  make(map[int]*grid),
	}
	if opts.LoadTables {
		td, ok := dec.(tableDecoder)
		if !ok {
			dec.close()
			return nil, newError(ErrTablesNotSupported, "%s workbook", format)
		}
		if wb.tables, err = td.loadTables(wb); err != nil {
			dec.close()
			return nil, err
		}
		wb.tablesLoaded = true
	}
	logger.Debug("workbook opened", "format", format, "sheets", len(wb.meta), "tables", len(wb.tables))
	return wb, nil
}

func openDecoder(f Format, ra io.ReaderAt, size int64, opts Options, logger *slog.Logger) (decoder, error) {
	// Each case binds its concrete result so a failed open never leaks a
	// typed nil into the interface.
	switch f {
	case FormatXLSX:
		d, err := openXLSX(ra, size, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	case FormatXLSB:
		d, err := openXLSB(ra, size, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	case FormatODS:
		d, err := openODS(ra, size, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	case FormatXLS:
		d, err := openXLS(ra, size, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, newError(ErrUnrecognizedContainer, "unknown format %v", f)
}

// Format returns the container format of the workbook.
func (wb *Workbook) Format() Format { return wb.format }

// Path returns the path the workbook was opened from, or "".
func (wb *Workbook) Path() string { return wb.path }

// ReadFormulas reports whether the workbook was opened with ReadFormulas.
func (wb *Workbook) ReadFormulas() bool { return wb.opts.ReadFormulas }

// TablesLoaded reports whether table definitions were loaded at open.
func (wb *Workbook) TablesLoaded() bool { return wb.tablesLoaded }

// SheetNames returns the names of all sheets in container order.
func (wb *Workbook) SheetNames() ([]string, error) {
	if err := wb.checkOpen(); err != nil {
		return nil, err
	}
	return wb.sheetNames(), nil
}

func (wb *Workbook) sheetNames() []string {
	names := make([]string, len(wb.meta))
	for i, m := range wb.meta {
		names[i] = m.Name
	}
	return names
}

// SheetsMetadata returns name, kind and visibility of every sheet.
func (wb *Workbook) SheetsMetadata() ([]SheetMetadata, error) {
	if err := wb.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]SheetMetadata, len(wb.meta))
	copy(out, wb.meta)
	return out, nil
}

func (wb *Workbook) sheetIndex(name string) (int, error) {
	for i, m := range wb.meta {
		if m.Name == name {
			return i, nil
		}
	}
	return -1, newError(ErrWorksheetNotFound, "no sheet named <%s>", name)
}

func (wb *Workbook) checkIndex(index int) error {
	if index < 0 || index >= len(wb.meta) {
		return newError(ErrWorksheetNotFound, "sheet index %d out of range", index)
	}
	return nil
}

func (wb *Workbook) checkOpen() error {
	if wb.closed {
		return newError(ErrWorkbookClosed, "")
	}
	return nil
}

// SheetByName decodes the named sheet eagerly.
func (wb *Workbook) SheetByName(name string) (*Sheet, error) {
	if err := wb.checkOpen(); err != nil {
		return nil, err
	}
	i, err := wb.sheetIndex(name)
	if err != nil {
		return nil, err
	}
	return wb.sheetAt(i)
}

// SheetByIndex decodes the sheet at index eagerly.
func (wb *Workbook) SheetByIndex(index int) (*Sheet, error) {
	if err := wb.checkOpen(); err != nil {
		return nil, err
	}
	if err := wb.checkIndex(index); err != nil {
		return nil, err
	}
	return wb.sheetAt(index)
}

func (wb *Workbook) sheetAt(index int) (*Sheet, error) {
	g, err := wb.sheetGrid(index)
	if err != nil {
		return nil, err
	}
	return &Sheet{wb: wb, index: index, meta: wb.meta[index], grid: g}, nil
}

// LazySheetByName returns a single-pass row iterator over the named sheet
// without materialising it.
func (wb *Workbook) LazySheetByName(name string, opts ...RowOption) (*RowIterator, error) {
	if err := wb.checkOpen(); err != nil {
		return nil, err
	}
	i, err := wb.sheetIndex(name)
	if err != nil {
		return nil, err
	}
	return wb.LazySheetByIndex(i, opts...)
}

// LazySheetByIndex is like LazySheetByName.
func (wb *Workbook) LazySheetByIndex(index int, opts ...RowOption) (*RowIterator, error) {
	if err := wb.checkOpen(); err != nil {
		return nil, err
	}
	if err := wb.checkIndex(index); err != nil {
		return nil, err
	}
	reg, err := wb.scanRegion(index, wb.opts.ReadFormulas)
	if err != nil {
		return nil, err
	}
	return newIterator(wb, index, reg, false, newRowOptions(opts), valueOf)
}

// sheetGrid decodes and caches the dense grid of sheet index.
func (wb *Workbook) sheetGrid(index int) (*grid, error) {
	if g, ok := wb.grids[index]; ok {
		return g, nil
	}
	cr, err := wb.dec.cells(index, wb.opts.ReadFormulas)
	if err != nil {
		return nil, err
	}
	defer cr.close()
	var cells []rawCell
	for {
		c, err := cr.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	g := buildGrid(cells, wb.opts.ReadFormulas)
	wb.grids[index] = g
	wb.logger.Debug("sheet decoded", "sheet", wb.meta[index].Name, "cells", len(cells), "region", g.region.dims)
	return g, nil
}

// scanRegion streams a sheet once to find its used region.
func (wb *Workbook) scanRegion(index int, withFormulas bool) (region, error) {
	if g, ok := wb.grids[index]; ok && (!withFormulas || g.formulas != nil) {
		return g.region, nil
	}
	var reg region
	cr, err := wb.dec.cells(index, withFormulas)
	if err != nil {
		return reg, err
	}
	defer cr.close()
	for {
		c, err := cr.next()
		if err == io.EOF {
			return reg, nil
		}
		if err != nil {
			return reg, err
		}
		if c.occupied(withFormulas) {
			reg.add(c.pos)
		}
	}
}

// TableNames returns the names of all tables in discovery order.
func (wb *Workbook) TableNames() ([]string, error) {
	if err := wb.checkTables(); err != nil {
		return nil, err
	}
	names := make([]string, len(wb.tables))
	for i, t := range wb.tables {
		names[i] = t.name
	}
	return names, nil
}

// TableByName returns the table called name.
func (wb *Workbook) TableByName(name string) (*Table, error) {
	if err := wb.checkTables(); err != nil {
		return nil, err
	}
	for _, t := range wb.tables {
		if t.name == name {
			return t, nil
		}
	}
	return nil, newError(ErrTableNotFound, "no table named <%s>", name)
}

func (wb *Workbook) checkTables() error {
	if err := wb.checkOpen(); err != nil {
		return err
	}
	if _, ok := wb.dec.(tableDecoder); !ok {
		return newError(ErrTablesNotSupported, "%s workbook", wb.format)
	}
	if !wb.tablesLoaded {
		return newError(ErrTablesNotLoaded, "")
	}
	return nil
}

// Close releases the workbook. Closing twice returns ErrWorkbookClosed.
func (wb *Workbook) Close() error {
	if wb.closed {
		return newError(ErrWorkbookClosed, "already closed")
	}
	wb.closed = true
	wb.grids = nil
	var errs []error
	if err := wb.dec.close(); err != nil {
		errs = append(errs, err)
	}
	if wb.closer != nil {
		if err := wb.closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (wb *Workbook) String() string {
	name := wb.path
	if name == "" {
		name = "<stream>"
	}
	return fmt.Sprintf("Workbook(%s, %s, sheets=[%s])", name, wb.format, strings.Join(wb.sheetNames(), ", "))
}
