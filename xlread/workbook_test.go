package xlread

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSources(t *testing.T) {
	data := sampleXLSX(t)
	path := writeTemp(t, "book.xlsx", data)

	tests := []struct {
		name string
		src  interface{}
		path string
	}{
		{"path", path, path},
		{"bytes", data, ""},
		{"reader at", bytes.NewReader(data), ""},
		{"plain reader", io.MultiReader(bytes.NewReader(data)), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wb, err := Open(tt.src, Options{})
			require.NoError(t, err)
			defer wb.Close()
			assert.Equal(t, FormatXLSX, wb.Format())
			assert.Equal(t, tt.path, wb.Path())
			names, err := wb.SheetNames()
			require.NoError(t, err)
			assert.Equal(t, "Data", names[0])
		})
	}

	wb, err := LoadWorkbook(path, Options{})
	require.NoError(t, err)
	assert.Contains(t, wb.String(), "book.xlsx, xlsx, sheets=[Data, Hidden, Secret, Prices, Chart]")
	require.NoError(t, wb.Close())
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		src  interface{}
		kind error
	}{
		{"nil", nil, ErrInvalidArgument},
		{"unsupported type", 42, ErrInvalidArgument},
		{"missing file", filepath.Join(dir, "missing.xlsx"), ErrNotFound},
		{"directory", dir, ErrNotFound},
		{"garbage", []byte("hello, world"), ErrUnrecognizedContainer},
		{"empty", []byte{}, ErrUnrecognizedContainer},
		{"foreign zip", buildZip(t, zipEntry{"readme.txt", []byte("hi")}), ErrUnrecognizedContainer},
		{"compound document without a workbook",
			buildCFB(t, cfbStream{name: "WordDocument", data: make([]byte, 4096)}), ErrUnrecognizedContainer},
		{"BIFF2 stream", biffRec(xlBOF, le16(0x0200), le16(xlWorkbookGlobals)), ErrUnrecognizedContainer},
		{"every zip candidate rejected", buildZip(t,
			zipEntry{"xl/workbook.xml", nil},
			zipEntry{"xl/workbook.bin", nil},
			zipEntry{"_rels/.rels", []byte(`<Relationships xmlns="` + relsNS + `">` +
				`<Relationship Id="rId1" Type="` + officeRelNS + `officeDocument" Target="xl/missing.xml"/>` +
				`<Relationship Id="rId2" Type="` + officeRelNS + `officeDocument" Target="xl/missing.bin"/>` +
				`</Relationships>`)},
		), ErrUnrecognizedContainer},
		{"globals without EOF", cat(bof8(xlWorkbookGlobals), biffRec(xlCodepage, le16(1252))), ErrCorruption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() { _, err = Open(tt.src, Options{}) })
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			var xe *Error
			require.ErrorAs(t, err, &xe)
			assert.Equal(t, tt.kind, xe.Kind)
		})
	}
}

func TestOpenTablesRequireXLSX(t *testing.T) {
	_, err := Open(sampleXLS(), Options{LoadTables: true})
	assert.ErrorIs(t, err, ErrTablesNotSupported)

	wb, err := Open(sampleXLS(), Options{})
	require.NoError(t, err)
	defer wb.Close()
	_, err = wb.TableNames()
	assert.ErrorIs(t, err, ErrTablesNotSupported)
}

func TestSheetLookupErrors(t *testing.T) {
	wb, err := Open(sampleXLSX(t), Options{})
	require.NoError(t, err)
	defer wb.Close()

	_, err = wb.SheetByName("Nope")
	assert.ErrorIs(t, err, ErrWorksheetNotFound)
	_, err = wb.SheetByIndex(-1)
	assert.ErrorIs(t, err, ErrWorksheetNotFound)
	_, err = wb.SheetByIndex(5)
	assert.ErrorIs(t, err, ErrWorksheetNotFound)
	_, err = wb.LazySheetByName("Nope")
	assert.ErrorIs(t, err, ErrWorksheetNotFound)
	_, err = wb.LazySheetByIndex(99)
	assert.ErrorIs(t, err, ErrWorksheetNotFound)
}

func TestSheetAccessors(t *testing.T) {
	wb, err := Open(sampleXLSX(t), Options{})
	require.NoError(t, err)
	defer wb.Close()

	sh, err := wb.SheetByName("Prices")
	require.NoError(t, err)
	assert.Equal(t, "Prices", sh.Name())
	assert.Equal(t, WorkSheet, sh.Kind())
	assert.Equal(t, Visible, sh.Visibility())
	start, ok := sh.Start()
	require.True(t, ok)
	assert.Equal(t, Position{0, 5}, start)
	end, _ := sh.End()
	assert.Equal(t, Position{3, 6}, end)
	assert.Equal(t, 4, sh.Height())
	assert.Equal(t, 2, sh.Width())
	assert.Equal(t, 4, sh.TotalHeight())
	assert.Equal(t, 7, sh.TotalWidth())
	assert.Equal(t, "Sheet(Prices, WorkSheet, Visible, 4x2)", sh.String())

	full, err := sh.Rows(WithSkipEmptyArea(false))
	require.NoError(t, err)
	require.Len(t, full, 4)
	assert.Len(t, full[0], 7)
	assert.Equal(t, StringValue("item"), full[0][5])

	first, err := sh.Rows(WithNRows(1))
	require.NoError(t, err)
	assert.Equal(t, [][]Value{{StringValue("item"), StringValue("price")}}, first)

	again, err := wb.SheetByName("Prices")
	require.NoError(t, err)
	assert.Same(t, sh.grid, again.grid, "decoded sheets are cached")
}

func TestWorkbookClose(t *testing.T) {
	wb, err := Open(sampleXLSX(t), Options{ReadFormulas: true, LoadTables: true})
	require.NoError(t, err)

	sh, err := wb.SheetByName("Data")
	require.NoError(t, err)
	it, err := wb.LazySheetByName("Data")
	require.NoError(t, err)
	require.True(t, it.Next())
	tbl, err := wb.TableByName("PriceList")
	require.NoError(t, err)

	require.NoError(t, wb.Close())
	assert.ErrorIs(t, wb.Close(), ErrWorkbookClosed)

	_, err = wb.SheetByName("Data")
	assert.ErrorIs(t, err, ErrWorkbookClosed)
	_, err = wb.SheetByIndex(0)
	assert.ErrorIs(t, err, ErrWorkbookClosed)
	_, err = wb.LazySheetByIndex(0)
	assert.ErrorIs(t, err, ErrWorkbookClosed)
	_, err = wb.TableNames()
	assert.ErrorIs(t, err, ErrWorkbookClosed)
	_, err = sh.Rows()
	assert.ErrorIs(t, err, ErrWorkbookClosed)
	_, err = sh.Formulas()
	assert.ErrorIs(t, err, ErrWorkbookClosed)
	_, err = sh.MergedCellRanges()
	assert.ErrorIs(t, err, ErrWorkbookClosed)
	_, err = tbl.Rows()
	assert.ErrorIs(t, err, ErrWorkbookClosed)

	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), ErrWorkbookClosed)
	_, err = wb.SheetNames()
	assert.ErrorIs(t, err, ErrWorkbookClosed)
	_, err = wb.SheetsMetadata()
	assert.ErrorIs(t, err, ErrWorkbookClosed)
	assert.Contains(t, wb.String(), "sheets=[Data, Hidden")
}

func TestCloseReleasesFile(t *testing.T) {
	wb, err := OpenPath(writeTemp(t, "book.xls", sampleXLS()), Options{})
	require.NoError(t, err)
	assert.Equal(t, FormatXLS, wb.Format())
	require.NoError(t, wb.Close())
}

func TestOpenLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	wb, err := Open(sampleXLS(), Options{Logger: logger})
	require.NoError(t, err)
	defer wb.Close()
	_, err = wb.SheetByIndex(0)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "workbook opened")
	assert.Contains(t, out, "format=xls")
	assert.True(t, strings.Contains(out, "sheet decoded"), out)
}
