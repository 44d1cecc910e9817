package xlread

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zipEntry struct {
	name string
	data []byte
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func varint(v int) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func xlsbRec(typ int, parts ...[]byte) []byte {
	data := cat(parts...)
	return cat(varint(typ), varint(len(data)), data)
}

func wide(s string) []byte {
	return cat(le32(len([]rune(s))), utf16Bytes(s))
}

func bundleSh(state int, rid, name string) []byte {
	return xlsbRec(brtBundleSh, le32(state), le32(0), wide(rid), wide(name))
}

func xlsbCell(typ, col, xf int, parts ...[]byte) []byte {
	return xlsbRec(typ, le32(col), le32(xf), cat(parts...))
}

func xlsbFormula(typ, col int, value, rgce []byte) []byte {
	return xlsbCell(typ, col, 0, value, le16(0), le32(len(rgce)), rgce, le32(0))
}

const (
	relsNS      = `http://schemas.openxmlformats.org/package/2006/relationships`
	officeRelNS = `http://schemas.openxmlformats.org/officeDocument/2006/relationships/`
)

func sampleXLSB(t *testing.T) []byte {
	t.Helper()
	rootRels := `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="` + relsNS + `">` +
		`<Relationship Id="rId1" Type="` + officeRelNS + `officeDocument" Target="xl/workbook.bin"/></Relationships>`
	wbRels := `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="` + relsNS + `">` +
		`<Relationship Id="rId1" Type="` + officeRelNS + `worksheet" Target="worksheets/sheet1.bin"/>` +
		`<Relationship Id="rId2" Type="` + officeRelNS + `worksheet" Target="worksheets/sheet2.bin"/>` +
		`<Relationship Id="rId3" Type="` + officeRelNS + `styles" Target="styles.bin"/>` +
		`<Relationship Id="rId4" Type="` + officeRelNS + `sharedStrings" Target="sharedStrings.bin"/></Relationships>`

	workbook := cat(
		xlsbRec(brtWbProp, le32(0), le32(0)),
		bundleSh(0, "rId1", "Data"),
		bundleSh(1, "rId2", "Hidden"),
	)
	styles := cat(
		xlsbRec(brtFmt, le16(164), wide("yyyy-mm-dd")),
		xlsbRec(brtBeginCellXFs, le32(2)),
		xlsbRec(brtXF, le16(0xFFFF), le16(0), make([]byte, 12)),
		xlsbRec(brtXF, le16(0), le16(164), make([]byte, 12)),
		xlsbRec(brtEndCellXFs),
	)
	sst := cat(
		xlsbRec(brtSSTItem, []byte{0}, wide("shared")),
	)
	tExp := cat([]byte{0x01}, le32(4), le16(0))
	sheet := cat(
		xlsbRec(brtBeginSheetData),
		xlsbRec(brtRowHdr, le32(0), make([]byte, 13)),
		xlsbCell(brtCellIsst, 0, 0, le32(0)),
		xlsbCell(brtCellReal, 1, 0, lef64(2.5)),
		xlsbRec(brtRowHdr, le32(1), make([]byte, 13)),
		xlsbCell(brtCellRk, 0, 0, le32(42<<2|0x02)),
		xlsbCell(brtCellBool, 1, 0, []byte{1}),
		xlsbCell(brtCellError, 2, 0, []byte{0x2A}),
		xlsbRec(brtRowHdr, le32(2), make([]byte, 13)),
		xlsbCell(brtCellReal, 0, 1, lef64(38406)),
		xlsbCell(brtCellSt, 1, 0, wide("inline")),
		xlsbCell(brtCellBlank, 2, 0),
		xlsbRec(brtRowHdr, le32(3), make([]byte, 13)),
		xlsbFormula(brtFmlaNum, 0, lef64(3.5), cat([]byte{0x24}, le32(0), le16(0xC000), tInt(1), tOp(0x03))),
		xlsbFormula(brtFmlaString, 1, wide("ab"), cat(
			[]byte{0x17}, le16(1), utf16Bytes("a"),
			[]byte{0x17}, le16(1), utf16Bytes("b"),
			tOp(0x08))),
		xlsbRec(brtRowHdr, le32(4), make([]byte, 13)),
		xlsbFormula(brtFmlaNum, 0, lef64(1), tExp),
		xlsbRec(brtShrFmla, le32(4), le32(5), le32(0), le32(0), le32(7), cat([]byte{0x2C}, le32(0), le16(0xC001)), le32(0)),
		xlsbRec(brtRowHdr, le32(5), make([]byte, 13)),
		xlsbFormula(brtFmlaNum, 0, lef64(2), tExp),
		xlsbRec(brtEndSheetData),
	)
	empty := cat(xlsbRec(brtBeginSheetData), xlsbRec(brtEndSheetData))

	return buildZip(t,
		zipEntry{"_rels/.rels", []byte(rootRels)},
		zipEntry{"xl/workbook.bin", workbook},
		zipEntry{"xl/_rels/workbook.bin.rels", []byte(wbRels)},
		zipEntry{"xl/styles.bin", styles},
		zipEntry{"xl/sharedStrings.bin", sst},
		zipEntry{"xl/worksheets/sheet1.bin", sheet},
		zipEntry{"xl/worksheets/sheet2.bin", empty},
	)
}

func TestXLSBWorkbook(t *testing.T) {
	data := sampleXLSB(t)
	format, err := InspectFormat("", data)
	require.NoError(t, err)
	assert.Equal(t, FormatXLSB, format)

	wb, err := Open(data, Options{})
	require.NoError(t, err)
	defer wb.Close()
	meta, err := wb.SheetsMetadata()
	require.NoError(t, err)
	assert.Equal(t, []SheetMetadata{
		{Name: "Data", Kind: WorkSheet, Visibility: Visible},
		{Name: "Hidden", Kind: WorkSheet, Visibility: Hidden},
	}, meta)

	sh, err := wb.SheetByName("Data")
	require.NoError(t, err)
	rows, err := sh.Rows()
	require.NoError(t, err)
	assert.Equal(t, [][]Value{
		{StringValue("shared"), FloatValue(2.5), {}},
		{IntValue(42), BoolValue(true), ErrorValue("#N/A")},
		{date(2005, 2, 23), StringValue("inline"), {}},
		{FloatValue(3.5), StringValue("ab"), {}},
		{FloatValue(1), {}, {}},
		{FloatValue(2), {}, {}},
	}, rows)

	merged, err := sh.MergedCellRanges()
	require.NoError(t, err)
	assert.Nil(t, merged)

	_, err = wb.TableNames()
	assert.ErrorIs(t, err, ErrTablesNotSupported)
}

func TestXLSBFormulas(t *testing.T) {
	wb, err := Open(sampleXLSB(t), Options{ReadFormulas: true})
	require.NoError(t, err)
	defer wb.Close()

	it, err := wb.LazySheetByName("Data")
	require.NoError(t, err)
	require.NoError(t, it.Close())

	sh, err := wb.SheetByName("Data")
	require.NoError(t, err)
	f, err := sh.Formulas()
	require.NoError(t, err)
	require.Len(t, f, 6)
	assert.Equal(t, []string{"A1+1", `"a"&"b"`, ""}, f[3])
	assert.Equal(t, "B5", f[4][0])
	assert.Equal(t, "B6", f[5][0])
}

func TestXLSBRecordReader(t *testing.T) {
	stream := cat(xlsbRec(brtCellReal, make([]byte, 200)), xlsbRec(1000, []byte{1}))
	rr := newXLSBRecordReader(bytes.NewReader(stream))
	rec, err := rr.next()
	require.NoError(t, err)
	assert.Equal(t, brtCellReal, rec.typ)
	assert.Len(t, rec.data, 200)
	rec, err = rr.next()
	require.NoError(t, err)
	assert.Equal(t, 1000, rec.typ)

	rr = newXLSBRecordReader(bytes.NewReader([]byte{0x05, 0x08, 1, 2}))
	_, err = rr.next()
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestXLSBMissingWorkbookPart(t *testing.T) {
	data := buildZip(t,
		zipEntry{"xl/workbook.bin", nil},
		zipEntry{"_rels/.rels", []byte(`<Relationships xmlns="` + relsNS + `"><Relationship Id="rId1" Type="` +
			officeRelNS + `officeDocument" Target="xl/book.bin"/></Relationships>`)},
	)
	_, err := Open(data, Options{})
	assert.ErrorIs(t, err, ErrUnrecognizedContainer)
}

// buildXLSBSheet wraps the records of one sheet's data in a minimal
// package with the shared strings "a" and "b".
func buildXLSBSheet(t *testing.T, records []byte) []byte {
	t.Helper()
	rootRels := `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="` + relsNS + `">` +
		`<Relationship Id="rId1" Type="` + officeRelNS + `officeDocument" Target="xl/workbook.bin"/></Relationships>`
	wbRels := `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="` + relsNS + `">` +
		`<Relationship Id="rId1" Type="` + officeRelNS + `worksheet" Target="worksheets/sheet1.bin"/>` +
		`<Relationship Id="rId2" Type="` + officeRelNS + `sharedStrings" Target="sharedStrings.bin"/></Relationships>`
	return buildZip(t,
		zipEntry{"_rels/.rels", []byte(rootRels)},
		zipEntry{"xl/workbook.bin", bundleSh(0, "rId1", "S")},
		zipEntry{"xl/_rels/workbook.bin.rels", []byte(wbRels)},
		zipEntry{"xl/sharedStrings.bin", cat(
			xlsbRec(brtSSTItem, []byte{0}, wide("a")),
			xlsbRec(brtSSTItem, []byte{0}, wide("b")),
		)},
		zipEntry{"xl/worksheets/sheet1.bin", cat(xlsbRec(brtBeginSheetData), records, xlsbRec(brtEndSheetData))},
	)
}

func TestXLSBSharedStringOutOfRange(t *testing.T) {
	data := buildXLSBSheet(t, cat(
		xlsbRec(brtRowHdr, le32(0), make([]byte, 13)),
		xlsbCell(brtCellIsst, 0, 0, le32(1)),
		xlsbCell(brtCellIsst, 1, 0, le32(2)),
	))
	wb, err := Open(data, Options{})
	require.NoError(t, err)
	defer wb.Close()

	_, err = wb.SheetByIndex(0)
	assert.ErrorIs(t, err, ErrCorruption)
	_, err = wb.LazySheetByIndex(0)
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestXLSBEncrypted(t *testing.T) {
	data := buildCFB(t,
		cfbStream{name: "EncryptionInfo", data: bytes.Repeat([]byte{0x04}, 4096)},
		cfbStream{name: "EncryptedPackage", data: bytes.Repeat([]byte{0x5A}, 4096)},
	)
	path := writeTemp(t, "book.xlsb", data)

	format, err := InspectFormat(path, nil)
	require.NoError(t, err)
	assert.Equal(t, FormatXLS, format, "encrypted packages are compound documents")

	_, err = OpenPath(path, Options{})
	assert.ErrorIs(t, err, ErrPassword)
	var xerr *Error
	require.ErrorAs(t, err, &xerr)
	assert.Contains(t, xerr.Error(), "encrypted")
}
