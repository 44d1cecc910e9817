package xlread

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// BIFF12 record types.
const (
	brtRowHdr         = 0
	brtCellBlank      = 1
	brtCellRk         = 2
	brtCellError      = 3
	brtCellBool       = 4
	brtCellReal       = 5
	brtCellSt         = 6
	brtCellIsst       = 7
	brtFmlaString     = 8
	brtFmlaNum        = 9
	brtFmlaBool       = 10
	brtFmlaError      = 11
	brtSSTItem        = 19
	brtName           = 39
	brtFmt            = 44
	brtXF             = 47
	brtBeginSheetData = 145
	brtEndSheetData   = 146
	brtWbProp         = 153
	brtBundleSh       = 156
	brtSupBookSrc     = 354
	brtSupSelf        = 355
	brtSupSame        = 356
	brtSupTabs        = 357
	brtSupAddin       = 358
	brtExternSheet    = 362
	brtShrFmla        = 426
	brtArrFmla        = 427
	brtBeginCellXFs   = 617
	brtEndCellXFs     = 618
)

type xlsbRecord struct {
	typ  int
	data []byte
}

// xlsbRecordReader reads the variable length record headers of BIFF12
// parts.
type xlsbRecordReader struct {
	r       *bufio.Reader
	pending *xlsbRecord
}

func newXLSBRecordReader(r io.Reader) *xlsbRecordReader {
	return &xlsbRecordReader{r: bufio.NewReader(r)}
}

func (rr *xlsbRecordReader) unread(rec xlsbRecord) { rr.pending = &rec }

// next returns io.EOF at a clean end of part.
func (rr *xlsbRecordReader) next() (xlsbRecord, error) {
	if rr.pending != nil {
		rec := *rr.pending
		rr.pending = nil
		return rec, nil
	}
	typ, err := rr.varint(2)
	if err != nil {
		return xlsbRecord{}, err
	}
	size, err := rr.varint(4)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = corruptf("record %d has no length", typ)
		}
		return xlsbRecord{}, err
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(rr.r, data); err != nil {
		return xlsbRecord{}, wrapError(ErrCorruption, err, "record %d of %d bytes", typ, size)
	}
	return xlsbRecord{typ: typ, data: data}, nil
}

// varint reads up to n bytes of 7 bit groups, low group first.
func (rr *xlsbRecordReader) varint(n int) (int, error) {
	v := 0
	for i := 0; i < n; i++ {
		b, err := rr.r.ReadByte()
		if err != nil {
			if i > 0 && errors.Is(err, io.EOF) {
				return 0, corruptf("truncated record header")
			}
			return 0, err
		}
		v |= int(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			break
		}
	}
	return v, nil
}

type xlsb struct {
	pkg      *zipPackage
	logger   *slog.Logger
	sheetsX  []xlsxSheetPart
	sst      []string
	styles   *styleTable
	date1904 bool
	fc       *formulaContext
}

func openXLSB(ra io.ReaderAt, size int64, logger *slog.Logger) (*xlsb, error) {
	pkg, err := openZipPackage(ra, size)
	if err != nil {
		return nil, err
	}
	d := &xlsb{pkg: pkg, logger: logger, styles: newStyleTable(), fc: &formulaContext{layout: layoutBIFF12}}

	wbPart := "xl/workbook.bin"
	rootRels, err := pkg.relsFor("")
	if err != nil {
		return nil, err
	}
	for _, r := range rootRels {
		if relTypeSuffix(r.Type) == officeDocumentRel && strings.HasSuffix(strings.ToLower(r.Target), ".bin") {
			wbPart = r.Target
		}
	}
	if !pkg.has(wbPart) {
		return nil, newError(ErrUnrecognizedContainer, "no %s in package", wbPart)
	}
	rels, err := pkg.relsFor(wbPart)
	if err != nil {
		return nil, err
	}
	if err := d.readWorkbook(wbPart, rels); err != nil {
		return nil, err
	}
	for _, r := range rels {
		switch relTypeSuffix(r.Type) {
		case "styles":
			if pkg.has(r.Target) {
				if err := d.readStyles(r.Target); err != nil {
					return nil, err
				}
			}
		case "sharedStrings":
			if pkg.has(r.Target) {
				if err := d.readSharedStrings(r.Target); err != nil {
					return nil, err
				}
			}
		}
	}
	for _, s := range d.sheetsX {
		d.fc.sheets = append(d.fc.sheets, s.meta.Name)
	}
	return d, nil
}

// eachRecord calls fn for every record of a part.
func (d *xlsb) eachRecord(part string, fn func(rec xlsbRecord) error) error {
	rc, err := d.pkg.open(part)
	if err != nil {
		return err
	}
	defer rc.Close()
	rr := newXLSBRecordReader(rc)
	for {
		rec, err := rr.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return wrapError(ErrCorruption, err, "read %s", part)
		}
		if err := fn(rec); err != nil {
			return wrapError(ErrCorruption, err, "read %s", part)
		}
	}
}

func (d *xlsb) readWorkbook(part string, rels map[string]relationship) error {
	return d.eachRecord(part, func(rec xlsbRecord) error {
		c := &cursor{b: rec.data}
		switch rec.typ {
		case brtWbProp:
			d.date1904 = c.u32()&0x01 != 0
		case brtBundleSh:
			state := c.u32()
			c.skip(4) // iTabID
			rid := c.nullableWideString()
			name := c.wideString()
			if c.err != nil {
				return c.err
			}
			rel, ok := rels[rid]
			if !ok {
				return corruptf("sheet %q has no relationship %q", name, rid)
			}
			meta := SheetMetadata{Name: name, Kind: xlsxSheetKind(rel.Type)}
			switch state {
			case 1:
				meta.Visibility = Hidden
			case 2:
				meta.Visibility = VeryHidden
			}
			d.sheetsX = append(d.sheetsX, xlsxSheetPart{meta: meta, path: rel.Target})
		case brtName:
			c.skip(4 + 1) // flags, chKey
			c.skip(4)     // itab
			d.fc.names = append(d.fc.names, c.wideString())
		case brtSupSelf, brtSupSame:
			d.fc.supbooks = append(d.fc.supbooks, supbook{internal: true})
		case brtSupAddin:
			d.fc.supbooks = append(d.fc.supbooks, supbook{book: "add-in"})
		case brtSupBookSrc:
			d.fc.supbooks = append(d.fc.supbooks, supbook{book: c.wideString()})
		case brtSupTabs:
			if n := len(d.fc.supbooks); n > 0 {
				count := int(c.u32())
				for i := 0; i < count && c.err == nil; i++ {
					d.fc.supbooks[n-1].sheets = append(d.fc.supbooks[n-1].sheets, c.wideString())
				}
			}
		case brtExternSheet:
			count := int(c.u32())
			for i := 0; i < count && c.err == nil; i++ {
				x := externSheet{supbook: int(c.u32()), first: int(int32(c.u32())), last: int(int32(c.u32()))}
				d.fc.externs = append(d.fc.externs, x)
			}
		}
		return c.err
	})
}

func (d *xlsb) readStyles(part string) error {
	inCellXfs := false
	return d.eachRecord(part, func(rec xlsbRecord) error {
		c := &cursor{b: rec.data}
		switch rec.typ {
		case brtFmt:
			id := int(c.u16())
			d.styles.addFormat(id, c.wideString())
		case brtBeginCellXFs:
			inCellXfs = true
		case brtEndCellXFs:
			inCellXfs = false
		case brtXF:
			if inCellXfs {
				c.skip(2)
				d.styles.addStyle(int(c.u16()))
			}
		}
		return c.err
	})
}

func (d *xlsb) readSharedStrings(part string) error {
	return d.eachRecord(part, func(rec xlsbRecord) error {
		if rec.typ != brtSSTItem {
			return nil
		}
		c := &cursor{b: rec.data}
		c.skip(1) // rich text and phonetic flags
		d.sst = append(d.sst, c.wideString())
		return c.err
	})
}

func (d *xlsb) sheets() []SheetMetadata {
	out := make([]SheetMetadata, len(d.sheetsX))
	for i, s := range d.sheetsX {
		out[i] = s.meta
	}
	return out
}

func (d *xlsb) close() error { return nil }

func (d *xlsb) mergedCells(int) ([]Dimensions, bool, error) { return nil, false, nil }

func (d *xlsb) cells(index int, withFormulas bool) (cellReader, error) {
	rc, err := d.pkg.open(d.sheetsX[index].path)
	if err != nil {
		return nil, err
	}
	return &xlsbCellReader{
		d:            d,
		sheet:        d.sheetsX[index].meta.Name,
		rc:           rc,
		rr:           newXLSBRecordReader(rc),
		withFormulas: withFormulas,
	}, nil
}

type xlsbShared struct {
	ref        Dimensions
	rgce, rgcb []byte
	array      bool
}

type xlsbCellReader struct {
	d            *xlsb
	sheet        string
	rc           io.ReadCloser
	rr           *xlsbRecordReader
	withFormulas bool
	inData, done bool
	row          int
	shared       []xlsbShared
}

func (r *xlsbCellReader) close() error { return r.rc.Close() }

func (r *xlsbCellReader) next() (rawCell, error) {
	for !r.done {
		rec, err := r.rr.next()
		if errors.Is(err, io.EOF) {
			r.done = true
			break
		}
		if err != nil {
			return rawCell{}, wrapError(ErrCorruption, err, "sheet %q", r.sheet)
		}
		switch rec.typ {
		case brtBeginSheetData:
			r.inData = true
			continue
		case brtEndSheetData:
			r.done = true
			continue
		case brtRowHdr:
			c := &cursor{b: rec.data}
			r.row = int(c.u32())
			if c.err != nil {
				return rawCell{}, wrapError(ErrCorruption, c.err, "sheet %q row header", r.sheet)
			}
			continue
		}
		if !r.inData || rec.typ < brtCellBlank || rec.typ > brtFmlaError {
			continue
		}
		cell, err := r.convert(rec)
		if err != nil {
			return rawCell{}, wrapError(ErrCorruption, err, "sheet %q", r.sheet)
		}
		if cell.occupied(r.withFormulas) {
			return cell, nil
		}
	}
	return rawCell{}, io.EOF
}

func (r *xlsbCellReader) convert(rec xlsbRecord) (rawCell, error) {
	d := r.d
	c := &cursor{b: rec.data}
	col := int(c.u32())
	xf := int(c.u32() & 0xFFFFFF)
	cell := rawCell{pos: Position{Row: r.row, Col: col}}
	class := d.styles.formatClass(xf)

	switch rec.typ {
	case brtCellRk:
		cell.value = rkValue(c.u32(), class, d.date1904)
	case brtCellError:
		cell.value = ErrorValue(errorText(c.u8()))
	case brtCellBool:
		cell.value = BoolValue(c.u8() != 0)
	case brtCellReal:
		cell.value = convertNumber(c.f64(), class, d.date1904)
	case brtCellSt:
		cell.value = StringValue(c.wideString())
	case brtCellIsst:
		idx := int(c.u32())
		if c.err == nil && idx >= len(d.sst) {
			return cell, corruptf("cell %s: shared string %d of %d", cell.pos, idx, len(d.sst))
		}
		if c.err == nil {
			cell.value = StringValue(d.sst[idx])
		}
	case brtFmlaString:
		cell.value = StringValue(c.wideString())
	case brtFmlaNum:
		cell.value = convertNumber(c.f64(), class, d.date1904)
	case brtFmlaBool:
		cell.value = BoolValue(c.u8() != 0)
	case brtFmlaError:
		cell.value = ErrorValue(errorText(c.u8()))
	}
	if rec.typ >= brtFmlaString {
		c.skip(2) // grbitFlags
		rgce := c.take(int(c.u32()))
		rgcb := c.take(int(c.u32()))
		if c.err != nil {
			return cell, c.err
		}
		if err := r.collectShared(); err != nil {
			return cell, err
		}
		if r.withFormulas {
			cell.formula = r.formulaText(cell.pos, rgce, rgcb)
		}
	}
	return cell, c.err
}

// collectShared consumes the shared and array formula records that follow
// a formula cell.
func (r *xlsbCellReader) collectShared() error {
	for {
		rec, err := r.rr.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.typ != brtShrFmla && rec.typ != brtArrFmla {
			r.rr.unread(rec)
			return nil
		}
		c := &cursor{b: rec.data}
		r1, r2, c1, c2 := int(c.u32()), int(c.u32()), int(c.u32()), int(c.u32())
		s := xlsbShared{ref: Dimensions{Start: Position{Row: r1, Col: c1}, End: Position{Row: r2, Col: c2}}}
		if rec.typ == brtArrFmla {
			s.array = true
			c.skip(1)
		}
		s.rgce = c.take(int(c.u32()))
		s.rgcb = c.take(int(c.u32()))
		if c.err != nil {
			return c.err
		}
		r.shared = append(r.shared, s)
	}
}

func (r *xlsbCellReader) formulaText(pos Position, rgce, rgcb []byte) string {
	fc := r.d.fc
	warn := r.d.logger.Warn
	if len(rgce) > 0 && rgce[0] == 0x01 {
		for i := len(r.shared) - 1; i >= 0; i-- {
			s := r.shared[i]
			if !s.ref.Contains(pos) {
				continue
			}
			if s.array {
				return fc.decodeFormula(s.rgce, s.rgcb, s.ref.Start, false, warn)
			}
			return fc.decodeFormula(s.rgce, s.rgcb, pos, true, warn)
		}
		warn("formula refers to a missing shared formula", "sheet", r.sheet, "cell", pos.String())
		return ""
	}
	return fc.decodeFormula(rgce, rgcb, pos, false, warn)
}
