package xlread

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"

	"golang.org/x/text/encoding"
)

type xlsSheet struct {
	meta   SheetMetadata
	offset int
}

// xls decodes BIFF5, BIFF7 and BIFF8 workbooks.
type xls struct {
	logger   *slog.Logger
	mem      []byte
	biff     int // 50 or 80
	enc      encoding.Encoding
	date1904 bool
	styles   *styleTable
	sst      []string
	sheetsX  []xlsSheet
	fc       *formulaContext
}

func openXLS(ra io.ReaderAt, size int64, logger *slog.Logger) (*xls, error) {
	mem, err := readBIFFStream(ra, size, logger)
	if err != nil {
		return nil, err
	}

	d := &xls{
		logger: logger,
		mem:    mem,
		styles: newStyleTable(),
	}
	if err := d.parseGlobals(); err != nil {
		return nil, err
	}
	if err := d.classifySheets(); err != nil {
		return nil, err
	}
	return d, nil
}

// readBIFFStream returns the workbook stream of a compound document, or
// the content itself when it is a bare BIFF stream.
func readBIFFStream(ra io.ReaderAt, size int64, logger *slog.Logger) ([]byte, error) {
	head := make([]byte, len(xlsSignature))
	n, err := ra.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		return nil, wrapError(ErrNotFound, err, "read signature")
	}
	if !bytes.Equal(head[:n], xlsSignature) {
		mem := make([]byte, size)
		if _, err := ra.ReadAt(mem, 0); err != nil && err != io.EOF {
			return nil, wrapError(ErrNotFound, err, "read workbook")
		}
		return mem, nil
	}
	cd, err := openCompoundDocument(ra)
	if err != nil {
		return nil, err
	}
	if cd.encrypted() {
		return nil, newError(ErrPassword, "encrypted OOXML package")
	}
	mem, stream, err := cd.stream("Workbook", "Book")
	if err != nil {
		return nil, err
	}
	logger.Debug("compound document opened", "stream", stream, "bytes", len(mem))
	return mem, nil
}

// bofVersion reads a BOF record and returns the BIFF version and the
// substream type.
func bofVersion(rec biffRecord) (int, uint16, error) {
	if rec.code != xlBOF {
		return 0, 0, newError(ErrUnrecognizedContainer, "expected BOF record, found 0x%04x", rec.code)
	}
	if len(rec.data) < 4 {
		return 0, 0, corruptf("short BOF record")
	}
	version := binary.LittleEndian.Uint16(rec.data)
	streamType := binary.LittleEndian.Uint16(rec.data[2:])
	switch version {
	case 0x0600:
		return 80, streamType, nil
	case 0x0500:
		return 50, streamType, nil
	}
	return 0, 0, newError(ErrUnrecognizedContainer, "unsupported BIFF version 0x%04x", version)
}

func (d *xls) parseGlobals() error {
	rr := &recordReader{mem: d.mem}
	rec, err := rr.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return newError(ErrUnrecognizedContainer, "empty workbook stream")
		}
		return err
	}
	version, streamType, err := bofVersion(rec)
	if err != nil {
		return err
	}
	if streamType != xlWorkbookGlobals {
		return newError(ErrUnrecognizedContainer, "first substream has type 0x%04x, not workbook globals", streamType)
	}
	d.biff = version
	d.enc, _ = encodingForCodepage(1252)
	d.fc = &formulaContext{layout: layoutBIFF8}
	if version < 80 {
		d.fc.layout = layoutBIFF5
	}

	var sstRec *biffRecord
	for {
		rec, err := rr.next()
		if errors.Is(err, io.EOF) {
			return corruptf("workbook globals end without EOF")
		}
		if err != nil {
			return err
		}
		c := &cursor{b: rec.data}
		switch rec.code {
		case xlEOF:
			if sstRec != nil {
				if d.sst, err = readSST(*sstRec); err != nil {
					return err
				}
			}
			d.fc.enc = d.enc
			for _, s := range d.sheetsX {
				d.fc.sheets = append(d.fc.sheets, s.meta.Name)
			}
			d.logger.Debug("xls globals parsed", "biff", d.biff, "sheets", len(d.sheetsX), "strings", len(d.sst))
			return nil
		case xlFilePass:
			return newError(ErrPassword, "xls workbook is encrypted")
		case xlCodepage:
			cp := int(c.u16())
			enc, known := encodingForCodepage(cp)
			if !known {
				d.logger.Debug("unknown code page, using latin-1", "codepage", cp)
			}
			d.enc = enc
		case xlDatemode:
			d.date1904 = c.u16() == 1
		case xlFormat:
			id := int(c.u16())
			var code string
			if d.biff >= 80 {
				code = c.unicodeString(2)
			} else {
				code = c.byteString(1, d.enc)
			}
			if c.err != nil {
				return wrapError(ErrCorruption, c.err, "FORMAT record")
			}
			d.styles.addFormat(id, code)
		case xlXF:
			c.skip(2)
			d.styles.addStyle(int(c.u16()))
		case xlBoundsheet:
			if err := d.boundsheet(c); err != nil {
				return err
			}
		case xlSST:
			r := rec
			sstRec = &r
		case xlName:
			d.fc.names = append(d.fc.names, d.definedName(rec.joined()))
		case xlSupBook:
			d.fc.supbooks = append(d.fc.supbooks, d.supbook(rec.joined()))
		case xlExternName:
			if n := len(d.fc.supbooks); n > 0 && d.biff >= 80 {
				ec := &cursor{b: rec.data}
				ec.skip(6)
				name := ec.unicodeString(1)
				d.fc.supbooks[n-1].names = append(d.fc.supbooks[n-1].names, name)
			}
		case xlExternSheet:
			if d.biff >= 80 {
				ec := &cursor{b: rec.joined()}
				count := int(ec.u16())
				for i := 0; i < count && ec.err == nil; i++ {
					x := externSheet{supbook: int(ec.u16()), first: int(int16(ec.u16())), last: int(int16(ec.u16()))}
					d.fc.externs = append(d.fc.externs, x)
				}
			}
		default:
			if _, known := recordNames[rec.code]; !known {
				d.logger.Debug("skipping globals record", "code", rec.code, "offset", rec.offset)
			}
		}
	}
}

func (d *xls) boundsheet(c *cursor) error {
	offset := int(c.u32())
	state := c.u8() & 0x03
	typ := c.u8()
	var name string
	if d.biff >= 80 {
		name = c.unicodeString(1)
	} else {
		name = c.byteString(1, d.enc)
	}
	if c.err != nil {
		return wrapError(ErrCorruption, c.err, "BOUNDSHEET record")
	}
	meta := SheetMetadata{Name: name}
	switch state {
	case 1:
		meta.Visibility = Hidden
	case 2:
		meta.Visibility = VeryHidden
	}
	switch typ {
	case boundsheetWorksheet:
		meta.Kind = WorkSheet
	case boundsheetMacro:
		meta.Kind = MacroSheet
	case boundsheetChart:
		meta.Kind = ChartSheet
	case boundsheetVBModule:
		meta.Kind = Vba
	default:
		d.logger.Debug("unknown sheet type", "sheet", name, "type", typ)
		meta.Kind = WorkSheet
	}
	d.sheetsX = append(d.sheetsX, xlsSheet{meta: meta, offset: offset})
	return nil
}

// classifySheets tells dialog sheets from worksheets; both are listed as
// type 0 and only the WSBOOL record of the substream differs.
func (d *xls) classifySheets() error {
	for i := range d.sheetsX {
		s := &d.sheetsX[i]
		if s.meta.Kind != WorkSheet {
			continue
		}
		if s.offset < 0 || s.offset >= len(d.mem) {
			return corruptf("sheet %q starts outside the workbook stream", s.meta.Name)
		}
		rr := &recordReader{mem: d.mem, pos: s.offset}
		for {
			rec, err := rr.raw()
			if err != nil || rec.code == xlEOF {
				break
			}
			if rec.code == xlWsBool && len(rec.data) >= 2 {
				if binary.LittleEndian.Uint16(rec.data)&0x0010 != 0 {
					s.meta.Kind = DialogSheet
				}
				break
			}
		}
	}
	return nil
}

func (d *xls) definedName(data []byte) string {
	c := &cursor{b: data}
	flags := c.u16()
	c.skip(1)
	cch := int(c.u8())
	c.skip(2 + 2 + 2 + 4) // cce, ixals, itab and the menu text lengths
	var name string
	switch {
	case flags&0x0020 != 0 && d.biff >= 80:
		name = c.unicodeChars(cch)
		if len(name) == 1 {
			if b, ok := builtinNames[name[0]]; ok {
				name = b
			}
		}
	case flags&0x0020 != 0:
		raw := c.take(cch)
		if len(raw) == 1 {
			if b, ok := builtinNames[raw[0]]; ok {
				name = b
			}
		}
	case d.biff >= 80:
		name = c.unicodeChars(cch)
	default:
		name = decodeCodepage(c.take(cch), d.enc)
	}
	if c.err != nil {
		d.logger.Debug("unreadable NAME record", "error", c.err)
		return ""
	}
	return name
}

func (d *xls) supbook(data []byte) supbook {
	c := &cursor{b: data}
	ctab := int(c.u16())
	marker := c.u16()
	switch {
	case c.err != nil:
		return supbook{}
	case marker == 0x0401:
		return supbook{internal: true}
	case marker == 0x3A01:
		return supbook{book: "add-in"}
	}
	// marker is the character count of the encoded file name
	book := c.unicodeChars(int(marker))
	if len(book) > 0 && book[0] < 0x20 {
		book = book[1:]
	}
	sb := supbook{book: book}
	for i := 0; i < ctab && c.err == nil; i++ {
		sb.sheets = append(sb.sheets, c.unicodeString(2))
	}
	return sb
}

func (d *xls) sheets() []SheetMetadata {
	out := make([]SheetMetadata, len(d.sheetsX))
	for i, s := range d.sheetsX {
		out[i] = s.meta
	}
	return out
}

func (d *xls) close() error { return nil }

func (d *xls) cells(index int, withFormulas bool) (cellReader, error) {
	cells, _, err := d.readSheet(index, withFormulas)
	if err != nil {
		return nil, err
	}
	return &sliceCellReader{cells: cells}, nil
}

func (d *xls) mergedCells(index int) ([]Dimensions, bool, error) {
	if d.biff < 80 {
		return nil, false, nil
	}
	_, merges, err := d.readSheet(index, false)
	if err != nil {
		return nil, false, err
	}
	if merges == nil {
		merges = []Dimensions{}
	}
	return merges, true, nil
}

type xlsShared struct {
	ref        Dimensions
	rgce, rgcb []byte
	array      bool
}

// readSheet decodes one worksheet substream. Cells come back sorted
// row-major; BIFF writers are free to interleave them.
func (d *xls) readSheet(index int, withFormulas bool) ([]rawCell, []Dimensions, error) {
	sh := d.sheetsX[index]
	if sh.offset < 0 || sh.offset >= len(d.mem) {
		return nil, nil, corruptf("sheet %q starts outside the workbook stream", sh.meta.Name)
	}
	rr := &recordReader{mem: d.mem, pos: sh.offset}
	bof, err := rr.next()
	if err != nil {
		return nil, nil, wrapError(ErrCorruption, err, "sheet %q", sh.meta.Name)
	}
	if _, _, err := bofVersion(bof); err != nil {
		return nil, nil, wrapError(ErrCorruption, err, "sheet %q", sh.meta.Name)
	}

	var cells []rawCell
	var merges []Dimensions
	shared := make(map[Position]*xlsShared)
	add := func(row, col int, v Value) {
		cells = append(cells, rawCell{pos: Position{Row: row, Col: col}, value: v})
	}

	for {
		rec, err := rr.next()
		if errors.Is(err, io.EOF) {
			d.logger.Warn("sheet ends without EOF record", "sheet", sh.meta.Name)
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if rec.code == xlEOF {
			break
		}
		c := &cursor{b: rec.data}
		switch rec.code {
		case xlNumber:
			row, col, xf := int(c.u16()), int(c.u16()), int(c.u16())
			f := c.f64()
			if c.err == nil {
				add(row, col, convertNumber(f, d.styles.formatClass(xf), d.date1904))
			}
		case xlRK:
			row, col, xf := int(c.u16()), int(c.u16()), int(c.u16())
			rk := c.u32()
			if c.err == nil {
				add(row, col, d.rkValue(rk, xf))
			}
		case xlMulRK:
			row, col := int(c.u16()), int(c.u16())
			for c.remaining() >= 8 {
				xf := int(c.u16())
				add(row, col, d.rkValue(c.u32(), xf))
				col++
			}
		case xlLabel, xlRString:
			c.b = rec.joined()
			row, col := int(c.u16()), int(c.u16())
			c.skip(2)
			var s string
			if d.biff >= 80 {
				s = c.unicodeString(2)
			} else {
				s = c.byteString(2, d.enc)
			}
			if c.err == nil {
				add(row, col, StringValue(s))
			}
		case xlLabelSST:
			row, col := int(c.u16()), int(c.u16())
			c.skip(2)
			idx := int(c.u32())
			if c.err != nil {
				break
			}
			if idx >= len(d.sst) {
				return nil, nil, corruptf("sheet %q cell %s: shared string %d of %d", sh.meta.Name, Position{Row: row, Col: col}, idx, len(d.sst))
			}
			add(row, col, StringValue(d.sst[idx]))
		case xlBoolErr:
			row, col := int(c.u16()), int(c.u16())
			c.skip(2)
			v, isErr := c.u8(), c.u8()
			if c.err != nil {
				break
			}
			if isErr != 0 {
				add(row, col, ErrorValue(errorText(v)))
			} else {
				add(row, col, BoolValue(v != 0))
			}
		case xlFormula:
			cell, err := d.formulaCell(rr, rec, shared, withFormulas)
			if err != nil {
				return nil, nil, wrapError(ErrCorruption, err, "sheet %q", sh.meta.Name)
			}
			if cell.occupied(withFormulas) {
				cells = append(cells, cell)
			}
		case xlMergedCells:
			count := int(c.u16())
			for i := 0; i < count && c.remaining() >= 8; i++ {
				r1, r2, c1, c2 := int(c.u16()), int(c.u16()), int(c.u16()), int(c.u16())
				merges = append(merges, Dimensions{Start: Position{Row: r1, Col: c1}, End: Position{Row: r2, Col: c2}})
			}
		case xlBlank, xlMulBlank, xlDimension:
		}
		if c.err != nil {
			return nil, nil, wrapError(ErrCorruption, c.err, "sheet %q record 0x%04x", sh.meta.Name, rec.code)
		}
	}

	sortCells(cells)
	return cells, merges, nil
}

func (d *xls) rkValue(rk uint32, xf int) Value {
	return rkValue(rk, d.styles.formatClass(xf), d.date1904)
}

// rkValue decodes an RK number. Integers stay Int unless the style makes
// them a date or duration.
func rkValue(rk uint32, class formatClass, date1904 bool) Value {
	if rk&0x02 != 0 {
		i := int64(int32(rk) >> 2)
		if rk&0x01 != 0 {
			if i%100 != 0 {
				return convertNumber(float64(i)/100, class, date1904)
			}
			i /= 100
		}
		if class != classNumber {
			return convertNumber(float64(i), class, date1904)
		}
		return IntValue(i)
	}
	f := math.Float64frombits(uint64(rk&^0x03) << 32)
	if rk&0x01 != 0 {
		f /= 100
	}
	return convertNumber(f, class, date1904)
}

// formulaCell decodes a FORMULA record and the SHRFMLA, ARRAY and STRING
// records that may follow it.
func (d *xls) formulaCell(rr *recordReader, rec biffRecord, shared map[Position]*xlsShared, withFormulas bool) (rawCell, error) {
	c := &cursor{b: rec.joined()}
	pos := Position{Row: int(c.u16()), Col: int(c.u16())}
	xf := int(c.u16())
	result := c.take(8)
	c.skip(6) // grbit, chn
	rgce := c.take(int(c.u16()))
	rgcb := c.rest()
	if c.err != nil {
		return rawCell{}, c.err
	}

	wantString := false
	cell := rawCell{pos: pos}
	if binary.LittleEndian.Uint16(result[6:]) == 0xFFFF {
		switch result[0] {
		case 0:
			wantString = true
		case 1:
			cell.value = BoolValue(result[2] != 0)
		case 2:
			cell.value = ErrorValue(errorText(result[2]))
		case 3:
			// empty string result
		}
	} else {
		f := math.Float64frombits(binary.LittleEndian.Uint64(result))
		cell.value = convertNumber(f, d.styles.formatClass(xf), d.date1904)
	}

lookahead:
	for {
		code, ok := rr.peek()
		if !ok {
			break
		}
		switch code {
		case xlShrFmla, xlArray, xlTable:
			next, err := rr.next()
			if err != nil {
				return rawCell{}, err
			}
			if code != xlTable {
				s, err := d.sharedRecord(next)
				if err != nil {
					return rawCell{}, err
				}
				shared[s.ref.Start] = s
			}
		case xlString:
			next, err := rr.next()
			if err != nil {
				return rawCell{}, err
			}
			if wantString {
				s, err := d.stringRecord(next)
				if err != nil {
					return rawCell{}, err
				}
				cell.value = StringValue(s)
			}
			break lookahead
		default:
			break lookahead
		}
	}

	if withFormulas {
		cell.formula = d.formulaText(pos, rgce, rgcb, shared)
	}
	return cell, nil
}

func (d *xls) sharedRecord(rec biffRecord) (*xlsShared, error) {
	c := &cursor{b: rec.joined()}
	r1, r2 := int(c.u16()), int(c.u16())
	c1, c2 := int(c.u8()), int(c.u8())
	s := &xlsShared{ref: Dimensions{Start: Position{Row: r1, Col: c1}, End: Position{Row: r2, Col: c2}}}
	if rec.code == xlArray {
		s.array = true
		c.skip(6) // grbit, chn
	} else {
		c.skip(2) // reserved, cUse
	}
	s.rgce = c.take(int(c.u16()))
	s.rgcb = c.rest()
	return s, c.err
}

func (d *xls) stringRecord(rec biffRecord) (string, error) {
	if d.biff >= 80 {
		return newSegmentReader(rec).unicodeString()
	}
	c := &cursor{b: rec.joined()}
	s := c.byteString(2, d.enc)
	return s, c.err
}

func (d *xls) formulaText(pos Position, rgce, rgcb []byte, shared map[Position]*xlsShared) string {
	if len(rgce) >= 5 && rgce[0] == 0x01 {
		anchor := Position{
			Row: int(binary.LittleEndian.Uint16(rgce[1:])),
			Col: int(binary.LittleEndian.Uint16(rgce[3:])),
		}
		s, ok := shared[anchor]
		if !ok {
			d.logger.Warn("formula refers to a missing shared formula", "cell", pos.String(), "anchor", anchor.String())
			return ""
		}
		if s.array {
			return d.fc.decodeFormula(s.rgce, s.rgcb, anchor, false, d.logger.Warn)
		}
		return d.fc.decodeFormula(s.rgce, s.rgcb, pos, true, d.logger.Warn)
	}
	return d.fc.decodeFormula(rgce, rgcb, pos, false, d.logger.Warn)
}

// sliceCellReader serves cells decoded up front.
type sliceCellReader struct {
	cells []rawCell
	i     int
}

func (r *sliceCellReader) next() (rawCell, error) {
	if r.i >= len(r.cells) {
		return rawCell{}, io.EOF
	}
	c := r.cells[r.i]
	r.i++
	return c, nil
}

func (r *sliceCellReader) close() error { return nil }
