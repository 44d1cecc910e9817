package xlread

import (
	"encoding/xml"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

const officeDocumentRel = "officeDocument"

type xlsxWorkbook struct {
	WorkbookPr struct {
		Date1904 string `xml:"date1904,attr"`
	} `xml:"workbookPr"`
	Sheets struct {
		Sheet []xlsxSheetEntry `xml:"sheet"`
	} `xml:"sheets"`
}

type xlsxSheetEntry struct {
	Name  string     `xml:"name,attr"`
	State string     `xml:"state,attr"`
	Attrs []xml.Attr `xml:",any,attr"`
}

type xlsxStyleSheet struct {
	NumFmts struct {
		NumFmt []struct {
			ID   int    `xml:"numFmtId,attr"`
			Code string `xml:"formatCode,attr"`
		} `xml:"numFmt"`
	} `xml:"numFmts"`
	CellXfs struct {
		Xf []struct {
			NumFmtID int `xml:"numFmtId,attr"`
		} `xml:"xf"`
	} `xml:"cellXfs"`
}

// xlsxRichText is a shared or inline string, optionally split in runs.
type xlsxRichText struct {
	T *string `xml:"t"`
	R []struct {
		T string `xml:"t"`
	} `xml:"r"`
}

func (rt *xlsxRichText) text() string {
	var b strings.Builder
	if rt.T != nil {
		b.WriteString(*rt.T)
	}
	for _, r := range rt.R {
		b.WriteString(r.T)
	}
	return unescapeOOXML(b.String())
}

type xlsxC struct {
	R  string        `xml:"r,attr"`
	S  int           `xml:"s,attr"`
	T  string        `xml:"t,attr"`
	F  *xlsxF        `xml:"f"`
	V  *string       `xml:"v"`
	IS *xlsxRichText `xml:"is"`
}

type xlsxF struct {
	Content string `xml:",chardata"`
	T       string `xml:"t,attr"`
	Ref     string `xml:"ref,attr"`
	Si      string `xml:"si,attr"`
}

// xlsxSheetPart locates one sheet inside the package.
type xlsxSheetPart struct {
	meta SheetMetadata
	path string
}

type xlsx struct {
	pkg      *zipPackage
	logger   *slog.Logger
	sheetsX  []xlsxSheetPart
	sst      []string
	styles   *styleTable
	date1904 bool
	extras   map[int]*xlsxSheetExtras
}

func openXLSX(ra io.ReaderAt, size int64, logger *slog.Logger) (*xlsx, error) {
	pkg, err := openZipPackage(ra, size)
	if err != nil {
		return nil, err
	}
	d := &xlsx{pkg: pkg, logger: logger, styles: newStyleTable(), extras: make(map[int]*xlsxSheetExtras)}

	wbPart := "xl/workbook.xml"
	rootRels, err := pkg.relsFor("")
	if err != nil {
		return nil, err
	}
	for _, r := range rootRels {
		if relTypeSuffix(r.Type) == officeDocumentRel && strings.HasSuffix(strings.ToLower(r.Target), ".xml") {
			wbPart = r.Target
		}
	}
	if !pkg.has(wbPart) {
		return nil, newError(ErrUnrecognizedContainer, "no %s in package", wbPart)
	}

	var wb xlsxWorkbook
	if err := pkg.decodeXML(wbPart, &wb); err != nil {
		return nil, err
	}
	d.date1904 = isTruthy(wb.WorkbookPr.Date1904)

	rels, err := pkg.relsFor(wbPart)
	if err != nil {
		return nil, err
	}
	var sstPart, stylesPart string
	for _, r := range rels {
		switch relTypeSuffix(r.Type) {
		case "sharedStrings":
			sstPart = r.Target
		case "styles":
			stylesPart = r.Target
		}
	}

	for _, s := range wb.Sheets.Sheet {
		rid, _ := attrLocal(s.Attrs, "id")
		rel, ok := rels[rid]
		if !ok {
			return nil, corruptf("sheet %q has no relationship %q", s.Name, rid)
		}
		meta := SheetMetadata{Name: s.Name, Kind: xlsxSheetKind(rel.Type)}
		switch s.State {
		case "hidden":
			meta.Visibility = Hidden
		case "veryHidden":
			meta.Visibility = VeryHidden
		}
		d.sheetsX = append(d.sheetsX, xlsxSheetPart{meta: meta, path: rel.Target})
	}

	if stylesPart != "" && pkg.has(stylesPart) {
		if err := d.readStyles(stylesPart); err != nil {
			return nil, err
		}
	}
	if sstPart != "" && pkg.has(sstPart) {
		if err := d.readSharedStrings(sstPart); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func xlsxSheetKind(relType string) SheetKind {
	switch relTypeSuffix(relType) {
	case "chartsheet":
		return ChartSheet
	case "dialogsheet":
		return DialogSheet
	case "macrosheet", "xlMacrosheet", "xlIntlMacrosheet":
		return MacroSheet
	}
	return WorkSheet
}

func (d *xlsx) readStyles(name string) error {
	var ss xlsxStyleSheet
	if err := d.pkg.decodeXML(name, &ss); err != nil {
		return err
	}
	for _, f := range ss.NumFmts.NumFmt {
		d.styles.addFormat(f.ID, f.Code)
	}
	for _, xf := range ss.CellXfs.Xf {
		d.styles.addStyle(xf.NumFmtID)
	}
	return nil
}

func (d *xlsx) readSharedStrings(name string) error {
	rc, err := d.pkg.open(name)
	if err != nil {
		return err
	}
	defer rc.Close()
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return wrapError(ErrCorruption, err, "parse %s", name)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "sst":
			if n, ok := attrLocal(se.Attr, "uniqueCount"); ok {
				if c, err := strconv.Atoi(n); err == nil && c > 0 && c < 1<<20 {
					d.sst = make([]string, 0, c)
				}
			}
		case "si":
			var si xlsxRichText
			if err := dec.DecodeElement(&si, &se); err != nil {
				return wrapError(ErrCorruption, err, "parse %s", name)
			}
			d.sst = append(d.sst, si.text())
		}
	}
}

func (d *xlsx) sheets() []SheetMetadata {
	out := make([]SheetMetadata, len(d.sheetsX))
	for i, s := range d.sheetsX {
		out[i] = s.meta
	}
	return out
}

func (d *xlsx) close() error { return nil }

func (d *xlsx) cells(index int, withFormulas bool) (cellReader, error) {
	rc, err := d.pkg.open(d.sheetsX[index].path)
	if err != nil {
		return nil, err
	}
	return &xlsxCellReader{
		d:            d,
		rc:           rc,
		dec:          xml.NewDecoder(rc),
		withFormulas: withFormulas,
		row:          -1,
		shared:       make(map[string]sharedFormula),
	}, nil
}

type sharedFormula struct {
	text string
	base Position
}

type xlsxCellReader struct {
	d            *xlsx
	rc           io.ReadCloser
	dec          *xml.Decoder
	withFormulas bool
	row, col     int
	shared       map[string]sharedFormula
}

func (r *xlsxCellReader) close() error { return r.rc.Close() }

func (r *xlsxCellReader) next() (rawCell, error) {
	for {
		tok, err := r.dec.Token()
		if err == io.EOF {
			return rawCell{}, io.EOF
		}
		if err != nil {
			return rawCell{}, wrapError(ErrCorruption, err, "parse worksheet")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				if v, ok := attrLocal(t.Attr, "r"); ok {
					n, err := strconv.Atoi(v)
					if err != nil || n < 1 {
						return rawCell{}, corruptf("invalid row number %q", v)
					}
					r.row = n - 1
				} else {
					r.row++
				}
				r.col = 0
			case "c":
				var c xlsxC
				if err := r.dec.DecodeElement(&c, &t); err != nil {
					return rawCell{}, wrapError(ErrCorruption, err, "parse cell")
				}
				pos := Position{Row: r.row, Col: r.col}
				if c.R != "" {
					if pos, err = parseCellRef(c.R); err != nil {
						return rawCell{}, err
					}
				}
				r.col = pos.Col + 1
				if c.V == nil && c.F == nil && c.IS == nil {
					continue
				}
				return r.convert(pos, &c)
			}
		case xml.EndElement:
			if t.Name.Local == "sheetData" {
				return rawCell{}, io.EOF
			}
		}
	}
}

func (r *xlsxCellReader) convert(pos Position, c *xlsxC) (rawCell, error) {
	cell := rawCell{pos: pos}
	v := ""
	if c.V != nil {
		v = *c.V
	}
	switch c.T {
	case "s":
		if c.V != nil {
			i, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil || i < 0 || i >= len(r.d.sst) {
				return cell, corruptf("cell %s: shared string index %q out of range", pos, v)
			}
			cell.value = StringValue(r.d.sst[i])
		}
	case "str":
		if c.V != nil {
			cell.value = StringValue(unescapeOOXML(v))
		}
	case "inlineStr":
		if c.IS != nil {
			cell.value = StringValue(c.IS.text())
		}
	case "b":
		if c.V != nil {
			cell.value = BoolValue(strings.TrimSpace(v) == "1" || strings.EqualFold(v, "true"))
		}
	case "e":
		if c.V != nil {
			cell.value = ErrorValue(v)
		}
	case "d":
		if c.V != nil {
			cell.value = parseISODate(v)
		}
	default:
		if c.V != nil && strings.TrimSpace(v) != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return cell, wrapError(ErrCorruption, err, "cell %s: bad number %q", pos, v)
			}
			cell.value = convertNumber(f, r.d.styles.formatClass(c.S), r.d.date1904)
		}
	}
	if r.withFormulas && c.F != nil {
		cell.formula = r.formula(pos, c.F)
	}
	return cell, nil
}

func (r *xlsxCellReader) formula(pos Position, f *xlsxF) string {
	if f.T != "shared" || f.Si == "" {
		return f.Content
	}
	if f.Content != "" {
		r.shared[f.Si] = sharedFormula{text: f.Content, base: pos}
		return f.Content
	}
	sf, ok := r.shared[f.Si]
	if !ok {
		r.d.logger.Warn("shared formula without master", "cell", pos.String(), "si", f.Si)
		return ""
	}
	return shiftFormula(sf.text, pos.Row-sf.base.Row, pos.Col-sf.base.Col)
}

// xlsxSheetExtras holds the parts of a worksheet outside sheetData.
type xlsxSheetExtras struct {
	merges    []Dimensions
	tableRIDs []string
}

func (d *xlsx) sheetExtras(index int) (*xlsxSheetExtras, error) {
	if ex, ok := d.extras[index]; ok {
		return ex, nil
	}
	rc, err := d.pkg.open(d.sheetsX[index].path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	ex := &xlsxSheetExtras{}
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapError(ErrCorruption, err, "parse worksheet")
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "sheetData":
			if err := dec.Skip(); err != nil {
				return nil, wrapError(ErrCorruption, err, "parse worksheet")
			}
		case "mergeCell":
			ref, _ := attrLocal(se.Attr, "ref")
			dims, err := parseRangeRef(ref)
			if err != nil {
				return nil, err
			}
			ex.merges = append(ex.merges, dims)
		case "tablePart":
			if rid, ok := attrLocal(se.Attr, "id"); ok {
				ex.tableRIDs = append(ex.tableRIDs, rid)
			}
		}
	}
	d.extras[index] = ex
	return ex, nil
}

func (d *xlsx) mergedCells(index int) ([]Dimensions, bool, error) {
	ex, err := d.sheetExtras(index)
	if err != nil {
		return nil, true, err
	}
	return ex.merges, true, nil
}

// unescapeOOXML decodes the _xHHHH_ escapes used for control characters
// in SpreadsheetML strings.
func unescapeOOXML(s string) string {
	if !strings.Contains(s, "_x") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		if i+7 <= len(s) && s[i] == '_' && s[i+1] == 'x' && s[i+6] == '_' {
			if n, err := strconv.ParseUint(s[i+2:i+6], 16, 16); err == nil {
				b.WriteRune(rune(n))
				i += 7
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}
