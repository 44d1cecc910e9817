package xlread

import (
	"encoding/xml"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

const (
	nsOffice   = "urn:oasis:names:tc:opendocument:xmlns:office:1.0"
	nsTable    = "urn:oasis:names:tc:opendocument:xmlns:table:1.0"
	nsText     = "urn:oasis:names:tc:opendocument:xmlns:text:1.0"
	nsStyle    = "urn:oasis:names:tc:opendocument:xmlns:style:1.0"
	nsManifest = "urn:oasis:names:tc:opendocument:xmlns:manifest:1.0"

	odsMaxRows = 1 << 20
	odsMaxCols = 1 << 14
)

type odsSheet struct {
	meta  SheetMetadata
	cells []rawCell
}

// ods decodes OpenDocument spreadsheets. All sheets live in content.xml,
// so the whole document is read when the workbook is opened.
type ods struct {
	logger  *slog.Logger
	sheetsX []*odsSheet
}

func openODS(ra io.ReaderAt, size int64, logger *slog.Logger) (*ods, error) {
	pkg, err := openZipPackage(ra, size)
	if err != nil {
		return nil, err
	}
	if !pkg.has("content.xml") {
		return nil, newError(ErrUnrecognizedContainer, "no content.xml in package")
	}
	if pkg.has("META-INF/manifest.xml") {
		encrypted, err := odsEncrypted(pkg)
		if err != nil {
			return nil, err
		}
		if encrypted {
			return nil, newError(ErrPassword, "ods content is encrypted")
		}
	}

	d := &ods{logger: logger}
	rc, err := pkg.open("content.xml")
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if err := d.parseContent(rc); err != nil {
		return nil, err
	}
	logger.Debug("ods content parsed", "sheets", len(d.sheetsX))
	return d, nil
}

func odsEncrypted(pkg *zipPackage) (bool, error) {
	rc, err := pkg.open("META-INF/manifest.xml")
	if err != nil {
		return false, err
	}
	defer rc.Close()
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, wrapError(ErrCorruption, err, "parse manifest.xml")
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Space == nsManifest && se.Name.Local == "encryption-data" {
			return true, nil
		}
	}
}

func attrNS(attrs []xml.Attr, space, local string) (string, bool) {
	for _, a := range attrs {
		if a.Name.Space == space && a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

func repeatAttr(attrs []xml.Attr, local string, limit int) int {
	v, ok := attrNS(attrs, nsTable, local)
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 1
	}
	return min(n, limit)
}

func (d *ods) parseContent(r io.Reader) error {
	dec := xml.NewDecoder(r)
	hiddenStyles := make(map[string]bool)
	var (
		styleName string
		cur       *odsSheet
		row, col  int
		rowRepeat int
		rowStart  int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return wrapError(ErrCorruption, err, "parse content.xml")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Space == nsStyle && t.Name.Local == "style":
				styleName, _ = attrNS(t.Attr, nsStyle, "name")
			case t.Name.Space == nsStyle && t.Name.Local == "table-properties":
				if v, ok := attrNS(t.Attr, nsTable, "display"); ok && v == "false" {
					hiddenStyles[styleName] = true
				}
			case t.Name.Space == nsTable && t.Name.Local == "table":
				name, _ := attrNS(t.Attr, nsTable, "name")
				style, _ := attrNS(t.Attr, nsTable, "style-name")
				cur = &odsSheet{meta: SheetMetadata{Name: name, Kind: WorkSheet}}
				if hiddenStyles[style] {
					cur.meta.Visibility = Hidden
				}
				d.sheetsX = append(d.sheetsX, cur)
				row = 0
			case cur == nil:
			case t.Name.Space == nsTable && t.Name.Local == "table-row":
				col = 0
				rowRepeat = repeatAttr(t.Attr, "number-rows-repeated", odsMaxRows-row)
				rowStart = len(cur.cells)
			case t.Name.Space == nsTable && t.Name.Local == "covered-table-cell":
				col += repeatAttr(t.Attr, "number-columns-repeated", odsMaxCols)
				if err := dec.Skip(); err != nil {
					return wrapError(ErrCorruption, err, "parse content.xml")
				}
			case t.Name.Space == nsTable && t.Name.Local == "table-cell":
				repeat := repeatAttr(t.Attr, "number-columns-repeated", odsMaxCols)
				v, formula, err := readODSCell(dec, t)
				if err != nil {
					return err
				}
				if !v.IsEmpty() || formula != "" {
					for i := 0; i < repeat; i++ {
						cur.cells = append(cur.cells, rawCell{pos: Position{Row: row, Col: col + i}, value: v, formula: formula})
					}
				}
				col += repeat
			}
		case xml.EndElement:
			if t.Name.Space != nsTable || cur == nil {
				continue
			}
			switch t.Name.Local {
			case "table-row":
				// a repeated row that holds data is materialised once per copy
				if produced := cur.cells[rowStart:]; len(produced) > 0 {
					produced = append([]rawCell(nil), produced...)
					for i := 1; i < rowRepeat; i++ {
						for _, c := range produced {
							c.pos.Row = row + i
							cur.cells = append(cur.cells, c)
						}
					}
				}
				row += rowRepeat
			case "table":
				cur = nil
			}
		}
	}
}

// readODSCell reads a table:table-cell element up to its end tag.
func readODSCell(dec *xml.Decoder, se xml.StartElement) (Value, string, error) {
	formula, _ := attrNS(se.Attr, nsTable, "formula")
	valueType, _ := attrNS(se.Attr, nsOffice, "value-type")

	var paras []string
	var b strings.Builder
	inPara := false
	for depth := 1; depth > 0; {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, "", wrapError(ErrCorruption, err, "parse content.xml cell")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if t.Name.Space == nsOffice && t.Name.Local == "annotation" {
				if err := dec.Skip(); err != nil {
					return Value{}, "", wrapError(ErrCorruption, err, "parse content.xml cell")
				}
				depth--
				continue
			}
			if t.Name.Space != nsText {
				continue
			}
			switch t.Name.Local {
			case "p", "h":
				if !inPara {
					inPara = true
					b.Reset()
				}
			case "s":
				n := 1
				if v, ok := attrNS(t.Attr, nsText, "c"); ok {
					if c, err := strconv.Atoi(v); err == nil && c > 0 {
						n = c
					}
				}
				b.WriteString(strings.Repeat(" ", n))
			case "tab":
				b.WriteByte('\t')
			case "line-break":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inPara {
				b.Write(t)
			}
		case xml.EndElement:
			depth--
			if inPara && t.Name.Space == nsText && (t.Name.Local == "p" || t.Name.Local == "h") {
				inPara = false
				paras = append(paras, b.String())
			}
		}
	}

	var v Value
	switch valueType {
	case "float", "percentage", "currency":
		raw, _ := attrNS(se.Attr, nsOffice, "value")
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, "", corruptf("cell value %q is not a number", raw)
		}
		v = FloatValue(f)
	case "date":
		raw, _ := attrNS(se.Attr, nsOffice, "date-value")
		v = parseISODate(raw)
	case "time":
		raw, _ := attrNS(se.Attr, nsOffice, "time-value")
		v = parseISODuration(raw)
	case "boolean":
		raw, _ := attrNS(se.Attr, nsOffice, "boolean-value")
		v = BoolValue(isTruthy(raw))
	case "string":
		if s, ok := attrNS(se.Attr, nsOffice, "string-value"); ok {
			v = StringValue(s)
		} else {
			v = StringValue(strings.Join(paras, "\n"))
		}
	}
	return v, formula, nil
}

func (d *ods) sheets() []SheetMetadata {
	out := make([]SheetMetadata, len(d.sheetsX))
	for i, s := range d.sheetsX {
		out[i] = s.meta
	}
	return out
}

func (d *ods) close() error { return nil }

func (d *ods) mergedCells(int) ([]Dimensions, bool, error) { return nil, false, nil }

func (d *ods) cells(index int, withFormulas bool) (cellReader, error) {
	src := d.sheetsX[index].cells
	out := make([]rawCell, 0, len(src))
	for _, c := range src {
		if !withFormulas {
			c.formula = ""
		}
		if c.occupied(withFormulas) {
			out = append(out, c)
		}
	}
	return &sliceCellReader{cells: out}, nil
}
