package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yamitzky/xlread-go/xlread"
)

// field is one rendered cell.
type field struct {
	text    string
	numeric bool
}

// csvWriter writes rows with a configurable separator, line ending and
// quoting mode, which encoding/csv does not offer.
type csvWriter struct {
	w       io.Writer
	sep     rune
	eol     string
	quoting quotingMode
	line    []byte
}

func newCSVWriter(w io.Writer, o csvOptions) *csvWriter {
	return &csvWriter{w: w, sep: rune(o.separator), eol: string(o.lineEnding), quoting: o.quoting}
}

func (cw *csvWriter) writeRow(fields []field) error {
	cw.line = cw.line[:0]
	for i, f := range fields {
		if i > 0 {
			cw.line = utf8.AppendRune(cw.line, cw.sep)
		}
		cw.line = cw.appendField(cw.line, f)
	}
	cw.line = append(cw.line, cw.eol...)
	_, err := cw.w.Write(cw.line)
	return err
}

func (cw *csvWriter) appendField(b []byte, f field) []byte {
	if !cw.quoted(f) {
		return append(b, f.text...)
	}
	b = append(b, '"')
	b = append(b, strings.ReplaceAll(f.text, `"`, `""`)...)
	return append(b, '"')
}

func (cw *csvWriter) quoted(f field) bool {
	switch cw.quoting {
	case quoteAll:
		return true
	case quoteNonNumeric:
		return !f.numeric
	case quoteMinimal:
		return strings.ContainsFunc(f.text, func(r rune) bool {
			return r == cw.sep || r == '"' || r == '\r' || r == '\n'
		})
	}
	return false
}

// renderCell formats a value the way the csv command prints it.
func renderCell(v xlread.Value, o csvOptions) field {
	switch v.Kind() {
	case xlread.KindEmpty:
		return field{}
	case xlread.KindFloat:
		f, _ := v.AsFloat()
		if o.floatFormat != "" {
			return field{text: maybeEscape(fmt.Sprintf(o.floatFormat, f), o.escape), numeric: true}
		}
		return field{text: strconv.FormatFloat(f, 'g', -1, 64), numeric: true}
	case xlread.KindInt:
		i, _ := v.AsInt()
		if o.floatFormat != "" {
			return field{text: fmt.Sprintf(o.floatFormat, float64(i)), numeric: true}
		}
		return field{text: strconv.FormatInt(i, 10), numeric: true}
	case xlread.KindDate, xlread.KindDateTime, xlread.KindTime:
		if o.dateFormat != "" {
			return field{text: maybeEscape(strftime(cellTime(v), o.dateFormat), o.escape)}
		}
	}
	return field{text: maybeEscape(v.String(), o.escape)}
}

// cellTime returns the instant of a temporal value. A time of day is
// placed on 1899-12-31, Excel's day zero.
func cellTime(v xlread.Value) time.Time {
	if tod, ok := v.AsTimeOfDay(); ok {
		return time.Date(1899, 12, 31, 0, 0, 0, 0, time.UTC).Add(time.Duration(tod))
	}
	t, _ := v.AsTime()
	return t
}

var controlEscaper = strings.NewReplacer("\r", `\r`, "\n", `\n`, "\t", `\t`)

func maybeEscape(s string, on bool) string {
	if !on {
		return s
	}
	return controlEscaper.Replace(s)
}

var strftimeLayouts = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'j': "002",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'p': "PM",
	'b': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
}

// strftime renders t with C-style % directives. Unknown directives are
// copied through.
func strftime(t time.Time, format string) string {
	var b strings.Builder
	for {
		i := strings.IndexByte(format, '%')
		if i < 0 || i == len(format)-1 {
			b.WriteString(format)
			return b.String()
		}
		b.WriteString(format[:i])
		verb := format[i+1]
		format = format[i+2:]
		if verb == '%' {
			b.WriteByte('%')
		} else if layout, ok := strftimeLayouts[verb]; ok {
			b.WriteString(t.Format(layout))
		} else {
			b.WriteByte('%')
			b.WriteByte(verb)
		}
	}
}
