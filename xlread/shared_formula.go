package xlread

import (
	"strconv"
	"strings"

	"github.com/xuri/efp"
)

// shiftFormula moves every relative reference in formula by dr rows and dc
// columns, the way a shared formula is copied from its master cell.
func shiftFormula(formula string, dr, dc int) string {
	if dr == 0 && dc == 0 {
		return formula
	}
	ps := efp.ExcelParser()
	tokens := ps.Parse(formula)

	var b strings.Builder
	var funcs []string
	rowClosed := false
	for _, t := range tokens {
		switch {
		case t.TType == efp.TokenTypeFunction && t.TSubType == efp.TokenSubTypeStart:
			funcs = append(funcs, t.TValue)
			switch t.TValue {
			case "ARRAY":
				b.WriteByte('{')
			case "ARRAYROW":
			default:
				b.WriteString(t.TValue)
				b.WriteByte('(')
			}
		case t.TType == efp.TokenTypeFunction && t.TSubType == efp.TokenSubTypeStop:
			name := ""
			if n := len(funcs); n > 0 {
				name, funcs = funcs[n-1], funcs[:n-1]
			}
			switch name {
			case "ARRAY":
				b.WriteByte('}')
			case "ARRAYROW":
				rowClosed = true
				continue
			default:
				b.WriteByte(')')
			}
		case t.TType == efp.TokenTypeSubexpression && t.TSubType == efp.TokenSubTypeStart:
			b.WriteByte('(')
		case t.TType == efp.TokenTypeSubexpression && t.TSubType == efp.TokenSubTypeStop:
			b.WriteByte(')')
		case t.TType == efp.TokenTypeArgument:
			if rowClosed {
				b.WriteByte(';')
			} else {
				b.WriteByte(',')
			}
		case t.TType == efp.TokenTypeOperand && t.TSubType == efp.TokenSubTypeText:
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(t.TValue, `"`, `""`))
			b.WriteByte('"')
		case t.TType == efp.TokenTypeOperand && t.TSubType == efp.TokenSubTypeRange:
			b.WriteString(shiftReference(t.TValue, dr, dc))
		case t.TType == efp.TokenTypeOperatorInfix && t.TSubType == efp.TokenSubTypeIntersection:
			b.WriteByte(' ')
		default:
			b.WriteString(t.TValue)
		}
		rowClosed = false
	}
	return b.String()
}

// shiftReference shifts an A1 reference such as "B2", "$A1:C$3",
// "Sheet 1!A1" or "A:A". Names and other operands come back unchanged.
func shiftReference(ref string, dr, dc int) string {
	prefix := ""
	if i := strings.LastIndexByte(ref, '!'); i >= 0 {
		prefix = quoteSheetRef(ref[:i]) + "!"
		ref = ref[i+1:]
	}
	parts := strings.Split(ref, ":")
	for i, p := range parts {
		shifted, ok := shiftCellPart(p, dr, dc, len(parts) == 1)
		if !ok {
			return prefix + ref
		}
		parts[i] = shifted
	}
	return prefix + strings.Join(parts, ":")
}

// shiftCellPart shifts one side of a range: a cell, a column or a row.
// A lone part must be a full cell reference.
func shiftCellPart(p string, dr, dc int, single bool) (string, bool) {
	i := 0
	colAbs := false
	if i < len(p) && p[i] == '$' {
		colAbs = true
		i++
	}
	letters := i
	for i < len(p) && isASCIILetter(p[i]) {
		i++
	}
	col := p[letters:i]
	rowAbs := false
	if i < len(p) && p[i] == '$' {
		rowAbs = true
		i++
	}
	digits := i
	for i < len(p) && p[i] >= '0' && p[i] <= '9' {
		i++
	}
	row := p[digits:i]
	if i != len(p) || (col == "" && row == "") || len(col) > 3 {
		return p, false
	}
	if single && (col == "" || row == "") {
		return p, false
	}
	if col == "" && colAbs {
		// "$5" is an absolute row
		colAbs, rowAbs = false, true
	}

	var b strings.Builder
	if col != "" {
		c := columnIndex(col)
		if !colAbs {
			c += dc
		}
		if c < 0 {
			return "#REF!", true
		}
		if colAbs {
			b.WriteByte('$')
		}
		b.WriteString(Colname(c))
	}
	if row != "" {
		r, err := strconv.Atoi(row)
		if err != nil {
			return p, false
		}
		if !rowAbs {
			r += dr
		}
		if r < 1 {
			return "#REF!", true
		}
		if rowAbs {
			b.WriteByte('$')
		}
		b.WriteString(strconv.Itoa(r))
	}
	return b.String(), true
}

func isASCIILetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func columnIndex(letters string) int {
	c := 0
	for i := 0; i < len(letters); i++ {
		ch := letters[i]
		if ch >= 'a' {
			ch -= 'a' - 'A'
		}
		c = c*26 + int(ch-'A') + 1
	}
	return c - 1
}

// quoteSheetRef quotes a sheet name for use in a reference when needed.
func quoteSheetRef(name string) string {
	if name == "" {
		return name
	}
	plain := true
	for i := 0; i < len(name); i++ {
		c := name[i]
		if !(isASCIILetter(c) || (c >= '0' && c <= '9') || c == '_' || c == '.') {
			plain = false
			break
		}
	}
	if plain && !(name[0] >= '0' && name[0] <= '9') {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
