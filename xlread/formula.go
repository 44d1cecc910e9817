package xlread

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
)

// formulaLayout selects the token encoding of a parsed formula.
type formulaLayout int

const (
	layoutBIFF5 formulaLayout = iota
	layoutBIFF8
	layoutBIFF12
)

// Operator precedence used when rebuilding formula text.
const (
	rankCompare = 10
	rankConcat  = 20
	rankAdd     = 30
	rankMul     = 40
	rankPower   = 50
	rankPercent = 60
	rankUnary   = 70
	rankRef     = 80
	rankLeaf    = 90
)

type binop struct {
	sym  string
	rank int
}

var binops = map[byte]binop{
	0x03: {"+", rankAdd},
	0x04: {"-", rankAdd},
	0x05: {"*", rankMul},
	0x06: {"/", rankMul},
	0x07: {"^", rankPower},
	0x08: {"&", rankConcat},
	0x09: {"<", rankCompare},
	0x0A: {"<=", rankCompare},
	0x0B: {"=", rankCompare},
	0x0C: {">=", rankCompare},
	0x0D: {">", rankCompare},
	0x0E: {"<>", rankCompare},
	0x0F: {" ", rankRef},
	0x10: {",", rankRef},
	0x11: {":", rankRef},
}

// builtinNames are the reserved names stored as a single character code
// in NAME records.
var builtinNames = map[byte]string{
	0x00: "Consolidate_Area",
	0x01: "Auto_Open",
	0x02: "Auto_Close",
	0x03: "Extract",
	0x04: "Database",
	0x05: "Criteria",
	0x06: "Print_Area",
	0x07: "Print_Titles",
	0x08: "Recorder",
	0x09: "Data_Form",
	0x0A: "Auto_Activate",
	0x0B: "Auto_Deactivate",
	0x0C: "Sheet_Title",
	0x0D: "_FilterDatabase",
}

// supbook is one supporting workbook: the workbook itself, an add-in or an
// external file.
type supbook struct {
	internal bool
	book     string
	sheets   []string
	names    []string // external names, used by tNameX
}

// externSheet is one XTI entry of the EXTERNSHEET table.
type externSheet struct {
	supbook     int
	first, last int
}

// formulaContext carries the workbook state needed to turn parsed formula
// tokens back into text.
type formulaContext struct {
	layout   formulaLayout
	enc      encoding.Encoding // BIFF5 strings
	sheets   []string
	names    []string
	externs  []externSheet
	supbooks []supbook
}

type operand struct {
	text string
	rank int
}

func (fc *formulaContext) maxRow() int {
	if fc.layout == layoutBIFF12 {
		return 1 << 20
	}
	return 1 << 16
}

func (fc *formulaContext) maxCol() int {
	if fc.layout == layoutBIFF12 {
		return 1 << 14
	}
	return 1 << 8
}

// decompile rebuilds the text of a parsed formula, without the leading
// "=". Relative tokens (tRefN, tAreaN and relative 3D references of shared
// formulas) are resolved against base.
func (fc *formulaContext) decompile(rgce, rgcb []byte, base Position, shared bool) (string, error) {
	c := &cursor{b: rgce}
	extra := &cursor{b: rgcb}
	var stack []operand

	pop := func() (operand, error) {
		if len(stack) == 0 {
			return operand{}, corruptf("formula stack underflow at token offset %d", c.pos)
		}
		o := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return o, nil
	}
	push := func(text string, rank int) {
		stack = append(stack, operand{text, rank})
	}

	for c.remaining() > 0 {
		at := c.pos
		ptg := c.u8()
		if ptg >= 0x20 {
			// operand class bits are irrelevant for text
			ptg = ptg&0x1F | 0x20
		}
		switch ptg {
		case 0x01, 0x02:
			return "", corruptf("unresolved shared formula or table token 0x%02x", ptg)
		case 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10, 0x11:
			op := binops[ptg]
			b, err := pop()
			if err != nil {
				return "", err
			}
			a, err := pop()
			if err != nil {
				return "", err
			}
			push(wrap(a, op.rank)+op.sym+wrap(b, op.rank), op.rank)
		case 0x12, 0x13:
			a, err := pop()
			if err != nil {
				return "", err
			}
			sign := "+"
			if ptg == 0x13 {
				sign = "-"
			}
			push(sign+wrap(a, rankUnary), rankUnary)
		case 0x14:
			a, err := pop()
			if err != nil {
				return "", err
			}
			push(wrap(a, rankPercent)+"%", rankPercent)
		case 0x15:
			a, err := pop()
			if err != nil {
				return "", err
			}
			push("("+a.text+")", rankLeaf)
		case 0x16:
			push("", rankLeaf)
		case 0x17:
			push(quoteFormulaString(fc.readString(c)), rankLeaf)
		case 0x19:
			if err := fc.attr(c, &stack); err != nil {
				return "", err
			}
		case 0x1C:
			push(errorText(c.u8()), rankLeaf)
		case 0x1D:
			if c.u8() != 0 {
				push("TRUE", rankLeaf)
			} else {
				push("FALSE", rankLeaf)
			}
		case 0x1E:
			push(strconv.Itoa(int(c.u16())), rankLeaf)
		case 0x1F:
			push(formatFormulaNumber(c.f64()), rankLeaf)
		case 0x20:
			if fc.layout == layoutBIFF12 {
				c.skip(14)
			} else {
				c.skip(7)
			}
			text, err := fc.arrayConstant(extra)
			if err != nil {
				return "", err
			}
			push(text, rankLeaf)
		case 0x21, 0x22:
			if err := fc.function(c, ptg, &stack); err != nil {
				return "", err
			}
		case 0x23:
			var idx int
			switch fc.layout {
			case layoutBIFF12:
				idx = int(c.u32())
			case layoutBIFF8:
				idx = int(c.u16())
				c.skip(2)
			default:
				idx = int(c.u16())
				c.skip(12)
			}
			push(fc.definedName(idx), rankLeaf)
		case 0x24, 0x2A, 0x2C:
			row, col, rowRel, colRel := fc.cellRef(c)
			if ptg == 0x2A {
				push("#REF!", rankLeaf)
				continue
			}
			if ptg == 0x2C {
				row, col = fc.offset(base, row, col, rowRel, colRel)
			}
			push(cellText(row, col, rowRel, colRel), rankLeaf)
		case 0x25, 0x2B, 0x2D:
			area := fc.areaRef(c)
			if ptg == 0x2B {
				push("#REF!", rankLeaf)
				continue
			}
			if ptg == 0x2D {
				area = fc.offsetArea(base, area)
			}
			push(fc.areaText(area), rankRef)
		case 0x26, 0x27, 0x28:
			c.skip(4)
			c.skip(2)
			if ptg == 0x26 {
				fc.skipMemArea(extra)
			}
		case 0x29, 0x2E, 0x2F:
			c.skip(2)
		case 0x39:
			push(fc.externName(c), rankLeaf)
		case 0x3A, 0x3C:
			sheet, err := fc.sheetPrefix3D(c)
			if err != nil {
				return "", err
			}
			row, col, rowRel, colRel := fc.cellRef(c)
			if ptg == 0x3C {
				push(sheet+"#REF!", rankLeaf)
				continue
			}
			if shared {
				row, col = fc.offset(base, row, col, rowRel, colRel)
			}
			push(sheet+cellText(row, col, rowRel, colRel), rankLeaf)
		case 0x3B, 0x3D:
			sheet, err := fc.sheetPrefix3D(c)
			if err != nil {
				return "", err
			}
			area := fc.areaRef(c)
			if ptg == 0x3D {
				push(sheet+"#REF!", rankLeaf)
				continue
			}
			if shared {
				area = fc.offsetArea(base, area)
			}
			push(sheet+fc.areaText(area), rankRef)
		default:
			return "", corruptf("unsupported formula token 0x%02x at offset %d", ptg, at)
		}
		if c.err != nil {
			return "", c.err
		}
		if extra.err != nil {
			return "", extra.err
		}
	}
	if c.err != nil {
		return "", c.err
	}
	if len(stack) != 1 {
		return "", corruptf("formula leaves %d operands on the stack", len(stack))
	}
	return stack[0].text, nil
}

func wrap(o operand, rank int) string {
	if o.rank < rank {
		return "(" + o.text + ")"
	}
	return o.text
}

func quoteFormulaString(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func formatFormulaNumber(f float64) string {
	a := math.Abs(f)
	if a == 0 || (a >= 1e-9 && a < 1e15) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strings.ToUpper(strconv.FormatFloat(f, 'E', -1, 64))
}

// readString reads a tStr payload.
func (fc *formulaContext) readString(c *cursor) string {
	switch fc.layout {
	case layoutBIFF12:
		return c.utf16le(int(c.u16()))
	case layoutBIFF8:
		return c.unicodeString(1)
	}
	return c.byteString(1, fc.enc)
}

// attr handles tAttr. Only SUM changes the text; the rest are jump tables
// and layout hints.
func (fc *formulaContext) attr(c *cursor, stack *[]operand) error {
	kind := c.u8()
	w := int(c.u16())
	switch {
	case kind&0x04 != 0:
		width := 2
		if fc.layout == layoutBIFF12 {
			width = 4
		}
		c.skip((w + 1) * width)
	case kind&0x10 != 0:
		s := *stack
		if len(s) == 0 {
			return corruptf("SUM attribute without an argument")
		}
		s[len(s)-1] = operand{"SUM(" + s[len(s)-1].text + ")", rankLeaf}
	}
	return nil
}

func (fc *formulaContext) function(c *cursor, ptg byte, stack *[]operand) error {
	var nargs, id int
	if ptg == 0x21 {
		id = int(c.u16())
	} else {
		nargs = int(c.u8() & 0x7F)
		id = int(c.u16() & 0x7FFF)
	}
	if c.err != nil {
		return c.err
	}
	spec, ok := builtinFuncs[id]
	if !ok {
		return corruptf("unknown function id %d", id)
	}
	if ptg == 0x21 {
		if spec.minArgs != spec.maxArgs {
			return corruptf("function %s takes a variable argument count", spec.name)
		}
		nargs = spec.minArgs
	}
	s := *stack
	if nargs > len(s) {
		return corruptf("function %s needs %d arguments, %d on the stack", spec.name, nargs, len(s))
	}
	args := s[len(s)-nargs:]
	*stack = s[:len(s)-nargs]

	name := spec.name
	if id == 255 {
		// user defined: the first argument names the function
		if len(args) == 0 {
			return corruptf("user defined function without a name")
		}
		name = args[0].text
		args = args[1:]
	}
	texts := make([]string, len(args))
	for i, a := range args {
		texts[i] = a.text
	}
	*stack = append(*stack, operand{name + "(" + strings.Join(texts, ",") + ")", rankLeaf})
	return nil
}

func (fc *formulaContext) definedName(idx int) string {
	if idx >= 1 && idx <= len(fc.names) && fc.names[idx-1] != "" {
		return fc.names[idx-1]
	}
	return "#NAME?"
}

// externName reads a tNameX token.
func (fc *formulaContext) externName(c *cursor) string {
	var ixti, idx int
	switch fc.layout {
	case layoutBIFF12:
		ixti = int(c.u16())
		idx = int(c.u32())
	case layoutBIFF8:
		ixti = int(c.u16())
		idx = int(c.u16())
		c.skip(2)
	default:
		ixti = int(int16(c.u16()))
		c.skip(8)
		idx = int(c.u16())
		c.skip(12)
		if ixti < 0 {
			return fc.definedName(idx)
		}
		return "#NAME?"
	}
	if ixti < len(fc.externs) {
		sb := fc.externs[ixti].supbook
		if sb >= 0 && sb < len(fc.supbooks) {
			b := fc.supbooks[sb]
			if b.internal {
				return fc.definedName(idx)
			}
			if idx >= 1 && idx <= len(b.names) {
				return b.names[idx-1]
			}
		}
	}
	return fc.definedName(idx)
}

// cellRef reads the row and column of tRef-like tokens. Offsets of
// relative tokens are returned sign extended.
func (fc *formulaContext) cellRef(c *cursor) (row, col int, rowRel, colRel bool) {
	switch fc.layout {
	case layoutBIFF12:
		row = int(int32(c.u32()))
		w := c.u16()
		rowRel, colRel = w&0x8000 != 0, w&0x4000 != 0
		col = int(w & 0x3FFF)
	case layoutBIFF8:
		row = int(c.u16())
		w := c.u16()
		rowRel, colRel = w&0x8000 != 0, w&0x4000 != 0
		col = int(w & 0xFF)
	default:
		w := c.u16()
		rowRel, colRel = w&0x8000 != 0, w&0x4000 != 0
		row = int(w & 0x3FFF)
		col = int(c.u8())
	}
	return row, col, rowRel, colRel
}

type areaRef struct {
	r1, r2, c1, c2 int
	r1Rel, r2Rel   bool
	c1Rel, c2Rel   bool
}

func (fc *formulaContext) areaRef(c *cursor) areaRef {
	var a areaRef
	switch fc.layout {
	case layoutBIFF12:
		a.r1 = int(int32(c.u32()))
		a.r2 = int(int32(c.u32()))
		w1, w2 := c.u16(), c.u16()
		a.c1, a.r1Rel, a.c1Rel = int(w1&0x3FFF), w1&0x8000 != 0, w1&0x4000 != 0
		a.c2, a.r2Rel, a.c2Rel = int(w2&0x3FFF), w2&0x8000 != 0, w2&0x4000 != 0
	case layoutBIFF8:
		a.r1 = int(c.u16())
		a.r2 = int(c.u16())
		w1, w2 := c.u16(), c.u16()
		a.c1, a.r1Rel, a.c1Rel = int(w1&0xFF), w1&0x8000 != 0, w1&0x4000 != 0
		a.c2, a.r2Rel, a.c2Rel = int(w2&0xFF), w2&0x8000 != 0, w2&0x4000 != 0
	default:
		w1, w2 := c.u16(), c.u16()
		a.r1, a.r1Rel, a.c1Rel = int(w1&0x3FFF), w1&0x8000 != 0, w1&0x4000 != 0
		a.r2, a.r2Rel, a.c2Rel = int(w2&0x3FFF), w2&0x8000 != 0, w2&0x4000 != 0
		a.c1 = int(c.u8())
		a.c2 = int(c.u8())
	}
	return a
}

// offset resolves a relative reference against base. Excel wraps
// references that leave the sheet.
func (fc *formulaContext) offset(base Position, row, col int, rowRel, colRel bool) (int, int) {
	if rowRel {
		row = wrapIndex(base.Row+fc.signedRow(row), fc.maxRow())
	}
	if colRel {
		col = wrapIndex(base.Col+fc.signedCol(col), fc.maxCol())
	}
	return row, col
}

func (fc *formulaContext) offsetArea(base Position, a areaRef) areaRef {
	a.r1, a.c1 = fc.offset(base, a.r1, a.c1, a.r1Rel, a.c1Rel)
	a.r2, a.c2 = fc.offset(base, a.r2, a.c2, a.r2Rel, a.c2Rel)
	return a
}

func (fc *formulaContext) signedRow(r int) int {
	switch fc.layout {
	case layoutBIFF12:
		return r
	case layoutBIFF8:
		return int(int16(r))
	}
	if r&0x2000 != 0 {
		return r - 0x4000
	}
	return r
}

func (fc *formulaContext) signedCol(c int) int {
	if fc.layout == layoutBIFF12 {
		if c&0x2000 != 0 {
			return c - 0x4000
		}
		return c
	}
	return int(int8(c))
}

func wrapIndex(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

func cellText(row, col int, rowRel, colRel bool) string {
	var b strings.Builder
	if !colRel {
		b.WriteByte('$')
	}
	b.WriteString(Colname(col))
	if !rowRel {
		b.WriteByte('$')
	}
	b.WriteString(strconv.Itoa(row + 1))
	return b.String()
}

// areaText renders an area, collapsing whole rows and columns to "A:B" and
// "1:2" forms.
func (fc *formulaContext) areaText(a areaRef) string {
	abs := func(rel bool) string {
		if rel {
			return ""
		}
		return "$"
	}
	switch {
	case a.r1 == 0 && a.r2 == fc.maxRow()-1:
		return abs(a.c1Rel) + Colname(a.c1) + ":" + abs(a.c2Rel) + Colname(a.c2)
	case a.c1 == 0 && a.c2 == fc.maxCol()-1:
		return abs(a.r1Rel) + strconv.Itoa(a.r1+1) + ":" + abs(a.r2Rel) + strconv.Itoa(a.r2+1)
	}
	return cellText(a.r1, a.c1, a.r1Rel, a.c1Rel) + ":" + cellText(a.r2, a.c2, a.r2Rel, a.c2Rel)
}

// sheetPrefix3D reads the sheet part of a 3D reference and renders it as
// "Sheet1!", "'Sheet 1:Sheet 3'!" or "[Book]Sheet!".
func (fc *formulaContext) sheetPrefix3D(c *cursor) (string, error) {
	var first, last int
	book := ""
	if fc.layout == layoutBIFF5 {
		ixals := int(int16(c.u16()))
		c.skip(8)
		first, last = int(int16(c.u16())), int(int16(c.u16()))
		if ixals >= 0 {
			book = "[" + strconv.Itoa(ixals) + "]"
		}
	} else {
		ixti := int(c.u16())
		if c.err != nil {
			return "", c.err
		}
		if ixti >= len(fc.externs) {
			return "#REF!", nil
		}
		x := fc.externs[ixti]
		first, last = x.first, x.last
		if x.supbook >= 0 && x.supbook < len(fc.supbooks) && !fc.supbooks[x.supbook].internal {
			sb := fc.supbooks[x.supbook]
			name := func(i int) string {
				if i >= 0 && i < len(sb.sheets) {
					return sb.sheets[i]
				}
				return "#REF"
			}
			prefix := "[" + sb.book + "]" + name(first)
			if last != first {
				prefix += ":" + name(last)
			}
			return quoteSheetRef(prefix) + "!", nil
		}
	}
	sheet := func(i int) string {
		if i >= 0 && i < len(fc.sheets) {
			return fc.sheets[i]
		}
		return "#REF"
	}
	if first < 0 {
		return "#REF!", nil
	}
	name := book + sheet(first)
	if last != first && last >= 0 {
		name += ":" + sheet(last)
	}
	return quoteSheetRef(name) + "!", nil
}

// arrayConstant reads the trailing data of a tArray token.
func (fc *formulaContext) arrayConstant(extra *cursor) (string, error) {
	var rows, cols int
	switch fc.layout {
	case layoutBIFF12:
		rows = int(extra.u32())
		cols = int(extra.u32())
	default:
		cols = int(extra.u8()) + 1
		rows = int(extra.u16()) + 1
	}
	if extra.err != nil {
		return "", extra.err
	}
	if rows*cols > extra.remaining() {
		return "", corruptf("array constant of %dx%d overruns the formula", rows, cols)
	}
	var b strings.Builder
	b.WriteByte('{')
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteByte(';')
		}
		for col := 0; col < cols; col++ {
			if col > 0 {
				b.WriteByte(',')
			}
			b.WriteString(fc.arrayItem(extra))
		}
	}
	b.WriteByte('}')
	return b.String(), extra.err
}

func (fc *formulaContext) arrayItem(extra *cursor) string {
	typ := extra.u8()
	if fc.layout == layoutBIFF12 {
		switch typ {
		case 0x00:
			return formatFormulaNumber(extra.f64())
		case 0x01:
			return quoteFormulaString(extra.utf16le(int(extra.u16())))
		case 0x02:
			if extra.u8() != 0 {
				return "TRUE"
			}
			return "FALSE"
		case 0x04:
			return errorText(extra.u8())
		}
		extra.err = corruptf("unknown array constant type 0x%02x", typ)
		return ""
	}
	switch typ {
	case 0x00:
		extra.skip(8)
		return ""
	case 0x01:
		return formatFormulaNumber(extra.f64())
	case 0x02:
		if fc.layout == layoutBIFF8 {
			return quoteFormulaString(extra.unicodeString(2))
		}
		return quoteFormulaString(extra.byteString(1, fc.enc))
	case 0x04:
		v := extra.u8()
		extra.skip(7)
		if v != 0 {
			return "TRUE"
		}
		return "FALSE"
	case 0x10:
		v := extra.u8()
		extra.skip(7)
		return errorText(v)
	}
	extra.err = corruptf("unknown array constant type 0x%02x", typ)
	return ""
}

// skipMemArea skips the cached ranges a tMemArea token keeps in the
// trailing data.
func (fc *formulaContext) skipMemArea(extra *cursor) {
	switch fc.layout {
	case layoutBIFF12:
		extra.skip(16 * int(extra.u32()))
	case layoutBIFF8:
		extra.skip(8 * int(extra.u16()))
	default:
		extra.skip(6 * int(extra.u16()))
	}
}

// decodeFormula is decompile with the failure reported as a warning and an
// empty result, which is what callers store for formulas they cannot read.
func (fc *formulaContext) decodeFormula(rgce, rgcb []byte, base Position, shared bool, warn func(msg string, args ...any)) string {
	text, err := fc.decompile(rgce, rgcb, base, shared)
	if err != nil {
		warn("formula not decoded", "cell", base.String(), "error", err)
		return ""
	}
	return text
}
