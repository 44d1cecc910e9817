package xlread

import (
	"sync"

	"github.com/xuri/nfp"
)

// formatClass says how a numeric cell should be typed.
type formatClass uint8

const (
	classNumber formatClass = iota
	classDate
	classDuration
)

// builtinFormatClass classifies the built-in number format ids that are
// not stored in the workbook.
func builtinFormatClass(id int) formatClass {
	switch {
	case id == 46:
		return classDuration
	case id >= 14 && id <= 22,
		id >= 27 && id <= 36,
		id == 45, id == 47,
		id >= 50 && id <= 58,
		id >= 71 && id <= 81:
		return classDate
	}
	return classNumber
}

var formatCodeCache sync.Map // format code -> formatClass

// classifyFormatCode classifies a custom number format code by its first
// section: elapsed-time tokens such as [h] make it a duration, any other
// date or time token makes it a date.
func classifyFormatCode(code string) formatClass {
	if c, ok := formatCodeCache.Load(code); ok {
		return c.(formatClass)
	}
	class := classNumber
	p := nfp.NumberFormatParser()
	sections := p.Parse(code)
	if len(sections) > 0 {
	scan:
		for _, tok := range sections[0].Items {
			switch tok.TType {
			case nfp.TokenTypeElapsedDateTimes:
				class = classDuration
				break scan
			case nfp.TokenTypeDateTimes:
				class = classDate
			}
		}
	}
	formatCodeCache.Store(code, class)
	return class
}

// styleTable maps cell style indexes (XF records, cellXfs entries) to the
// class of their number format.
type styleTable struct {
	custom  map[int]string // format id -> code
	formats []int          // style index -> format id
}

func newStyleTable() *styleTable {
	return &styleTable{custom: make(map[int]string)}
}

func (st *styleTable) addFormat(id int, code string) {
	st.custom[id] = code
}

func (st *styleTable) addStyle(formatID int) {
	st.formats = append(st.formats, formatID)
}

// formatClass returns the class of the format used by style index xf.
// Unknown indexes are plain numbers.
func (st *styleTable) formatClass(xf int) formatClass {
	if st == nil || xf < 0 || xf >= len(st.formats) {
		return classNumber
	}
	id := st.formats[xf]
	if code, ok := st.custom[id]; ok {
		return classifyFormatCode(code)
	}
	return builtinFormatClass(id)
}
