package xlread

import (
	"encoding/binary"
	"io"
	"math"
	"unicode/utf16"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// biffRecord is one BIFF record together with the payloads of the CONTINUE
// records that follow it.
type biffRecord struct {
	code   uint16
	offset int
	data   []byte
	conts  [][]byte
}

// joined returns the record payload with its continuations appended.
func (r biffRecord) joined() []byte {
	if len(r.conts) == 0 {
		return r.data
	}
	out := append([]byte(nil), r.data...)
	for _, c := range r.conts {
		out = append(out, c...)
	}
	return out
}

// recordReader walks the records of a BIFF stream.
type recordReader struct {
	mem []byte
	pos int
}

func (r *recordReader) seek(pos int) { r.pos = pos }

// peek returns the code of the next record without consuming it.
func (r *recordReader) peek() (uint16, bool) {
	if r.pos+4 > len(r.mem) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(r.mem[r.pos:]), true
}

// next returns the next record and its continuations. It returns io.EOF
// at the end of the stream.
func (r *recordReader) next() (biffRecord, error) {
	rec, err := r.raw()
	if err != nil {
		return rec, err
	}
	for {
		code, ok := r.peek()
		if !ok || code != xlContinue {
			return rec, nil
		}
		c, err := r.raw()
		if err != nil {
			return rec, err
		}
		rec.conts = append(rec.conts, c.data)
	}
}

func (r *recordReader) raw() (biffRecord, error) {
	if r.pos >= len(r.mem) {
		return biffRecord{}, io.EOF
	}
	if r.pos+4 > len(r.mem) {
		return biffRecord{}, corruptf("truncated record header at offset %d", r.pos)
	}
	code := binary.LittleEndian.Uint16(r.mem[r.pos:])
	n := int(binary.LittleEndian.Uint16(r.mem[r.pos+2:]))
	start := r.pos + 4
	if start+n > len(r.mem) {
		return biffRecord{}, corruptf("record 0x%04x at offset %d runs past the end of the stream", code, r.pos)
	}
	rec := biffRecord{code: code, offset: r.pos, data: r.mem[start : start+n]}
	r.pos = start + n
	return rec, nil
}

// cursor reads little-endian fields from a byte slice. The first short
// read is remembered and every later read returns zero.
type cursor struct {
	b   []byte
	pos int
	err error
}

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || c.pos+n > len(c.b) {
		c.err = corruptf("need %d bytes at offset %d of a %d byte record", n, c.pos, len(c.b))
		return nil
	}
	p := c.b[c.pos : c.pos+n]
	c.pos += n
	return p
}

func (c *cursor) skip(n int) { c.take(n) }

func (c *cursor) remaining() int { return len(c.b) - c.pos }

func (c *cursor) rest() []byte { return c.take(c.remaining()) }

func (c *cursor) u8() byte {
	if p := c.take(1); p != nil {
		return p[0]
	}
	return 0
}

func (c *cursor) u16() uint16 {
	if p := c.take(2); p != nil {
		return binary.LittleEndian.Uint16(p)
	}
	return 0
}

func (c *cursor) u32() uint32 {
	if p := c.take(4); p != nil {
		return binary.LittleEndian.Uint32(p)
	}
	return 0
}

func (c *cursor) f64() float64 {
	if p := c.take(8); p != nil {
		return math.Float64frombits(binary.LittleEndian.Uint64(p))
	}
	return 0
}

// utf16le reads n UTF-16LE code units.
func (c *cursor) utf16le(n int) string {
	p := c.take(2 * n)
	if p == nil {
		return ""
	}
	return decodeUTF16(p)
}

// wideString reads an XLWideString: a u32 character count followed by
// UTF-16LE text.
func (c *cursor) wideString() string {
	n := c.u32()
	if c.err == nil && int64(n)*2 > int64(c.remaining()) {
		c.err = corruptf("wide string of %d characters overruns the record", n)
		return ""
	}
	return c.utf16le(int(n))
}

// nullableWideString is a wideString where 0xFFFFFFFF stands for absent.
func (c *cursor) nullableWideString() string {
	if c.err == nil && c.remaining() >= 4 && binary.LittleEndian.Uint32(c.b[c.pos:]) == 0xFFFFFFFF {
		c.skip(4)
		return ""
	}
	return c.wideString()
}

// unicodeString reads a BIFF8 XLUnicodeString whose character count is
// lenlen bytes wide. Rich text runs and phonetic data are skipped.
func (c *cursor) unicodeString(lenlen int) string {
	var n int
	if lenlen == 1 {
		n = int(c.u8())
	} else {
		n = int(c.u16())
	}
	return c.unicodeChars(n)
}

// unicodeChars reads the option byte and characters of a string whose
// length is already known.
func (c *cursor) unicodeChars(n int) string {
	opts := c.u8()
	var runs, phonetic int
	if opts&0x08 != 0 {
		runs = int(c.u16())
	}
	if opts&0x04 != 0 {
		phonetic = int(c.u32())
	}
	var s string
	if opts&0x01 != 0 {
		s = c.utf16le(n)
	} else {
		s = latin1(c.take(n))
	}
	c.skip(4 * runs)
	c.skip(phonetic)
	return s
}

// byteString reads a BIFF5 string: a count of lenlen bytes followed by
// text in the workbook code page.
func (c *cursor) byteString(lenlen int, enc encoding.Encoding) string {
	var n int
	if lenlen == 1 {
		n = int(c.u8())
	} else {
		n = int(c.u16())
	}
	return decodeCodepage(c.take(n), enc)
}

func decodeUTF16(p []byte) string {
	units := make([]uint16, len(p)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(p[2*i:])
	}
	return string(utf16.Decode(units))
}

// latin1 decodes a compressed BIFF8 string, whose bytes are the low halves
// of UTF-16 code units.
func latin1(p []byte) string {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(p)
	if err != nil {
		return string(p)
	}
	return string(out)
}

func decodeCodepage(p []byte, enc encoding.Encoding) string {
	if enc == nil {
		return latin1(p)
	}
	out, err := enc.NewDecoder().Bytes(p)
	if err != nil {
		return latin1(p)
	}
	return string(out)
}

var codepageEncodings = map[int]encoding.Encoding{
	437:   charmap.CodePage437,
	850:   charmap.CodePage850,
	852:   charmap.CodePage852,
	855:   charmap.CodePage855,
	858:   charmap.CodePage858,
	860:   charmap.CodePage860,
	862:   charmap.CodePage862,
	863:   charmap.CodePage863,
	865:   charmap.CodePage865,
	866:   charmap.CodePage866,
	874:   charmap.Windows874,
	1200:  unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
	1250:  charmap.Windows1250,
	1251:  charmap.Windows1251,
	1252:  charmap.Windows1252,
	1253:  charmap.Windows1253,
	1254:  charmap.Windows1254,
	1255:  charmap.Windows1255,
	1256:  charmap.Windows1256,
	1257:  charmap.Windows1257,
	1258:  charmap.Windows1258,
	10000: charmap.Macintosh,
	10007: charmap.MacintoshCyrillic,
	20866: charmap.KOI8R,
	21866: charmap.KOI8U,
	28591: charmap.ISO8859_1,
	28592: charmap.ISO8859_2,
	28595: charmap.ISO8859_5,
	28597: charmap.ISO8859_7,
}

// encodingForCodepage returns the decoder for a CODEPAGE value. Unknown
// code pages fall back to Latin-1.
func encodingForCodepage(cp int) (encoding.Encoding, bool) {
	if alias, ok := codepageAliases[cp]; ok {
		cp = alias
	}
	if enc, ok := codepageEncodings[cp]; ok {
		return enc, true
	}
	return charmap.ISO8859_1, false
}

// segmentReader reads strings that may be split across CONTINUE records.
// A string that crosses a boundary restarts with a fresh option byte that
// says whether the rest of its characters are compressed.
type segmentReader struct {
	segs [][]byte
	seg  int
	pos  int
}

func newSegmentReader(rec biffRecord) *segmentReader {
	return &segmentReader{segs: append([][]byte{rec.data}, rec.conts...)}
}

func (s *segmentReader) avail() int {
	for s.seg < len(s.segs) && s.pos >= len(s.segs[s.seg]) {
		s.seg++
		s.pos = 0
	}
	if s.seg >= len(s.segs) {
		return 0
	}
	return len(s.segs[s.seg]) - s.pos
}

func (s *segmentReader) bytes(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		a := s.avail()
		if a == 0 {
			return nil, corruptf("string table ends early")
		}
		k := min(a, n-len(out))
		out = append(out, s.segs[s.seg][s.pos:s.pos+k]...)
		s.pos += k
	}
	return out, nil
}

func (s *segmentReader) skip(n int) error {
	_, err := s.bytes(n)
	return err
}

func (s *segmentReader) u8() (byte, error) {
	p, err := s.bytes(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (s *segmentReader) u16() (int, error) {
	p, err := s.bytes(2)
	if err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint16(p)), nil
}

func (s *segmentReader) u32() (int, error) {
	p, err := s.bytes(4)
	if err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint32(p)), nil
}

// unicodeString reads an XLUnicodeRichExtendedString with a u16 length.
func (s *segmentReader) unicodeString() (string, error) {
	n, err := s.u16()
	if err != nil {
		return "", err
	}
	opts, err := s.u8()
	if err != nil {
		return "", err
	}
	var runs, phonetic int
	if opts&0x08 != 0 {
		if runs, err = s.u16(); err != nil {
			return "", err
		}
	}
	if opts&0x04 != 0 {
		if phonetic, err = s.u32(); err != nil {
			return "", err
		}
	}

	units := make([]uint16, 0, n)
	wide := opts&0x01 != 0
	for len(units) < n {
		if s.seg >= len(s.segs) {
			return "", corruptf("string table ends inside a string")
		}
		if s.pos >= len(s.segs[s.seg]) {
			// continuation: a new option byte precedes the characters
			s.seg++
			s.pos = 0
			if s.seg >= len(s.segs) || len(s.segs[s.seg]) == 0 {
				return "", corruptf("string table ends inside a string")
			}
			wide = s.segs[s.seg][0]&0x01 != 0
			s.pos = 1
		}
		a := len(s.segs[s.seg]) - s.pos
		width := 1
		if wide {
			width = 2
		}
		k := min(n-len(units), a/width)
		if k == 0 {
			return "", corruptf("split character in string table")
		}
		p := s.segs[s.seg][s.pos : s.pos+k*width]
		s.pos += k * width
		for i := 0; i < k; i++ {
			if wide {
				units = append(units, binary.LittleEndian.Uint16(p[2*i:]))
			} else {
				units = append(units, uint16(p[i]))
			}
		}
	}
	if err := s.skip(4*runs + phonetic); err != nil {
		return "", err
	}
	return string(utf16.Decode(units)), nil
}

// readSST decodes the shared string table.
func readSST(rec biffRecord) ([]string, error) {
	s := newSegmentReader(rec)
	if err := s.skip(4); err != nil {
		return nil, err
	}
	unique, err := s.u32()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, min(unique, 1<<16))
	for i := 0; i < unique; i++ {
		str, err := s.unicodeString()
		if err != nil {
			return nil, wrapError(ErrCorruption, err, "shared string %d", i)
		}
		out = append(out, str)
	}
	return out, nil
}
