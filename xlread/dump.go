package xlread

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// Dump dumps an XLS file's BIFF records in char & hex format for debugging.
//
// filename: The path to the file to be dumped.
// outfile: An open file, to which the dump is written.
// unnumbered: If true, omit offsets (for meaningful diffs).
func Dump(filename string, outfile io.Writer, unnumbered bool) error {
	mem, err := loadBIFFStream(filename)
	if err != nil {
		return err
	}
	rr := &recordReader{mem: mem}
	depth := 0
	for {
		rec, err := rr.raw()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.code == xlEOF && depth > 0 {
			depth--
		}
		indent := strings.Repeat("    ", depth)
		if unnumbered {
			fmt.Fprintf(outfile, "%s%04x %s len = %04x (%d)\n", indent, rec.code, recordName(rec.code), len(rec.data), len(rec.data))
		} else {
			fmt.Fprintf(outfile, "%8d: %s%04x %s len = %04x (%d)\n", rec.offset, indent, rec.code, recordName(rec.code), len(rec.data), len(rec.data))
		}
		hexCharDump(outfile, rec.data, indent, unnumbered)
		if rec.code == xlBOF {
			depth++
		}
	}
}

// CountRecords summarises the file's BIFF records.
// It produces a sorted file of (record_name, count).
//
// filename: The path to the file to be summarised.
// outfile: An open file, to which the summary is written.
func CountRecords(filename string, outfile io.Writer) error {
	mem, err := loadBIFFStream(filename)
	if err != nil {
		return err
	}
	counts := make(map[string]int)
	rr := &recordReader{mem: mem}
	for {
		rec, err := rr.raw()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		counts[recordName(rec.code)]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(outfile, "%8d %s\n", counts[name], name)
	}
	return nil
}

func loadBIFFStream(filename string) ([]byte, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, wrapError(ErrNotFound, err, "open %s", filename)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, wrapError(ErrNotFound, err, "stat %s", filename)
	}
	return readBIFFStream(f, st.Size(), slog.New(slog.DiscardHandler))
}

func recordName(code uint16) string {
	if name, ok := recordNames[code]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_%04X", code)
}

// hexCharDump writes data 16 bytes per line as hex and printable chars.
func hexCharDump(w io.Writer, data []byte, indent string, unnumbered bool) {
	for off := 0; off < len(data); off += 16 {
		line := data[off:min(off+16, len(data))]
		var hexPart, charPart strings.Builder
		for i, b := range line {
			if i > 0 {
				hexPart.WriteByte(' ')
			}
			fmt.Fprintf(&hexPart, "%02x", b)
			if b >= 0x20 && b < 0x7f {
				charPart.WriteByte(b)
			} else {
				charPart.WriteByte('?')
			}
		}
		if unnumbered {
			fmt.Fprintf(w, "%s    %-47s %s\n", indent, hexPart.String(), charPart.String())
		} else {
			fmt.Fprintf(w, "%8s  %s%04x %-47s %s\n", "", indent, off, hexPart.String(), charPart.String())
		}
	}
}
