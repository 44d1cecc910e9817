package xlread

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"strings"
)

// Format is a workbook container format.
type Format int

const (
	FormatUnknown Format = iota
	FormatXLS
	FormatXLSX
	FormatXLSB
	FormatODS
	// FormatZip is a zip archive that holds no known workbook.
	FormatZip
)

var formatNames = map[Format]string{
	FormatUnknown: "unknown",
	FormatXLS:     "xls",
	FormatXLSX:    "xlsx",
	FormatXLSB:    "xlsb",
	FormatODS:     "ods",
	FormatZip:     "zip",
}

// FileFormatDescriptions provides descriptions of the file types that can be inspected.
var FileFormatDescriptions = map[Format]string{
	FormatXLS:     "Excel xls",
	FormatXLSB:    "Excel 2007 xlsb file",
	FormatXLSX:    "Excel xlsx file",
	FormatODS:     "Openoffice.org ODS file",
	FormatZip:     "Unknown ZIP file",
	FormatUnknown: "Unknown file type",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "unknown"
}

// xlsSignature is the magic cookie that should appear in the first 8 bytes of an XLS file.
var xlsSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

var zipSignature = []byte("PK\x03\x04")

const odsMimetype = "application/vnd.oasis.opendocument.spreadsheet"

// InspectFormat inspects the content at the supplied path or the bytes
// content provided and returns the file's format. Content takes precedence
// over path when both are given.
func InspectFormat(path string, content []byte) (Format, error) {
	if content != nil {
		return inspect(bytes.NewReader(content), int64(len(content)))
	}
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, wrapError(ErrNotFound, err, "open %s", path)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return FormatUnknown, wrapError(ErrNotFound, err, "stat %s", path)
	}
	return inspect(f, st.Size())
}

func inspect(ra io.ReaderAt, size int64) (Format, error) {
	candidates, err := sniff(ra, size)
	switch {
	case err == nil:
		return candidates[0], nil
	case isZip(ra, size):
		return FormatZip, nil
	}
	return FormatUnknown, nil
}

func isZip(ra io.ReaderAt, size int64) bool {
	peek := make([]byte, len(zipSignature))
	n, _ := ra.ReadAt(peek, 0)
	return n == len(peek) && bytes.Equal(peek, zipSignature) && size > 0
}

// sniff returns the formats worth trying for the given content, most
// likely first.
func sniff(ra io.ReaderAt, size int64) ([]Format, error) {
	peek := make([]byte, 8)
	n, err := ra.ReadAt(peek, 0)
	if err != nil && err != io.EOF {
		return nil, wrapError(ErrNotFound, err, "read signature")
	}
	peek = peek[:n]

	switch {
	case bytes.HasPrefix(peek, xlsSignature):
		// Encrypted xlsx and xlsb files are CFB containers too; openXLS
		// tells them apart.
		return []Format{FormatXLS}, nil
	case bytes.HasPrefix(peek, zipSignature):
		return sniffZip(ra, size)
	case len(peek) >= 4 && binary.LittleEndian.Uint16(peek) == xlBOF:
		// A bare BIFF stream without the CFB wrapper.
		return []Format{FormatXLS}, nil
	}
	return nil, newError(ErrUnrecognizedContainer, "unknown file signature % x", peek)
}

func sniffZip(ra io.ReaderAt, size int64) ([]Format, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, wrapError(ErrUnrecognizedContainer, err, "bad zip archive")
	}

	// Workaround for some third party files that use forward slashes and
	// lower case names.
	names := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		names[normalizePartName(f.Name)] = f
	}

	var out []Format
	if _, ok := names["xl/workbook.xml"]; ok {
		out = append(out, FormatXLSX)
	}
	if _, ok := names["xl/workbook.bin"]; ok {
		out = append(out, FormatXLSB)
	}
	if _, ok := names["content.xml"]; ok {
		out = append(out, FormatODS)
	} else if f, ok := names["mimetype"]; ok && readSmall(f) == odsMimetype {
		out = append(out, FormatODS)
	}
	if len(out) == 0 {
		return nil, newError(ErrUnrecognizedContainer, "zip archive holds no workbook")
	}
	return out, nil
}

func normalizePartName(name string) string {
	return strings.TrimPrefix(strings.ToLower(strings.ReplaceAll(name, "\\", "/")), "/")
}

func readSmall(f *zip.File) string {
	rc, err := f.Open()
	if err != nil {
		return ""
	}
	defer rc.Close()
	b, _ := io.ReadAll(io.LimitReader(rc, 256))
	return strings.TrimSpace(string(b))
}
