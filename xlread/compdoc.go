package xlread

import (
	"errors"
	"io"
	"strings"

	"github.com/richardlehane/mscfb"
)

// compoundDocument is an OLE2 container, the wrapper of xls workbooks and
// of encrypted OOXML packages.
type compoundDocument struct {
	streams map[string]*mscfb.File
}

func openCompoundDocument(ra io.ReaderAt) (*compoundDocument, error) {
	r, err := mscfb.New(ra)
	if err != nil {
		return nil, wrapError(ErrCorruption, err, "compound document")
	}
	cd := &compoundDocument{streams: make(map[string]*mscfb.File)}
	for _, f := range r.File {
		// Only top level streams matter for workbooks.
		if len(f.Path) != 0 {
			continue
		}
		cd.streams[strings.ToLower(f.Name)] = f
	}
	return cd, nil
}

func (cd *compoundDocument) has(name string) bool {
	_, ok := cd.streams[strings.ToLower(name)]
	return ok
}

// encrypted reports whether the container holds an agile or standard
// encrypted OOXML package rather than a BIFF workbook.
func (cd *compoundDocument) encrypted() bool {
	return cd.has("EncryptionInfo") || cd.has("EncryptedPackage")
}

// stream reads the first stream found among names.
func (cd *compoundDocument) stream(names ...string) ([]byte, string, error) {
	for _, name := range names {
		f, ok := cd.streams[strings.ToLower(name)]
		if !ok {
			continue
		}
		data, err := io.ReadAll(f)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, name, wrapError(ErrCorruption, err, "read stream %s", name)
		}
		if int64(len(data)) < f.Size {
			return nil, name, corruptf("stream %s is truncated: %d of %d bytes", name, len(data), f.Size)
		}
		return data, name, nil
	}
	return nil, "", newError(ErrUnrecognizedContainer, "compound document holds none of %s", strings.Join(names, ", "))
}
