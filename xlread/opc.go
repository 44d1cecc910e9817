package xlread

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"path"
	"strings"
)

// zipPackage gives case-insensitive access to the parts of a zip based
// workbook (xlsx, xlsb and ods).
type zipPackage struct {
	zr    *zip.Reader
	parts map[string]*zip.File
}

func openZipPackage(ra io.ReaderAt, size int64) (*zipPackage, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, wrapError(ErrUnrecognizedContainer, err, "bad zip archive")
	}
	p := &zipPackage{zr: zr, parts: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		p.parts[normalizePartName(f.Name)] = f
	}
	return p, nil
}

func (p *zipPackage) has(name string) bool {
	_, ok := p.parts[normalizePartName(name)]
	return ok
}

// open opens a part. A missing part is a corruption error.
func (p *zipPackage) open(name string) (io.ReadCloser, error) {
	f, ok := p.parts[normalizePartName(name)]
	if !ok {
		return nil, corruptf("missing part %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, wrapError(ErrCorruption, err, "open part %s", name)
	}
	return rc, nil
}

func (p *zipPackage) decodeXML(name string, v interface{}) error {
	rc, err := p.open(name)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := xml.NewDecoder(rc).Decode(v); err != nil {
		return wrapError(ErrCorruption, err, "parse %s", name)
	}
	return nil
}

type relationship struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

// relsFor returns the relationships of part, keyed by id, with targets
// resolved to package part names. A part without relationships yields an
// empty map.
func (p *zipPackage) relsFor(part string) (map[string]relationship, error) {
	dir, base := path.Split(part)
	relsName := dir + "_rels/" + base + ".rels"
	out := make(map[string]relationship)
	if !p.has(relsName) {
		return out, nil
	}
	var doc struct {
		Relationships []relationship `xml:"Relationship"`
	}
	if err := p.decodeXML(relsName, &doc); err != nil {
		return nil, err
	}
	for _, r := range doc.Relationships {
		if r.TargetMode != "External" {
			r.Target = resolvePartName(dir, r.Target)
		}
		out[r.ID] = r
	}
	return out, nil
}

func resolvePartName(dir, target string) string {
	target = strings.ReplaceAll(target, "\\", "/")
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return path.Clean(path.Join(dir, target))
}

// relTypeSuffix returns the last path element of a relationship type,
// which is stable across the transitional and strict namespaces.
func relTypeSuffix(typ string) string {
	return typ[strings.LastIndex(typ, "/")+1:]
}

// attrLocal returns the value of the first attribute with the given local
// name, ignoring namespaces.
func attrLocal(attrs []xml.Attr, local string) (string, bool) {
	for _, a := range attrs {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// isTruthy reads xsd:boolean attributes.
func isTruthy(s string) bool {
	return s == "1" || strings.EqualFold(s, "true")
}
