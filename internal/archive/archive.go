// Package archive reads .osz beatmap archives and re-emits them with one
// entry substituted.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	ErrNoChart  = errors.New("no .osu chart in archive")
	ErrNotFound = errors.New("entry not found in archive")
)

// Archive is an opened .osz held in memory.
type Archive struct {
	data []byte
	zr   *zip.Reader
}

func Open(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	return &Archive{data: data, zr: zr}, nil
}

// Names lists the file entries in archive order.
func (a *Archive) Names() []string {
	names := make([]string, 0, len(a.zr.File))
	for _, f := range a.zr.File {
		if !f.FileInfo().IsDir() {
			names = append(names, f.Name)
		}
	}
	return names
}

// Charts lists every .osu entry; an .osz carries one per difficulty.
func (a *Archive) Charts() []string {
	var out []string
	for _, name := range a.Names() {
		if strings.EqualFold(path.Ext(name), ".osu") {
			out = append(out, name)
		}
	}
	return out
}

// ChartEntry returns the first .osu entry.
func (a *Archive) ChartEntry() (string, error) {
	charts := a.Charts()
	if len(charts) == 0 {
		return "", ErrNoChart
	}
	return charts[0], nil
}

func (a *Archive) find(name string) *zip.File {
	for _, f := range a.zr.File {
		if f.Name == name {
			return f
		}
	}
	// Charts reference resources case-insensitively.
	for _, f := range a.zr.File {
		if strings.EqualFold(f.Name, name) {
			return f
		}
	}
	return nil
}

func (a *Archive) Has(name string) bool {
	return a.find(name) != nil
}

// Read returns the uncompressed bytes of an entry.
func (a *Archive) Read(name string) ([]byte, error) {
	f := a.find(name)
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer rc.Close()

	out, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return out, nil
}

// Replace writes a new archive in which the named entry holds data. Every
// other entry is copied through in order without recompression. If the name
// is not present it is added at the end.
func (a *Archive) Replace(name string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	target := a.find(name)
	replaced := false
	for _, f := range a.zr.File {
		if f == target {
			if err := writeEntry(zw, f.FileHeader, data); err != nil {
				return nil, err
			}
			replaced = true
			continue
		}
		if err := zw.Copy(f); err != nil {
			return nil, fmt.Errorf("copying %s: %w", f.Name, err)
		}
	}
	if !replaced {
		hdr := zip.FileHeader{Name: name, Method: zip.Deflate}
		if err := writeEntry(zw, hdr, data); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finishing archive: %w", err)
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, orig zip.FileHeader, data []byte) error {
	hdr := &zip.FileHeader{
		Name:     orig.Name,
		Comment:  orig.Comment,
		Method:   orig.Method,
		Modified: orig.Modified,
	}
	if hdr.Method != zip.Store {
		hdr.Method = zip.Deflate
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("creating %s: %w", orig.Name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", orig.Name, err)
	}
	return nil
}

// Build packs the given entries into a new archive, in order.
func Build(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		if err := writeEntry(zw, zip.FileHeader{Name: e.Name, Method: zip.Deflate}, e.Data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finishing archive: %w", err)
	}
	return buf.Bytes(), nil
}

// Entry is a named file for Build.
type Entry struct {
	Name string
	Data []byte
}
