// Package archive packs signed documents into the single-entry ZIP the authority expects
// and reads the ZIP responses it returns.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
)

// MaxEntrySize bounds the decompressed size of a response entry
const MaxEntrySize = 16 << 20

// ErrEmpty is returned when an archive holds no file entries
var ErrEmpty = errors.New("archive has no entries")

// Entry is one archived file
type Entry struct {
	Name string
	Data []byte
}

// Pack stores data as the only entry of a new archive
func Pack(name string, data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := zip.NewWriter(&buf)
	f, err := w.Create(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create entry %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write entry %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}

	return buf.Bytes(), nil
}

// Unpack returns the first XML entry of an archive, or the first file entry when none is XML.
// Directory entries are skipped.
func Unpack(data []byte) (*Entry, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	var pick *zip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.EqualFold(path.Ext(f.Name), ".xml") {
			pick = f
			break
		}
		if pick == nil {
			pick = f
		}
	}
	if pick == nil {
		return nil, ErrEmpty
	}

	rc, err := pick.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open entry %s: %w", pick.Name, err)
	}
	defer rc.Close()

	content, err := io.ReadAll(io.LimitReader(rc, MaxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read entry %s: %w", pick.Name, err)
	}
	if len(content) > MaxEntrySize {
		return nil, fmt.Errorf("entry %s exceeds %d bytes", pick.Name, MaxEntrySize)
	}

	return &Entry{Name: path.Base(pick.Name), Data: content}, nil
}
