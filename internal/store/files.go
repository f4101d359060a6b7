package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rezonia/cpe-emitter/internal/model"
)

const (
	signedDir   = "xml"
	responseDir = "cdr"
)

// FileStore keeps signed documents and authority responses on disk:
// xml/{name}.xml and cdr/R-{name}.zip under the root. Each signed artifact
// records its owner in xml/{name}.owner, and only that owner may replace
// or reuse it.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore creates the layout under root
func NewFileStore(root string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	for _, dir := range []string{signedDir, responseDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &FileStore{root: root}, nil
}

// SaveSigned writes the signed XML of an artifact for owner, such as
// model.DocumentOwner(id). The same owner may overwrite its artifact on a
// re-sign; an artifact recorded for another owner is left untouched and
// *model.DuplicateError is returned.
func (f *FileStore) SaveSigned(name, owner string, signed []byte) error {
	if owner == "" {
		return model.NewValidationError("owner", nil, "required", "signed artifact has no owner")
	}
	path, err := f.path(signedDir, name, ".xml")
	if err != nil {
		return err
	}
	ownerPath, err := f.path(signedDir, name, ".owner")
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	current, err := f.owner(name)
	if err != nil {
		return err
	}
	if current != "" && current != owner {
		return &model.DuplicateError{Entity: "signed artifact", Key: name, Owner: current}
	}
	if current == "" {
		if _, statErr := os.Stat(path); statErr == nil {
			return &model.DuplicateError{Entity: "signed artifact", Key: name, Owner: "unknown"}
		}
		if err := writeFile(ownerPath, []byte(owner)); err != nil {
			return err
		}
	}
	return writeFile(path, signed)
}

// LoadSigned reads the artifact owner signed before. A missing file is
// model.ErrNotFound; one recorded for another owner is *model.DuplicateError.
func (f *FileStore) LoadSigned(name, owner string) ([]byte, error) {
	path, err := f.path(signedDir, name, ".xml")
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	current, err := f.owner(name)
	if err != nil {
		return nil, err
	}
	if current != owner {
		if current == "" {
			return nil, fmt.Errorf("%s owned by %s: %w", name, owner, model.ErrNotFound)
		}
		return nil, &model.DuplicateError{Entity: "signed artifact", Key: name, Owner: current}
	}
	return readFile(path)
}

// owner returns the recorded owner of a signed artifact, or "" when none is
func (f *FileStore) owner(name string) (string, error) {
	path, err := f.path(signedDir, name, ".owner")
	if err != nil {
		return "", err
	}
	data, err := readFile(path)
	if errors.Is(err, model.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveResponse writes the authority's response archive for an artifact
func (f *FileStore) SaveResponse(name string, artifact []byte) error {
	path, err := f.path(responseDir, model.ResponseArtifactName(name), ".zip")
	if err != nil {
		return err
	}
	return writeFile(path, artifact)
}

// LoadResponse reads the response archive stored for an artifact
func (f *FileStore) LoadResponse(name string) ([]byte, error) {
	path, err := f.path(responseDir, model.ResponseArtifactName(name), ".zip")
	if err != nil {
		return nil, err
	}
	return readFile(path)
}

func (f *FileStore) path(dir, name, ext string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", model.NewValidationError("artifact_name", name, "filename", "artifact name is not a plain file name")
	}
	return filepath.Join(f.root, dir, name+ext), nil
}

func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return data, nil
}
