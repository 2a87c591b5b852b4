package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/makeasinger/storystudio/internal/model"
)

// FileBackend stores one JSON document per snapshot under <dir>/<projectId>/<id>.json
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileBackend{dir: dir}, nil
}

// safeName rejects path components that could escape the snapshot directory.
func safeName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

func (b *FileBackend) Put(ctx context.Context, projectID, id string, doc []byte) error {
	if !safeName(projectID) || !safeName(id) {
		return model.NewError(model.KindInvalidRequest, "invalid snapshot path %q/%q", projectID, id)
	}
	dir := filepath.Join(b.dir, projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+id+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, id+".json"))
}

func (b *FileBackend) find(id string) (string, error) {
	if !safeName(id) {
		return "", model.NewError(model.KindNotFound, "snapshot %s not found", id)
	}
	matches, err := filepath.Glob(filepath.Join(b.dir, "*", id+".json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", model.NewError(model.KindNotFound, "snapshot %s not found", id)
	}
	return matches[0], nil
}

func (b *FileBackend) Get(ctx context.Context, id string) ([]byte, error) {
	path, err := b.find(id)
	if err != nil {
		return nil, err
	}
	doc, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, model.NewError(model.KindNotFound, "snapshot %s not found", id)
	}
	return doc, err
}

func (b *FileBackend) List(ctx context.Context, projectID string) ([][]byte, error) {
	if !safeName(projectID) {
		return nil, nil
	}
	paths, err := filepath.Glob(filepath.Join(b.dir, projectID, "*.json"))
	if err != nil {
		return nil, err
	}
	docs := make([][]byte, 0, len(paths))
	for _, p := range paths {
		doc, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (b *FileBackend) Delete(ctx context.Context, id string) error {
	path, err := b.find(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); errors.Is(err, os.ErrNotExist) {
		return model.NewError(model.KindNotFound, "snapshot %s not found", id)
	} else if err != nil {
		return err
	}
	return nil
}
