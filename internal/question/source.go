package question

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// AssetSource fetches raw question markup by id.
type AssetSource interface {
	Fetch(ctx context.Context, id int) ([]byte, error)
}

// FSSource reads question assets from a directory of <id>.html files.
type FSSource struct {
	dir string
}

// NewFSSource creates a filesystem-backed asset source.
func NewFSSource(dir string) *FSSource {
	return &FSSource{dir: dir}
}

func (s *FSSource) Fetch(_ context.Context, id int) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, fmt.Sprintf("%d.html", id)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading question %d: %w", id, err)
	}
	return data, nil
}

// MemorySource serves assets from a map. Used by tests.
type MemorySource map[int][]byte

func (s MemorySource) Fetch(_ context.Context, id int) ([]byte, error) {
	data, ok := s[id]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}
