package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Filesystem reads files from one local directory.
type Filesystem struct {
	root string
}

// NewFilesystem returns an Opener rooted at dir. The directory must exist.
func NewFilesystem(dir string) (*Filesystem, error) {
	if dir == "" {
		dir = "."
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("input path: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", dir)
	}
	return &Filesystem{root: dir}, nil
}

func (f *Filesystem) Driver() Driver { return DriverFilesystem }

func (f *Filesystem) List(_ context.Context, pattern string) ([]Info, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, err
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !matchName(pattern, e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, err
		}
		infos = append(infos, Info{Key: e.Name(), Size: fi.Size(), LastModified: fi.ModTime().UTC()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (f *Filesystem) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(f.root, filepath.FromSlash(key)))
}
