package publish

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/matzehuels/vpmlisting/pkg/errors"
	"github.com/matzehuels/vpmlisting/pkg/vpm"
)

// File publishes a listing as a JSON file.
// The file is written to a temporary sibling and renamed into place, so
// readers never observe a partially written listing.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile creates a File publisher for path.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Publish(ctx context.Context, l *vpm.Listing) error {
	data, err := Encode(l)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "create listing dir")
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(errors.ErrCodeInternal, err, "write listing file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write listing file")
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "chmod listing file")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "replace listing file")
	}
	return nil
}

// Load reads the listing currently at the path. It returns nil with no error
// when nothing has been published yet.
func (f *File) Load(_ context.Context) (*vpm.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "read listing file")
	}
	var l vpm.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "parse %s", f.path)
	}
	return &l, nil
}

func (f *File) Close() error { return nil }

var (
	_ Publisher = (*File)(nil)
	_ Loader    = (*File)(nil)
)
