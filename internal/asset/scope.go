package asset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/apperror"
)

// Scope is a private temporary directory owned by one job. Everything the
// job writes lives under it and is removed by Release.
type Scope struct {
	dir  string
	once sync.Once
	err  error
}

// NewScope creates a fresh directory under root (os.TempDir when empty).
func NewScope(root string) (*Scope, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o700); err != nil {
			return nil, fmt.Errorf("create scope root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(root, "autoecho-job-")
	if err != nil {
		return nil, fmt.Errorf("create job scope: %w", err)
	}
	return &Scope{dir: dir}, nil
}

// Dir returns the scope directory.
func (s *Scope) Dir() string { return s.dir }

// Materialize streams r into the scope under a sanitized copy of name. When
// maxBytes is positive and the stream is longer, the partial file is removed
// and a PayloadTooLarge error is returned.
func (s *Scope) Materialize(name string, r io.Reader, maxBytes int64) (*Asset, error) {
	base := sanitizeFilename(name)
	path := filepath.Join(s.dir, base)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create asset file: %w", err)
	}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write asset file: %w", copyErr)
	}
	if maxBytes > 0 && n > maxBytes {
		_ = os.Remove(path)
		return nil, apperror.New(apperror.PayloadTooLarge,
			fmt.Sprintf("file exceeds maximum size of %d bytes", maxBytes)).
			With("max_bytes", maxBytes)
	}

	return &Asset{
		Path:      path,
		Filename:  name,
		Extension: Extension(name),
		Size:      n,
	}, nil
}

// Release removes the scope directory. It is safe to call more than once;
// later calls return the result of the first.
func (s *Scope) Release() error {
	s.once.Do(func() {
		err := os.RemoveAll(s.dir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.err = err
		}
	})
	return s.err
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		name = "upload"
	}
	return name
}
