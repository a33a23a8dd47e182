// Package asset validates uploaded audio files and owns the per-job
// temporary workspace they are written into.
package asset

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/apperror"
)

// DefaultExtensions is the accepted audio container set.
var DefaultExtensions = []string{"mp3", "wav", "m4a", "flac", "ogg"}

// Asset is an upload materialized inside a job scope.
type Asset struct {
	Path         string `json:"-"`
	Filename     string `json:"filename"`
	Extension    string `json:"extension"`
	DeclaredSize int64  `json:"declared_size"`
	Size         int64  `json:"size"`
}

// Validator checks uploads against the accepted extensions and size ceiling.
type Validator struct {
	extensions map[string]bool
	maxBytes   int64
}

// NewValidator returns a Validator. Extensions are matched case-insensitively
// and may be given with or without a leading dot.
func NewValidator(extensions []string, maxBytes int64) *Validator {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	set := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			set[e] = true
		}
	}
	return &Validator{extensions: set, maxBytes: maxBytes}
}

// MaxBytes returns the size ceiling.
func (v *Validator) MaxBytes() int64 { return v.maxBytes }

// Extension returns the lower-cased text after the last dot of the base
// name, or "" when there is none.
func Extension(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	i := strings.LastIndex(base, ".")
	if i < 0 || i == len(base)-1 {
		return ""
	}
	return strings.ToLower(base[i+1:])
}

// Check validates the name and declared size. It does no I/O.
func (v *Validator) Check(filename string, declaredSize int64) error {
	ext := Extension(filename)
	if ext == "" || !v.extensions[ext] {
		return apperror.New(apperror.UnsupportedFormat, "unsupported audio format").
			With("extension", ext)
	}
	if v.maxBytes > 0 && declaredSize > v.maxBytes {
		return apperror.New(apperror.PayloadTooLarge,
			fmt.Sprintf("file exceeds maximum size of %d bytes", v.maxBytes)).
			With("max_bytes", v.maxBytes)
	}
	return nil
}

// Accept checks the upload and streams it into scope.
func (v *Validator) Accept(scope *Scope, filename string, declaredSize int64, r io.Reader) (*Asset, error) {
	if err := v.Check(filename, declaredSize); err != nil {
		return nil, err
	}
	a, err := scope.Materialize(filename, r, v.maxBytes)
	if err != nil {
		return nil, err
	}
	a.DeclaredSize = declaredSize
	return a, nil
}
