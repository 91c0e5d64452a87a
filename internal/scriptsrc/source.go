// Package scriptsrc opens script resources. Plain paths are read from the
// local file system; names with a URL scheme are fetched through afs.
package scriptsrc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
)

// Source opens a named, readable script resource. Callers own the returned
// reader and must close it.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Loader is the default Source.
type Loader struct {
	fs afs.Service
}

// New returns a Loader backed by the local file system and afs.
func New() *Loader {
	return &Loader{fs: afs.New()}
}

// Open implements Source.
func (l *Loader) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if !HasScheme(name) {
		return os.Open(name)
	}
	data, err := l.fs.DownloadWithURL(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", name, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// HasScheme reports whether name looks like a URL ("scheme://...").
func HasScheme(name string) bool {
	i := strings.Index(name, "://")
	return i > 0 && !strings.ContainsAny(name[:i], `/\`)
}

// Resolve interprets name relative to baseDir unless it is already absolute
// or a URL.
func Resolve(baseDir, name string) string {
	if name == "" || HasScheme(name) || filepath.IsAbs(name) || baseDir == "" {
		return name
	}
	if HasScheme(baseDir) {
		return strings.TrimRight(baseDir, "/") + "/" + name
	}
	return filepath.Join(baseDir, name)
}

// Dir returns the directory part of a path or URL.
func Dir(name string) string {
	if HasScheme(name) {
		if i := strings.LastIndex(name, "/"); i > strings.Index(name, "://")+2 {
			return name[:i]
		}
		return name
	}
	return filepath.Dir(name)
}

// MapSource serves scripts from memory. It is meant for tests and embedded
// defaults; a missing key behaves like a missing file.
type MapSource map[string]string

// Open implements Source.
func (m MapSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	src, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", name, os.ErrNotExist)
	}
	return io.NopCloser(strings.NewReader(src)), nil
}
