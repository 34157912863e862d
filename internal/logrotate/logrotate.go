// Package logrotate implements the rotating log file writer: given a base
// path and a byte cap, writes are directed to numbered siblings of that
// path (base.N.ext) and a new index is opened whenever the next write
// would exceed the cap. On startup, any existing numbered siblings are
// discovered so a restarted process resumes the sequence instead of
// starting over at 0.
//
// No library in the example pack provides this exact on-startup-discovery
// numbering scheme (the common rotation libraries roll by date or rename
// the prior file to .1 rather than discovering the highest existing
// index), so this is built directly over os/regexp.
package logrotate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Writer is an io.Writer that rotates basePath into basePath's numbered
// siblings once maxBytes would be exceeded. The zero value is not usable;
// construct with New.
type Writer struct {
	mu       sync.Mutex
	dir      string
	base     string
	ext      string
	maxBytes int64

	f     *os.File
	size  int64
	index int
}

// New opens (or resumes) a rotating writer at basePath. basePath's
// extension (everything from the last '.') is preserved on every rotated
// file; a basePath with no extension rotates bare numbered names
// (base.0, base.1, ...). maxBytes <= 0 disables rotation entirely.
func New(basePath string, maxBytes int64) (*Writer, error) {
	dir := filepath.Dir(basePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logrotate: create dir %s: %w", dir, err)
		}
	}

	ext := filepath.Ext(basePath)
	base := strings.TrimSuffix(filepath.Base(basePath), ext)

	w := &Writer{dir: dir, base: base, ext: ext, maxBytes: maxBytes}
	w.index = discoverLatestIndex(dir, base, ext)
	if err := w.openCurrent(); err != nil {
		return nil, err
	}
	return w, nil
}

// discoverLatestIndex scans dir for files matching base.N.ext and returns
// the highest N found, or 0 if none exist yet.
func discoverLatestIndex(dir, base, ext string) int {
	pattern, err := regexp.Compile(`^` + regexp.QuoteMeta(base) + `\.(\d+)` + regexp.QuoteMeta(ext) + `$`)
	if err != nil {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	highest := 0
	for _, e := range entries {
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

func (w *Writer) currentPath() string {
	return filepath.Join(w.dir, fmt.Sprintf("%s.%d%s", w.base, w.index, w.ext))
}

func (w *Writer) openCurrent() error {
	f, err := os.OpenFile(w.currentPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logrotate: open %s: %w", w.currentPath(), err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("logrotate: stat %s: %w", w.currentPath(), err)
	}
	w.f = f
	w.size = info.Size()
	return nil
}

// Write appends p, rotating to the next numbered file first if p would
// push the current file past maxBytes.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxBytes > 0 && w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *Writer) rotate() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("logrotate: close %s: %w", w.currentPath(), err)
	}
	w.index++
	return w.openCurrent()
}

// Close closes the currently open file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// CurrentPath returns the path of the file currently being written to.
func (w *Writer) CurrentPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentPath()
}
