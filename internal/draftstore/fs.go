package draftstore

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kangrianai89/catatan/internal/apperr"
	"github.com/kangrianai89/catatan/internal/checksum"
	"github.com/kangrianai89/catatan/internal/draft"
)

// Ext is the file extension of draft files.
const Ext = ".draft"

// FS is a durable draft.Store keeping one file per key under a directory.
// A file holds the key on its first line followed by the payload.
type FS struct {
	root string

	// own remembers what this process last wrote or removed per file so
	// the watcher can tell external changes apart.
	mu  sync.Mutex
	own map[string]string
}

var (
	_ draft.Store  = (*FS)(nil)
	_ draft.Lister = (*FS)(nil)
)

// NewFS creates the store, creating root if needed.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("draftstore: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("draftstore: mkdir root: %w", err)
	}
	return &FS{root: abs, own: make(map[string]string)}, nil
}

// Root returns the absolute directory of the store.
func (f *FS) Root() string { return f.root }

// FileName returns the file name used for key.
func FileName(key draft.Key) string {
	return checksum.Short([]byte(key)) + Ext
}

func (f *FS) path(key draft.Key) string {
	return filepath.Join(f.root, FileName(key))
}

// Get reads the payload stored under key.
func (f *FS) Get(key draft.Key) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: read: %v", apperr.ErrStorageUnavailable, err)
	}
	k, payload, ok := splitFile(data)
	if !ok || k != key {
		// Foreign or truncated file: hand back bytes the adapter will
		// reject and delete.
		return data, true, nil
	}
	return payload, true, nil
}

// Set atomically writes the payload: tmp file, fsync, rename.
func (f *FS) Set(key draft.Key, value []byte) error {
	content := make([]byte, 0, len(key)+1+len(value))
	content = append(content, key...)
	content = append(content, '\n')
	content = append(content, value...)

	name := FileName(key)
	f.remember(name, checksum.Sum(content))
	if err := writeAtomic(f.root, filepath.Join(f.root, name), content); err != nil {
		f.forget(name)
		return fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	return nil
}

// Delete removes the file of key. A missing file is not an error.
func (f *FS) Delete(key draft.Key) error {
	name := FileName(key)
	f.remember(name, "")
	err := os.Remove(filepath.Join(f.root, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		f.forget(name)
		return fmt.Errorf("%w: delete: %v", apperr.ErrStorageUnavailable, err)
	}
	return nil
}

// Keys scans the directory for keys starting with prefix.
func (f *FS) Keys(prefix string) ([]draft.Key, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", apperr.ErrStorageUnavailable, err)
	}
	var out []draft.Key
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		key, ok := f.readKey(e.Name())
		if ok && strings.HasPrefix(string(key), prefix) {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Purge removes draft files not modified since before.
func (f *FS) Purge(before time.Time) (int, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return 0, fmt.Errorf("%w: purge: %v", apperr.ErrStorageUnavailable, err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(before) {
			continue
		}
		f.remember(e.Name(), "")
		if os.Remove(filepath.Join(f.root, e.Name())) == nil {
			n++
		} else {
			f.forget(e.Name())
		}
	}
	return n, nil
}

func (f *FS) readKey(name string) (draft.Key, bool) {
	data, err := os.ReadFile(filepath.Join(f.root, name))
	if err != nil {
		return "", false
	}
	key, _, ok := splitFile(data)
	return key, ok
}

func (f *FS) remember(name, sum string) {
	f.mu.Lock()
	f.own[name] = sum
	f.mu.Unlock()
}

func (f *FS) forget(name string) {
	f.mu.Lock()
	delete(f.own, name)
	f.mu.Unlock()
}

// ownChange reports whether content (nil for a removal) is what this
// process itself last put at name. A matched entry is dropped.
func (f *FS) ownChange(name string, content []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum, ok := f.own[name]
	if !ok {
		return false
	}
	mine := sum == ""
	if content != nil {
		mine = sum != "" && sum == checksum.Sum(content)
	}
	if mine {
		delete(f.own, name)
	}
	return mine
}

func (f *FS) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.own)
}

func splitFile(data []byte) (draft.Key, []byte, bool) {
	i := bytes.IndexByte(data, '\n')
	if i <= 0 {
		return "", data, false
	}
	return draft.Key(data[:i]), data[i+1:], true
}

func writeAtomic(dir, dst string, content []byte) error {
	tmp, err := os.CreateTemp(dir, ".catatan-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	success = true
	return nil
}
