package storage

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"
)

// File keeps every key in one JSON object on disk. Each mutation rewrites the file
// atomically (temp file, fsync, rename).
//
// A missing file is an empty storage. An unreadable or corrupt file is also treated as
// empty; the cause is available from LoadError and the file is replaced on the next write.
type File struct {
	mu      sync.Mutex
	path    string
	perm    fs.FileMode
	data    map[string]string
	loadErr error
}

// OpenFile opens the storage file at path, creating parent directories on first write.
func OpenFile(path string) *File {
	f := &File{
		path: path,
		perm: 0o600,
		data: make(map[string]string),
	}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if jerr := json.Unmarshal(raw, &f.data); jerr != nil {
			f.data = make(map[string]string)
			f.loadErr = fmt.Errorf("decode %s: %w", path, jerr)
		}
		if f.data == nil {
			f.data = make(map[string]string)
		}
	case !os.IsNotExist(err):
		f.loadErr = fmt.Errorf("read %s: %w", path, err)
	}
	return f
}

// LoadError returns why the file contents were discarded at open, or nil.
func (f *File) LoadError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadErr
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

func (f *File) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.data[key]; ok && cur == value {
		return nil
	}
	next := maps.Clone(f.data)
	next[key] = value
	return f.commit(next)
}

func (f *File) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; !ok {
		return nil
	}
	next := maps.Clone(f.data)
	delete(next, key)
	return f.commit(next)
}

func (f *File) commit(next map[string]string) error {
	raw, err := json.Marshal(next)
	if err != nil {
		return err
	}
	if err := atomicWriteFile(f.path, raw, f.perm); err != nil {
		return err
	}
	f.data = next
	return nil
}

// atomicWriteFile writes data to a temp file in the target directory and renames it
// over path. A failed rename leaves the previous file untouched.
func atomicWriteFile(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	_ = os.Chmod(tmpPath, perm)

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
