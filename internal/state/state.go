package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Dir is the single state root shared by every store. Subdirectories are
// created lazily on first use; all record writes go through WriteJSONAtomic
// so a reader never observes a half-written file.
type Dir struct {
	root string

	mu      sync.Mutex
	created map[string]bool
}

func NewDir(root string) (*Dir, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("state root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create state root %s: %w", root, err)
	}
	return &Dir{root: root, created: make(map[string]bool)}, nil
}

func (d *Dir) Root() string { return d.root }

func (d *Dir) Path(parts ...string) string {
	return filepath.Join(append([]string{d.root}, parts...)...)
}

func (d *Dir) ensure(dir string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.created[dir] {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	d.created[dir] = true
	return nil
}

// WriteJSONAtomic writes v as JSON to path via a temp file and rename.
func (d *Dir) WriteJSONAtomic(path string, v any) error {
	if err := d.ensure(filepath.Dir(path)); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	// Unique temp name per writer: two concurrent writes to the same
	// record must never interleave inside one temp file.
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(append(b, '\n')); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

var ErrNotExist = fs.ErrNotExist

func (d *Dir) ReadJSON(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// AppendJSONL appends v as one JSON line to path.
func (d *Dir) AppendJSONL(path string, v any) error {
	if err := d.ensure(filepath.Dir(path)); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

// TryLock attempts an exclusive-create of locks/<name>.lock. It returns true
// when the lock was acquired, false when another holder already has it.
func (d *Dir) TryLock(name string) (bool, error) {
	dir := d.Path("locks")
	if err := d.ensure(dir); err != nil {
		return false, err
	}
	f, err := os.OpenFile(filepath.Join(dir, name+".lock"), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	_ = f.Close()
	return true, nil
}

func (d *Dir) Unlock(name string) {
	_ = os.Remove(d.Path("locks", name+".lock"))
}

// ListJSONIDs returns the record ids (file names minus .json) under dir,
// skipping temp files left behind by an interrupted write.
func (d *Dir) ListJSONIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(d.Path(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}
