package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/kbukum/stepflow/storage"
)

const tempPattern = ".put-*"

// Dir is a storage.Bucket backed by a directory tree.
type Dir struct {
	root string
}

var (
	_ storage.Bucket     = (*Dir)(nil)
	_ storage.Filesystem = (*Dir)(nil)
)

// Open returns a Dir rooted at root, creating it if needed.
func Open(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", abs, err)
	}
	return &Dir{root: abs}, nil
}

// Path maps key below the root. Leading slashes and ".." segments cannot
// leave it.
func (d *Dir) Path(key string) string {
	return filepath.Join(d.root, filepath.Clean("/"+key))
}

func (d *Dir) key(path string) (string, error) {
	rel, err := filepath.Rel(d.root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// Put writes r to a temporary file beside the target and renames it into
// place, so readers never see a partial blob.
func (d *Dir) Put(_ context.Context, key string, r io.Reader) (err error) {
	dst := d.Path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	f, err := os.CreateTemp(filepath.Dir(dst), tempPattern)
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()
	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	if err = os.Rename(f.Name(), dst); err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	return nil
}

// Get opens the file at key.
func (d *Dir) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(d.Path(key))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	case err != nil:
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	if st, err := f.Stat(); err == nil && st.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("storage: get %s: key holds a tree", key)
	}
	return f, nil
}

// Stat describes the file or directory at key. A directory reports the
// total size of its files and the newest modification time.
func (d *Dir) Stat(ctx context.Context, key string) (storage.Object, error) {
	st, err := os.Stat(d.Path(key))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return storage.Object{}, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	case err != nil:
		return storage.Object{}, fmt.Errorf("storage: stat %s: %w", key, err)
	}
	obj := storage.Object{Key: strings.TrimPrefix(key, "/"), Size: st.Size(), Modified: st.ModTime()}
	if !st.IsDir() {
		return obj, nil
	}
	obj.Size = 0
	err = d.Walk(ctx, strings.TrimSuffix(obj.Key, "/")+"/", func(o storage.Object) error {
		obj.Size += o.Size
		if o.Modified.After(obj.Modified) {
			obj.Modified = o.Modified
		}
		return nil
	})
	return obj, err
}

// Remove deletes the file or directory tree at key.
func (d *Dir) Remove(_ context.Context, key string) error {
	p := d.Path(key)
	if p == d.root {
		return errors.New("storage: refusing to remove the bucket root")
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("storage: remove %s: %w", key, err)
	}
	return nil
}

// Walk visits files below the deepest directory named by prefix in
// lexical path order. In-flight Put files are skipped.
func (d *Dir) Walk(ctx context.Context, prefix string, fn func(storage.Object) error) error {
	prefix = strings.TrimPrefix(prefix, "/")
	start := d.root
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		start = d.Path(prefix[:i])
	}
	err := filepath.WalkDir(start, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(tempPattern, e.Name()); ok {
			return nil
		}
		key, err := d.key(path)
		if err != nil || !strings.HasPrefix(key, prefix) {
			return err
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		return fn(storage.Object{Key: key, Size: info.Size(), Modified: info.ModTime()})
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// URL returns a file:// URL for key.
func (d *Dir) URL(key string) string {
	return (&url.URL{Scheme: "file", Path: d.Path(key)}).String()
}
