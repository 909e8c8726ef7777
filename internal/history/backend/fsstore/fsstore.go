// Package fsstore stores history images as files in one directory, named by
// their key. Writes go to a hidden temporary file that is synced and then
// renamed or linked into place, so a listed key always refers to a complete
// image.
package fsstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/history/backend"
	"github.com/ikancheck/ikancheck/internal/logger"
)

// Name is the backend name used in logs and metrics.
const Name = "filesystem"

const (
	dirPerm  = 0o750
	filePerm = 0o640

	tempPrefix = ".tmp-"
)

// Store is a filesystem backend. All access goes through an os.Root so keys
// cannot reach outside the history directory.
type Store struct {
	dir string

	mu   sync.Mutex
	root *os.Root
	// stale holds roots of directories that were removed or replaced. They
	// may still be in use and are closed with the store.
	stale []*os.Root
}

var (
	_ backend.Backend = (*Store)(nil)
	_ backend.Creator = (*Store)(nil)
)

// New returns a store rooted at dir. The directory is created on first write;
// reading from a missing directory behaves like an empty store.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.Newf("history directory is not set").
			Component("history").
			Category(errors.CategoryConfiguration).
			Build()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.New(fmt.Errorf("resolve history directory: %w", err)).
			Component("history").
			Category(errors.CategoryConfiguration).
			Context("path", dir).
			Build()
	}
	return &Store{dir: abs}, nil
}

// Name implements backend.Backend.
func (s *Store) Name() string { return Name }

// Dir returns the absolute history directory.
func (s *Store) Dir() string { return s.dir }

// openRoot returns the sandbox root, creating the directory first when create
// is set. It returns a nil root without error when the directory does not
// exist and create is false. A cached root is dropped when the directory it
// was opened on has been removed or replaced.
func (s *Store) openRoot(create bool) (*os.Root, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root != nil {
		if s.rootCurrent() {
			return s.root, nil
		}
		GetLogger().Info("history directory was removed or replaced, reopening", logger.String("path", s.dir))
		s.dropRoot()
	}
	if create {
		if err := os.MkdirAll(s.dir, dirPerm); err != nil {
			return nil, err
		}
	}
	root, err := os.OpenRoot(s.dir)
	if err != nil {
		if !create && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	s.root = root
	GetLogger().Debug("history directory opened", logger.String("path", s.dir))
	return root, nil
}

// rootCurrent reports whether the cached root still is the directory at
// s.dir. Callers hold s.mu.
func (s *Store) rootCurrent() bool {
	opened, err := s.root.Stat(".")
	if err != nil {
		return false
	}
	current, err := os.Stat(s.dir)
	if err != nil {
		return false
	}
	return os.SameFile(opened, current)
}

// dropRoot forgets the cached root. Callers hold s.mu.
func (s *Store) dropRoot() {
	if s.root != nil {
		s.stale = append(s.stale, s.root)
		s.root = nil
	}
}

// Put writes obj.Data to a temporary file, syncs it, renames it to obj.Key
// and syncs the directory. An existing key is replaced.
func (s *Store) Put(ctx context.Context, obj backend.Object) error {
	return s.write(ctx, obj, true)
}

// Create is Put without replacing. The temporary file is hard linked to
// obj.Key, which fails when the key exists, even when another process
// wrote it.
func (s *Store) Create(ctx context.Context, obj backend.Object) error {
	return s.write(ctx, obj, false)
}

func (s *Store) write(ctx context.Context, obj backend.Object, replace bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := backend.ValidateKey(obj.Key); err != nil {
		return backend.InvalidKey(Name, err)
	}

	op, err := s.publish(obj, replace)
	if errors.Is(err, fs.ErrNotExist) {
		// The directory went away between opening the root and writing.
		s.mu.Lock()
		s.dropRoot()
		s.mu.Unlock()
		op, err = s.publish(obj, replace)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrExist):
		return backend.KeyExists(Name, obj.Key)
	default:
		return backend.Persistence(Name, op, err)
	}
}

// publish stores obj and returns the failed operation with its error.
func (s *Store) publish(obj backend.Object, replace bool) (string, error) {
	root, err := s.openRoot(true)
	if err != nil {
		return "open", err
	}

	tmpName, err := tempName()
	if err != nil {
		return "put", err
	}
	if err := writeSynced(root, tmpName, obj.Data); err != nil {
		_ = root.Remove(tmpName)
		return "put", err
	}

	if replace {
		if err := root.Rename(tmpName, obj.Key); err != nil {
			_ = root.Remove(tmpName)
			return "rename", err
		}
	} else {
		err := root.Link(tmpName, obj.Key)
		if err != nil && !errors.Is(err, fs.ErrExist) && !errors.Is(err, fs.ErrNotExist) {
			// Some filesystems cannot hard link. Fall back to a rename guarded
			// by a check, which only excludes writers in this process.
			err = renameIfAbsent(root, tmpName, obj.Key)
		}
		_ = root.Remove(tmpName)
		if err != nil {
			return "link", err
		}
	}

	if err := syncDir(root); err != nil {
		return "sync_dir", err
	}
	return "", nil
}

func renameIfAbsent(root *os.Root, tmpName, key string) error {
	if _, err := root.Lstat(key); err == nil {
		return fs.ErrExist
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return root.Rename(tmpName, key)
}

func writeSynced(root *os.Root, name string, data []byte) error {
	f, err := root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// syncDir flushes the directory entry of a rename. Some platforms do not
// support syncing directories; those errors are ignored.
func syncDir(root *os.Root) error {
	d, err := root.Open(".")
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) && !isUnsupported(err) {
		return err
	}
	return nil
}

func isUnsupported(err error) bool {
	var pe *fs.PathError
	return errors.As(err, &pe) && strings.Contains(strings.ToLower(pe.Err.Error()), "not supported")
}

func tempName() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return tempPrefix + hex.EncodeToString(b[:]), nil
}

// Get reads the file stored under key.
func (s *Store) Get(ctx context.Context, key string) (backend.Object, error) {
	if err := ctx.Err(); err != nil {
		return backend.Object{}, err
	}
	if err := backend.ValidateKey(key); err != nil {
		return backend.Object{}, backend.InvalidKey(Name, err)
	}

	root, err := s.openRoot(false)
	if err != nil {
		return backend.Object{}, backend.Persistence(Name, "open", err)
	}
	if root == nil {
		return backend.Object{}, backend.NotFound(Name, key)
	}

	f, err := root.Open(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return backend.Object{}, backend.NotFound(Name, key)
		}
		return backend.Object{}, backend.Persistence(Name, "get", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return backend.Object{}, backend.Persistence(Name, "get", err)
	}
	return backend.Object{
		Key:         key,
		Data:        data,
		ContentType: backend.ContentTypeForKey(key),
	}, nil
}

// Exists reports whether key is stored.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := backend.ValidateKey(key); err != nil {
		return false, backend.InvalidKey(Name, err)
	}

	root, err := s.openRoot(false)
	if err != nil {
		return false, backend.Persistence(Name, "open", err)
	}
	if root == nil {
		return false, nil
	}
	if _, err := root.Stat(key); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, backend.Persistence(Name, "stat", err)
	}
	return true, nil
}

// Delete removes the file stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := backend.ValidateKey(key); err != nil {
		return backend.InvalidKey(Name, err)
	}

	root, err := s.openRoot(false)
	if err != nil {
		return backend.Persistence(Name, "open", err)
	}
	if root == nil {
		return backend.NotFound(Name, key)
	}
	if err := root.Remove(key); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return backend.NotFound(Name, key)
		}
		return backend.Persistence(Name, "delete", err)
	}
	return nil
}

// Keys lists regular files in the history directory, skipping hidden and
// temporary files. The order is unspecified.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root, err := s.openRoot(false)
	if err != nil {
		return nil, backend.Persistence(Name, "open", err)
	}
	if root == nil {
		return []string{}, nil
	}

	d, err := root.Open(".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, backend.Persistence(Name, "list", err)
	}
	defer func() { _ = d.Close() }()

	entries, err := d.ReadDir(-1)
	if err != nil {
		return nil, backend.Persistence(Name, "list", err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || !e.Type().IsRegular() {
			continue
		}
		keys = append(keys, name)
	}
	slices.Sort(keys)
	return keys, nil
}

// Close releases the directory handles.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropRoot()
	var errs []error
	for _, r := range s.stale {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.stale = nil
	return errors.Join(errs...)
}
