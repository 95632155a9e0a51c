package fileutils

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/disk"
	"k8s.io/klog/v2"
)

const (
	// tempFilePrefix starts with a dot, which SecureFilename never produces,
	// so in-flight writes can neither be downloaded nor collide with stored files.
	tempFilePrefix = ".upload-"

	storedFileMode = 0644
)

// Store keeps uploaded files directly under one directory.
// Writers of the same name are serialized, the last one wins.
type Store struct {
	dir   string
	locks *keyedMutex
}

// NewStore returns a Store rooted at dir. The directory is not created.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("upload directory is not set")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("upload directory %s: %w", abs, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("upload directory %s is not a directory", abs)
	}

	return &Store{
		dir:   filepath.Clean(abs),
		locks: newKeyedMutex(),
	}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// CheckWritable creates and removes a probe file in the upload directory.
func (s *Store) CheckWritable() error {
	f, err := os.CreateTemp(s.dir, tempFilePrefix+"probe-*")
	if err != nil {
		return &StorageError{Op: "probe", Name: s.dir, Err: err}
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Path joins a validated name to the upload directory.
func (s *Store) Path(name string) (string, error) {
	if err := ValidateFilename(name); err != nil {
		return "", err
	}

	p := filepath.Join(s.dir, name)
	rel, err := filepath.Rel(s.dir, p)
	if err != nil || rel != name || strings.ContainsRune(rel, filepath.Separator) {
		return "", ErrTraversal
	}
	return p, nil
}

// Save writes the content of r to name, creating or replacing the file.
//
// The data goes to a temporary file in the upload directory first, which is
// renamed onto the final name once it is complete, so readers never observe
// a partially written file. size is the expected length or -1 if unknown.
func (s *Store) Save(name string, r io.Reader, size int64) (int64, error) {
	dst, err := s.Path(name)
	if err != nil {
		return 0, err
	}

	if err := s.checkFreeSpace(name, size); err != nil {
		return 0, err
	}

	unlock := s.locks.Lock(name)
	defer unlock()

	tmp, err := os.CreateTemp(s.dir, tempFilePrefix+"*")
	if err != nil {
		return 0, &StorageError{Op: "create", Name: name, Err: err}
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmpName, storedFileMode)
	}
	if err != nil {
		os.Remove(tmpName)
		return n, &StorageError{Op: "write", Name: name, Err: err}
	}

	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return n, &StorageError{Op: "rename", Name: name, Err: err}
	}

	klog.V(2).Infof("saved name:%s, size:%d", name, n)
	return n, nil
}

// SaveFileHeader saves one file of a parsed multipart form.
func (s *Store) SaveFileHeader(name string, fh *multipart.FileHeader) (int64, error) {
	file, err := fh.Open()
	if err != nil {
		return 0, &StorageError{Op: "open", Name: fh.Filename, Err: err}
	}
	defer file.Close()

	return s.Save(name, file, fh.Size)
}

// Open returns the regular file stored as name. Symlinks, directories and
// names that could never have been stored are reported as missing.
func (s *Store) Open(name string) (*os.File, os.FileInfo, error) {
	if err := ValidateLookupName(name); err != nil {
		return nil, nil, err
	}

	p, err := s.Path(name)
	if err != nil {
		return nil, nil, err
	}

	fi, err := os.Lstat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, &StorageError{Op: "stat", Name: name, Err: err}
	}
	if !fi.Mode().IsRegular() {
		return nil, nil, ErrNotFound
	}

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, &StorageError{Op: "open", Name: name, Err: err}
	}
	return f, fi, nil
}

func (s *Store) checkFreeSpace(name string, size int64) error {
	if size <= 0 {
		return nil
	}

	usage, err := disk.Usage(s.dir)
	if err != nil {
		klog.Warningf("disk usage of %s, err:%v", s.dir, err)
		return nil
	}
	if uint64(size) > usage.Free {
		klog.Warningf("name:%s, size:%d exceeds free space:%d", name, size, usage.Free)
		return &StorageError{Op: "reserve", Name: name, Err: ErrInsufficientStorage}
	}
	return nil
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()

	return func() {
		m.Unlock()

		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
