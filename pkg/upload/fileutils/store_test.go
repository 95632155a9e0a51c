package fileutils

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestNewStore(t *testing.T) {
	if _, err := NewStore(""); err == nil {
		t.Error("empty dir accepted")
	}

	missing := filepath.Join(t.TempDir(), "missing")
	if _, err := NewStore(missing); err == nil {
		t.Error("missing dir accepted")
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Error("NewStore must not create the directory")
	}

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(file); err == nil {
		t.Error("regular file accepted as upload dir")
	}

	store := newTestStore(t)
	if !filepath.IsAbs(store.Dir()) {
		t.Errorf("Dir() = %q, want absolute path", store.Dir())
	}
	if err := store.CheckWritable(); err != nil {
		t.Errorf("CheckWritable() = %v", err)
	}
	entries, _ := os.ReadDir(store.Dir())
	if len(entries) != 0 {
		t.Errorf("probe file left behind: %v", entries)
	}
}

func TestStoreSaveAndOpen(t *testing.T) {
	store := newTestStore(t)

	n, err := store.Save("report.PDF", strings.NewReader("data"), 4)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("written = %d, want 4", n)
	}

	f, fi, err := store.Open("report.PDF")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	got, _ := io.ReadAll(f)
	if string(got) != "data" {
		t.Errorf("content = %q, want %q", got, "data")
	}
	if fi.Size() != 4 {
		t.Errorf("size = %d, want 4", fi.Size())
	}
	if perm := fi.Mode().Perm(); perm != storedFileMode {
		t.Errorf("mode = %v, want %v", perm, os.FileMode(storedFileMode))
	}

	entries, _ := os.ReadDir(store.Dir())
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1", len(entries))
	}
}

func TestStoreSaveOverwrites(t *testing.T) {
	store := newTestStore(t)

	for _, content := range []string{"first version", "second"} {
		if _, err := store.Save("a_b.txt", strings.NewReader(content), -1); err != nil {
			t.Fatal(err)
		}
	}

	got, err := os.ReadFile(filepath.Join(store.Dir(), "a_b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Errorf("content = %q, want %q", got, "second")
	}
}

func TestStoreRejectsInvalidNames(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"", "..", "../escape", "/etc/passwd", "a b.txt", ".upload-x"} {
		if _, err := store.Save(name, strings.NewReader("x"), 1); !errors.Is(err, ErrInvalidFilename) {
			t.Errorf("Save(%q) = %v, want ErrInvalidFilename", name, err)
		}
	}

	for _, name := range []string{"", "..", "../escape", "/etc/passwd", `..\boot.ini`} {
		if _, _, err := store.Open(name); !errors.Is(err, ErrInvalidFilename) {
			t.Errorf("Open(%q) = %v, want ErrInvalidFilename", name, err)
		}
	}
	// never written by Save, so reported as missing
	for _, name := range []string{"a b.txt", ".upload-x", "résumé.pdf"} {
		if _, _, err := store.Open(name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Open(%q) = %v, want ErrNotFound", name, err)
		}
	}

	entries, _ := os.ReadDir(store.Dir())
	if len(entries) != 0 {
		t.Errorf("invalid names wrote %d entries", len(entries))
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(store.Dir()), "escape")); !os.IsNotExist(err) {
		t.Error("file written outside the upload dir")
	}
}

func TestStoreOpenNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, _, err := store.Open("never-uploaded.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(missing) = %v, want ErrNotFound", err)
	}

	if err := os.Mkdir(filepath.Join(store.Dir(), "subdir"), 0755); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.Open("subdir"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(dir) = %v, want ErrNotFound", err)
	}

	outside := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(outside, []byte("secret"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(store.Dir(), "link")); err != nil {
		t.Skip("symlinks unsupported:", err)
	}
	if _, _, err := store.Open("link"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(symlink) = %v, want ErrNotFound", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestStoreSaveFailureLeavesNoFile(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save("broken.bin", io.MultiReader(strings.NewReader("partial"), failingReader{}), -1)
	var serr *StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("Save() = %v, want *StorageError", err)
	}
	if serr.Op != "write" || serr.Name != "broken.bin" {
		t.Errorf("StorageError = %+v", serr)
	}

	entries, _ := os.ReadDir(store.Dir())
	if len(entries) != 0 {
		t.Errorf("failed write left %d entries", len(entries))
	}
}

func TestStoreConcurrentWritersLastWins(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	contents := make(map[string]bool)
	for i := 0; i < 16; i++ {
		content := fmt.Sprintf("writer-%02d", i) + strings.Repeat("x", i*1024)
		contents[content] = true

		wg.Add(1)
		go func(content string) {
			defer wg.Done()
			if _, err := store.Save("a_b.txt", strings.NewReader(content), int64(len(content))); err != nil {
				t.Error(err)
			}
		}(content)
	}
	wg.Wait()

	got, err := os.ReadFile(filepath.Join(store.Dir(), "a_b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !contents[string(got)] {
		t.Errorf("file content is not any single writer's content (len %d)", len(got))
	}

	entries, _ := os.ReadDir(store.Dir())
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1", len(entries))
	}
	if len(store.locks.locks) != 0 {
		t.Errorf("%d name locks leaked", len(store.locks.locks))
	}
}

func TestSweepTemp(t *testing.T) {
	store := newTestStore(t)

	stale := filepath.Join(store.Dir(), tempFilePrefix+"stale")
	fresh := filepath.Join(store.Dir(), tempFilePrefix+"fresh")
	kept := filepath.Join(store.Dir(), "kept.txt")
	for _, p := range []string{stale, fresh, kept} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	for _, p := range []string{stale, kept} {
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatal(err)
		}
	}

	n, err := store.SweepTemp(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale temp file not removed")
	}
	for _, p := range []string{fresh, kept} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s removed: %v", p, err)
		}
	}
}

func TestStartSweeper(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.StartSweeper("not a schedule", time.Hour); err == nil {
		t.Error("invalid schedule accepted")
	}

	c, err := store.StartSweeper("", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Entries()) != 1 {
		t.Errorf("entries = %d, want 1", len(c.Entries()))
	}
	<-c.Stop().Done()
}

func TestSaveFileHeader(t *testing.T) {
	store := newTestStore(t)
	payload := bytes.Repeat([]byte{0x00, 0xff, 0x10}, 4096)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("attachment", "blob.bin")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(payload)
	mw.Close()

	form, err := multipart.NewReader(body, mw.Boundary()).ReadForm(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer form.RemoveAll()

	fh := form.File["attachment"][0]
	n, err := store.SaveFileHeader(StoredFilename(fh.Filename), fh)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(payload)) {
		t.Errorf("written = %d, want %d", n, len(payload))
	}
	got, err := os.ReadFile(filepath.Join(store.Dir(), "blob.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("binary content changed on disk")
	}
}
