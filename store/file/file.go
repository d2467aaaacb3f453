package file

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/risa-org/chatlink/message"
)

const indexName = "index.json"

// record is the JSON structure persisted to disk for each file.
// The content itself lives next to the index as <index>.blob.
type record struct {
	Index    uint64    `json:"index"`
	FileName string    `json:"file_name"`
	Size     uint64    `json:"size"`
	StoredAt time.Time `json:"stored_at"`
}

// manifest is the whole index file.
type manifest struct {
	Next  uint64   `json:"next"`
	Files []record `json:"files"`
}

// Store is a directory-backed implementation of server.FileStore.
// Files survive server restarts and indices keep counting up across them.
// Not suitable for multi-process deployments: two servers sharing a
// directory would hand out the same index.
type Store struct {
	mu    sync.RWMutex
	dir   string
	files map[uint64]record
	next  uint64
}

// New opens a store rooted at dir, creating the directory if needed.
// An existing index is loaded on startup.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}

	s := &Store{
		dir:   dir,
		files: make(map[uint64]record),
		next:  1,
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load index from %s: %w", dir, err)
	}

	return s, nil
}

// Put writes content under a fresh index and flushes the index to disk.
func (s *Store) Put(name string, content []byte) (message.FileMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := record{
		Index:    s.next,
		FileName: name,
		Size:     uint64(len(content)),
		StoredAt: time.Now().UTC(),
	}

	// blob first: an index entry must never point at a missing blob
	if err := writeAtomic(s.blobPath(r.Index), content); err != nil {
		return message.FileMeta{}, fmt.Errorf("failed to write file %d: %w", r.Index, err)
	}

	s.files[r.Index] = r
	s.next++
	if err := s.flush(); err != nil {
		delete(s.files, r.Index)
		s.next--
		os.Remove(s.blobPath(r.Index))
		return message.FileMeta{}, fmt.Errorf("failed to persist index: %w", err)
	}

	return r.meta(), nil
}

// Get reads the file stored under index.
// Unknown indices fail with an error matching fs.ErrNotExist.
func (s *Store) Get(index uint64) (message.FileMeta, []byte, error) {
	s.mu.RLock()
	r, ok := s.files[index]
	s.mu.RUnlock()
	if !ok {
		return message.FileMeta{}, nil, fmt.Errorf("file %d: %w", index, fs.ErrNotExist)
	}

	content, err := os.ReadFile(s.blobPath(index))
	if err != nil {
		return message.FileMeta{}, nil, fmt.Errorf("file %d: %w", index, err)
	}
	return r.meta(), content, nil
}

// Count returns the number of files currently stored.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// Flush writes the index to disk. Put already flushes; this is for
// callers that want to be sure before shutting down.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (r record) meta() message.FileMeta {
	return message.FileMeta{Index: r.Index, FileName: r.FileName, Size: r.Size}
}

func (s *Store) blobPath(index uint64) string {
	return filepath.Join(s.dir, strconv.FormatUint(index, 10)+".blob")
}

// load reads the index into memory.
// Called once at startup. If the index doesn't exist, returns nil: empty store.
func (s *Store) load() error {
	data, err := os.ReadFile(filepath.Join(s.dir, indexName))
	if os.IsNotExist(err) {
		return nil // fresh start, no index yet
	}
	if err != nil {
		return err
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	for _, r := range m.Files {
		s.files[r.Index] = r
		if r.Index >= s.next {
			s.next = r.Index + 1
		}
	}
	if m.Next > s.next {
		s.next = m.Next
	}

	return nil
}

// flush writes the current in-memory index to disk.
// Must be called with the write lock held.
func (s *Store) flush() error {
	m := manifest{Next: s.next, Files: make([]record, 0, len(s.files))}
	for _, r := range s.files {
		m.Files = append(m.Files, r)
	}
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Index < m.Files[j].Index })

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(s.dir, indexName), data)
}

// writeAtomic writes to a temp file then renames it into place, so a crash
// mid-write never leaves a truncated file behind.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
