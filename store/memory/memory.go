package memory

import (
	"fmt"
	"io/fs"
	"sync"

	"github.com/risa-org/chatlink/message"
)

type file struct {
	meta    message.FileMeta
	content []byte
}

// Store is a thread-safe in-memory implementation of server.FileStore.
// Suitable for single-process servers and testing.
// Files are lost on restart.
type Store struct {
	mu    sync.RWMutex
	files map[uint64]file
	next  uint64
}

// New creates an empty in-memory store. The first file gets index 1.
func New() *Store {
	return &Store{
		files: make(map[uint64]file),
		next:  1,
	}
}

// Put stores content under a fresh index and returns its metadata.
// The content is copied.
func (s *Store) Put(name string, content []byte) (message.FileMeta, error) {
	c := make([]byte, len(content))
	copy(c, content)

	s.mu.Lock()
	meta := message.FileMeta{Index: s.next, FileName: name, Size: uint64(len(c))}
	s.files[meta.Index] = file{meta: meta, content: c}
	s.next++
	s.mu.Unlock()

	return meta, nil
}

// Get returns the metadata and content stored under index.
// Unknown indices fail with an error matching fs.ErrNotExist.
func (s *Store) Get(index uint64) (message.FileMeta, []byte, error) {
	s.mu.RLock()
	f, ok := s.files[index]
	s.mu.RUnlock()
	if !ok {
		return message.FileMeta{}, nil, fmt.Errorf("file %d: %w", index, fs.ErrNotExist)
	}

	out := make([]byte, len(f.content))
	copy(out, f.content)
	return f.meta, out, nil
}

// Count returns the number of files currently in the store.
// Useful for observability and testing.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}
