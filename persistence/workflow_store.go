package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lexcodex/codeforge/framework"
)

// RunStore persists workflow run snapshots between processes.
type RunStore interface {
	Save(ctx context.Context, run *framework.Run) error
	Load(ctx context.Context, id string) (*framework.Run, bool, error)
	List(ctx context.Context) ([]framework.Run, error)
	Delete(ctx context.Context, id string) error
}

// FileRunStore stores run snapshots as one JSON document on disk.
type FileRunStore struct {
	path  string
	mu    sync.RWMutex
	cache map[string]framework.Run
}

// NewFileRunStore creates a store under the provided directory.
func NewFileRunStore(root string) (*FileRunStore, error) {
	if root == "" {
		return nil, errors.New("run store root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	store := &FileRunStore{
		path:  filepath.Join(root, "runs.json"),
		cache: make(map[string]framework.Run),
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// load hydrates the in-memory cache from disk so runs survive restarts.
func (s *FileRunStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var runs []framework.Run
	if err := json.Unmarshal(data, &runs); err != nil {
		return err
	}
	for _, run := range runs {
		s.cache[run.ID] = run
	}
	return nil
}

// persist writes the cached runs back to disk after any mutation. The file
// is replaced atomically so a crash never leaves a truncated document.
func (s *FileRunStore) persist() error {
	runs := s.sorted()
	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// sorted returns runs newest first.
func (s *FileRunStore) sorted() []framework.Run {
	runs := make([]framework.Run, 0, len(s.cache))
	for _, run := range s.cache {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs
}

// Save writes a snapshot of run.
func (s *FileRunStore) Save(ctx context.Context, run *framework.Run) error {
	if run == nil {
		return errors.New("nil run")
	}
	if run.ID == "" {
		return errors.New("run id required")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run.UpdatedAt = time.Now().UTC()
	s.cache[run.ID] = *run.Clone()
	return s.persist()
}

// Load retrieves a run by ID.
func (s *FileRunStore) Load(ctx context.Context, id string) (*framework.Run, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.cache[id]
	if !ok {
		return nil, false, nil
	}
	return run.Clone(), true, nil
}

// List returns all runs, newest first.
func (s *FileRunStore) List(ctx context.Context) ([]framework.Run, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted(), nil
}

// Delete removes a run.
func (s *FileRunStore) Delete(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, id)
	return s.persist()
}

// MemoryRunStore keeps runs in memory; used when no storage root is set.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*framework.Run
}

// NewMemoryRunStore builds an empty store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*framework.Run)}
}

// Save stores a copy of run.
func (s *MemoryRunStore) Save(ctx context.Context, run *framework.Run) error {
	if run == nil || run.ID == "" {
		return errors.New("run id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run.UpdatedAt = time.Now().UTC()
	s.runs[run.ID] = run.Clone()
	return nil
}

// Load returns a copy of the run.
func (s *MemoryRunStore) Load(ctx context.Context, id string) (*framework.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, false, nil
	}
	return run.Clone(), true, nil
}

// List returns every run, newest first.
func (s *MemoryRunStore) List(ctx context.Context) ([]framework.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]framework.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, *run.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// Delete removes a run.
func (s *MemoryRunStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, id)
	return nil
}
