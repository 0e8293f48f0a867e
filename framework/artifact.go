package framework

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
)

// ArtifactFile is one generated source file.
type ArtifactFile struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language"`
}

// ArtifactStore holds the evolving set of generated files. The executor
// re-reads it before every step and writes back after, so implementations
// are the single source of truth for a run.
type ArtifactStore interface {
	List(ctx context.Context) ([]ArtifactFile, error)
	Upsert(ctx context.Context, path, content, language string) error
	ClearAll(ctx context.Context) error
}

// NormalizePath converts a model-emitted path into the canonical artifact
// form: forward slashes, no leading slash, no "./" segments and no duplicate
// separators. It returns "" when the path is empty or escapes the root.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.Trim(p, "`\"'")
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" {
		return ""
	}
	cleaned := path.Clean("/" + p)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return ""
	}
	// path.Clean rooted at "/" swallows "..", so compare against the raw
	// segments to detect traversal attempts.
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return ""
		}
	}
	return cleaned
}

// FileIndex maps normalized paths to files.
func FileIndex(files []ArtifactFile) map[string]ArtifactFile {
	out := make(map[string]ArtifactFile, len(files))
	for _, f := range files {
		out[NormalizePath(f.Path)] = f
	}
	return out
}

// MemoryArtifactStore keeps files in memory, preserving insertion order.
type MemoryArtifactStore struct {
	mu    sync.RWMutex
	files map[string]ArtifactFile
	order []string
}

// NewMemoryArtifactStore seeds a store with the provided files.
func NewMemoryArtifactStore(files ...ArtifactFile) *MemoryArtifactStore {
	s := &MemoryArtifactStore{files: make(map[string]ArtifactFile)}
	for _, f := range files {
		_ = s.Upsert(context.Background(), f.Path, f.Content, f.Language)
	}
	return s
}

// List returns a snapshot of all files in insertion order.
func (s *MemoryArtifactStore) List(ctx context.Context) ([]ArtifactFile, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ArtifactFile, 0, len(s.order))
	for _, p := range s.order {
		out = append(out, s.files[p])
	}
	return out, nil
}

// Upsert creates or replaces the file at path.
func (s *MemoryArtifactStore) Upsert(ctx context.Context, p, content, language string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	norm := NormalizePath(p)
	if norm == "" {
		return &InvalidPathError{Path: p}
	}
	if language == "" {
		language = DetectLanguage(norm)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[norm]; !ok {
		s.order = append(s.order, norm)
	}
	s.files[norm] = ArtifactFile{Path: norm, Content: content, Language: language}
	return nil
}

// ClearAll removes every file.
func (s *MemoryArtifactStore) ClearAll(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = make(map[string]ArtifactFile)
	s.order = nil
	return nil
}

// SortedPaths returns the paths of files in lexical order.
func SortedPaths(files []ArtifactFile) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Path)
	}
	sort.Strings(out)
	return out
}

// MergeFiles overlays files onto base by normalized path. Overlaid paths keep
// their base position; new paths are appended in overlay order.
func MergeFiles(base, overlay []ArtifactFile) []ArtifactFile {
	out := make([]ArtifactFile, 0, len(base)+len(overlay))
	pos := make(map[string]int, len(base)+len(overlay))
	for _, list := range [][]ArtifactFile{base, overlay} {
		for _, f := range list {
			p := NormalizePath(f.Path)
			if p == "" {
				continue
			}
			f.Path = p
			if i, ok := pos[p]; ok {
				out[i] = f
				continue
			}
			pos[p] = len(out)
			out = append(out, f)
		}
	}
	return out
}
