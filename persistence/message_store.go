package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lexcodex/codeforge/framework"
)

// TranscriptEntry is one conversation turn sent or received by a step.
type TranscriptEntry struct {
	Step    int               `json:"step"`
	Agent   string            `json:"agent"`
	Message framework.Message `json:"message"`
	At      time.Time         `json:"at"`
}

// TranscriptStore persists conversation transcripts per run.
type TranscriptStore interface {
	Append(ctx context.Context, runID string, entries ...TranscriptEntry) error
	History(ctx context.Context, runID string) ([]TranscriptEntry, error)
	Clear(ctx context.Context, runID string) error
}

// FileTranscriptStore keeps transcripts in JSON files, one per run.
type FileTranscriptStore struct {
	root string
	mu   sync.RWMutex
}

// NewFileTranscriptStore builds a store in the provided root directory.
func NewFileTranscriptStore(root string) (*FileTranscriptStore, error) {
	if root == "" {
		return nil, errors.New("transcript store root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileTranscriptStore{root: root}, nil
}

func (s *FileTranscriptStore) pathFor(id string) string {
	return filepath.Join(s.root, filepath.Base(id)+".transcript.json")
}

// Append stores entries for a run.
func (s *FileTranscriptStore) Append(ctx context.Context, runID string, entries ...TranscriptEntry) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if runID == "" {
		return errors.New("run id required")
	}
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.read(runID)
	if err != nil {
		return err
	}
	existing = append(existing, entries...)
	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.pathFor(runID), data, 0o644)
}

// History returns the transcript for a run.
func (s *FileTranscriptStore) History(ctx context.Context, runID string) ([]TranscriptEntry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(runID)
}

// Clear removes a run's transcript. Clearing an unknown run is a no-op.
func (s *FileTranscriptStore) Clear(ctx context.Context, runID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.pathFor(runID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileTranscriptStore) read(runID string) ([]TranscriptEntry, error) {
	data, err := os.ReadFile(s.pathFor(runID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var entries []TranscriptEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
