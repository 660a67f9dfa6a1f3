package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Artifact is one stored snapshot.
type Artifact struct {
	ContentType string
	Data        []byte
}

// ArtifactStore keeps artifacts in a map. Used in tests and when no
// artifact directory is configured.
type ArtifactStore struct {
	mu      sync.RWMutex
	objects map[string]Artifact
}

// NewArtifactStore constructs an empty ArtifactStore.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{objects: make(map[string]Artifact)}
}

// Put stores a copy of data under path and returns a mem:// URI.
func (s *ArtifactStore) Put(_ context.Context, path string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = Artifact{
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
	}
	return fmt.Sprintf("mem://%s", path), nil
}

// Get returns the artifact stored under path.
func (s *ArtifactStore) Get(path string) (Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	return obj, ok
}

// Len reports how many artifacts are stored.
func (s *ArtifactStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
