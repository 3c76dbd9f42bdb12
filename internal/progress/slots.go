package progress

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// SlotStore is durable per-user key-value storage for the five named slots.
// Load returns (nil, nil) for a slot that has never been written.
type SlotStore interface {
	Load(ctx context.Context, slot string) ([]byte, error)
	Save(ctx context.Context, slot string, data []byte) error
}

// MemorySlots is an in-memory SlotStore.
type MemorySlots struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

// NewMemorySlots creates an empty in-memory slot store.
func NewMemorySlots() *MemorySlots {
	return &MemorySlots{slots: make(map[string][]byte)}
}

func (s *MemorySlots) Load(_ context.Context, slot string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.slots[slot]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemorySlots) Save(_ context.Context, slot string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.slots[slot] = cp
	return nil
}

// FileSlots stores each slot as a JSON file in a directory.
type FileSlots struct {
	dir string
}

// NewFileSlots creates a file-backed slot store rooted at dir.
func NewFileSlots(dir string) (*FileSlots, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating slot directory: %w", err)
	}
	return &FileSlots{dir: dir}, nil
}

func (s *FileSlots) Load(_ context.Context, slot string) ([]byte, error) {
	data, err := os.ReadFile(s.path(slot))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading slot %s: %w", slot, err)
	}
	return data, nil
}

func (s *FileSlots) Save(_ context.Context, slot string, data []byte) error {
	if err := os.WriteFile(s.path(slot), data, 0o644); err != nil {
		return fmt.Errorf("writing slot %s: %w", slot, err)
	}
	return nil
}

func (s *FileSlots) path(slot string) string {
	return filepath.Join(s.dir, slot+".json")
}
