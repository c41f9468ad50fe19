package discord

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultChannelFile is where the notification channel id is kept.
const DefaultChannelFile = "recordings/saved_channel.txt"

// ChannelStore persists the id of the text channel that receives session
// notifications. It is safe for concurrent use.
type ChannelStore struct {
	path string

	mu sync.RWMutex
	id string
}

// OpenChannelStore reads the saved channel id at path. A missing file
// yields an empty store.
func OpenChannelStore(path string) (*ChannelStore, error) {
	if path == "" {
		path = DefaultChannelFile
	}
	c := &ChannelStore{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("discord: read saved channel: %w", err)
	}
	c.id = strings.TrimSpace(string(data))
	return c, nil
}

// Get returns the saved channel id, or "" when none is set.
func (c *ChannelStore) Get() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Set saves id, replacing any previous channel.
func (c *ChannelStore) Set(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("discord: channel id is empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("discord: create channel dir: %w", err)
	}
	if err := os.WriteFile(c.path, []byte(id), 0o644); err != nil {
		return fmt.Errorf("discord: write saved channel: %w", err)
	}
	c.id = id
	return nil
}
