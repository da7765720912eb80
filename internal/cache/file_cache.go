package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"utfgrid/internal/grid"
)

// FileStore keeps tiles on disk in the wire format.
// Structure: {cacheDir}/{z}/{x}/{y}.grid.json
type FileStore struct {
	mu       sync.RWMutex
	cacheDir string
	written  map[string]struct{}
}

func NewFileStore(cacheDir string) (*FileStore, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FileStore{
		cacheDir: cacheDir,
		written:  make(map[string]struct{}),
	}, nil
}

// buildFilePath builds file path from tile key
func (c *FileStore) buildFilePath(key string) string {
	return filepath.Join(c.cacheDir, filepath.FromSlash(key)+".grid.json")
}

func (c *FileStore) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, err := os.Stat(c.buildFilePath(key))
	return err == nil
}

func (c *FileStore) Get(key string) (*grid.Tile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := os.ReadFile(c.buildFilePath(key))
	if err != nil {
		return nil, false
	}

	t, err := grid.Parse(data)
	if err != nil {
		return nil, false
	}
	return t, true
}

func (c *FileStore) Set(key string, value *grid.Tile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(value)
	if err != nil {
		return
	}

	filePath := c.buildFilePath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return
	}

	// Write atomically
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return
	}
	c.written[key] = struct{}{}
}

// Clear removes the tiles written through this store and the {z}/{x}
// directories they leave empty. Files other writers put in cacheDir are
// kept, so the directory can be shared with a server.
func (c *FileStore) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	dirs := make(map[string]struct{})
	for key := range c.written {
		filePath := c.buildFilePath(key)
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			continue
		}
		xDir := filepath.Dir(filePath)
		dirs[xDir] = struct{}{}
		dirs[filepath.Dir(xDir)] = struct{}{}
	}
	c.written = make(map[string]struct{})

	// Remove fails on directories that still hold files.
	for _, d := range sortedByDepth(dirs) {
		os.Remove(d)
	}
}

// sortedByDepth lists x directories before their z parents.
func sortedByDepth(dirs map[string]struct{}) []string {
	out := make([]string, 0, len(dirs))
	for d := range dirs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Count(out[i], string(filepath.Separator)) > strings.Count(out[j], string(filepath.Separator))
	})
	return out
}
