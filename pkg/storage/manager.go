package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

var pageFilePattern = regexp.MustCompile(`^page_(\d+)\.png$`)

// Manager stores page artifacts under a root directory
type Manager struct {
	root string
}

// NewManager creates a storage manager rooted at dir, creating it if needed
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Manager{root: dir}, nil
}

// Root returns the root directory
func (m *Manager) Root() string {
	return m.root
}

// DocumentDir returns the directory holding a document's pages
func (m *Manager) DocumentDir(documentID string) string {
	return filepath.Join(m.root, documentID)
}

// PagePath returns the artifact path for one page
func (m *Manager) PagePath(documentID string, page int) string {
	return filepath.Join(m.DocumentDir(documentID), fmt.Sprintf("page_%d.png", page))
}

// Exists reports whether a regular file exists at path
func (m *Manager) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Write atomically stores data at path, creating parent directories
func (m *Manager) Write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	closeErr := tmp.Close()

	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write page data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}

// Remove deletes the file at path. A missing file is not an error.
func (m *Manager) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// RemoveDocument deletes a document's page directory
func (m *Manager) RemoveDocument(documentID string) error {
	if err := os.RemoveAll(m.DocumentDir(documentID)); err != nil {
		return fmt.Errorf("failed to remove document directory: %w", err)
	}
	return nil
}

// Pages lists the page numbers already stored for a document in ascending order
func (m *Manager) Pages(documentID string) ([]int, error) {
	entries, err := os.ReadDir(m.DocumentDir(documentID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var pages []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pageFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		n, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		pages = append(pages, n)
	}

	sort.Ints(pages)
	return pages, nil
}
