package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"znum/pkg/logger"
)

const version = 1

// Checkpoint is the outcome of an interrupted run
type Checkpoint struct {
	DocumentID string    `json:"document_id"`
	PageCount  int       `json:"page_count"`
	Completed  int       `json:"completed"`
	StoppedAt  int       `json:"stopped_at"`
	Reason     string    `json:"reason"`
	Error      string    `json:"error"`
	Runs       int       `json:"runs"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Version    int       `json:"version"`
}

// Age returns how long ago the checkpoint was written
func (c *Checkpoint) Age(now time.Time) time.Duration {
	return now.Sub(c.UpdatedAt)
}

// Manager handles checkpoint operations for one document
type Manager struct {
	path   string
	logger logger.Logger
	now    func() time.Time
}

// NewManager creates a checkpoint manager for documentID under workDir
func NewManager(workDir, documentID string, log logger.Logger) (*Manager, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document id is required")
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	if log == nil {
		log = logger.GetLogger()
	}

	return &Manager{
		path:   filepath.Join(workDir, documentID+".checkpoint.json"),
		logger: log,
		now:    time.Now,
	}, nil
}

// Path returns the checkpoint file location
func (m *Manager) Path() string {
	return m.path
}

// Load returns the saved checkpoint, or nil when there is none
func (m *Manager) Load() (*Checkpoint, error) {
	file, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var cp Checkpoint
	if err := json.NewDecoder(file).Decode(&cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint loaded", map[string]interface{}{
		"document":   cp.DocumentID,
		"stopped_at": cp.StoppedAt,
		"reason":     cp.Reason,
	})
	return &cp, nil
}

// RecordStop saves where a run stopped, keeping the creation time and run
// count of an earlier checkpoint.
func (m *Manager) RecordStop(documentID string, pageCount, completed, stoppedAt int, reason string, runErr error) (*Checkpoint, error) {
	now := m.now()
	cp := &Checkpoint{CreatedAt: now}

	if prev, err := m.Load(); err == nil && prev != nil {
		cp.CreatedAt = prev.CreatedAt
		cp.Runs = prev.Runs
	}

	cp.DocumentID = documentID
	cp.PageCount = pageCount
	cp.Completed = completed
	cp.StoppedAt = stoppedAt
	cp.Reason = reason
	cp.Runs++
	cp.UpdatedAt = now
	cp.Version = version
	if runErr != nil {
		cp.Error = runErr.Error()
	}

	if err := m.save(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (m *Manager) save(cp *Checkpoint) error {
	tempPath := m.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cp); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, m.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"document":   cp.DocumentID,
		"stopped_at": cp.StoppedAt,
		"completed":  cp.Completed,
	})
	return nil
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}
