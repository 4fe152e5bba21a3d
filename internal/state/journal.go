// internal/state/journal.go
package state

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
)

const journalFileName = "actions.log"

// LogEntry is one immutable, append-only record of an executed action. The
// core never mutates or deletes entries.
type LogEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"ts"`
	Summary   string         `json:"summary"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Journal appends action records to a newline-delimited JSON log file.
type Journal struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewJournal creates the journal under dataDir, creating the directory if
// needed.
func NewJournal(dataDir string) (*Journal, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Journal{
		path: filepath.Join(dataDir, journalFileName),
		now:  time.Now,
	}, nil
}

// Path returns the location of the underlying log file.
func (j *Journal) Path() string { return j.path }

// Append writes one entry. The write is synchronous; once Append returns the
// entry is on disk.
func (j *Journal) Append(summary string, meta map[string]any) error {
	entry := LogEntry{
		ID:        uuid.NewString(),
		Timestamp: j.now().UTC(),
		Summary:   summary,
		Meta:      meta,
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open action log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("failed to append to action log: %w", err)
	}
	return nil
}

// Tail returns the most recent n entries, oldest first. A missing log file
// yields an empty slice. Malformed lines are skipped.
func (j *Journal) Tail(n int) ([]LogEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []LogEntry{}, nil
		}
		return nil, fmt.Errorf("failed to open action log: %w", err)
	}
	defer f.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan action log: %w", err)
	}

	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}
