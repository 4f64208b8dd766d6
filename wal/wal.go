// Package wal records every workflow stage to an append-only audit
// trail: detection, backup, each remediation action, verification, and
// each rollback step. The trail is the record consulted when a run has
// to be diagnosed after the fact.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EntryType defines the type of WAL entry
type EntryType string

const (
	EntryDetected      EntryType = "detected"
	EntryBackupCreated EntryType = "backup_created"
	EntryActionStart   EntryType = "action_start"
	EntryActionDone    EntryType = "action_done"
	EntryActionFailed  EntryType = "action_failed"
	EntryActionSkipped EntryType = "action_skipped"
	EntryVerified      EntryType = "verified"
	EntryRollbackStep  EntryType = "rollback_step"
	EntryRollbackDone  EntryType = "rollback_done"
)

// Entry represents a single WAL entry
type Entry struct {
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
	Type        EntryType       `json:"type"`
	Environment string          `json:"environment,omitempty"`
	Subject     string          `json:"subject,omitempty"`
	Data        json.RawMessage `json:"data"`
	Error       string          `json:"error,omitempty"`
}

// WAL provides append-only logging for audit and recovery
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
}

const filePrefix = "veer"

// Open creates or opens a WAL in the specified directory
func Open(dir string) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	// Timestamp in the filename gives natural rotation per process run
	filename := fmt.Sprintf("%s-%s.wal", filePrefix, time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) // #nosec G304 -- path built from config dir
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	w := &WAL{
		file:   file,
		writer: bufio.NewWriter(file),
		dir:    dir,
	}
	w.sequence = loadSequence(dir)

	return w, nil
}

// loadSequence resumes numbering from the highest sequence recorded in
// the directory, so sequence numbers stay monotonic across restarts.
func loadSequence(dir string) int64 {
	files, err := filepath.Glob(filepath.Join(dir, filePrefix+"-*.wal"))
	if err != nil {
		return 0
	}

	var highest int64
	for _, path := range files {
		reader, err := NewReader(path)
		if err != nil {
			continue
		}
		for {
			entry, err := reader.Next()
			if err != nil {
				break
			}
			if entry.Sequence > highest {
				highest = entry.Sequence
			}
		}
		_ = reader.Close()
	}
	return highest
}

// Close flushes and closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// Append adds an entry to the WAL
func (w *WAL) Append(entryType EntryType, subject string, data any) error {
	return w.append(entryType, subject, data, nil)
}

// AppendError adds an entry carrying a failure
func (w *WAL) AppendError(entryType EntryType, subject string, data any, errToLog error) error {
	return w.append(entryType, subject, data, errToLog)
}

func (w *WAL) append(entryType EntryType, subject string, data any, errToLog error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.sequence++

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	entry := Entry{
		Timestamp: time.Now(),
		Sequence:  w.sequence,
		Type:      entryType,
		Subject:   subject,
		Data:      jsonData,
	}
	if errToLog != nil {
		entry.Error = errToLog.Error()
	}

	return w.writeEntry(entry)
}

// writeEntry writes a single entry and syncs for durability
func (w *WAL) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if _, err := w.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return w.file.Sync()
}

// Reader provides WAL replay functionality
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader creates a WAL reader for the specified file
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path) // #nosec G304 -- path discovered under the WAL dir
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	return &Reader{
		scanner: bufio.NewScanner(file),
		file:    file,
	}, nil
}

// Next reads the next entry from the WAL
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}

	return &entry, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay replays WAL entries recorded after a specific time
func Replay(dir string, since time.Time, handler func(*Entry) error) error {
	files, err := filepath.Glob(filepath.Join(dir, filePrefix+"-*.wal"))
	if err != nil {
		return fmt.Errorf("failed to list WAL files: %w", err)
	}

	for _, file := range files {
		if err := replayFile(file, since, handler); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, since time.Time, handler func(*Entry) error) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if entry.Timestamp.After(since) {
			if err := handler(entry); err != nil {
				return err
			}
		}
	}
}
