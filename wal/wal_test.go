package wal

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/veerhq/veer/types"
)

func TestWAL_AppendAndRead(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}

	summary := types.SeverityCounts{Total: 2, High: 1, Medium: 1}
	if err := w.Append(EntryDetected, "dev", summary); err != nil {
		t.Fatalf("Failed to append detected entry: %v", err)
	}
	if err := w.Append(EntryBackupCreated, "20260829_120000", nil); err != nil {
		t.Fatalf("Failed to append backup entry: %v", err)
	}
	if err := w.AppendError(EntryActionFailed, "web", nil, errors.New("restart failed")); err != nil {
		t.Fatalf("Failed to append error entry: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close WAL: %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "veer-*.wal"))
	if len(files) == 0 {
		t.Fatal("No WAL files found")
	}

	reader, err := NewReader(files[0])
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	expectedTypes := []EntryType{EntryDetected, EntryBackupCreated, EntryActionFailed}
	for i, expected := range expectedTypes {
		entry, err := reader.Next()
		if err != nil {
			t.Fatalf("Failed to read entry %d: %v", i, err)
		}
		if entry.Type != expected {
			t.Errorf("Entry %d type = %s, want %s", i, entry.Type, expected)
		}
		if entry.Sequence != int64(i+1) {
			t.Errorf("Entry %d sequence = %d, want %d", i, entry.Sequence, i+1)
		}
	}

	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("Expected EOF after last entry, got %v", err)
	}
}

func TestWAL_ErrorEntryCarriesMessage(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	if err := w.AppendError(EntryRollbackStep, "backup-1", nil, errors.New("volume restore failed")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var entries []*Entry
	err = Replay(dir, time.Time{}, func(e *Entry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Error != "volume restore failed" {
		t.Errorf("entry error = %q", entries[0].Error)
	}
	if entries[0].Subject != "backup-1" {
		t.Errorf("entry subject = %q", entries[0].Subject)
	}
}

func TestWAL_SequenceContinuesAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := w.Append(EntryDetected, "dev", nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	w2, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to reopen WAL: %v", err)
	}
	if err := w2.Append(EntryActionStart, "web", nil); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if err := w2.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var last int64
	err = Replay(dir, time.Time{}, func(e *Entry) error {
		if e.Sequence > last {
			last = e.Sequence
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if last != 4 {
		t.Errorf("sequence after reopen = %d, want 4", last)
	}
}

func TestWAL_ReplaySince(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	if err := w.Append(EntryDetected, "dev", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	count := 0
	err = Replay(dir, time.Now().Add(time.Hour), func(e *Entry) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if count != 0 {
		t.Errorf("entries written before the cutoff replayed: %d", count)
	}
}
