package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// A log is compacted on open once it holds more than compactRatio lines per
// live snapshot and at least compactMinLines lines.
const (
	compactRatio    = 4
	compactMinLines = 256
)

var (
	_ Store  = (*FileStore)(nil)
	_ Pinger = (*FileStore)(nil)
)

// record is a single line of the append-only log. A record with Deleted set
// is a tombstone for Key.
type record struct {
	Key      string    `json:"key"`
	Deleted  bool      `json:"deleted,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Written  time.Time `json:"written"`
}

// FileStore persists snapshots as append-only JSON lines in a local file.
// The last record for a key wins; a tombstone removes it. The whole log is
// replayed into memory on open, so reads never touch the disk.
type FileStore struct {
	mu    sync.Mutex
	path  string
	f     *os.File
	snaps map[string]*Snapshot
	lines int
	now   func() time.Time
}

// OpenFileStore opens (or creates) the log at path and replays it. Lines
// that fail to decode are logged and skipped.
func OpenFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}

	fs := &FileStore{path: path, snaps: make(map[string]*Snapshot), now: time.Now}
	if err := fs.replay(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open file: %w", err)
	}
	fs.f = f

	if fs.lines > compactRatio*len(fs.snaps) && fs.lines > compactMinLines {
		if err := fs.Compact(); err != nil {
			slog.Warn("store: compact on open failed", "path", path, "err", err)
		}
	}
	return fs, nil
}

func (fs *FileStore) replay() error {
	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: read file: %w", err)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("store: skipping corrupt line", "path", fs.path, "line", lineNo, "err", err)
			continue
		}
		fs.lines++
		if rec.Deleted || rec.Snapshot == nil {
			delete(fs.snaps, rec.Key)
			continue
		}
		fs.snaps[rec.Key] = rec.Snapshot.Clone()
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("store: scan file: %w", err)
	}
	return nil
}

// Load implements [Store].
func (fs *FileStore) Load(_ context.Context, key string) (*Snapshot, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.snaps[key].Clone(), nil
}

// Save implements [Store]. The record is fsynced before Save returns.
func (fs *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := snap.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	c := snap.Clone()
	c.UpdatedAt = fs.now().UTC()
	if err := fs.append(record{Key: c.Key, Snapshot: c, Written: c.UpdatedAt}); err != nil {
		return err
	}
	fs.snaps[c.Key] = c
	return nil
}

// Delete implements [Store] by appending a tombstone.
func (fs *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.snaps[key]; !ok {
		return nil
	}
	if err := fs.append(record{Key: key, Deleted: true, Written: fs.now().UTC()}); err != nil {
		return err
	}
	delete(fs.snaps, key)
	return nil
}

// append must be called with fs.mu held.
func (fs *FileStore) append(rec record) error {
	if fs.f == nil {
		return errors.New("store: file store is closed")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	data = append(data, '\n')
	if _, err := fs.f.Write(data); err != nil {
		return fmt.Errorf("store: write: %w", err)
	}
	if err := fs.f.Sync(); err != nil {
		return fmt.Errorf("store: sync: %w", err)
	}
	fs.lines++
	return nil
}

// Compact rewrites the log so it holds exactly one line per live snapshot.
// The new log is written next to the old one and renamed over it.
func (fs *FileStore) Compact() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.f == nil {
		return errors.New("store: file store is closed")
	}
	if fs.lines == len(fs.snaps) {
		return nil
	}

	tmp := fs.path + ".compact"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: compact: %w", err)
	}
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)
	for key, snap := range fs.snaps {
		if err := enc.Encode(record{Key: key, Snapshot: snap, Written: snap.UpdatedAt}); err != nil {
			out.Close()
			os.Remove(tmp)
			return fmt.Errorf("store: compact: %w", err)
		}
	}
	if err := errors.Join(w.Flush(), out.Sync(), out.Close()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: compact: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: compact: %w", err)
	}

	fs.f.Close()
	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fs.f = nil
		return fmt.Errorf("store: reopen after compact: %w", err)
	}
	fs.f = f
	fs.lines = len(fs.snaps)
	return nil
}

// Ping reports whether the log file is still open and writable.
func (fs *FileStore) Ping(_ context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.f == nil {
		return errors.New("store: file store is closed")
	}
	if _, err := fs.f.Stat(); err != nil {
		return fmt.Errorf("store: stat: %w", err)
	}
	return nil
}

// Close implements [Store].
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.f == nil {
		return nil
	}
	err := fs.f.Close()
	fs.f = nil
	return err
}
