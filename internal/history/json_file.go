package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// JSONFile keeps the whole log as one indented JSON array, rewritten on
// every append.
type JSONFile struct {
	path string
	log  *slog.Logger
	mu   sync.Mutex
}

// OpenJSONFile creates the file with an empty array when it does not exist.
func OpenJSONFile(path string, log *slog.Logger) (*JSONFile, error) {
	if log == nil {
		log = slog.Default()
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
			return nil, fmt.Errorf("create chat log: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat chat log: %w", err)
	}
	return &JSONFile{path: path, log: log}, nil
}

func (f *JSONFile) Append(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	entries = append(entries, toEntry(record))
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return err
	}
	// Write aside and rename so a crash never leaves a half written array.
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("append chat log: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("append chat log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("append chat log: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("append chat log: %w", err)
	}
	f.log.Debug("chat log appended", "from", record.From, "to", record.To, "entries", len(entries))
	return nil
}

func (f *JSONFile) Records(ctx context.Context, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	entries, err := f.load()
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		r, err := fromEntry(e)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func (f *JSONFile) load() ([]entry, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read chat log: %w", err)
	}
	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode chat log: %w", err)
	}
	return entries, nil
}
