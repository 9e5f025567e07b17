// Package eventstore persists application events to a JSON Lines file. The
// job handler uses it as its read-after-write visibility check: a job only
// processes an event once the event is readable from the store.
package eventstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/coverloop/coverloop/internal/domain/events"
)

// Store is a file-backed append-only event log with an in-memory visibility
// index.
type Store struct {
	mu   sync.RWMutex
	path string
	seen map[string]struct{}
}

// NewStore opens (or creates on first append) the event log at path and
// indexes any events already present.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, seen: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read event log: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var ev events.ApplicationEvent
		if err := dec.Decode(&ev); err != nil {
			// A torn trailing line from a crashed writer is not fatal.
			break
		}
		s.seen[ev.EventID.String()] = struct{}{}
	}
	return s, nil
}

// Append writes one event to the log and marks it visible.
func (s *Store) Append(ctx context.Context, ev *events.ApplicationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create event log directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	s.seen[ev.EventID.String()] = struct{}{}
	return nil
}

// IsVisible reports whether the event has been durably appended.
func (s *Store) IsVisible(ctx context.Context, ev *events.ApplicationEvent) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[ev.EventID.String()]
	return ok, nil
}
