package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sync"

	"github.com/rs/zerolog"

	"mailcron/internal/task"
)

// fileStore keeps the authoritative collection in memory and snapshots it
// to a single JSON file on every mutation. The snapshot is written to a
// temp file and renamed into place, so a crash mid-write never leaves a
// torn collection.
type fileStore struct {
	log  zerolog.Logger
	path string

	mu    sync.Mutex
	tasks map[string]*task.Task
	order []string
}

// snapshot is the on-disk shape.
type snapshot struct {
	Tasks []*task.Task `json:"tasks"`
}

func openFile(cfg Config, log zerolog.Logger) (Store, error) {
	path := cfg.Path
	if path == "" {
		return nil, errors.New("store path is required for the file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	s := &fileStore{
		log:   log,
		path:  path,
		tasks: make(map[string]*task.Task),
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run; the file appears on the first mutation.
	case err != nil:
		// Degrading to an empty collection is a silent-data-loss risk, so
		// make it loud.
		log.Error().Err(err).Str("path", path).Msg("task store unreadable, starting with empty collection")
	default:
		var snap snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			log.Error().Err(err).Str("path", path).Msg("task store corrupt, starting with empty collection")
			break
		}
		for _, t := range snap.Tasks {
			s.tasks[t.ID] = t
			s.order = append(s.order, t.ID)
		}
	}

	return s, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) List(ctx context.Context) []*task.Task {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*task.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].Clone())
	}
	return out
}

func (s *fileStore) Get(ctx context.Context, id string) (*task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *fileStore) Insert(ctx context.Context, t *task.Task) (*task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; ok {
		return nil, ErrAlreadyExists
	}

	stored := t.Clone()
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.tasks[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	if err := s.persistLocked(); err != nil {
		delete(s.tasks, stored.ID)
		s.order = s.order[:len(s.order)-1]
		return nil, err
	}
	return stored.Clone(), nil
}

func (s *fileStore) Update(ctx context.Context, id string, p Patch) (*task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}

	merged := old.Clone()
	if err := p.apply(merged, time.Now().UTC()); err != nil {
		return nil, err
	}

	s.tasks[id] = merged
	if err := s.persistLocked(); err != nil {
		s.tasks[id] = old
		return nil, err
	}
	return merged.Clone(), nil
}

func (s *fileStore) Remove(ctx context.Context, id string) (*task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}

	idx := 0
	for i, oid := range s.order {
		if oid == id {
			idx = i
			break
		}
	}

	delete(s.tasks, id)
	s.order = append(s.order[:idx], s.order[idx+1:]...)
	if err := s.persistLocked(); err != nil {
		s.tasks[id] = removed
		s.order = append(s.order, "")
		copy(s.order[idx+1:], s.order[idx:])
		s.order[idx] = id
		return nil, err
	}
	return removed, nil
}

func (s *fileStore) persistLocked() error {
	snap := snapshot{Tasks: make([]*task.Task, 0, len(s.order))}
	for _, id := range s.order {
		snap.Tasks = append(snap.Tasks, s.tasks[id])
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding task store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing task store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing task store: %w", err)
	}
	return nil
}
