package task

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps tasks in process memory. Used by tests and the
// one-shot ask command; data does not survive a restart.
type InMemoryStore struct {
	mu    sync.Mutex
	tasks map[string][]*Task // user id -> tasks ordered by number
}

// NewInMemoryStore creates an empty in-memory task store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{tasks: make(map[string][]*Task)}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) Create(ctx context.Context, userID, title, description string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next int64 = 1
	if existing := s.tasks[userID]; len(existing) > 0 {
		next = existing[len(existing)-1].Number + 1
	}

	now := time.Now().UTC()
	t := &Task{
		Number:      next,
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks[userID] = append(s.tasks[userID], t)

	cp := *t
	return &cp, nil
}

func (s *InMemoryStore) List(ctx context.Context, userID string, filter Filter) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Task
	for _, t := range s.tasks[userID] {
		switch filter {
		case FilterActive:
			if t.Completed {
				continue
			}
		case FilterCompleted:
			if !t.Completed {
				continue
			}
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *InMemoryStore) find(userID string, number int64) *Task {
	for _, t := range s.tasks[userID] {
		if t.Number == number {
			return t
		}
	}
	return nil
}

func (s *InMemoryStore) Complete(ctx context.Context, userID string, number int64) (*Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.find(userID, number)
	if t == nil {
		return nil, false, ErrNotFound
	}

	wasComplete := t.Completed
	t.Completed = true
	t.UpdatedAt = time.Now().UTC()

	cp := *t
	return &cp, wasComplete, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, userID string, number int64) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.tasks[userID]
	for i, t := range list {
		if t.Number == number {
			s.tasks[userID] = append(list[:i], list[i+1:]...)
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) Update(ctx context.Context, userID string, number int64, upd Update) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.find(userID, number)
	if t == nil {
		return nil, ErrNotFound
	}

	if upd.Title != nil {
		t.Title = *upd.Title
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	t.UpdatedAt = time.Now().UTC()

	cp := *t
	return &cp, nil
}
