package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ballot-engine/ballot-engine/internal/domain/ballot"
)

// Repository is an in-memory ballot.Repository for tests and single-node
// deployments without Postgres.
type Repository struct {
	mu      sync.RWMutex
	nextID  int64
	events  []*ballot.EventRecord
	results map[int]*ballot.ResultRecord
}

func NewRepository() *Repository {
	return &Repository{
		nextID:  1,
		results: make(map[int]*ballot.ResultRecord),
	}
}

func (r *Repository) AppendEvent(_ context.Context, record *ballot.EventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *record
	stored.ID = r.nextID
	r.nextID++
	r.events = append(r.events, &stored)
	record.ID = stored.ID
	return nil
}

func (r *Repository) ListEvents(_ context.Context, session int, limit, offset int) ([]*ballot.EventRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*ballot.EventRecord, 0)
	for _, ev := range r.events {
		if ev.Session == session {
			matched = append(matched, ev)
		}
	}
	if offset >= len(matched) {
		return []*ballot.EventRecord{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]*ballot.EventRecord, len(matched))
	for i, ev := range matched {
		copied := *ev
		out[i] = &copied
	}
	return out, nil
}

func (r *Repository) SaveResult(_ context.Context, record *ballot.ResultRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *record
	r.results[stored.Session] = &stored
	return nil
}

func (r *Repository) GetResult(_ context.Context, session int) (*ballot.ResultRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.results[session]
	if !ok {
		return nil, ballot.ErrUnknownSession
	}
	copied := *res
	return &copied, nil
}

func (r *Repository) ListResults(_ context.Context) ([]*ballot.ResultRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ballot.ResultRecord, 0, len(r.results))
	for _, res := range r.results {
		copied := *res
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Session < out[j].Session })
	return out, nil
}
