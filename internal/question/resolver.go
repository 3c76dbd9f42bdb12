package question

import (
	"context"
	"log/slog"
	"sync"
)

// Resolver fetches and normalizes questions, caching each parsed Question
// for the process lifetime. A given id is fetched from the asset source at
// most once after a successful parse.
type Resolver struct {
	source     AssetSource
	normalizer *Normalizer

	mu    sync.RWMutex
	cache map[int]*Question
}

// NewResolver creates a resolver over an asset source and normalizer.
func NewResolver(source AssetSource, normalizer *Normalizer) *Resolver {
	return &Resolver{
		source:     source,
		normalizer: normalizer,
		cache:      make(map[int]*Question),
	}
}

// Get returns the Question for an id. Missing assets yield ErrNotFound and
// assets with no recognizable question block yield ErrUnparseable; neither
// is cached, so a later re-request re-fetches.
func (r *Resolver) Get(ctx context.Context, id int) (*Question, error) {
	r.mu.RLock()
	q, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return q, nil
	}

	raw, err := r.source.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	q, err = r.normalizer.Parse(raw, id)
	if err != nil {
		slog.Warn("question markup unparseable", "question_id", id)
		return nil, err
	}

	r.mu.Lock()
	r.cache[id] = q
	r.mu.Unlock()
	return q, nil
}
