// Package memory is an in-process record store used for demos and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/telhawk-systems/querybot/querybot/internal/store"
)

// Store keeps collections of records in memory.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*Collection
}

func New() *Store {
	return &Store{collections: make(map[string]*Collection)}
}

// Insert appends records to a collection, creating it if needed.
func (s *Store) Insert(name string, records ...store.Record) {
	s.mu.Lock()
	c, ok := s.collections[name]
	if !ok {
		c = &Collection{}
		s.collections[name] = c
	}
	s.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		c.records = append(c.records, clone(r))
	}
}

func (s *Store) Collection(name string) (store.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownCollection, name)
	}
	return c, nil
}

func (s *Store) Close() error { return nil }

// Collection is a slice of records guarded by a mutex.
type Collection struct {
	mu      sync.RWMutex
	records []store.Record
}

func (c *Collection) Filter(ctx context.Context, preds []store.Predicate, fields []string) ([]store.Record, error) {
	matched, err := c.match(ctx, preds)
	if err != nil {
		return nil, err
	}

	out := make([]store.Record, 0, len(matched))
	for _, r := range matched {
		out = append(out, project(r, fields))
	}
	return out, nil
}

func (c *Collection) Count(ctx context.Context, preds []store.Predicate) (int, error) {
	matched, err := c.match(ctx, preds)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (c *Collection) Aggregate(ctx context.Context, preds []store.Predicate, agg store.Aggregation) (map[string]any, error) {
	if err := store.ValidateField(agg.Property); err != nil {
		return nil, err
	}
	matched, err := c.match(ctx, preds)
	if err != nil {
		return nil, err
	}

	result := map[string]any{agg.Key(): nil}
	var sum float64
	seen := false
	for _, r := range matched {
		v, ok := r[agg.Property]
		if !ok || v == nil {
			continue
		}
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, fmt.Errorf("sum %s: %w", agg.Property, err)
		}
		sum += f
		seen = true
	}
	if seen {
		result[agg.Key()] = sum
	}
	return result, nil
}

func (c *Collection) match(ctx context.Context, preds []store.Predicate) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.ValidatePredicates(preds); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []store.Record
	for _, r := range c.records {
		ok, err := matches(r, preds)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func matches(r store.Record, preds []store.Predicate) (bool, error) {
	for _, p := range preds {
		v, ok := r[p.Field]
		if !ok {
			return false, nil
		}
		switch p.Op {
		case store.OpEq:
			// chat input is text, so compare textual forms
			if cast.ToString(v) != cast.ToString(p.Value) {
				return false, nil
			}
		case store.OpGt:
			gt, err := greater(v, p.Value)
			if err != nil {
				return false, fmt.Errorf("compare %s: %w", p.Field, err)
			}
			if !gt {
				return false, nil
			}
		}
	}
	return true, nil
}

func greater(v, than any) (bool, error) {
	if t, ok := than.(time.Time); ok {
		tv, err := cast.ToTimeE(v)
		if err != nil {
			return false, err
		}
		return tv.After(t), nil
	}
	a, err := cast.ToFloat64E(v)
	if err != nil {
		return false, err
	}
	b, err := cast.ToFloat64E(than)
	if err != nil {
		return false, err
	}
	return a > b, nil
}

func project(r store.Record, fields []string) store.Record {
	if len(fields) == 0 {
		return clone(r)
	}
	out := make(store.Record, len(fields))
	for _, f := range fields {
		if v, ok := r[f]; ok {
			out[f] = v
		}
	}
	return out
}

func clone(r store.Record) store.Record {
	out := make(store.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
