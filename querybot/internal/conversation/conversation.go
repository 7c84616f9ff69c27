package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/telhawk-systems/querybot/querybot/internal/query"
)

// ErrSavedFilterNotFound is returned when a selected saved filter has no handler.
var ErrSavedFilterNotFound = errors.New("saved filter not found")

// SavedFilterHandler executes a saved filter.
type SavedFilterHandler func(ctx context.Context, scope Scope) error

// Conversation is the per-collection behavior a Machine drives.
type Conversation interface {
	// Name is the identifier the entry command derives from.
	Name() string
	// Collection names the store collection queries run against.
	Collection() string
	SavedFilterNames() []string
	CustomCommandNames() []string
	// SavedFilter returns the handler registered for name.
	SavedFilter(name string) (SavedFilterHandler, bool)
}

// SavedQuery is a preset built query.
type SavedQuery struct {
	Period    query.Period
	Filters   []query.Filter
	Aggregate query.Aggregate
}

// Snapshot converts the preset to the form the executor runs.
func (q SavedQuery) Snapshot() query.Snapshot {
	return query.Snapshot{
		Mode:      query.ModeBuild,
		Period:    q.Period,
		Filters:   append([]query.Filter(nil), q.Filters...),
		Aggregate: q.Aggregate,
	}
}

// Definition is the configuration-driven Conversation.
type Definition struct {
	name       string
	collection string
	saved      []string
	handlers   map[string]SavedFilterHandler
	commands   []string
}

// NewDefinition creates a conversation over collection.
func NewDefinition(name, collection string) *Definition {
	return &Definition{
		name:       name,
		collection: collection,
		handlers:   make(map[string]SavedFilterHandler),
	}
}

// Name is the configured conversation name.
func (d *Definition) Name() string { return d.name }

// Collection is the store collection the conversation queries.
func (d *Definition) Collection() string { return d.collection }

// SavedFilterNames lists saved filters in registration order.
func (d *Definition) SavedFilterNames() []string {
	return append([]string(nil), d.saved...)
}

// CustomCommandNames lists management commands in registration order.
func (d *Definition) CustomCommandNames() []string {
	return append([]string(nil), d.commands...)
}

// SavedFilter returns the handler for name. A listed name without a handler
// reports false.
func (d *Definition) SavedFilter(name string) (SavedFilterHandler, bool) {
	h, ok := d.handlers[name]
	return h, ok && h != nil
}

// AddSavedFilterName lists a saved filter in the menu. Without a handler,
// selecting it fails with ErrSavedFilterNotFound.
func (d *Definition) AddSavedFilterName(name string) *Definition {
	for _, n := range d.saved {
		if n == name {
			return d
		}
	}
	d.saved = append(d.saved, name)
	return d
}

// HandleSavedFilter lists name and registers its handler.
func (d *Definition) HandleSavedFilter(name string, h SavedFilterHandler) *Definition {
	d.AddSavedFilterName(name)
	d.handlers[name] = h
	return d
}

// AddSavedQuery registers a saved filter that runs a preset query.
func (d *Definition) AddSavedQuery(name string, q SavedQuery) *Definition {
	snapshot := q.Snapshot()
	return d.HandleSavedFilter(name, func(ctx context.Context, scope Scope) error {
		return scope.Run(ctx, snapshot)
	})
}

// AddCommands appends custom management command names.
func (d *Definition) AddCommands(names ...string) *Definition {
	d.commands = append(d.commands, names...)
	return d
}

// Registry is the ordered set of conversations the bot serves.
type Registry struct {
	conversations []Conversation
	byName        map[string]Conversation
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Conversation)}
}

// Register adds c. Names are case-insensitive and must be unique.
func (r *Registry) Register(c Conversation) error {
	key := strings.ToLower(c.Name())
	if key == "" {
		return errors.New("conversation name is empty")
	}
	if _, exists := r.byName[key]; exists {
		return fmt.Errorf("conversation %q registered twice", c.Name())
	}
	r.byName[key] = c
	r.conversations = append(r.conversations, c)
	return nil
}

// Lookup finds a conversation by name, ignoring case.
func (r *Registry) Lookup(name string) (Conversation, bool) {
	c, ok := r.byName[strings.ToLower(name)]
	return c, ok
}

// All returns the conversations in registration order.
func (r *Registry) All() []Conversation {
	return append([]Conversation(nil), r.conversations...)
}

// Len reports how many conversations are registered.
func (r *Registry) Len() int {
	return len(r.conversations)
}

// Select builds a registry from identifiers, resolving each against
// available. Unknown identifiers are logged and skipped.
func Select(ids []string, available map[string]Conversation, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	lookup := make(map[string]Conversation, len(available))
	for k, c := range available {
		lookup[strings.ToLower(k)] = c
	}

	reg := NewRegistry()
	for _, id := range ids {
		c, ok := lookup[strings.ToLower(id)]
		if !ok {
			logger.Warn("conversation not registered", slog.String("conversation", id), slog.String("reason", "unknown identifier"))
			continue
		}
		if err := reg.Register(c); err != nil {
			logger.Warn("conversation not registered", slog.String("conversation", id), slog.String("error", err.Error()))
			continue
		}
		logger.Info("conversation registered", slog.String("conversation", id))
	}
	return reg
}
