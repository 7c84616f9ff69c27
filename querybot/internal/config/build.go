package config

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/telhawk-systems/querybot/querybot/internal/conversation"
	"github.com/telhawk-systems/querybot/querybot/internal/notify"
	"github.com/telhawk-systems/querybot/querybot/internal/query"
)

// Rules converts the middleware rules. Function conditions are resolved
// against predicates once, here.
func (c *Config) Rules(predicates notify.Predicates) ([]notify.Rule, error) {
	rules := make([]notify.Rule, 0, len(c.Bot.Middleware.Rules))
	for i, rc := range c.Bot.Middleware.Rules {
		var cond notify.Condition
		if rc.Conditions != nil {
			switch notify.ConditionType(rc.Conditions.Type) {
			case notify.ConditionFunction:
				fn, ok := predicates.Lookup(rc.Conditions.Function)
				if !ok {
					return nil, fmt.Errorf("rule %d: function %q not registered", i, rc.Conditions.Function)
				}
				cond = notify.FunctionCondition{Name: rc.Conditions.Function, Func: fn}
			case notify.ConditionValue:
				cond = notify.ValueCondition{FieldPath: rc.Conditions.Field, Expected: rc.Conditions.FieldValue}
			default:
				return nil, fmt.Errorf("rule %d: unknown condition type %q", i, rc.Conditions.Type)
			}
		}
		rules = append(rules, notify.NewRule(rc.Endpoint, rc.TriggerCodes, cond, rc.Message))
	}
	return rules, nil
}

// Definitions builds one conversation per collection entry, keyed by name.
func (c *Config) Definitions() (map[string]conversation.Conversation, error) {
	defs := make(map[string]conversation.Conversation, len(c.Collections))
	for _, name := range slices.Sorted(maps.Keys(c.Collections)) {
		cc := c.Collections[name]
		collection := cc.Collection
		if collection == "" {
			collection = name
		}
		def := conversation.NewDefinition(name, collection)

		for _, filterName := range slices.Sorted(maps.Keys(cc.SavedFilters)) {
			q, err := cc.SavedFilters[filterName].query()
			if err != nil {
				return nil, fmt.Errorf("collection %s saved filter %s: %w", name, filterName, err)
			}
			def.AddSavedQuery(filterName, q)
		}
		def.AddCommands(slices.Sorted(maps.Keys(cc.Commands))...)
		defs[name] = def
	}
	return defs, nil
}

// Registry resolves bot.conversations against the collections.
func (c *Config) Registry(logger *slog.Logger) (*conversation.Registry, error) {
	defs, err := c.Definitions()
	if err != nil {
		return nil, err
	}
	return conversation.Select(c.Bot.Conversations, defs, logger), nil
}

// CommandArgs merges the custom commands of every collection. A name may be
// shared only when the argv is identical.
func (c *Config) CommandArgs() (map[string][]string, error) {
	out := make(map[string][]string)
	owner := make(map[string]string)
	for _, name := range slices.Sorted(maps.Keys(c.Collections)) {
		for cmd, argv := range c.Collections[name].Commands {
			if len(argv) == 0 {
				return nil, fmt.Errorf("collection %s command %s: empty argv", name, cmd)
			}
			if prev, ok := out[cmd]; ok && !slices.Equal(prev, argv) {
				return nil, fmt.Errorf("command %s defined differently by collections %s and %s", cmd, owner[cmd], name)
			}
			out[cmd] = argv
			owner[cmd] = name
		}
	}
	return out, nil
}

// Tables lists the backing tables the sql store may open, keyed by the
// collection name conversations query, which is the configured collection
// or, when unset, the entry name.
func (c *Config) Tables() map[string]string {
	tables := make(map[string]string, len(c.Collections))
	for name, cc := range c.Collections {
		target := cc.Collection
		if target == "" {
			target = name
		}
		tables[target] = target
	}
	return tables
}

func (s SavedFilterConfig) query() (conversation.SavedQuery, error) {
	unit := query.PeriodUnit(strings.ToLower(s.Unit))
	if unit.Duration() == 0 {
		return conversation.SavedQuery{}, fmt.Errorf("unknown unit %q", s.Unit)
	}
	if s.Quantity < 0 {
		return conversation.SavedQuery{}, fmt.Errorf("negative quantity %d", s.Quantity)
	}

	q := conversation.SavedQuery{Period: query.Period{Unit: unit, Quantity: s.Quantity}}
	for _, field := range slices.Sorted(maps.Keys(s.Filters)) {
		q.Filters = append(q.Filters, query.Filter{Field: field, Value: s.Filters[field]})
	}

	switch agg := query.AggregateType(strings.ToLower(s.Aggregate)); agg {
	case query.AggregateNone, query.AggregateCount:
		q.Aggregate = query.Aggregate{Type: agg}
	case query.AggregateSum:
		if s.Property == "" {
			return conversation.SavedQuery{}, errors.New("sum requires a property")
		}
		q.Aggregate = query.Aggregate{Type: agg, Property: s.Property}
	default:
		return conversation.SavedQuery{}, fmt.Errorf("unknown aggregate %q", s.Aggregate)
	}
	return q, nil
}
