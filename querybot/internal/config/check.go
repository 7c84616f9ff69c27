package config

import (
	"fmt"
	"log/slog"
	"reflect"
	"slices"

	"github.com/spf13/cast"

	"github.com/telhawk-systems/querybot/querybot/internal/notify"
)

// Setting keys.
const (
	KeyToken                      = "token"
	KeyCommandsSuffix             = "commands_suffix"
	KeyHistoryLookupModelProperty = "history_lookup_model_property"
	KeyConversations              = "conversations"
	KeyMiddlewareEnabled          = "middleware_enabled"
	KeyMiddleware                 = "middleware"
	KeyChatID                     = "chat_id"
	KeyRules                      = "rules"
	KeyEndpoint                   = "endpoint"
	KeyMessage                    = "message"
	KeyTriggerCodes               = "trigger_codes"
	KeyConditions                 = "conditions"
	KeyConditionType              = "type"
	KeyConditionFunction          = "function"
	KeyConditionField             = "field"
	KeyConditionFieldValue        = "field_value"
)

// ImproperlyConfigured reports a missing or malformed setting.
type ImproperlyConfigured struct {
	Msg string
}

func (e *ImproperlyConfigured) Error() string { return e.Msg }

func improperly(format string, args ...any) error {
	return &ImproperlyConfigured{Msg: fmt.Sprintf(format, args...)}
}

// Check validates the bot settings block. Function conditions must name a
// predicate registered in predicates.
func Check(bot map[string]any, predicates notify.Predicates) error {
	token, ok := bot[KeyToken]
	if !ok {
		return improperly(`"%s" key has not been set.`, KeyToken)
	}
	if empty(token) {
		return improperly(`"%s" key has no value set.`, KeyToken)
	}
	if _, ok := bot[KeyCommandsSuffix]; !ok {
		return improperly(`"%s" key has not been set.`, KeyCommandsSuffix)
	}
	prop, ok := bot[KeyHistoryLookupModelProperty]
	if !ok {
		return improperly(`"%s" key has not been set.`, KeyHistoryLookupModelProperty)
	}
	if empty(prop) {
		return improperly(`"%s" key has no value set.`, KeyHistoryLookupModelProperty)
	}

	convs, ok := bot[KeyConversations]
	if !ok {
		return improperly(`"%s" key has not been set.`, KeyConversations)
	}
	list, ok := convs.([]any)
	if !ok {
		if _, isStrings := convs.([]string); !isStrings {
			return improperly(`"%s" must be a list of strings.`, KeyConversations)
		}
	}
	for _, item := range list {
		if _, ok := item.(string); !ok {
			return improperly(`"%s" must be a list of strings.`, KeyConversations)
		}
	}
	if reflect.ValueOf(convs).Len() == 0 {
		slog.Warn("conversations list is empty, nothing will be set up for Telegram")
	}

	if cast.ToBool(bot[KeyMiddlewareEnabled]) {
		return checkMiddleware(bot, predicates)
	}
	return nil
}

func checkMiddleware(bot map[string]any, predicates notify.Predicates) error {
	raw, ok := bot[KeyMiddleware]
	if !ok {
		return improperly(`notification middleware is enabled, however "%s" key has not been set.`, KeyMiddleware)
	}
	mw, err := cast.ToStringMapE(raw)
	if err != nil || len(mw) == 0 {
		return improperly(`notification middleware is enabled, however "%s" is empty.`, KeyMiddleware)
	}

	chatID, ok := mw[KeyChatID]
	if !ok {
		return improperly(`"%s[%s]" key has not been set.`, KeyMiddleware, KeyChatID)
	}
	if empty(chatID) {
		return improperly(`"%s[%s]" key has no value set.`, KeyMiddleware, KeyChatID)
	}

	rawRules, ok := mw[KeyRules]
	if !ok {
		return improperly(`"%s[%s]" key has not been set.`, KeyMiddleware, KeyRules)
	}
	rules, ok := rawRules.([]any)
	if !ok {
		return improperly(`"%s[%s]" object must be a list.`, KeyMiddleware, KeyRules)
	}
	for i, rule := range rules {
		if err := checkRule(rule, predicates); err != nil {
			return improperly(`"%s[%s]" position "%d" error: %s`, KeyMiddleware, KeyRules, i, err)
		}
	}
	return nil
}

func checkRule(raw any, predicates notify.Predicates) error {
	rule, _ := cast.ToStringMapE(raw)

	if v, ok := rule[KeyEndpoint]; !ok || empty(v) {
		return improperly(`"%s" key has not been set`, KeyEndpoint)
	}
	if v, ok := rule[KeyMessage]; !ok || empty(v) {
		return improperly(`"%s" key has not been set`, KeyMessage)
	}

	codes, ok := rule[KeyTriggerCodes]
	if !ok || empty(codes) {
		return improperly(`"%s" key has not been set`, KeyTriggerCodes)
	}
	list, ok := codes.([]any)
	if !ok {
		if _, isInts := codes.([]int); isInts {
			list = nil
		} else {
			return improperly(`"%s" object must be a list.`, KeyTriggerCodes)
		}
	}
	for _, code := range list {
		if !isInteger(code) {
			return improperly(`"%s" contains non-integer values`, KeyTriggerCodes)
		}
	}

	if cond, ok := rule[KeyConditions]; ok {
		return checkCondition(cond, predicates)
	}
	return nil
}

func checkCondition(raw any, predicates notify.Predicates) error {
	cond, _ := cast.ToStringMapE(raw)

	typ, ok := cond[KeyConditionType]
	if !ok {
		return improperly(`Condition "%s" key has not been set`, KeyConditionType)
	}
	condType := notify.ConditionType(cast.ToString(typ))
	if !slices.Contains(notify.ConditionTypes, condType) {
		return improperly(`Condition "%s" key must be one of "%v"`, KeyConditionType, notify.ConditionTypes)
	}

	switch condType {
	case notify.ConditionFunction:
		name := cast.ToString(cond[KeyConditionFunction])
		if _, found := predicates.Lookup(name); name == "" || !found {
			return improperly(`Condition "%s" key must be set and have value, or the specified function could not be found.`, KeyConditionFunction)
		}
	case notify.ConditionValue:
		field, ok := cond[KeyConditionField]
		if !ok {
			return improperly(`Condition "%s" key must be set`, KeyConditionField)
		}
		if empty(field) {
			return improperly(`Condition "%s" key is empty`, KeyConditionField)
		}
		value, ok := cond[KeyConditionFieldValue]
		if !ok {
			return improperly(`Condition "%s" key must be set`, KeyConditionFieldValue)
		}
		if empty(value) {
			return improperly(`Condition "%s" key is empty`, KeyConditionFieldValue)
		}
	}
	return nil
}

// empty reports whether v is nil or the zero value of its kind, or an
// empty string, slice or map.
func empty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	default:
		return rv.IsZero()
	}
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}
