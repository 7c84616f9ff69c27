package notify

import "slices"

// Rule fires a notification for one endpoint. Rules are immutable after
// construction and safe to share between goroutines.
type Rule struct {
	Endpoint     string
	TriggerCodes map[int]struct{}
	Condition    Condition
	Message      string
}

// NewRule builds a Rule. cond may be nil.
func NewRule(endpoint string, codes []int, cond Condition, message string) Rule {
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return Rule{
		Endpoint:     endpoint,
		TriggerCodes: set,
		Condition:    cond,
		Message:      message,
	}
}

// Triggers reports whether status is one of the rule's trigger codes.
func (r Rule) Triggers(status int) bool {
	_, ok := r.TriggerCodes[status]
	return ok
}

// Codes returns the trigger codes in ascending order.
func (r Rule) Codes() []int {
	codes := make([]int, 0, len(r.TriggerCodes))
	for c := range r.TriggerCodes {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	return codes
}

// PayloadFunc decodes a response body on demand. structured is false when
// the body is not JSON or cannot be decoded.
type PayloadFunc func() (payload any, structured bool)

// Find returns the first rule configured for endpoint.
func Find(rules []Rule, endpoint string) (*Rule, bool) {
	for i := range rules {
		if rules[i].Endpoint == endpoint {
			return &rules[i], true
		}
	}
	return nil, false
}

// Match returns the rule that fires for a response, or nil.
//
// Only the first rule for endpoint is considered. The payload is decoded
// only when that rule has a condition.
func Match(rules []Rule, endpoint string, status int, payload PayloadFunc) *Rule {
	rule, ok := Find(rules, endpoint)
	if !ok || !rule.Triggers(status) {
		return nil
	}
	if rule.Condition == nil {
		return rule
	}
	if payload == nil {
		return nil
	}
	body, structured := payload()
	if !structured {
		return nil
	}
	if !Evaluate(rule.Condition, body) {
		return nil
	}
	return rule
}

// SkipStatus reports whether a response with status carries no body worth
// evaluating.
func SkipStatus(status int) bool {
	return status < 200 || status == 204 || status == 304
}
