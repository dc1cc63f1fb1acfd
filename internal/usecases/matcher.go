package usecases

import (
	"strings"

	"wa_automation/internal/entities"
)

// Match reports whether t fires for msg. Inactive triggers and triggers of
// another connection never match.
func Match(t entities.Trigger, msg NormalizedMessage) bool {
	if !t.IsActive || t.ConnectionID != msg.ConnectionID {
		return false
	}
	switch t.ConditionKind {
	case entities.ConditionMessageReceived:
		return true
	case entities.ConditionKeyword:
		keyword := strings.ToLower(strings.TrimSpace(t.ConditionValue))
		if keyword == "" || msg.MatchText == "" {
			return false
		}
		return strings.Contains(msg.MatchText, keyword)
	case entities.ConditionSpecificSender:
		want := NormalizeNumber(t.ConditionValue)
		return want != "" && want == msg.Sender
	}
	return false
}

// MatchAll returns every trigger that fires for msg, in input order.
func MatchAll(triggers []entities.Trigger, msg NormalizedMessage) []entities.Trigger {
	var matched []entities.Trigger
	for _, t := range triggers {
		if Match(t, msg) {
			matched = append(matched, t)
		}
	}
	return matched
}
