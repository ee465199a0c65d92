package core

import (
	"encoding/json"
	"sort"
	"strings"
)

// DefaultCatalog lists the event types partners can subscribe to, each with
// one illustrative sample payload used for onboarding and sandbox triggers.
func DefaultCatalog() []EventDefinition {
	return []EventDefinition{
		{
			Type:        "hr.person.created",
			Description: "A person record was created",
			Sample: map[string]any{
				"id":    "per_123",
				"name":  "Jane Doe",
				"email": "jane.doe@example.com",
			},
		},
		{
			Type:        "hr.person.updated",
			Description: "A person record was updated",
			Sample: map[string]any{
				"id":      "per_123",
				"changes": []any{"email"},
			},
		},
		{
			Type:        "hr.person.deleted",
			Description: "A person record was removed",
			Sample: map[string]any{
				"id": "per_123",
			},
		},
		{
			Type:        "payment.succeeded",
			Description: "A payment settled successfully",
			Sample: map[string]any{
				"id":       "pay_456",
				"amount":   4200,
				"currency": "USD",
			},
		},
		{
			Type:        "payment.failed",
			Description: "A payment attempt was declined",
			Sample: map[string]any{
				"id":     "pay_456",
				"reason": "insufficient_funds",
			},
		},
	}
}

type catalog struct {
	definitions map[string]EventDefinition
}

func newCatalog(definitions []EventDefinition) catalog {
	byType := make(map[string]EventDefinition, len(definitions))
	for _, definition := range definitions {
		trimmed := strings.TrimSpace(definition.Type)
		if trimmed == "" {
			continue
		}
		definition.Type = trimmed
		byType[trimmed] = definition
	}
	return catalog{definitions: byType}
}

func (c catalog) list() []EventDefinition {
	out := make([]EventDefinition, 0, len(c.definitions))
	for _, definition := range c.definitions {
		out = append(out, definition)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Type < out[j].Type
	})
	return out
}

func (c catalog) sample(eventType string) (map[string]any, bool) {
	definition, ok := c.definitions[strings.TrimSpace(eventType)]
	if !ok {
		return nil, false
	}
	return copyAnyMap(definition.Sample), true
}

// PayloadSummary renders a compact JSON projection of a payload for the
// free-text delivery log search. Marshal failures collapse to empty.
func PayloadSummary(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	const maxSummaryLen = 256
	summary := string(raw)
	if len(summary) > maxSummaryLen {
		summary = summary[:maxSummaryLen]
	}
	return summary
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
