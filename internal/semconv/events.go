package semconv

import (
	"strings"

	"github.com/Jeffail/gabs/v2"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

const (
	choiceEvent       = "gen_ai.choice"
	legacyContentAttr = "gen_ai.event.content"
)

// EventAdapter turns GenAI message events into chat messages. Every
// gen_ai.<role>.message event becomes one input message; gen_ai.choice
// events become the completion.
type EventAdapter struct{}

// NewEventAdapter creates the event-based adapter.
func NewEventAdapter() *EventAdapter { return &EventAdapter{} }

func (a *EventAdapter) Name() string { return "gen_ai.events" }

func (a *EventAdapter) Process(bag *Bag, out *Features) error {
	var prompt, completion []any
	for _, ev := range bag.Events {
		switch {
		case ev.Name == choiceEvent:
			completion = append(completion, choiceMessage(ev))
		case isInputEvent(ev.Name):
			role := strings.TrimSuffix(strings.TrimPrefix(ev.Name, "gen_ai."), ".message")
			prompt = append(prompt, eventMessage(ev.Attributes, role))
		}
	}
	if len(prompt) > 0 {
		out.Set(KeyInputsPrompt, prompt)
	}
	if len(completion) > 0 {
		out.Set(KeyOutputsCompletion, completion)
	}
	return nil
}

func isInputEvent(name string) bool {
	return strings.HasPrefix(name, "gen_ai.") && strings.HasSuffix(name, ".message")
}

func choiceMessage(ev model.SpanEvent) map[string]any {
	if msg, ok := ev.Attributes["message"].(map[string]any); ok {
		return eventMessage(msg, "assistant")
	}
	if s, ok := ev.Attributes["message"].(string); ok {
		if parsed, ok := parseJSONObject(s); ok {
			return eventMessage(parsed, "assistant")
		}
	}
	return eventMessage(ev.Attributes, "assistant")
}

// eventMessage builds a {role, content, tool_calls} message from event
// attributes. Older instrumentations put the whole message in a JSON string
// under gen_ai.event.content.
func eventMessage(attrs map[string]any, defaultRole string) map[string]any {
	if s, ok := attrs[legacyContentAttr].(string); ok {
		if parsed, ok := parseJSONObject(s); ok {
			attrs = parsed
		}
	}

	msg := map[string]any{"role": defaultRole, "content": attrs["content"]}
	if role, ok := attrs["role"].(string); ok && role != "" {
		msg["role"] = role
	}
	if calls, ok := attrs["tool_calls"]; ok && calls != nil {
		if s, ok := calls.(string); ok {
			if parsed, err := gabs.ParseJSON([]byte(s)); err == nil {
				calls = parsed.Data()
			}
		}
		msg["tool_calls"] = calls
	}
	return msg
}

func parseJSONObject(s string) (map[string]any, bool) {
	parsed, err := gabs.ParseJSON([]byte(s))
	if err != nil {
		return nil, false
	}
	obj, ok := parsed.Data().(map[string]any)
	return obj, ok
}
