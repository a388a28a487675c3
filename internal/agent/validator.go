package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"supportdesk/internal/domain"
)

// Validate parses raw model output into an AgentResponse. Parsing is strict:
// the whole text must be one JSON object, with no surrounding prose or code
// fences. In scoped mode every action is checked against the vocabulary and
// a single bad element rejects the response. In general mode actions are
// dropped unchecked. All failures are *domain.ProtocolError.
func Validate(mode Mode, raw string) (*domain.AgentResponse, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &top); err != nil {
		return nil, protocolErr(raw, "response is not a JSON object: %v", err)
	}

	rawActions, ok := top["actions"]
	if !ok {
		return nil, protocolErr(raw, `missing "actions"`)
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(rawActions, &elems); err != nil || elems == nil {
		return nil, protocolErr(raw, `"actions" must be an array`)
	}

	rawMessage, ok := top["message"]
	if !ok {
		return nil, protocolErr(raw, `missing "message"`)
	}
	var message string
	if err := json.Unmarshal(rawMessage, &message); err != nil || isJSONNull(rawMessage) {
		return nil, protocolErr(raw, `"message" must be a string`)
	}
	if strings.TrimSpace(message) == "" {
		return nil, protocolErr(raw, `"message" must not be empty`)
	}

	resp := &domain.AgentResponse{Actions: []domain.Action{}, Message: message}
	if mode != ModeScoped {
		return resp, nil
	}

	for i, elem := range elems {
		action, err := parseAction(elem)
		if err != nil {
			return nil, protocolErr(raw, "action %d: %v", i, err)
		}
		resp.Actions = append(resp.Actions, action)
	}
	return resp, nil
}

func parseAction(elem json.RawMessage) (domain.Action, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(elem, &fields); err != nil || fields == nil {
		return domain.Action{}, fmt.Errorf("must be an object")
	}

	rawType, ok := fields["type"]
	if !ok {
		return domain.Action{}, fmt.Errorf(`missing "type"`)
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil || isJSONNull(rawType) {
		return domain.Action{}, fmt.Errorf(`"type" must be a string`)
	}

	action := domain.Action{Type: domain.ActionType(typ)}
	switch action.Type {
	case domain.ActionStatus:
		v, err := stringField(fields, "value")
		if err != nil {
			return domain.Action{}, err
		}
		action.Status = domain.TicketStatus(v)
		if !action.Status.Valid() {
			return domain.Action{}, fmt.Errorf("unknown status %q", v)
		}

	case domain.ActionPriority:
		v, err := stringField(fields, "value")
		if err != nil {
			return domain.Action{}, err
		}
		action.Priority = domain.TicketPriority(v)
		if !action.Priority.Valid() {
			return domain.Action{}, fmt.Errorf("unknown priority %q", v)
		}

	case domain.ActionTags:
		rawValue, ok := fields["value"]
		if !ok {
			return domain.Action{}, fmt.Errorf(`tags: missing "value"`)
		}
		var names []string
		if err := json.Unmarshal(rawValue, &names); err != nil || names == nil {
			return domain.Action{}, fmt.Errorf(`tags: "value" must be an array of strings`)
		}
		action.TagNames = names

	case domain.ActionPostNote:
		note, err := stringField(fields, "note")
		if err != nil {
			return domain.Action{}, err
		}
		if strings.TrimSpace(note) == "" {
			return domain.Action{}, fmt.Errorf(`post_note: "note" must not be empty`)
		}
		action.Note = note

	case domain.ActionSummary, domain.ActionClose:
		// no payload

	default:
		return domain.Action{}, fmt.Errorf("unknown action type %q", typ)
	}
	return action, nil
}

func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok {
		return "", fmt.Errorf("missing %q", name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || isJSONNull(raw) {
		return "", fmt.Errorf("%q must be a string", name)
	}
	return s, nil
}

// isJSONNull reports a literal null, which json.Unmarshal accepts silently
// for strings.
func isJSONNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func protocolErr(raw, format string, args ...any) error {
	return &domain.ProtocolError{Reason: fmt.Sprintf(format, args...), Raw: raw}
}
