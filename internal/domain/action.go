package domain

import "encoding/json"

// ActionType discriminates the Action variants.
type ActionType string

const (
	ActionStatus   ActionType = "status"
	ActionPriority ActionType = "priority"
	ActionTags     ActionType = "tags"
	ActionSummary  ActionType = "summary"
	ActionClose    ActionType = "close"
	ActionPostNote ActionType = "post_note"
)

// ActionTypes is the closed vocabulary in prompt order.
var ActionTypes = []ActionType{
	ActionStatus, ActionPriority, ActionTags, ActionSummary, ActionClose, ActionPostNote,
}

// Action is one validated mutation intent. Only the fields of the variant
// named by Type are meaningful:
//
//	status    -> Status
//	priority  -> Priority
//	tags      -> TagNames
//	post_note -> Note
//	summary, close carry no payload.
type Action struct {
	Type     ActionType     `json:"type"`
	Status   TicketStatus   `json:"-"`
	Priority TicketPriority `json:"-"`
	TagNames []string       `json:"-"`
	Note     string         `json:"-"`
}

// MarshalJSON renders the action in the same wire shape the model emits.
func (a Action) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": a.Type}
	switch a.Type {
	case ActionStatus:
		out["value"] = a.Status
	case ActionPriority:
		out["value"] = a.Priority
	case ActionTags:
		names := a.TagNames
		if names == nil {
			names = []string{}
		}
		out["value"] = names
	case ActionPostNote:
		out["note"] = a.Note
	}
	return json.Marshal(out)
}

// AgentResponse is the contract between the language model and the rest of
// the system. Message is always set, even when Actions is empty.
type AgentResponse struct {
	Actions []Action `json:"actions"`
	Message string   `json:"message"`
}
