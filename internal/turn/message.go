package turn

import (
	"encoding/json"
	"fmt"
)

// Role of a transcript entry's author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageKind tags the transcript message variants.
type MessageKind string

const (
	KindText            MessageKind = "text"
	KindPromptOptions   MessageKind = "prompt_options"
	KindDesignPlans     MessageKind = "design_plans"
	KindGeneratedAsset  MessageKind = "generated_asset"
	KindToolUsage       MessageKind = "tool_usage"
	KindModelSuggestion MessageKind = "model_suggestion"
)

// Message is one transcript entry. Each variant carries only the fields its
// kind needs; the untyped content unions of the original client are replaced
// by this tagged set.
type Message interface {
	MessageKind() MessageKind
}

// TextMessage is a plain conversational entry from either side.
type TextMessage struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

func (TextMessage) MessageKind() MessageKind { return KindText }

// PromptOptionsMessage offers refined prompt variants to pick from.
type PromptOptionsMessage struct {
	Original string   `json:"original"`
	Options  []string `json:"options"`
}

func (PromptOptionsMessage) MessageKind() MessageKind { return KindPromptOptions }

// DesignPlan is one design direction with an optional generated reference
// image.
type DesignPlan struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Prompt       string `json:"prompt"`
	ReferenceSrc string `json:"referenceSrc,omitempty"`
}

// DesignPlansMessage offers design directions to pick from.
type DesignPlansMessage struct {
	Original string       `json:"original"`
	Plans    []DesignPlan `json:"plans"`
}

func (DesignPlansMessage) MessageKind() MessageKind { return KindDesignPlans }

// GeneratedAssetMessage announces a successful generation now on the board.
type GeneratedAssetMessage struct {
	AssetID string `json:"assetId"`
	Kind    string `json:"assetKind"`
	Src     string `json:"src"`
	Prompt  string `json:"prompt"`
}

func (GeneratedAssetMessage) MessageKind() MessageKind { return KindGeneratedAsset }

// ToolUsageMessage records a board tool run (upscale, background removal,
// regenerate) against an asset.
type ToolUsageMessage struct {
	Tool    string `json:"tool"`
	AssetID string `json:"assetId"`
	Detail  string `json:"detail,omitempty"`
}

func (ToolUsageMessage) MessageKind() MessageKind { return KindToolUsage }

// ModelSuggestionMessage asks the user to confirm a model switch when the
// prompt's implied medium contradicts the selected model.
type ModelSuggestionMessage struct {
	Current        Model  `json:"current"`
	Suggested      Model  `json:"suggested"`
	OriginalPrompt string `json:"originalPrompt"`
	Reason         string `json:"reason,omitempty"`
}

func (ModelSuggestionMessage) MessageKind() MessageKind { return KindModelSuggestion }

// envelope is the wire form: the variant's fields next to a type tag.
type envelope struct {
	Type MessageKind     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalMessage encodes a message with its kind tag.
func MarshalMessage(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: m.MessageKind(), Data: data})
}

// UnmarshalMessage decodes a tagged message back into its concrete variant.
// Variants come back as values, the same form the orchestrator stores, so a
// decoded transcript type-asserts identically to a live one.
func UnmarshalMessage(b []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case KindText:
		var v TextMessage
		return v, json.Unmarshal(env.Data, &v)
	case KindPromptOptions:
		var v PromptOptionsMessage
		return v, json.Unmarshal(env.Data, &v)
	case KindDesignPlans:
		var v DesignPlansMessage
		return v, json.Unmarshal(env.Data, &v)
	case KindGeneratedAsset:
		var v GeneratedAssetMessage
		return v, json.Unmarshal(env.Data, &v)
	case KindToolUsage:
		var v ToolUsageMessage
		return v, json.Unmarshal(env.Data, &v)
	case KindModelSuggestion:
		var v ModelSuggestionMessage
		return v, json.Unmarshal(env.Data, &v)
	default:
		return nil, fmt.Errorf("unknown message kind %q", env.Type)
	}
}
