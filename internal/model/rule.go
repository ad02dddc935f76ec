package model

import (
	"fmt"
	"sort"
	"time"
)

// TriggerType selects which events fire an automation rule.
type TriggerType string

const (
	TriggerOnCreate      TriggerType = "ON_CREATE"
	TriggerOnUpdate      TriggerType = "ON_UPDATE"
	TriggerOnDelete      TriggerType = "ON_DELETE"
	TriggerOnFieldChange TriggerType = "ON_FIELD_CHANGE"
	TriggerOnTime        TriggerType = "ON_TIME"
	TriggerOnWebhook     TriggerType = "ON_WEBHOOK"
)

// TriggerTypes lists every valid trigger type.
var TriggerTypes = []TriggerType{
	TriggerOnCreate, TriggerOnUpdate, TriggerOnDelete,
	TriggerOnFieldChange, TriggerOnTime, TriggerOnWebhook,
}

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	for _, known := range TriggerTypes {
		if t == known {
			return true
		}
	}
	return false
}

// External reports whether the trigger is fired by a scheduler or webhook
// receiver rather than by a mutation.
func (t TriggerType) External() bool {
	return t == TriggerOnTime || t == TriggerOnWebhook
}

// ActionType selects what an automation action does.
type ActionType string

const (
	ActionCreateObject ActionType = "CREATE_OBJECT"
	ActionUpdateObject ActionType = "UPDATE_OBJECT"
	ActionSendEmail    ActionType = "SEND_EMAIL"
	ActionSendWhatsApp ActionType = "SEND_WHATSAPP"
	ActionCreateTask   ActionType = "CREATE_TASK"
	ActionSendAlert    ActionType = "SEND_ALERT"
	ActionCallWebhook  ActionType = "CALL_WEBHOOK"
)

// ActionTypes lists every valid action type.
var ActionTypes = []ActionType{
	ActionCreateObject, ActionUpdateObject, ActionSendEmail, ActionSendWhatsApp,
	ActionCreateTask, ActionSendAlert, ActionCallWebhook,
}

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	for _, known := range ActionTypes {
		if a == known {
			return true
		}
	}
	return false
}

// NeedsTargetType reports whether the action requires a target entity type.
func (a ActionType) NeedsTargetType() bool {
	return a == ActionCreateObject || a == ActionUpdateObject
}

// Operator is a condition clause comparison.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpNotEquals  Operator = "not_equals"
	OpGT         Operator = "gt"
	OpLT         Operator = "lt"
	OpGTE        Operator = "gte"
	OpLTE        Operator = "lte"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpIsEmpty    Operator = "is_empty"
	OpIsNotEmpty Operator = "is_not_empty"
	OpChanged    Operator = "changed"
	OpChangedTo  Operator = "changed_to"
)

// Operators lists every valid condition operator.
var Operators = []Operator{
	OpEquals, OpNotEquals, OpGT, OpLT, OpGTE, OpLTE,
	OpContains, OpStartsWith, OpEndsWith, OpIsEmpty, OpIsNotEmpty,
	OpChanged, OpChangedTo,
}

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	for _, known := range Operators {
		if o == known {
			return true
		}
	}
	return false
}

// NeedsPrior reports whether the operator compares against the prior
// snapshot.
func (o Operator) NeedsPrior() bool {
	return o == OpChanged || o == OpChangedTo
}

// TakesValue reports whether the operator reads the clause value.
func (o Operator) TakesValue() bool {
	switch o {
	case OpIsEmpty, OpIsNotEmpty, OpChanged:
		return false
	}
	return true
}

// Condition is one clause of a rule's implicit-AND condition list.
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// AutomationRule is a trigger, a condition list, and the actions to run
// when both match.
type AutomationRule struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Owner       string      `json:"owner,omitempty"`
	Active      bool        `json:"is_active"`
	Trigger     TriggerType `json:"trigger_type"`
	// EntityType is the entity type the rule watches.
	EntityType string `json:"trigger_model"`
	// TriggerField is only meaningful for ON_FIELD_CHANGE.
	TriggerField string             `json:"trigger_field_name,omitempty"`
	Conditions   []Condition        `json:"conditions"`
	Actions      []AutomationAction `json:"actions"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// AutomationAction is one step of a rule. Params values may contain
// {{instance.path}} placeholders.
type AutomationAction struct {
	ID         int64          `json:"id"`
	Order      int            `json:"order"`
	Type       ActionType     `json:"action_type"`
	TargetType string         `json:"target_model,omitempty"`
	Params     map[string]any `json:"action_parameters"`
}

// String identifies the action in log lines.
func (a AutomationAction) String() string {
	return fmt.Sprintf("%s#%d", a.Type, a.Order)
}

// SortActions orders actions by ascending Order, breaking ties by insertion
// (ID, then slice position for unsaved actions).
func SortActions(actions []AutomationAction) {
	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Order != actions[j].Order {
			return actions[i].Order < actions[j].Order
		}
		return actions[i].ID < actions[j].ID
	})
}

// Channel is an outbound messaging channel.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelWhatsApp Channel = "WHATSAPP"
)

// Sender is a configured outbound identity (email address or WhatsApp
// number) belonging to an owner.
type Sender struct {
	ID         string  `json:"id"`
	Owner      string  `json:"owner"`
	Channel    Channel `json:"channel"`
	Identifier string  `json:"identifier"`
	IsDefault  bool    `json:"is_default"`
}

// CommunicationStatus tracks delivery of an outbound message.
type CommunicationStatus string

const (
	StatusSent   CommunicationStatus = "SENT"
	StatusFailed CommunicationStatus = "FAILED"
)

// Communication is the outbox record written for every automated message.
type Communication struct {
	ID        string              `json:"id"`
	Contact   EntityRef           `json:"contact"`
	SenderID  string              `json:"sender_id"`
	Channel   Channel             `json:"channel"`
	Recipient string              `json:"recipient"`
	Subject   string              `json:"subject,omitempty"`
	Content   string              `json:"content"`
	Status    CommunicationStatus `json:"status"`
	Rule      string              `json:"rule,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}
