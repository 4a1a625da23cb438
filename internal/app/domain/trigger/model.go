// Package trigger defines event trigger records.
package trigger

import "time"

// Type classifies how a trigger fires.
type Type string

const (
	// TypeEvent fires when a matching event payload arrives.
	TypeEvent Type = "event"
	// TypePrice fires when a price observation satisfies the condition.
	TypePrice Type = "price"
)

// Trigger binds an event condition to a function invocation. Condition is a
// JSON path into the event payload; when Expected is set the extracted value
// must match it, otherwise mere presence fires the trigger.
type Trigger struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	FunctionID string    `json:"function_id"`
	Type       Type      `json:"type"`
	EventName  string    `json:"event_name"`
	Condition  string    `json:"condition,omitempty"`
	Expected   string    `json:"expected,omitempty"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
