package models

import "time"

// Severity grades a classifier verdict.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Action is what the router does with a message.
type Action string

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionBlock Action = "block"
)

// SafetyCheckResult is the classifier verdict for one message.
type SafetyCheckResult struct {
	Clean    bool     `json:"clean"`
	Flags    []string `json:"flags"`
	Severity Severity `json:"severity"`
	Action   Action   `json:"action"`
}

// SafetyLogEntry records a flagged message sent by a child. Entries are
// owned by the child's parent and are append-only.
type SafetyLogEntry struct {
	ID            string    `json:"id"`
	ChildID       string    `json:"childId"`
	ChildUsername string    `json:"childUsername"`
	Content       string    `json:"content"`
	Flags         []string  `json:"flags"`
	Severity      Severity  `json:"severity"`
	Timestamp     time.Time `json:"timestamp"`
	ChatWith      string    `json:"chatWith"`
}
