package models

import (
	"time"
)

// Account is the billing record consulted by the admission gate.
type Account struct {
	ID        string    `json:"id"`
	Credits   float64   `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AdmissionDecision is the transient outcome of a pre-flight credit check.
// It is computed fresh on every start request and never persisted.
type AdmissionDecision struct {
	Approved       bool     `json:"approved"`
	Reason         string   `json:"reason,omitempty"`
	CurrentBalance *float64 `json:"current_balance,omitempty"`
}
