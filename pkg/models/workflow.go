package models

// WorkflowDescriptor identifies a registered workflow for display.
// Descriptors are built once at registry construction and never mutated.
type WorkflowDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
