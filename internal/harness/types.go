package harness

import (
	"fmt"

	"github.com/google/uuid"
)

// TraceEvent records the observable outcome of one step.
type TraceEvent struct {
	Step string `json:"step"`
	Kind string `json:"kind"` // "query" or "token"

	// Status is ok or error for queries, and the token outcome status for
	// transitions.
	Status string `json:"status"`

	// Action is the token action kind.
	Action string `json:"action,omitempty"`

	// Code is the query error code or token denial code.
	Code string `json:"code,omitempty"`

	// IDs are the aliases of the documents a query returned, in order.
	IDs []string `json:"ids,omitempty"`

	// Proved marks a query whose proof verified against the root hash.
	Proved bool `json:"proved,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// RunID distinguishes executions in logs. It is not part of golden
	// snapshots.
	RunID uuid.UUID `json:"run_id"`

	Scenario string `json:"scenario"`

	// Pass indicates overall success: every step matched its expectation
	// and every assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// RootHash is the grove root after the last step.
	RootHash [32]byte `json:"-"`
}

// NewResult creates a new passing result.
func NewResult(scenario string) *Result {
	return &Result{
		RunID:    uuid.New(),
		Scenario: scenario,
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddErrorf formats and adds a failure.
func (r *Result) AddErrorf(format string, args ...any) {
	r.AddError(fmt.Sprintf(format, args...))
}

// AddTrace appends a step event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
