package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/docgrove/internal/token"
)

// AssertionError is a failed assertion with enough context to debug it.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, ev := range e.Trace {
		line := fmt.Sprintf("  [%d] %s %s %s", i+1, ev.Kind, ev.Step, ev.Status)
		if ev.Code != "" {
			line += " " + ev.Code
		}
		buf.WriteString(line + "\n")
	}
	return buf.String()
}

// evaluateAssertions checks every assertion against the final state in one
// read transaction. Failures are added to r; the returned error is a store
// failure.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion, r *Result) error {
	if len(assertions) == 0 {
		return nil
	}
	return h.processor.View(ctx, func(st *token.State) error {
		for _, a := range assertions {
			actual, err := h.observe(st, a)
			if err != nil {
				return err
			}
			if want := fmt.Sprint(a.Equals); actual != want {
				r.AddError((&AssertionError{
					Type:     a.Type,
					Expected: describe(a, want),
					Actual:   actual,
					Trace:    r.Trace,
				}).Error())
			}
		}
		return nil
	})
}

// observe reads the state an assertion checks, rendered the way YAML
// scalars print.
func (h *Harness) observe(st *token.State, a Assertion) (string, error) {
	tokenID := h.contract.TokenID(a.Token)
	switch a.Type {
	case AssertBalance:
		bal, _, err := st.Balance(tokenID, h.identities[a.Identity])
		return fmt.Sprint(bal), err
	case AssertSupply:
		supply, err := st.TotalSupply(tokenID)
		return fmt.Sprint(supply), err
	case AssertPaused:
		paused, err := st.IsPaused(tokenID)
		return fmt.Sprint(paused), err
	case AssertFrozen:
		frozen, err := st.IsFrozen(tokenID, h.identities[a.Identity])
		return fmt.Sprint(frozen), err
	case AssertGroupAction:
		return h.groupActionState(st, a)
	}
	return "", fmt.Errorf("unknown assertion type %q", a.Type)
}

func (h *Harness) groupActionState(st *token.State, a Assertion) (string, error) {
	ref, ok := h.refs[a.Action]
	if !ok {
		return "absent", nil
	}
	ga, err := st.GroupAction(h.contract.ID, ref.position, ref.id)
	if err != nil {
		return "", err
	}
	switch {
	case ga == nil:
		return "absent", nil
	case ga.Completed:
		return "completed", nil
	}
	return "pending", nil
}

func describe(a Assertion, want string) string {
	switch {
	case a.Identity != "":
		return fmt.Sprintf("%s of %s on token %d = %s", a.Type, a.Identity, a.Token, want)
	case a.Action != "":
		return fmt.Sprintf("group action %s %s", a.Action, want)
	}
	return fmt.Sprintf("%s of token %d = %s", a.Type, a.Token, want)
}
