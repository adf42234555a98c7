package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance scenario: a contract, seeded documents and
// identities, a sequence of query and token steps, and assertions on the
// final token state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Contract is the CUE file declaring exactly one contract. Relative paths
	// resolve against the scenario file.
	Contract string `yaml:"contract"`

	// Identities maps aliases to base58 identities. Every identity is
	// registered before the steps run. Steps refer to them as "@alias".
	Identities map[string]string `yaml:"identities"`

	// Documents are inserted before the steps run.
	Documents []DocumentSpec `yaml:"documents,omitempty"`

	// Steps run in order; each is a query or a token transition.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final token state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// DocumentSpec seeds one document. Its id is generated from the scenario
// name; later steps refer to it by ID.
type DocumentSpec struct {
	Type       string         `yaml:"type"`
	ID         string         `yaml:"id"`
	Owner      string         `yaml:"owner"`
	Properties map[string]any `yaml:"properties"`
}

// Step is one scenario step. Exactly one of Query and Token is set.
type Step struct {
	Name  string     `yaml:"name"`
	Query *QueryStep `yaml:"query,omitempty"`
	Token *TokenStep `yaml:"token,omitempty"`
}

// QueryStep runs a document query, given either as a where/order_by map or
// as SQL.
type QueryStep struct {
	Type       string `yaml:"type,omitempty"`
	Where      []any  `yaml:"where,omitempty"`
	OrderBy    []any  `yaml:"order_by,omitempty"`
	Limit      *int   `yaml:"limit,omitempty"`
	Offset     *int   `yaml:"offset,omitempty"`
	StartAt    string `yaml:"start_at,omitempty"`
	StartAfter string `yaml:"start_after,omitempty"`
	SQL        string `yaml:"sql,omitempty"`

	// Prove runs the query with a proof and verifies it against the root.
	Prove bool `yaml:"prove,omitempty"`

	// ExpectIDs lists the document aliases the query must return, in order.
	ExpectIDs []string `yaml:"expect_ids,omitempty"`

	// ExpectError is the query error code the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// TokenStep submits one token transition in its own batch.
type TokenStep struct {
	Owner         string         `yaml:"owner"`
	Nonce         uint64         `yaml:"nonce,omitempty"`
	TokenPosition uint16         `yaml:"token_position,omitempty"`
	Group         *GroupStep     `yaml:"group,omitempty"`
	Action        map[string]any `yaml:"action"`

	// BlockTime pins the batch block time; otherwise the scenario clock
	// advances.
	BlockTime uint64 `yaml:"block_time,omitempty"`

	// Ref names the group action a proposal creates so co-signers can sign
	// it.
	Ref string `yaml:"ref,omitempty"`

	// Expect is applied, pending, failed or denied:CODE.
	Expect string `yaml:"expect"`
}

// GroupStep attaches a transition to a group action.
type GroupStep struct {
	Position uint16 `yaml:"position"`
	Proposer bool   `yaml:"proposer,omitempty"`
	// Action is the Ref of the proposal being co-signed.
	Action string `yaml:"action,omitempty"`
}

// Assertion validates the final token state.
type Assertion struct {
	// Type is balance, supply, paused, frozen or group_action.
	Type string `yaml:"type"`

	// Identity is the alias whose balance or freeze is checked.
	Identity string `yaml:"identity,omitempty"`

	Token uint16 `yaml:"token,omitempty"`

	// Action is the Ref of a group action (group_action).
	Action string `yaml:"action,omitempty"`

	// Equals is the expected value: an integer, a bool, or "completed" and
	// "pending" for group actions.
	Equals any `yaml:"equals"`
}

// Assertion type constants.
const (
	AssertBalance     = "balance"
	AssertSupply      = "supply"
	AssertPaused      = "paused"
	AssertFrozen      = "frozen"
	AssertGroupAction = "group_action"
)

// Step kinds as recorded in the trace.
const (
	KindQuery = "query"
	KindToken = "token"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected and the contract path is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.Contract != "" && !filepath.IsAbs(s.Contract) {
		s.Contract = filepath.Join(filepath.Dir(path), s.Contract)
	}
	if _, err := os.Stat(s.Contract); err != nil {
		return nil, fmt.Errorf("invalid scenario: contract file: %w", err)
	}
	return s, nil
}

// ParseScenario parses and validates scenario YAML without touching the
// filesystem.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// validateScenario checks that required fields are present and that every
// alias and ref a step uses is declared before it.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Contract == "" {
		return fmt.Errorf("contract is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	docs := make(map[string]bool, len(s.Documents))
	for i, d := range s.Documents {
		switch {
		case d.Type == "":
			return fmt.Errorf("documents[%d]: type is required", i)
		case d.ID == "":
			return fmt.Errorf("documents[%d]: id is required", i)
		case docs[d.ID]:
			return fmt.Errorf("documents[%d]: duplicate id %q", i, d.ID)
		case s.Identities[d.Owner] == "":
			return fmt.Errorf("documents[%d]: unknown owner %q", i, d.Owner)
		}
		docs[d.ID] = true
	}

	refs := make(map[string]bool)
	for i, step := range s.Steps {
		if step.Name == "" {
			return fmt.Errorf("steps[%d]: name is required", i)
		}
		if (step.Query == nil) == (step.Token == nil) {
			return fmt.Errorf("steps[%d]: exactly one of query or token is required", i)
		}
		if q := step.Query; q != nil {
			if q.SQL == "" && q.Type == "" {
				return fmt.Errorf("steps[%d].query: type or sql is required", i)
			}
			for _, alias := range append([]string{q.StartAt, q.StartAfter}, q.ExpectIDs...) {
				if alias != "" && !docs[alias] {
					return fmt.Errorf("steps[%d].query: unknown document %q", i, alias)
				}
			}
			continue
		}
		t := step.Token
		if s.Identities[t.Owner] == "" {
			return fmt.Errorf("steps[%d].token: unknown owner %q", i, t.Owner)
		}
		if t.Action == nil {
			return fmt.Errorf("steps[%d].token: action is required", i)
		}
		if _, _, err := parseExpect(t.Expect); err != nil {
			return fmt.Errorf("steps[%d].token: %w", i, err)
		}
		if g := t.Group; g != nil && !g.Proposer && !refs[g.Action] {
			return fmt.Errorf("steps[%d].token: group action %q is not proposed by an earlier step", i, g.Action)
		}
		if t.Ref != "" {
			if t.Group == nil || !t.Group.Proposer {
				return fmt.Errorf("steps[%d].token: ref needs a group proposal", i)
			}
			refs[t.Ref] = true
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, s.Identities, refs); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, identities map[string]string, refs map[string]bool) error {
	switch a.Type {
	case AssertBalance, AssertFrozen:
		if identities[a.Identity] == "" {
			return fmt.Errorf("assertions[%d]: unknown identity %q for %s", index, a.Identity, a.Type)
		}
	case AssertSupply, AssertPaused:
	case AssertGroupAction:
		if !refs[a.Action] {
			return fmt.Errorf("assertions[%d]: unknown group action %q", index, a.Action)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown type %q", index, a.Type)
	}
	if a.Equals == nil {
		return fmt.Errorf("assertions[%d]: equals is required", index)
	}
	return nil
}

// parseExpect splits a token expectation into status and denial code.
func parseExpect(s string) (status, code string, err error) {
	status, code, _ = strings.Cut(s, ":")
	switch status {
	case "applied", "pending", "failed":
		if code != "" {
			return "", "", fmt.Errorf("expect %q: only denials carry a code", s)
		}
	case "denied":
	default:
		return "", "", fmt.Errorf("expect must be applied, pending, failed or denied:CODE, got %q", s)
	}
	return status, code, nil
}
