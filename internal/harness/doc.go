// Package harness runs docgrove conformance scenarios.
//
// A scenario is a YAML file naming a CUE contract, a set of identity
// aliases, seed documents, and an ordered list of steps. Query steps compile
// and execute document queries (optionally with a verified proof) and check
// the returned documents. Token steps submit token transitions, including
// group proposals and co-signatures, and check their outcome status and
// denial code. Assertions then check balances, supply, pause and freeze
// flags, and group action completion in the final state.
//
// Each scenario runs against a fresh in-memory grove. Document ids are
// derived from the scenario name and block times come from a fixed clock,
// so the trace of a scenario is deterministic and can be compared against a
// golden file:
//
//	go test ./internal/harness -update
//
// regenerates testdata/golden.
package harness
