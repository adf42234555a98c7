package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ownerID = "8qbHbw2BbbTHBW1sbeqakYXVKRQM8Ne7pLK7m6CVfeR"
	aliceID = "CktRuQ2mttgRGkXJtyksdKHjUdc2C4TgDzyB98oEzy8"
	bobID   = "GgBaCs3NCBuZN12kCJgAW63ydqohFkHEdfdEXBPzLHq"
)

// workspace is a contracts directory plus a sqlite store path.
type workspace struct {
	contracts string
	db        string
	dir       string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	contracts := filepath.Join(dir, "contracts")
	require.NoError(t, os.MkdirAll(contracts, 0o755))
	src, err := os.ReadFile("../harness/testdata/contracts/market.cue")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(contracts, "market.cue"), src, 0o644))
	return workspace{contracts: contracts, db: filepath.Join(dir, "grove.db"), dir: dir}
}

func (w workspace) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(w.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// run executes the root command against the workspace store in json mode
// and decodes the response data into out.
func (w workspace) run(t *testing.T, out any, args ...string) error {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--format", "json", "--backend", "sqlite", "--db", w.db}, args...))
	err := cmd.Execute()

	if out != nil && buf.Len() > 0 {
		resp := struct {
			Status string          `json:"status"`
			Data   json.RawMessage `json:"data"`
		}{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &resp), buf.String())
		if len(resp.Data) > 0 {
			require.NoError(t, json.Unmarshal(resp.Data, out))
		}
	}
	return err
}

const listingsYAML = `documents:
  - type: listing
    owner: ` + aliceID + `
    properties: {title: lamp, price: 30, seller: ` + aliceID + `}
  - type: listing
    owner: ` + bobID + `
    properties: {title: desk, price: 120, seller: ` + bobID + `}
  - type: listing
    owner: ` + aliceID + `
    properties: {title: chair, price: 45, seller: ` + aliceID + `}
`

func prices(docs []map[string]any) []float64 {
	out := make([]float64, len(docs))
	for i, d := range docs {
		out[i], _ = d["price"].(float64)
	}
	return out
}

func TestLoadQueryAndRootHash(t *testing.T) {
	w := newWorkspace(t)
	docs := w.write(t, "listings.yaml", listingsYAML)

	var loaded LoadResult
	require.NoError(t, w.run(t, &loaded, "load", w.contracts, docs, "--block-time", "1000"))
	assert.True(t, loaded.Registered)
	assert.Len(t, loaded.Documents, 3)
	require.NotEmpty(t, loaded.RootHash)

	var root map[string]string
	require.NoError(t, w.run(t, &root, "root-hash"))
	assert.Equal(t, loaded.RootHash, root["root_hash"])

	var asc QueryResult
	require.NoError(t, w.run(t, &asc, "query", w.contracts, "--type", "listing", "--order-by", `[["price","asc"]]`))
	assert.Equal(t, "listing", asc.DocumentType)
	assert.Equal(t, []float64{30, 45, 120}, prices(asc.Documents))

	var ranged QueryResult
	require.NoError(t, w.run(t, &ranged, "query", w.contracts,
		"--sql", "SELECT * FROM listing WHERE price > 40 ORDER BY price DESC"))
	assert.Equal(t, []float64{120, 45}, prices(ranged.Documents))

	var proved QueryResult
	require.NoError(t, w.run(t, &proved, "query", w.contracts, "--type", "listing",
		"--order-by", `[["price","asc"]]`, "--limit", "2", "--prove"))
	assert.Equal(t, []float64{30, 45}, prices(proved.Documents))
	assert.Equal(t, loaded.RootHash, proved.RootHash)
	assert.NotEmpty(t, proved.Proof)

	// loading again keeps the stored contract
	var again LoadResult
	require.NoError(t, w.run(t, &again, "load", w.contracts))
	assert.False(t, again.Registered)
}

func TestQueryCursorPages(t *testing.T) {
	w := newWorkspace(t)
	docs := w.write(t, "listings.yaml", listingsYAML)
	require.NoError(t, w.run(t, nil, "load", w.contracts, docs, "--block-time", "1000"))

	var first QueryResult
	require.NoError(t, w.run(t, &first, "query", w.contracts, "--type", "listing",
		"--order-by", `[["price","asc"]]`, "--limit", "1"))
	require.Len(t, first.Documents, 1)
	cursor, _ := first.Documents[0]["$id"].(string)
	require.NotEmpty(t, cursor)

	var rest QueryResult
	require.NoError(t, w.run(t, &rest, "query", w.contracts, "--type", "listing",
		"--order-by", `[["price","asc"]]`, "--start-after", cursor))
	assert.Equal(t, []float64{45, 120}, prices(rest.Documents))

	var inclusive QueryResult
	require.NoError(t, w.run(t, &inclusive, "query", w.contracts, "--type", "listing",
		"--order-by", `[["price","asc"]]`, "--start-at", cursor))
	assert.Equal(t, []float64{30, 45, 120}, prices(inclusive.Documents))
}

func TestQueryErrorsCarryCodes(t *testing.T) {
	w := newWorkspace(t)
	require.NoError(t, w.run(t, nil, "load", w.contracts))

	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "json", "--backend", "sqlite", "--db", w.db,
		"query", w.contracts, "--type", "listing", "--where", `[["price", ">", 40]]`})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "MISSING_ORDER_BY_FOR_RANGE", resp.Error.Code)
}

func TestQueryFlagsBuildQuery(t *testing.T) {
	w := newWorkspace(t)
	docs := w.write(t, "listings.yaml", listingsYAML)
	require.NoError(t, w.run(t, nil, "load", w.contracts, docs, "--block-time", "1000"))

	var skipped QueryResult
	require.NoError(t, w.run(t, &skipped, "query", w.contracts, "--type", "listing",
		"--where", `[["price", ">", 20]]`, "--order-by", `[["price","asc"]]`, "--offset", "1", "--limit", "1"))
	assert.Equal(t, []float64{45}, prices(skipped.Documents))
	assert.Equal(t, uint16(1), skipped.Skipped)

	var unknown CLIResponse
	err := w.run(t, nil, "query", w.contracts, "--type", "auction")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "json", "--backend", "sqlite", "--db", w.db,
		"query", w.contracts, "--type", "auction"})
	require.Error(t, cmd.Execute())
	require.NoError(t, json.Unmarshal(buf.Bytes(), &unknown))
	require.NotNil(t, unknown.Error)
	assert.Equal(t, "DOCUMENT_TYPE_NOT_FOUND", unknown.Error.Code)

	err = w.run(t, nil, "query", w.contracts, "--type", "listing",
		"--start-at", aliceID, "--start-after", aliceID)
	require.Error(t, err)
}

func TestTokenBatch(t *testing.T) {
	w := newWorkspace(t)
	block := w.write(t, "block.yaml", `block_time: 6000
identities: [`+aliceID+`, `+bobID+`]
transitions:
  - owner: `+ownerID+`
    action: {type: transfer, amount: 400, recipient: `+aliceID+`}
  - owner: `+aliceID+`
    action: {type: transfer, amount: 500, recipient: `+bobID+`}
  - owner: `+aliceID+`
    nonce: 1
    group: {position: 0, proposer: true}
    action: {type: mint, amount: 1000}
`)

	var result TokenResult
	err := w.run(t, &result, "token", w.contracts, block)
	require.Error(t, err, "a denied transition fails the command")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, uint64(6000), result.BlockTime)

	assert.Equal(t, "applied", result.Outcomes[0].Status)
	assert.Equal(t, "transfer", result.Outcomes[0].Action)

	assert.Equal(t, "denied", result.Outcomes[1].Status)
	assert.Equal(t, "INSUFFICIENT_TOKEN_BALANCE", result.Outcomes[1].Code)

	assert.Equal(t, "pending", result.Outcomes[2].Status)
	assert.NotEmpty(t, result.Outcomes[2].GroupAction)
	assert.Equal(t, uint64(1), result.Outcomes[2].Power)
}

func TestValidateContracts(t *testing.T) {
	w := newWorkspace(t)

	var result ValidationResult
	require.NoError(t, w.run(t, &result, "validate", w.contracts))
	assert.True(t, result.Valid)
	require.Len(t, result.Contracts, 1)
	assert.Equal(t, []string{"listing"}, result.Contracts[0].DocumentTypes)
	assert.Equal(t, 1, result.Contracts[0].Groups)
	assert.Equal(t, 1, result.Contracts[0].Tokens)
}
