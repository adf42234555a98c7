package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/docgrove/internal/grove"
	"github.com/roach88/docgrove/internal/value"
)

// ErrContractNotFound is returned when no contract is stored under an id.
var ErrContractNotFound = errors.New("contract not found")

// ErrStaleVersion is returned when Put would not advance a stored contract's
// version.
var ErrStaleVersion = errors.New("contract version must increase")

// Source selects how Resolve obtains a contract: ByID or ByBytes.
type Source interface {
	isSource()
}

// ByID fetches a stored contract.
type ByID struct {
	ID value.Identifier
}

// ByBytes decodes a serialized contract supplied by the caller.
type ByBytes struct {
	Data []byte
}

func (ByID) isSource()    {}
func (ByBytes) isSource() {}

// Registry stores contracts in the grove tree.
type Registry struct {
	logger *slog.Logger
}

// NewRegistry creates a Registry. A nil logger uses slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Put stores c and creates the trees its document types need. Replacing a
// stored contract requires a higher version.
func (r *Registry) Put(tx *grove.Tx, c *DataContract) error {
	if err := c.Validate(); err != nil {
		return err
	}
	existing, err := r.Fetch(tx, c.ID)
	switch {
	case errors.Is(err, ErrContractNotFound):
	case err != nil:
		return err
	case c.Version <= existing.Version:
		return fmt.Errorf("%w: stored %d, got %d", ErrStaleVersion, existing.Version, c.Version)
	}

	data, err := EncodeCBOR(c)
	if err != nil {
		return err
	}
	path := ContractPath(c.ID)
	if err := tx.EnsurePath(path); err != nil {
		return err
	}
	if err := tx.Insert(path, contractBodyKey, grove.NewItem(data)); err != nil {
		return err
	}
	if _, err := tx.InsertTreeIfNotExists(path, documentsKey); err != nil {
		return err
	}
	for _, name := range c.DocumentTypeNames() {
		dt := c.DocumentTypes[name]
		if err := tx.EnsurePath(dt.PrimaryKeyPath()); err != nil {
			return err
		}
	}
	r.logger.Debug("contract stored",
		"contract_id", c.ID.String(),
		"version", c.Version,
		"document_types", len(c.DocumentTypes))
	return nil
}

// Fetch loads the stored contract with the given id.
func (r *Registry) Fetch(tx *grove.Tx, id value.Identifier) (*DataContract, error) {
	data, err := tx.GetItem(ContractPath(id), contractBodyKey)
	if grove.IsAbsence(err) {
		return nil, fmt.Errorf("%w: %s", ErrContractNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return DecodeCBOR(data)
}

// Resolve returns the contract named by src.
func (r *Registry) Resolve(ctx context.Context, tx *grove.Tx, src Source) (*DataContract, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch s := src.(type) {
	case ByID:
		return r.Fetch(tx, s.ID)
	case ByBytes:
		return DecodeCBOR(s.Data)
	default:
		return nil, fmt.Errorf("unknown contract source %T", src)
	}
}
