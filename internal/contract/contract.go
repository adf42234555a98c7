package contract

import (
	"encoding/binary"
	"fmt"
	"maps"
	"sort"

	"github.com/roach88/docgrove/internal/value"
)

// Tree roots owned by contracts.
var (
	ContractsRootKey = []byte{64}
	contractBodyKey  = []byte{0}
	documentsKey     = []byte{1}
)

// DataContract is a loaded, validated contract.
type DataContract struct {
	ID            value.Identifier
	OwnerID       value.Identifier
	Version       uint32
	DocumentTypes map[string]*DocumentType
	Groups        map[uint16]Group
	Tokens        map[uint16]*TokenConfiguration
}

// DocumentType returns the document type called name.
func (c *DataContract) DocumentType(name string) (*DocumentType, bool) {
	dt, ok := c.DocumentTypes[name]
	return dt, ok
}

// Group returns the group at position.
func (c *DataContract) Group(position uint16) (Group, bool) {
	g, ok := c.Groups[position]
	return g, ok
}

// Token returns the token configuration at position.
func (c *DataContract) Token(position uint16) (*TokenConfiguration, bool) {
	t, ok := c.Tokens[position]
	return t, ok
}

// TokenID derives the id of the token at position.
func (c *DataContract) TokenID(position uint16) value.Identifier {
	return TokenID(c.ID, position)
}

// TokenID derives a token id from its contract and position.
func TokenID(contractID value.Identifier, position uint16) value.Identifier {
	var pos [2]byte
	binary.BigEndian.PutUint16(pos[:], position)
	return value.HashIdentifier(value.DomainToken, contractID.Bytes(), pos[:])
}

// DocumentTypeNames returns the document type names sorted.
func (c *DataContract) DocumentTypeNames() []string {
	names := make([]string, 0, len(c.DocumentTypes))
	for name := range c.DocumentTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ContractPath returns the layer holding one contract.
func ContractPath(id value.Identifier) [][]byte {
	return [][]byte{ContractsRootKey, id.Bytes()}
}

// DocumentTypePath returns [[64], contract id, [1], name].
func DocumentTypePath(contractID value.Identifier, name string) [][]byte {
	return [][]byte{ContractsRootKey, contractID.Bytes(), documentsKey, []byte(name)}
}

// Validate checks internal consistency and binds document types to the
// contract id.
func (c *DataContract) Validate() error {
	if c.ID.IsZero() {
		return fmt.Errorf("contract id is empty")
	}
	for name, dt := range c.DocumentTypes {
		if dt.Name != name {
			return fmt.Errorf("document type %q registered under %q", dt.Name, name)
		}
		dt.contractID = c.ID
		if err := dt.validate(); err != nil {
			return err
		}
	}
	for pos, g := range c.Groups {
		if err := g.validate(); err != nil {
			return fmt.Errorf("group %d: %w", pos, err)
		}
	}
	for pos, tok := range c.Tokens {
		tok.Normalize()
		if tok.MainControlGroup != nil {
			if _, ok := c.Groups[*tok.MainControlGroup]; !ok {
				return fmt.Errorf("token %d: main control group %d does not exist", pos, *tok.MainControlGroup)
			}
		}
		for _, t := range tok.Takers() {
			if g, ok := t.(GroupTaker); ok {
				if _, exists := c.Groups[g.Position]; !exists {
					return fmt.Errorf("token %d: group %d does not exist", pos, g.Position)
				}
			}
		}
		if tok.MaxSupply != nil && tok.BaseSupply > *tok.MaxSupply {
			return fmt.Errorf("token %d: base supply %d exceeds max supply %d", pos, tok.BaseSupply, *tok.MaxSupply)
		}
	}
	return nil
}

// Clone returns a deep copy whose token configurations may be changed
// without affecting c.
func (c *DataContract) Clone() *DataContract {
	out := &DataContract{
		ID:            c.ID,
		OwnerID:       c.OwnerID,
		Version:       c.Version,
		DocumentTypes: make(map[string]*DocumentType, len(c.DocumentTypes)),
		Groups:        make(map[uint16]Group, len(c.Groups)),
		Tokens:        make(map[uint16]*TokenConfiguration, len(c.Tokens)),
	}
	for name, dt := range c.DocumentTypes {
		cp := *dt
		cp.Properties = maps.Clone(dt.Properties)
		cp.Indexes = make([]Index, len(dt.Indexes))
		for i, idx := range dt.Indexes {
			cp.Indexes[i] = Index{Name: idx.Name, Unique: idx.Unique, Properties: append([]IndexProperty(nil), idx.Properties...)}
		}
		out.DocumentTypes[name] = &cp
	}
	for pos, g := range c.Groups {
		out.Groups[pos] = g.clone()
	}
	for pos, t := range c.Tokens {
		out.Tokens[pos] = t.Clone()
	}
	return out
}
