package contract

import (
	"fmt"
	"slices"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/docgrove/internal/value"
)

// System fields every document carries.
const (
	FieldID        = "$id"
	FieldOwnerID   = "$ownerId"
	FieldRevision  = "$revision"
	FieldCreatedAt = "$createdAt"
	FieldUpdatedAt = "$updatedAt"
)

// MaxKeyValueSize bounds a serialized index key segment.
const MaxKeyValueSize = 255

// PropertyType names the declared type of a document property.
type PropertyType string

const (
	TypeString     PropertyType = "string"
	TypeInteger    PropertyType = "integer"
	TypeBoolean    PropertyType = "boolean"
	TypeBytes      PropertyType = "bytes"
	TypeIdentifier PropertyType = "identifier"
	TypeDate       PropertyType = "date"
)

func (t PropertyType) valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeBoolean, TypeBytes, TypeIdentifier, TypeDate:
		return true
	}
	return false
}

// Property is one declared document property.
type Property struct {
	Name      string
	Type      PropertyType
	MaxLength int
	Required  bool
}

// DocumentType is a named schema within a contract.
type DocumentType struct {
	Name         string
	Properties   map[string]Property
	Indexes      []Index
	KeepsHistory bool
	Mutable      bool

	contractID value.Identifier
}

// ContractID returns the owning contract's id.
func (dt *DocumentType) ContractID() value.Identifier { return dt.contractID }

// DocumentTypePath returns [[64], contract id, [1], name].
func (dt *DocumentType) DocumentTypePath() [][]byte {
	return DocumentTypePath(dt.contractID, dt.Name)
}

// PrimaryKeyPath returns the layer holding documents keyed by id.
func (dt *DocumentType) PrimaryKeyPath() [][]byte {
	return append(dt.DocumentTypePath(), []byte{0})
}

// FieldType returns the type of a system field or declared property.
func (dt *DocumentType) FieldType(field string) (PropertyType, bool) {
	switch field {
	case FieldID, FieldOwnerID:
		return TypeIdentifier, true
	case FieldCreatedAt, FieldUpdatedAt:
		return TypeDate, true
	case FieldRevision:
		return TypeInteger, true
	}
	p, ok := dt.Properties[field]
	if !ok {
		return "", false
	}
	return p.Type, true
}

// IsUniqueIndexed reports whether field is the first property of a unique
// index.
func (dt *DocumentType) IsUniqueIndexed(field string) bool {
	for _, idx := range dt.Indexes {
		if idx.Unique && len(idx.Properties) > 0 && idx.Properties[0].Name == field {
			return true
		}
	}
	return false
}

// SerializeValueForKey turns a field value into the bytes used as a tree key.
// Null serializes to an empty key. Integers and dates encode with the sign bit
// flipped so byte order matches numeric order.
func (dt *DocumentType) SerializeValueForKey(field string, v value.Value) ([]byte, error) {
	if value.IsNull(v) {
		return []byte{}, nil
	}
	typ, ok := dt.FieldType(field)
	if !ok {
		return nil, fmt.Errorf("field %q is not defined on document type %q", field, dt.Name)
	}
	out, err := serializeTyped(typ, v)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", field, err)
	}
	if len(out) > MaxKeyValueSize {
		return nil, fmt.Errorf("field %q: serialized value is %d bytes, max %d", field, len(out), MaxKeyValueSize)
	}
	return out, nil
}

func serializeTyped(typ PropertyType, v value.Value) ([]byte, error) {
	switch typ {
	case TypeIdentifier:
		id, err := value.IdentifierFromValue(v)
		if err != nil {
			return nil, err
		}
		return id.Bytes(), nil
	case TypeInteger:
		n, ok := v.(value.Int)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %s", value.Kind(v))
		}
		return EncodeI64(int64(n)), nil
	case TypeDate:
		n, ok := v.(value.Int)
		if !ok || n < 0 {
			return nil, fmt.Errorf("expected non-negative timestamp, got %s", value.Kind(v))
		}
		return EncodeU64(uint64(n)), nil
	case TypeString:
		s, ok := v.(value.String)
		if !ok {
			return nil, fmt.Errorf("expected string, got %s", value.Kind(v))
		}
		return []byte(norm.NFC.String(string(s))), nil
	case TypeBoolean:
		b, ok := v.(value.Bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %s", value.Kind(v))
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case TypeBytes:
		switch b := v.(type) {
		case value.Bytes:
			return slices.Clone([]byte(b)), nil
		case value.Identifier:
			return b.Bytes(), nil
		}
		return nil, fmt.Errorf("expected bytes, got %s", value.Kind(v))
	}
	return nil, fmt.Errorf("unknown property type %q", typ)
}

// NormalizeValue coerces v to the canonical Value for field: base58 strings
// and 32-byte blobs become Identifiers for identifier fields.
func (dt *DocumentType) NormalizeValue(field string, v value.Value) (value.Value, error) {
	if value.IsNull(v) {
		return value.Null{}, nil
	}
	typ, ok := dt.FieldType(field)
	if !ok {
		return nil, fmt.Errorf("field %q is not defined on document type %q", field, dt.Name)
	}
	switch typ {
	case TypeIdentifier:
		id, err := value.IdentifierFromValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		return id, nil
	case TypeString:
		if s, ok := v.(value.String); ok {
			return value.String(norm.NFC.String(string(s))), nil
		}
	case TypeBytes:
		if id, ok := v.(value.Identifier); ok {
			return value.Bytes(id.Bytes()), nil
		}
	}
	if _, err := serializeTyped(typ, v); err != nil {
		return nil, fmt.Errorf("field %q: %w", field, err)
	}
	return v, nil
}

func (dt *DocumentType) validate() error {
	if dt.Name == "" {
		return fmt.Errorf("document type name is empty")
	}
	for name, p := range dt.Properties {
		if !p.Type.valid() {
			return fmt.Errorf("document type %q: property %q has unknown type %q", dt.Name, name, p.Type)
		}
	}
	seen := make(map[string]bool, len(dt.Indexes))
	for _, idx := range dt.Indexes {
		if len(idx.Properties) == 0 {
			return fmt.Errorf("document type %q: index %q has no properties", dt.Name, idx.Name)
		}
		if seen[idx.Name] {
			return fmt.Errorf("document type %q: duplicate index name %q", dt.Name, idx.Name)
		}
		seen[idx.Name] = true
		for _, p := range idx.Properties {
			if _, ok := dt.FieldType(p.Name); !ok {
				return fmt.Errorf("document type %q: index %q references unknown property %q", dt.Name, idx.Name, p.Name)
			}
		}
	}
	return nil
}
