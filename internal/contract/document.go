package contract

import (
	"fmt"

	"github.com/roach88/docgrove/internal/value"
)

// Document is a stored document: system fields plus user properties.
type Document struct {
	ID         value.Identifier
	OwnerID    value.Identifier
	Revision   uint64
	CreatedAt  uint64
	UpdatedAt  uint64
	Properties value.Map
}

// Get returns a system field or property value; missing fields are Null.
func (d *Document) Get(field string) value.Value {
	switch field {
	case FieldID:
		return d.ID
	case FieldOwnerID:
		return d.OwnerID
	case FieldRevision:
		return value.Int(d.Revision)
	case FieldCreatedAt:
		return value.Int(d.CreatedAt)
	case FieldUpdatedAt:
		return value.Int(d.UpdatedAt)
	}
	v, ok := d.Properties[field]
	if !ok {
		return value.Null{}
	}
	return v
}

// RawForField returns the key bytes of field as serialized for dt's indexes.
// The bool is false when the document has no value for field.
func (d *Document) RawForField(field string, dt *DocumentType) ([]byte, bool, error) {
	v := d.Get(field)
	if value.IsNull(v) {
		return nil, false, nil
	}
	raw, err := dt.SerializeValueForKey(field, v)
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Normalize coerces property values to the types dt declares and checks
// required properties and string lengths.
func (d *Document) Normalize(dt *DocumentType) error {
	if d.Properties == nil {
		d.Properties = value.Map{}
	}
	for name, v := range d.Properties {
		prop, ok := dt.Properties[name]
		if !ok {
			return fmt.Errorf("document %s: property %q is not defined on %q", d.ID, name, dt.Name)
		}
		norm, err := dt.NormalizeValue(name, v)
		if err != nil {
			return fmt.Errorf("document %s: %w", d.ID, err)
		}
		if s, ok := norm.(value.String); ok && prop.MaxLength > 0 && len([]rune(string(s))) > prop.MaxLength {
			return fmt.Errorf("document %s: property %q longer than %d characters", d.ID, name, prop.MaxLength)
		}
		d.Properties[name] = norm
	}
	for name, prop := range dt.Properties {
		if prop.Required && value.IsNull(d.Get(name)) {
			return fmt.Errorf("document %s: required property %q is missing", d.ID, name)
		}
	}
	return nil
}

type documentWire struct {
	ID         []byte         `json:"id"`
	OwnerID    []byte         `json:"owner"`
	Revision   uint64         `json:"rev"`
	CreatedAt  uint64         `json:"created"`
	UpdatedAt  uint64         `json:"updated"`
	Properties map[string]any `json:"props"`
}

// MarshalDocument serializes d to canonical CBOR.
func MarshalDocument(d *Document) ([]byte, error) {
	props, _ := value.ToGo(d.Properties).(map[string]any)
	return value.EncodeCBOR(documentWire{
		ID:         d.ID.Bytes(),
		OwnerID:    d.OwnerID.Bytes(),
		Revision:   d.Revision,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
		Properties: props,
	})
}

// UnmarshalDocument parses CBOR produced by MarshalDocument. When dt is not
// nil, property values are normalized against it.
func UnmarshalDocument(data []byte, dt *DocumentType) (*Document, error) {
	var w documentWire
	if err := value.DecodeCBORInto(data, &w); err != nil {
		return nil, fmt.Errorf("document: %w", err)
	}
	id, err := value.IdentifierFromBytes(w.ID)
	if err != nil {
		return nil, fmt.Errorf("document id: %w", err)
	}
	owner, err := value.IdentifierFromBytes(w.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("document owner: %w", err)
	}
	props, err := value.FromGo(w.Properties)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	m, _ := props.(value.Map)
	d := &Document{
		ID:         id,
		OwnerID:    owner,
		Revision:   w.Revision,
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
		Properties: m,
	}
	if dt != nil {
		if err := d.Normalize(dt); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// ToValue renders the document as a Map including system fields.
func (d *Document) ToValue() value.Map {
	out := make(value.Map, len(d.Properties)+5)
	for k, v := range d.Properties {
		out[k] = v
	}
	out[FieldID] = d.ID
	out[FieldOwnerID] = d.OwnerID
	out[FieldRevision] = value.Int(d.Revision)
	out[FieldCreatedAt] = value.Int(d.CreatedAt)
	out[FieldUpdatedAt] = value.Int(d.UpdatedAt)
	return out
}
