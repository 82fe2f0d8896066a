// Package domain holds the domain model produced from interview transcripts
// and the pure functions that check and render it.
//
// A Model is a set of entities with typed attributes, the relations between
// them with cardinalities, and business invariants. Its JSON form uses the
// camelCase keys the generator prompt asks the LLM for (primaryKey,
// entityId), so a reply can be decoded directly into a Model.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// AttributeTypes is the closed set of attribute types.
var AttributeTypes = []string{"string", "number", "integer", "boolean", "date", "datetime", "email", "url", "uuid", "json", "text"}

// Cardinalities is the closed set of relation end cardinalities.
var Cardinalities = []string{"0..1", "1", "0..n", "1..n", "*"}

// InvariantTypes is the closed set of invariant kinds.
var InvariantTypes = []string{"uniqueness", "referential_integrity", "domain_constraint", "cardinality", "business_rule", "temporal", "aggregation"}

// Model is a complete domain model.
type Model struct {
	Entities   []Entity    `json:"entities" validate:"dive"`
	Relations  []Relation  `json:"relations" validate:"dive"`
	Invariants []Invariant `json:"invariants" validate:"dive"`
}

// Entity is a business object with attributes.
type Entity struct {
	ID          string      `json:"id" validate:"required"`
	Name        string      `json:"name" validate:"required"`
	Description *string     `json:"description,omitempty"`
	Attributes  []Attribute `json:"attributes" validate:"dive"`
	PrimaryKey  []string    `json:"primaryKey,omitempty"`
}

// Attribute is one typed field of an entity.
type Attribute struct {
	Name        string  `json:"name" validate:"required"`
	Type        string  `json:"type" validate:"required,oneof=string number integer boolean date datetime email url uuid json text"`
	Description *string `json:"description,omitempty"`
	Required    *bool   `json:"required,omitempty"`
	Unique      *bool   `json:"unique,omitempty"`
}

// IsRequired reports whether the attribute is marked required.
func (a Attribute) IsRequired() bool { return a.Required != nil && *a.Required }

// IsUnique reports whether the attribute is marked unique.
func (a Attribute) IsUnique() bool { return a.Unique != nil && *a.Unique }

// Relation links two entities.
type Relation struct {
	ID          string      `json:"id" validate:"required"`
	Name        string      `json:"name" validate:"required"`
	Description *string     `json:"description,omitempty"`
	From        RelationEnd `json:"from"`
	To          RelationEnd `json:"to"`
	Cardinality Cardinality `json:"cardinality"`
}

// RelationEnd names the entity at one side of a relation.
type RelationEnd struct {
	EntityID string  `json:"entityId" validate:"required"`
	Label    *string `json:"label,omitempty"`
}

// Cardinality gives the multiplicity at each end of a relation.
type Cardinality struct {
	From string `json:"from" validate:"oneof=0..1 1 0..n 1..n *"`
	To   string `json:"to" validate:"oneof=0..1 1 0..n 1..n *"`
}

// Invariant is a business rule over the model.
type Invariant struct {
	ID          string  `json:"id" validate:"required"`
	Name        string  `json:"name" validate:"required"`
	Description *string `json:"description,omitempty"`
	Type        string  `json:"type" validate:"oneof=uniqueness referential_integrity domain_constraint cardinality business_rule temporal aggregation"`
	Expression  string  `json:"expression" validate:"required"`
	Severity    *string `json:"severity,omitempty"`
}

// Entity returns the entity with the given id.
func (m *Model) Entity(id string) (*Entity, bool) {
	for i := range m.Entities {
		if m.Entities[i].ID == id {
			return &m.Entities[i], true
		}
	}
	return nil, false
}

// Decode reads one JSON model from r. With strict set, unknown fields are
// rejected.
func Decode(r io.Reader, strict bool) (*Model, error) {
	dec := json.NewDecoder(r)
	if strict {
		dec.DisallowUnknownFields()
	}
	var m Model
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("domain: decode model: %w", err)
	}
	return &m, nil
}

// Parse is Decode over a byte slice.
func Parse(data []byte, strict bool) (*Model, error) {
	return Decode(bytes.NewReader(data), strict)
}

// Ptr returns a pointer to v. It keeps model literals with optional fields
// readable.
func Ptr[T any](v T) *T { return &v }
