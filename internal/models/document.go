package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Row is one record conforming to the document's schema. Values are stored in
// their string form; the schema drives typed validation and index mapping.
type Row map[string]string

// DocumentOptions are the typed options the pipeline reads. Anything else a
// driver wants to attach travels in the open-ended Extra map.
type DocumentOptions struct {
	IsContent   bool   `json:"is_content,omitempty"`   // Row carries extracted body content
	MVDelimiter string `json:"mv_delimiter,omitempty"` // Overrides schema delimiters for this document
}

// Relationship links a document to zero or more owned child documents with a
// type tag and optional properties. Children are owned values; the graph is a
// finite tree with no back-references.
type Relationship struct {
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties,omitempty"`
	Children   []*Document       `json:"children,omitempty"`
}

// Document is the unit of ingestion: a typed record with schema-conformant
// rows, optional child relationships, and an ACL. Constructed by the extract
// stage, mutated only by the transform stage, read-only to the publish stage.
type Document struct {
	Type          string            `json:"type"`
	Schema        *Schema           `json:"schema,omitempty"`
	Rows          []Row             `json:"rows"`
	Options       DocumentOptions   `json:"options,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
	Relationships []Relationship    `json:"relationships,omitempty"`
	ACL           map[string]string `json:"acl,omitempty"` // principal -> permission

	// Provenance
	Locator      string    `json:"locator"` // Source path or URL
	LastModified time.Time `json:"last_modified,omitempty"`
}

// NewDocument creates a document of the given type bound to a schema.
func NewDocument(docType string, schema *Schema) *Document {
	return &Document{
		Type:   docType,
		Schema: schema,
	}
}

// AddRow appends a row.
func (d *Document) AddRow(row Row) {
	d.Rows = append(d.Rows, row)
}

// AddRelationship appends a typed relationship with the given children.
func (d *Document) AddRelationship(relType string, properties map[string]string, children ...*Document) {
	d.Relationships = append(d.Relationships, Relationship{
		Type:       relType,
		Properties: properties,
		Children:   children,
	})
}

// PrimaryValue returns the primary-key value of the first row, or "".
func (d *Document) PrimaryValue() string {
	if d.Schema == nil || len(d.Rows) == 0 {
		return ""
	}
	pk := d.Schema.PrimaryKey()
	if pk == nil {
		return ""
	}
	return d.Rows[0][pk.Name]
}

// SetField sets a field value on the first row, creating it when needed.
func (d *Document) SetField(name, value string) {
	if len(d.Rows) == 0 {
		d.Rows = append(d.Rows, Row{})
	}
	d.Rows[0][name] = value
}

// Field returns a field value from the first row.
func (d *Document) Field(name string) string {
	if len(d.Rows) == 0 {
		return ""
	}
	return d.Rows[0][name]
}

// Validate checks every row against the schema and verifies the primary key
// is assigned on each row.
func (d *Document) Validate() error {
	if d.Schema == nil {
		return fmt.Errorf("document has no schema")
	}
	pk := d.Schema.PrimaryKey()
	for rowIdx, row := range d.Rows {
		for i := range d.Schema.Fields {
			field := &d.Schema.Fields[i]
			value := row[field.Name]
			if field.MultiValue && value != "" {
				continue // Multi-value cells are validated post-split by the transform pipeline
			}
			if err := field.ValidateValue(value); err != nil {
				return fmt.Errorf("row %d: %w", rowIdx, err)
			}
		}
		if pk != nil && row[pk.Name] == "" {
			return fmt.Errorf("row %d: primary-key field %s not assigned", rowIdx, pk.Name)
		}
	}
	for _, rel := range d.Relationships {
		for _, child := range rel.Children {
			if err := child.Validate(); err != nil {
				return fmt.Errorf("relationship %s: %w", rel.Type, err)
			}
		}
	}
	return nil
}

// Walk visits the document and all descendants breadth-first.
func (d *Document) Walk(visit func(*Document)) {
	queue := []*Document{d}
	for len(queue) > 0 {
		doc := queue[0]
		queue = queue[1:]
		visit(doc)
		for _, rel := range doc.Relationships {
			queue = append(queue, rel.Children...)
		}
	}
}

// Marshal serializes the document, schema included, so a downstream phase can
// reload it without re-resolving the schema.
func (d *Document) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}
	return data, nil
}

// UnmarshalDocument deserializes a document produced by Marshal.
func UnmarshalDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to deserialize document: %w", err)
	}
	return &doc, nil
}
