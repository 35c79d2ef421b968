package models

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FieldType enumerates the supported schema field types.
type FieldType string

const (
	FieldTypeText     FieldType = "Text"
	FieldTypeInteger  FieldType = "Integer"
	FieldTypeLong     FieldType = "Long"
	FieldTypeFloat    FieldType = "Float"
	FieldTypeDouble   FieldType = "Double"
	FieldTypeBoolean  FieldType = "Boolean"
	FieldTypeDate     FieldType = "Date"
	FieldTypeTime     FieldType = "Time"
	FieldTypeDateTime FieldType = "DateTime"
)

// Layouts for the temporal field types.
const (
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04:05"
	DateTimeLayout = time.RFC3339
)

// FieldDefinition describes one named field of a document schema.
type FieldDefinition struct {
	Name       string    `yaml:"name" json:"name"`
	Type       FieldType `yaml:"type" json:"type"`
	Title      string    `yaml:"title,omitempty" json:"title,omitempty"`
	Required   bool      `yaml:"required,omitempty" json:"required,omitempty"`
	PrimaryKey bool      `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
	MultiValue bool      `yaml:"multi_value,omitempty" json:"multi_value,omitempty"`
	Delimiter  string    `yaml:"delimiter,omitempty" json:"delimiter,omitempty"` // Multi-value delimiter; default "|"
	Default    string    `yaml:"default,omitempty" json:"default,omitempty"`
	RangeMin   string    `yaml:"range_min,omitempty" json:"range_min,omitempty"`
	RangeMax   string    `yaml:"range_max,omitempty" json:"range_max,omitempty"`
}

// MVDelimiter returns the configured multi-value delimiter or the default.
func (f *FieldDefinition) MVDelimiter() string {
	if f.Delimiter != "" {
		return f.Delimiter
	}
	return "|"
}

// Schema is an ordered set of field definitions. Loaded once at startup and
// treated as immutable across a crawl.
type Schema struct {
	Name   string            `yaml:"name" json:"name"`
	Fields []FieldDefinition `yaml:"fields" json:"fields"`
}

// LoadSchemaFile loads a schema definition from a YAML file.
func LoadSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	var schema Schema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("schema file %s: %w", path, err)
	}
	return &schema, nil
}

// DefaultSchema is the built-in content schema used when no schema file is
// configured: an id primary key plus the fields the source drivers populate.
func DefaultSchema() *Schema {
	return &Schema{
		Name: "content",
		Fields: []FieldDefinition{
			{Name: "id", Type: FieldTypeText, Title: "Identifier", Required: true, PrimaryKey: true},
			{Name: "title", Type: FieldTypeText, Title: "Title"},
			{Name: "content", Type: FieldTypeText, Title: "Content"},
			{Name: "url", Type: FieldTypeText, Title: "URL"},
			{Name: "last_modified", Type: FieldTypeDateTime, Title: "Last Modified"},
		},
	}
}

// Field returns the definition with the given name, or nil.
func (s *Schema) Field(name string) *FieldDefinition {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// PrimaryKey returns the primary-key field definition, or nil.
func (s *Schema) PrimaryKey() *FieldDefinition {
	for i := range s.Fields {
		if s.Fields[i].PrimaryKey {
			return &s.Fields[i]
		}
	}
	return nil
}

// Validate checks structural schema invariants: at least one field, unique
// names, known types, exactly one primary key.
func (s *Schema) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema has no fields")
	}
	seen := make(map[string]bool, len(s.Fields))
	primaryKeys := 0
	for i := range s.Fields {
		field := &s.Fields[i]
		if field.Name == "" {
			return fmt.Errorf("schema field %d has no name", i)
		}
		if seen[field.Name] {
			return fmt.Errorf("duplicate schema field name: %s", field.Name)
		}
		seen[field.Name] = true
		if !validFieldType(field.Type) {
			return fmt.Errorf("field %s has unknown type: %s", field.Name, field.Type)
		}
		if field.PrimaryKey {
			primaryKeys++
		}
	}
	if primaryKeys != 1 {
		return fmt.Errorf("schema requires exactly one primary-key field, found %d", primaryKeys)
	}
	return nil
}

func validFieldType(t FieldType) bool {
	switch t {
	case FieldTypeText, FieldTypeInteger, FieldTypeLong, FieldTypeFloat,
		FieldTypeDouble, FieldTypeBoolean, FieldTypeDate, FieldTypeTime,
		FieldTypeDateTime:
		return true
	}
	return false
}

// ValidateValue checks a single (non multi-value) field value against the
// field's type and optional range.
func (f *FieldDefinition) ValidateValue(value string) error {
	if value == "" {
		if f.Required {
			return fmt.Errorf("field %s is required", f.Name)
		}
		return nil
	}

	switch f.Type {
	case FieldTypeText:
		return nil
	case FieldTypeInteger, FieldTypeLong:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("field %s: %q is not an integer", f.Name, value)
		}
		return f.checkIntRange(n)
	case FieldTypeFloat, FieldTypeDouble:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("field %s: %q is not a number", f.Name, value)
		}
		return nil
	case FieldTypeBoolean:
		switch strings.ToLower(value) {
		case "true", "false", "1", "0", "yes", "no":
			return nil
		}
		return fmt.Errorf("field %s: %q is not a boolean", f.Name, value)
	case FieldTypeDate:
		if _, err := time.Parse(DateLayout, value); err != nil {
			return fmt.Errorf("field %s: %q is not a date (%s)", f.Name, value, DateLayout)
		}
		return nil
	case FieldTypeTime:
		if _, err := time.Parse(TimeLayout, value); err != nil {
			return fmt.Errorf("field %s: %q is not a time (%s)", f.Name, value, TimeLayout)
		}
		return nil
	case FieldTypeDateTime:
		if _, err := time.Parse(DateTimeLayout, value); err != nil {
			return fmt.Errorf("field %s: %q is not a datetime (RFC3339)", f.Name, value)
		}
		return nil
	}
	return fmt.Errorf("field %s has unknown type: %s", f.Name, f.Type)
}

func (f *FieldDefinition) checkIntRange(n int64) error {
	if f.RangeMin != "" {
		if min, err := strconv.ParseInt(f.RangeMin, 10, 64); err == nil && n < min {
			return fmt.Errorf("field %s: %d below range minimum %d", f.Name, n, min)
		}
	}
	if f.RangeMax != "" {
		if max, err := strconv.ParseInt(f.RangeMax, 10, 64); err == nil && n > max {
			return fmt.Errorf("field %s: %d above range maximum %d", f.Name, n, max)
		}
	}
	return nil
}
