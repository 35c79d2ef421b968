package pipeline

import (
	"fmt"
	"strings"

	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
)

// Transformer is one unit of the transform pipeline: a pure mapping from an
// input document to an output document.
type Transformer interface {
	Name() string
	Transform(doc *models.Document) (*models.Document, error)
}

// TransformPipeline is the ordered sequence of transformation units applied to
// every document between extraction and publishing.
type TransformPipeline struct {
	units []Transformer
}

// NewTransformPipeline creates a pipeline from the given units in order.
func NewTransformPipeline(units ...Transformer) *TransformPipeline {
	return &TransformPipeline{units: units}
}

// BuildPipeline resolves an ordered list of built-in unit names from
// configuration. An unknown name is a fatal configuration error.
func BuildPipeline(names []string) (*TransformPipeline, error) {
	units := make([]Transformer, 0, len(names))
	for _, name := range names {
		switch name {
		case "trim":
			units = append(units, &FieldTrimmer{})
		case "defaults":
			units = append(units, &DefaultFiller{})
		case "mv_normalize":
			units = append(units, &MultiValueNormalizer{})
		case "validate":
			units = append(units, &SchemaValidator{})
		default:
			return nil, fmt.Errorf("unknown transform unit: %s", name)
		}
	}
	return NewTransformPipeline(units...), nil
}

// Validate checks the pipeline configuration before any crawl begins.
func (p *TransformPipeline) Validate() error {
	seen := make(map[string]bool, len(p.units))
	for _, unit := range p.units {
		if unit == nil {
			return fmt.Errorf("transform pipeline contains a nil unit")
		}
		if seen[unit.Name()] {
			return fmt.Errorf("duplicate transform unit: %s", unit.Name())
		}
		seen[unit.Name()] = true
	}
	return nil
}

// Run applies every unit in order. The first failing unit aborts the run.
func (p *TransformPipeline) Run(doc *models.Document) (*models.Document, error) {
	current := doc
	for _, unit := range p.units {
		next, err := unit.Transform(current)
		if err != nil {
			return nil, fmt.Errorf("transform unit %s: %w", unit.Name(), err)
		}
		current = next
	}
	return current, nil
}

// FieldTrimmer strips leading/trailing whitespace from every field value.
type FieldTrimmer struct{}

func (t *FieldTrimmer) Name() string { return "trim" }

func (t *FieldTrimmer) Transform(doc *models.Document) (*models.Document, error) {
	doc.Walk(func(d *models.Document) {
		for _, row := range d.Rows {
			for name, value := range row {
				row[name] = strings.TrimSpace(value)
			}
		}
	})
	return doc, nil
}

// DefaultFiller assigns schema default values to empty fields.
type DefaultFiller struct{}

func (t *DefaultFiller) Name() string { return "defaults" }

func (t *DefaultFiller) Transform(doc *models.Document) (*models.Document, error) {
	doc.Walk(func(d *models.Document) {
		if d.Schema == nil {
			return
		}
		for _, row := range d.Rows {
			for i := range d.Schema.Fields {
				field := &d.Schema.Fields[i]
				if field.Default != "" && row[field.Name] == "" {
					row[field.Name] = field.Default
				}
			}
		}
	})
	return doc, nil
}

// MultiValueNormalizer rewrites multi-value cells delimited with the
// document's own delimiter (Options.MVDelimiter, set by tabular drivers) to
// the schema field delimiter.
type MultiValueNormalizer struct{}

func (t *MultiValueNormalizer) Name() string { return "mv_normalize" }

func (t *MultiValueNormalizer) Transform(doc *models.Document) (*models.Document, error) {
	doc.Walk(func(d *models.Document) {
		if d.Schema == nil || d.Options.MVDelimiter == "" {
			return
		}
		from := d.Options.MVDelimiter
		for _, row := range d.Rows {
			for i := range d.Schema.Fields {
				field := &d.Schema.Fields[i]
				if !field.MultiValue {
					continue
				}
				to := field.MVDelimiter()
				if from == to {
					continue
				}
				if value, ok := row[field.Name]; ok && value != "" {
					row[field.Name] = strings.ReplaceAll(value, from, to)
				}
			}
		}
		d.Options.MVDelimiter = ""
	})
	return doc, nil
}

// SchemaValidator fails the document when any row violates the schema. Placed
// last in the pipeline so publishers only ever see conformant documents.
type SchemaValidator struct{}

func (t *SchemaValidator) Name() string { return "validate" }

func (t *SchemaValidator) Transform(doc *models.Document) (*models.Document, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}
