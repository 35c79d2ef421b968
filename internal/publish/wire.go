package publish

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
)

type xmlField struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type xmlDoc struct {
	XMLName xml.Name   `xml:"doc"`
	Fields  []xmlField `xml:"field"`
}

type xmlAdd struct {
	XMLName xml.Name `xml:"add"`
	Docs    []xmlDoc `xml:"doc"`
}

// EncodeAdd renders a batch of documents as a Solr XML add operation. Every
// row of every document (children included) becomes one <doc>; multi-value
// cells are split on the field delimiter into repeated <field> elements.
// pkName, when non-empty, renames the primary-key field on the wire.
func EncodeAdd(docs []*models.Document, pkName string) ([]byte, error) {
	add := xmlAdd{}
	for _, doc := range docs {
		doc.Walk(func(d *models.Document) {
			if d.Schema == nil {
				return
			}
			pk := d.Schema.PrimaryKey()
			for _, row := range d.Rows {
				add.Docs = append(add.Docs, encodeRow(d.Schema, row, pk, pkName))
			}
		})
	}

	var buf bytes.Buffer
	encoder := xml.NewEncoder(&buf)
	encoder.Indent("", "  ")
	if err := encoder.Encode(add); err != nil {
		return nil, fmt.Errorf("failed to encode add operation: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode add operation: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func encodeRow(schema *models.Schema, row models.Row, pk *models.FieldDefinition, pkName string) xmlDoc {
	out := xmlDoc{}
	for i := range schema.Fields {
		field := &schema.Fields[i]
		value, ok := row[field.Name]
		if !ok || value == "" {
			continue
		}

		wireName := field.Name
		if pkName != "" && pk != nil && field.Name == pk.Name {
			wireName = pkName
		}

		if field.MultiValue {
			for _, part := range strings.Split(value, field.MVDelimiter()) {
				part = strings.TrimSpace(part)
				if part != "" {
					out.Fields = append(out.Fields, xmlField{Name: wireName, Value: part})
				}
			}
			continue
		}
		out.Fields = append(out.Fields, xmlField{Name: wireName, Value: value})
	}
	return out
}

// commitXML and optimizeXML are the standalone operation payloads.
const (
	commitXML   = "<commit/>\n"
	optimizeXML = "<optimize/>\n"
)
