package memory

import (
	"fmt"
	"io"

	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/value"
	"gopkg.in/yaml.v3"
)

// tableDocument is the YAML layout of a table:
//
//	name: medications
//	entity_type: Participant
//	variables:
//	  - name: DRUG
//	    type: text
//	    repeatable: true
//	    occurrence_group: meds
//	rows:
//	  - id: "1"
//	    values:
//	      DRUG: [A, B]
type tableDocument struct {
	Name       string             `yaml:"name"`
	EntityType string             `yaml:"entity_type"`
	Variables  []variableDocument `yaml:"variables"`
	Rows       []rowDocument      `yaml:"rows"`
}

type variableDocument struct {
	Name            string           `yaml:"name"`
	Type            string           `yaml:"type"`
	Unit            string           `yaml:"unit"`
	MimeType        string           `yaml:"mime_type"`
	Repeatable      bool             `yaml:"repeatable"`
	OccurrenceGroup string           `yaml:"occurrence_group"`
	Attributes      []core.Attribute `yaml:"attributes"`
	Categories      []core.Category  `yaml:"categories"`
}

type rowDocument struct {
	ID     string               `yaml:"id"`
	Values map[string]yaml.Node `yaml:"values"`
}

// LoadTable reads one table from YAML. Scalar values are parsed leniently
// with the variable's type.
func LoadTable(r io.Reader, defaultEntityType string) (*Table, error) {
	var doc tableDocument
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding table: %w", err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("table document has no name")
	}
	if doc.EntityType == "" {
		doc.EntityType = defaultEntityType
	}
	if doc.EntityType == "" {
		doc.EntityType = core.DefaultEntityType
	}

	table := NewTable(doc.Name, doc.EntityType)
	for _, vd := range doc.Variables {
		if vd.Type == "" {
			vd.Type = value.Text.Name()
		}
		vt, err := value.ForName(vd.Type)
		if err != nil {
			return nil, fmt.Errorf("table %s, variable %s: %w", doc.Name, vd.Name, err)
		}
		table.AddVariable(&core.Variable{
			Name:            vd.Name,
			ValueType:       vt,
			Unit:            vd.Unit,
			MimeType:        vd.MimeType,
			Repeatable:      vd.Repeatable,
			OccurrenceGroup: vd.OccurrenceGroup,
			Attributes:      vd.Attributes,
			Categories:      vd.Categories,
		})
	}

	for _, row := range doc.Rows {
		if row.ID == "" {
			return nil, fmt.Errorf("table %s: row without id", doc.Name)
		}
		table.AddEntity(row.ID)
		for name, node := range row.Values {
			variable, err := table.Variable(name)
			if err != nil {
				return nil, err
			}
			v, err := nodeValue(variable, &node)
			if err != nil {
				return nil, fmt.Errorf("table %s, entity %s, variable %s: %w", doc.Name, row.ID, name, err)
			}
			if err := table.Set(row.ID, name, v); err != nil {
				return nil, err
			}
		}
	}
	return table, nil
}

func nodeValue(variable *core.Variable, node *yaml.Node) (value.Value, error) {
	vt := variable.ValueType
	switch node.Kind {
	case yaml.SequenceNode:
		if !variable.Repeatable {
			return value.Value{}, fmt.Errorf("list given for a non repeatable variable")
		}
		elems := make([]value.Value, len(node.Content))
		for i, child := range node.Content {
			v, err := scalarValue(vt, child)
			if err != nil {
				return value.Value{}, err
			}
			elems[i] = v
		}
		return vt.Sequence(elems...)
	case yaml.ScalarNode:
		return scalarValue(vt, node)
	}
	return value.Value{}, fmt.Errorf("unsupported YAML node at line %d", node.Line)
}

func scalarValue(vt *value.Type, node *yaml.Node) (value.Value, error) {
	if node.Kind != yaml.ScalarNode {
		return value.Value{}, fmt.Errorf("expected a scalar at line %d", node.Line)
	}
	if node.Tag == "!!null" {
		return vt.Null(), nil
	}
	return vt.ParseLoose(node.Value)
}
