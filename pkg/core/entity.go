package core

import (
	"fmt"
	"sort"
)

// DefaultEntityType is the entity type of tables that declare none.
const DefaultEntityType = "Participant"

// VariableEntity identifies one statistical unit of an entity type,
// e.g. ("Participant", "42").
type VariableEntity struct {
	Type       string
	Identifier string
}

// NewEntity creates a VariableEntity.
func NewEntity(entityType, identifier string) VariableEntity {
	return VariableEntity{Type: entityType, Identifier: identifier}
}

func (e VariableEntity) String() string {
	return fmt.Sprintf("%s:%s", e.Type, e.Identifier)
}

// Less orders entities by identifier, then by type.
func (e VariableEntity) Less(other VariableEntity) bool {
	if e.Identifier != other.Identifier {
		return e.Identifier < other.Identifier
	}
	return e.Type < other.Type
}

// SortEntities sorts entities in place for deterministic iteration.
func SortEntities(entities []VariableEntity) {
	sort.Slice(entities, func(i, j int) bool { return entities[i].Less(entities[j]) })
}
