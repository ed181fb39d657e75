package schema

// DeletePolicy controls what happens to the nodes on one side of a relation
// when a node on the other side is deleted.
type DeletePolicy string

const (
	// DeleteCascade removes the related nodes together with the deleted node.
	DeleteCascade DeletePolicy = "CASCADE"
	// DeleteSetNull clears the relation field and keeps the related node.
	DeleteSetNull DeletePolicy = "SET_NULL"
)

// FieldKind is the semantic kind of a field.
type FieldKind int

const (
	KindScalar FieldKind = iota
	KindRelation
)

// Type is a named record kind with an ordered set of fields.
type Type struct {
	Name string

	// IDField names the single field carrying node identity.
	IDField string

	Fields map[string]*Field

	// FieldOrder preserves declaration order for stable output.
	FieldOrder []string
}

// Field belongs to exactly one Type.
type Field struct {
	Name string

	// TypeName is the scalar name (String, Int, Float, Boolean, ID,
	// DateTime) or the related type name for relation fields.
	TypeName string

	Kind FieldKind

	List    bool
	NonNull bool

	// Unique makes the field eligible as a selector key.
	Unique bool

	IsID bool

	// RelationName links the two fields that form one relation.
	RelationName string

	// OnDelete is the deletion policy applied to the nodes this field
	// points at when the owning node is deleted.
	OnDelete DeletePolicy
}

// RelationSide describes one directed end of a relation.
type RelationSide struct {
	// TypeName is the type holding the field, empty for a back-reference
	// that was never declared.
	TypeName string
	Field    string
	List     bool
	NonNull  bool
	OnDelete DeletePolicy
}

// Relation is a directed association between two fields of possibly
// different types. Each side carries its own deletion policy.
type Relation struct {
	Name string
	A    RelationSide
	B    RelationSide
}

// Other returns the side opposite to the given type/field pair. For a
// symmetric self-relation both sides name the same type, so the field name
// decides.
func (r *Relation) Other(typeName, fieldName string) RelationSide {
	if r.A.TypeName == typeName && r.A.Field == fieldName {
		return r.B
	}
	return r.A
}

// Side returns the directed side owned by the given type/field pair.
func (r *Relation) Side(typeName, fieldName string) RelationSide {
	if r.A.TypeName == typeName && r.A.Field == fieldName {
		return r.A
	}
	return r.B
}

// OpKind identifies which resolver an operation dispatches to.
type OpKind int

const (
	OpGetOne OpKind = iota
	OpList
	OpConnection
	OpCreate
	OpUpdate
	OpDelete
	OpUpdateMany
	OpDeleteMany
	OpSubscribe
)

// Operation is one entry of the bound operation catalog.
type Operation struct {
	Name string
	Kind OpKind
	// TypeName is the node type the operation addresses.
	TypeName string
}

// Schema is the bound data model plus its operation catalog.
type Schema struct {
	Types      map[string]*Type
	TypeOrder  []string
	Relations  map[string]*Relation
	Operations map[string]Operation

	relationOrder []string
}

// RelationsOf returns every relation with at least one side on the given type.
func (s *Schema) RelationsOf(typeName string) []*Relation {
	var out []*Relation
	for _, name := range s.relationOrder {
		r := s.Relations[name]
		if r.A.TypeName == typeName || r.B.TypeName == typeName {
			out = append(out, r)
		}
	}
	return out
}

// UniqueFields returns the selector-eligible fields of a type, identity first.
func (t *Type) UniqueFields() []*Field {
	var out []*Field
	for _, name := range t.FieldOrder {
		f := t.Fields[name]
		if f.Unique || f.IsID {
			out = append(out, f)
		}
	}
	return out
}
