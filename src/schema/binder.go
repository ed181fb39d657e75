package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"go.uber.org/zap"
)

var scalarTypes = map[string]bool{
	"ID":       true,
	"String":   true,
	"Int":      true,
	"Float":    true,
	"Boolean":  true,
	"DateTime": true,
}

// BindFile reads an SDL file and binds it into a Schema.
func BindFile(path string, logger *zap.SugaredLogger) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Bind(string(data), logger)
}

// Bind parses the SDL source, validates the data model and produces the
// operation catalog. Any violation is returned as a *SchemaError and the
// caller must treat it as fatal.
func Bind(input string, logger *zap.SugaredLogger) (*Schema, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: "datamodel", Input: input})
	if err != nil {
		return nil, schemaErrorf("invalid SDL: %v", err)
	}

	s := &Schema{
		Types:      make(map[string]*Type),
		Relations:  make(map[string]*Relation),
		Operations: make(map[string]Operation),
	}

	// First pass: register type names so relation fields can be told apart
	// from scalars in the second pass.
	for _, def := range doc.Definitions {
		if def.Kind != ast.Object {
			continue
		}
		if _, exists := s.Types[def.Name]; exists {
			return nil, schemaErrorf("type '%s' declared twice", def.Name)
		}
		s.Types[def.Name] = &Type{
			Name:   def.Name,
			Fields: make(map[string]*Field),
		}
		s.TypeOrder = append(s.TypeOrder, def.Name)
	}

	if len(s.Types) == 0 {
		return nil, schemaErrorf("data model declares no types")
	}

	// Second pass: fields, directives, identity.
	for _, def := range doc.Definitions {
		if def.Kind != ast.Object {
			continue
		}
		t := s.Types[def.Name]
		for _, fd := range def.Fields {
			field, err := bindField(s, t, fd)
			if err != nil {
				return nil, err
			}
			t.Fields[field.Name] = field
			t.FieldOrder = append(t.FieldOrder, field.Name)
			if field.IsID {
				if t.IDField != "" {
					return nil, schemaErrorf("type '%s' has more than one identity field ('%s' and '%s')",
						t.Name, t.IDField, field.Name)
				}
				t.IDField = field.Name
			}
		}
		if t.IDField == "" {
			return nil, schemaErrorf("type '%s' has no identity field (declare 'id: ID! @unique')", t.Name)
		}
	}

	if err := buildRelations(s); err != nil {
		return nil, err
	}

	buildCatalog(s)

	if logger != nil {
		logger.Infow("Schema bound",
			"types", len(s.Types),
			"relations", len(s.Relations),
			"operations", len(s.Operations))
	}

	return s, nil
}

func bindField(s *Schema, t *Type, fd *ast.FieldDefinition) (*Field, error) {
	typ := fd.Type
	field := &Field{
		Name:    fd.Name,
		NonNull: typ.NonNull,
	}

	if typ.Elem != nil {
		field.List = true
		typ = typ.Elem
	}
	field.TypeName = typ.NamedType
	if field.TypeName == "" {
		return nil, schemaErrorf("field '%s.%s' uses a nested list type, which is not supported", t.Name, fd.Name)
	}

	if _, isType := s.Types[field.TypeName]; isType {
		field.Kind = KindRelation
	} else if !scalarTypes[field.TypeName] {
		return nil, schemaErrorf("field '%s.%s' references unknown type '%s'", t.Name, fd.Name, field.TypeName)
	}

	for _, d := range fd.Directives {
		switch d.Name {
		case "unique":
			field.Unique = true
		case "id":
			field.IsID = true
		case "relation":
			if field.Kind != KindRelation {
				return nil, schemaErrorf("@relation on scalar field '%s.%s'", t.Name, fd.Name)
			}
			if arg := d.Arguments.ForName("name"); arg != nil {
				field.RelationName = arg.Value.Raw
			}
			if arg := d.Arguments.ForName("onDelete"); arg != nil {
				switch DeletePolicy(arg.Value.Raw) {
				case DeleteCascade:
					field.OnDelete = DeleteCascade
				case DeleteSetNull:
					field.OnDelete = DeleteSetNull
				default:
					return nil, schemaErrorf("field '%s.%s' has unknown onDelete policy '%s'",
						t.Name, fd.Name, arg.Value.Raw)
				}
			}
		default:
			return nil, schemaErrorf("field '%s.%s' carries unknown directive '@%s'", t.Name, fd.Name, d.Name)
		}
	}

	if field.Kind == KindRelation {
		if field.Unique {
			return nil, schemaErrorf("@unique on relation field '%s.%s'", t.Name, fd.Name)
		}
		if field.OnDelete == "" {
			field.OnDelete = DeleteSetNull
		}
	} else {
		if field.IsID || (field.Name == "id" && field.TypeName == "ID") {
			field.IsID = true
			field.Unique = true
			field.NonNull = true
		}
		if field.Unique && field.List {
			return nil, schemaErrorf("@unique on list field '%s.%s'", t.Name, fd.Name)
		}
	}

	return field, nil
}

// buildRelations pairs relation fields into Relation values. Fields sharing an
// explicit @relation(name:) form one relation; unnamed relation fields are
// paired through a name derived from the two type names, which must be
// unambiguous.
type relEndpoint struct {
	typeName string
	field    *Field
}

func buildRelations(s *Schema) error {
	grouped := make(map[string][]relEndpoint)

	for _, typeName := range s.TypeOrder {
		t := s.Types[typeName]
		for _, fieldName := range t.FieldOrder {
			f := t.Fields[fieldName]
			if f.Kind != KindRelation {
				continue
			}
			name := f.RelationName
			if name == "" {
				pair := []string{t.Name, f.TypeName}
				sort.Strings(pair)
				name = pair[0] + "To" + pair[1]
				f.RelationName = name
			}
			grouped[name] = append(grouped[name], relEndpoint{typeName: t.Name, field: f})
		}
	}

	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ends := grouped[name]
		if len(ends) > 2 {
			return schemaErrorf("relation '%s' is ambiguous: %d fields share it, name each pair with @relation(name:)",
				name, len(ends))
		}

		rel := &Relation{Name: name}
		rel.A = sideOf(ends[0])
		if len(ends) == 2 {
			rel.B = sideOf(ends[1])
			if ends[0].field.TypeName != ends[1].typeName || ends[1].field.TypeName != ends[0].typeName {
				return schemaErrorf("relation '%s' connects mismatched types", name)
			}
		} else {
			// Back-reference was never declared. The missing side keeps
			// the default policy and has no field to update.
			rel.B = RelationSide{TypeName: ends[0].field.TypeName, OnDelete: DeleteSetNull}
		}

		for _, side := range []RelationSide{rel.A, rel.B} {
			if side.Field == "" {
				continue
			}
			if side.OnDelete == DeleteSetNull && side.NonNull && !side.List {
				return schemaErrorf("relation '%s': SET_NULL on non-nullable field '%s.%s' can never hold",
					name, side.TypeName, side.Field)
			}
		}

		s.Relations[name] = rel
		s.relationOrder = append(s.relationOrder, name)
	}

	return nil
}

func sideOf(e relEndpoint) RelationSide {
	return RelationSide{
		TypeName: e.typeName,
		Field:    e.field.Name,
		List:     e.field.List,
		NonNull:  e.field.NonNull,
		OnDelete: e.field.OnDelete,
	}
}

// buildCatalog registers the operations every bound type exposes.
func buildCatalog(s *Schema) {
	for _, typeName := range s.TypeOrder {
		lower := lowerFirst(typeName)
		plural := pluralize(lower)

		add := func(name string, kind OpKind) {
			s.Operations[name] = Operation{Name: name, Kind: kind, TypeName: typeName}
		}

		add(lower, OpGetOne)
		add(plural, OpList)
		add(plural+"Connection", OpConnection)
		add("create"+typeName, OpCreate)
		add("update"+typeName, OpUpdate)
		add("delete"+typeName, OpDelete)
		add("updateMany"+pluralize(typeName), OpUpdateMany)
		add("deleteMany"+pluralize(typeName), OpDeleteMany)
		add(lower+"Subscription", OpSubscribe)
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func pluralize(s string) string {
	switch {
	case strings.HasSuffix(s, "y") && len(s) > 1 && !strings.ContainsRune("aeiou", rune(s[len(s)-2])):
		return s[:len(s)-1] + "ies"
	case strings.HasSuffix(s, "s"), strings.HasSuffix(s, "x"),
		strings.HasSuffix(s, "ch"), strings.HasSuffix(s, "sh"):
		return s + "es"
	default:
		return s + "s"
	}
}
