package model

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// DataType names the storage type of a mapped field.
type DataType string

const (
	TypeText    DataType = "text"
	TypeKeyword DataType = "keyword"
	TypeLong    DataType = "long"
	TypeInteger DataType = "integer"
	TypeShort   DataType = "short"
	TypeByte    DataType = "byte"
	TypeDouble  DataType = "double"
	TypeFloat   DataType = "float"
	TypeBoolean DataType = "boolean"
	TypeDate    DataType = "date"
	TypeObject  DataType = "object"
	TypeNested  DataType = "nested"
	TypeBinary  DataType = "binary"
	TypeIP      DataType = "ip"
)

var knownTypes = map[DataType]struct{}{
	TypeText: {}, TypeKeyword: {}, TypeLong: {}, TypeInteger: {}, TypeShort: {},
	TypeByte: {}, TypeDouble: {}, TypeFloat: {}, TypeBoolean: {}, TypeDate: {},
	TypeObject: {}, TypeNested: {}, TypeBinary: {}, TypeIP: {},
}

// Valid reports if the type is one the backends know how to store.
func (t DataType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// IsContainer reports if fields of this type carry sub-properties.
func (t DataType) IsContainer() bool { return t == TypeObject || t == TypeNested }

// FieldMapping describes a single field of a schema. Format is passed
// through to the backend unchanged (e.g. date patterns). Analyzed is
// derived for text fields by the backends that read mappings back.
type FieldMapping struct {
	Type       DataType                `bson:"type" json:"type" yaml:"type"`
	Format     string                  `bson:"format,omitempty" json:"format,omitempty" yaml:"format,omitempty"`
	Analyzed   bool                    `bson:"analyzed,omitempty" json:"analyzed,omitempty" yaml:"analyzed,omitempty"`
	Properties map[string]FieldMapping `bson:"properties,omitempty" json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Field is a convenience constructor for leaf mappings.
func Field(t DataType) FieldMapping {
	return FieldMapping{Type: t, Analyzed: t == TypeText}
}

// DateField builds a date mapping with the given format string.
func DateField(format string) FieldMapping {
	return FieldMapping{Type: TypeDate, Format: format}
}

// Object builds an object mapping from its sub-properties.
func Object(props map[string]FieldMapping) FieldMapping {
	return FieldMapping{Type: TypeObject, Properties: props}
}

func (m FieldMapping) clone() FieldMapping {
	out := m
	if m.Properties != nil {
		out.Properties = make(map[string]FieldMapping, len(m.Properties))
		for k, v := range m.Properties {
			out.Properties[k] = v.clone()
		}
	}
	return out
}

// SchemaDescriptor is the immutable settings-independent part of an
// index definition: field name to mapping. Methods never modify the
// receiver; builders return copies.
type SchemaDescriptor struct {
	Fields map[string]FieldMapping `bson:"fields" json:"fields" yaml:"fields"`
}

// NewSchema returns an empty descriptor.
func NewSchema() SchemaDescriptor {
	return SchemaDescriptor{Fields: map[string]FieldMapping{}}
}

// With returns a copy of the schema with the named field (re)declared.
func (s SchemaDescriptor) With(name string, m FieldMapping) SchemaDescriptor {
	out := s.Clone()
	out.Fields[name] = m.clone()
	return out
}

// Clone returns a deep copy.
func (s SchemaDescriptor) Clone() SchemaDescriptor {
	out := SchemaDescriptor{Fields: make(map[string]FieldMapping, len(s.Fields))}
	for k, v := range s.Fields {
		out.Fields[k] = v.clone()
	}
	return out
}

// IsEmpty reports if no fields are declared.
func (s SchemaDescriptor) IsEmpty() bool { return len(s.Fields) == 0 }

// Field resolves a dotted path ("author.name") to its mapping.
func (s SchemaDescriptor) Field(path string) (FieldMapping, bool) {
	flat, err := s.Flatten()
	if err != nil {
		return FieldMapping{}, false
	}
	m, ok := flat[path]
	return m, ok
}

// Names returns the sorted, flattened field paths.
func (s SchemaDescriptor) Names() []string {
	flat, _ := s.Flatten()
	out := make([]string, 0, len(flat))
	for k := range flat {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Flatten expands nested properties and dotted field names into one
// map keyed by full path. It fails when the same path is declared
// twice with different types or when a leaf is used as a parent.
func (s SchemaDescriptor) Flatten() (map[string]FieldMapping, error) {
	out := map[string]FieldMapping{}
	names := make([]string, 0, len(s.Fields))
	for k := range s.Fields {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := flattenInto(out, name, s.Fields[name]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func flattenInto(out map[string]FieldMapping, path string, m FieldMapping) error {
	if path == "" || strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") || strings.Contains(path, "..") {
		return errors.Errorf("invalid field name '%s'", path)
	}

	// implicit parents of dotted names are objects
	parts := strings.Split(path, ".")
	for i := 1; i < len(parts); i++ {
		parent := strings.Join(parts[:i], ".")
		existing, ok := out[parent]
		if !ok {
			out[parent] = FieldMapping{Type: TypeObject}
			continue
		}
		if !existing.Type.IsContainer() {
			return errors.Errorf("field '%s' is declared as %s and cannot hold '%s'", parent, existing.Type, path)
		}
	}

	leaf := FieldMapping{Type: m.Type, Format: m.Format, Analyzed: m.Analyzed}
	if leaf.Type == "" && len(m.Properties) > 0 {
		leaf.Type = TypeObject
	}

	if existing, ok := out[path]; ok {
		if existing.Type != leaf.Type {
			return errors.Errorf("field '%s' is declared as both %s and %s", path, existing.Type, leaf.Type)
		}
	} else {
		out[path] = leaf
	}

	for _, child := range sortedKeys(m.Properties) {
		if !leaf.Type.IsContainer() {
			return errors.Errorf("field '%s' of type %s cannot declare properties", path, leaf.Type)
		}
		if err := flattenInto(out, path+"."+child, m.Properties[child]); err != nil {
			return err
		}
	}

	return nil
}

func sortedKeys(in map[string]FieldMapping) []string {
	out := make([]string, 0, len(in))
	for k := range in {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate reports self-contradictory descriptors: unknown types,
// conflicting redeclarations and leaves used as parents.
func (s SchemaDescriptor) Validate() error {
	flat, err := s.Flatten()
	if err != nil {
		return err
	}

	for _, name := range sortedKeys(flat) {
		if !flat[name].Type.Valid() {
			return errors.Errorf("field '%s' has unknown type '%s'", name, flat[name].Type)
		}
	}

	return nil
}

// FieldConflict describes an incompatible redeclaration.
type FieldConflict struct {
	Path      string
	Existing  DataType
	Requested DataType
}

func (c FieldConflict) String() string {
	return "mapper [" + c.Path + "] cannot be changed from type [" + string(c.Existing) + "] to [" + string(c.Requested) + "]"
}

// Conflicts lists every field of update that redeclares a field of
// the receiver with an incompatible type. Containers are compatible
// with containers of the same kind; their children are compared
// individually.
func (s SchemaDescriptor) Conflicts(update SchemaDescriptor) ([]FieldConflict, error) {
	current, err := s.Flatten()
	if err != nil {
		return nil, errors.Wrap(err, "existing schema is invalid")
	}
	requested, err := update.Flatten()
	if err != nil {
		return nil, errors.Wrap(err, "requested schema is invalid")
	}

	var out []FieldConflict
	for _, path := range sortedKeys(requested) {
		existing, ok := current[path]
		if !ok {
			continue
		}
		if existing.Type != requested[path].Type {
			out = append(out, FieldConflict{Path: path, Existing: existing.Type, Requested: requested[path].Type})
		}
	}

	return out, nil
}

// MergeAdditive returns the union of both schemas. Existing fields keep
// their declaration; new fields are added. Any incompatible
// redeclaration fails the whole merge.
func (s SchemaDescriptor) MergeAdditive(update SchemaDescriptor) (SchemaDescriptor, []FieldConflict, error) {
	conflicts, err := s.Conflicts(update)
	if err != nil {
		return SchemaDescriptor{}, nil, err
	}
	if len(conflicts) > 0 {
		return SchemaDescriptor{}, conflicts, errors.New(conflicts[0].String())
	}

	out := s.Clone()
	for name, m := range update.Fields {
		existing, ok := out.Fields[name]
		if !ok {
			out.Fields[name] = m.clone()
			continue
		}
		out.Fields[name] = mergeMapping(existing, m)
	}

	return out, nil, nil
}

func mergeMapping(existing, update FieldMapping) FieldMapping {
	if !existing.Type.IsContainer() && existing.Type != "" {
		return existing
	}
	out := existing.clone()
	if out.Properties == nil && len(update.Properties) > 0 {
		out.Properties = map[string]FieldMapping{}
	}
	for name, m := range update.Properties {
		if prev, ok := out.Properties[name]; ok {
			out.Properties[name] = mergeMapping(prev, m)
			continue
		}
		out.Properties[name] = m.clone()
	}
	return out
}

// ParseFieldSpec builds a schema from alternating name and definition
// strings in the compact "type=date,format=yyyy-MM-dd" notation:
//
//	ParseFieldSpec("name", "type=text", "country", "type=keyword")
//
// Declaring the same name twice with different types is an error.
func ParseFieldSpec(pairs ...string) (SchemaDescriptor, error) {
	if len(pairs)%2 != 0 {
		return SchemaDescriptor{}, errors.Errorf("field spec requires name/definition pairs, got %d values", len(pairs))
	}

	out := NewSchema()
	for i := 0; i < len(pairs); i += 2 {
		name, def := strings.TrimSpace(pairs[i]), pairs[i+1]
		m, err := parseFieldDefinition(def)
		if err != nil {
			return SchemaDescriptor{}, errors.Wrapf(err, "field '%s'", name)
		}
		if prev, ok := out.Fields[name]; ok && prev.Type != m.Type {
			return SchemaDescriptor{}, errors.Errorf("field '%s' is declared as both %s and %s", name, prev.Type, m.Type)
		}
		out.Fields[name] = m
	}

	return out, out.Validate()
}

func parseFieldDefinition(def string) (FieldMapping, error) {
	var m FieldMapping
	for _, part := range strings.Split(def, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return FieldMapping{}, errors.Errorf("malformed definition segment '%s'", part)
		}
		switch key {
		case "type":
			m.Type = DataType(value)
		case "format":
			// date formats use "||" separators which never contain commas
			m.Format = value
		case "analyzed":
			m.Analyzed = value == "true"
		default:
			return FieldMapping{}, errors.Errorf("unsupported definition key '%s'", key)
		}
	}
	if m.Type == "" {
		return FieldMapping{}, errors.New("definition has no type")
	}
	if m.Type == TypeText && !strings.Contains(def, "analyzed=") {
		m.Analyzed = true
	}
	return m, nil
}
