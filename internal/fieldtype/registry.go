package fieldtype

import (
	"sort"
)

// StorageKind is the physical representation a logical type is stored as.
// Dialects map each kind to a concrete DDL type.
type StorageKind string

const (
	StorageNone      StorageKind = ""
	StorageText      StorageKind = "text"
	StorageNumeric   StorageKind = "numeric"
	StorageInteger   StorageKind = "integer"
	StorageDate      StorageKind = "date"
	StorageTimestamp StorageKind = "timestamp"
	StorageBoolean   StorageKind = "boolean"
	StorageDocument  StorageKind = "document"
)

// Logical column types.
const (
	Text        = "text"
	LongText    = "long_text"
	Number      = "number"
	Date        = "date"
	DateTime    = "datetime"
	Boolean     = "boolean"
	Switch      = "switch"
	Email       = "email"
	Phone       = "phone"
	URL         = "url"
	Select      = "select"
	MultiSelect = "multi_select"
	Currency    = "currency"
	Rating      = "rating"
	Color       = "color"
	Geolocation = "geolocation"
	Relation    = "relation"
	Lookup      = "lookup"
	Rollup      = "rollup"
	Formula     = "formula"
)

// Descriptor is the resolved storage and validation contract of a column type.
type Descriptor struct {
	Type             string
	Storage          StorageKind
	IsDocumentBacked bool
	Virtual          bool
	Known            bool
	DefaultConfig    map[string]any

	config   map[string]any
	validate validator
}

type validator func(v any, cfg map[string]any) error

type definition struct {
	storage  StorageKind
	document bool
	virtual  bool
	validate validator
	defaults map[string]any
}

var definitions = map[string]definition{
	Text:        {storage: StorageText, validate: validateText},
	LongText:    {storage: StorageText, validate: validateText},
	Email:       {storage: StorageText, validate: validateEmail},
	Phone:       {storage: StorageText, validate: validatePhone},
	URL:         {storage: StorageText, validate: validateURL},
	Color:       {storage: StorageText, validate: validateColor, defaults: map[string]any{"default": "#3b82f6"}},
	Number:      {storage: StorageNumeric, validate: validateNumber, defaults: map[string]any{"precision": 0}},
	Currency:    {storage: StorageNumeric, validate: validateNumber, defaults: map[string]any{"currencyCode": "USD", "precision": 2}},
	Rating:      {storage: StorageInteger, validate: validateRating, defaults: map[string]any{"max": 5}},
	Date:        {storage: StorageDate, validate: validateDate},
	DateTime:    {storage: StorageTimestamp, validate: validateDateTime},
	Boolean:     {storage: StorageBoolean, validate: validateBoolean},
	Switch:      {storage: StorageBoolean, validate: validateBoolean},
	Select:      {storage: StorageDocument, document: true, validate: validateSelect, defaults: map[string]any{"options": []any{}}},
	MultiSelect: {storage: StorageDocument, document: true, validate: validateMultiSelect, defaults: map[string]any{"options": []any{}}},
	Geolocation: {storage: StorageDocument, document: true, validate: validateGeolocation},
	Relation:    {storage: StorageText, validate: validateRelation, defaults: map[string]any{"allowMultiple": false}},
	Lookup:      {virtual: true},
	Rollup:      {virtual: true, defaults: map[string]any{"aggregation": "COUNT"}},
	Formula:     {virtual: true, defaults: map[string]any{"resultType": "number"}},
}

// Resolve returns the descriptor for a logical type and its column config.
// Unknown types resolve to plain text storage with Known=false.
func Resolve(logicalType string, cfg map[string]any) Descriptor {
	def, ok := definitions[logicalType]
	if !ok {
		return Descriptor{
			Type:          logicalType,
			Storage:       StorageText,
			DefaultConfig: map[string]any{},
			config:        cfg,
			validate:      validateText,
		}
	}

	merged := mergeConfig(def.defaults, cfg)
	d := Descriptor{
		Type:             logicalType,
		Storage:          def.storage,
		IsDocumentBacked: def.document,
		Virtual:          def.virtual,
		Known:            true,
		DefaultConfig:    copyConfig(def.defaults),
		config:           merged,
		validate:         def.validate,
	}

	switch logicalType {
	case Number:
		if Bool(merged["integer"]) {
			d.Storage = StorageInteger
		}
	case Relation:
		if Bool(merged["allowMultiple"]) {
			d.Storage = StorageDocument
			d.IsDocumentBacked = true
		}
	}
	return d
}

// Validate checks a non-null value against the type and its config.
// Null handling (required) is the caller's concern.
func (d Descriptor) Validate(v any) error {
	if v == nil || d.validate == nil {
		return nil
	}
	return d.validate(v, d.config)
}

// Config returns the effective config (defaults merged with the column's own).
func (d Descriptor) Config() map[string]any {
	return d.config
}

// IsComputed reports whether the type is resolved by the computed pipeline.
func (d Descriptor) IsComputed() bool {
	return IsComputed(d.Type)
}

// IsTextual reports whether the stored value can be compared with ''.
func (d Descriptor) IsTextual() bool {
	return d.Storage == StorageText || d.IsDocumentBacked
}

// IsComputed reports whether a logical type is one of relation, lookup, rollup or formula.
func IsComputed(logicalType string) bool {
	switch logicalType {
	case Relation, Lookup, Rollup, Formula:
		return true
	}
	return false
}

// IsKnown reports whether the registry defines the logical type.
func IsKnown(logicalType string) bool {
	_, ok := definitions[logicalType]
	return ok
}

// Types lists all registered logical types, sorted.
func Types() []string {
	out := make([]string, 0, len(definitions))
	for name := range definitions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func mergeConfig(defaults, cfg map[string]any) map[string]any {
	out := copyConfig(defaults)
	for k, v := range cfg {
		out[k] = v
	}
	return out
}

func copyConfig(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
