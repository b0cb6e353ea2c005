// Package schema declares the canonical column table shared by the writer and the validator
package schema

import (
	"github.com/apache/arrow/go/v11/arrow"
)

// Kind is the logical type of a canonical column
type Kind uint8

// Column kinds
const (
	KindFloat Kind = iota + 1
	KindInt
	KindString
	KindStringList
)

// Label is the type signature label used in run summaries and reports
func (k Kind) Label() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindStringList:
		return "string-list"
	default:
		return "unknown"
	}
}

// ArrowType is the physical type written to parquet
func (k Kind) ArrowType() arrow.DataType {
	switch k {
	case KindFloat:
		return arrow.PrimitiveTypes.Float32
	case KindInt:
		return arrow.PrimitiveTypes.Int64
	case KindStringList:
		return arrow.ListOf(arrow.BinaryTypes.String)
	default:
		return arrow.BinaryTypes.String
	}
}

// Nullable reports whether missing values are stored as null rather than a zero value
func (k Kind) Nullable() bool { return k == KindFloat || k == KindInt }

// Column describes one canonical column and where its value comes from
type Column struct {
	Name string
	Kind Kind
	// Path is the lookup path inside the raw object; empty for derived columns
	Path []string
	// TopLevelFallback retries the last path element at the top level when the nested lookup misses
	TopLevelFallback bool
}

// Derived reports whether the column is computed rather than read
func (c Column) Derived() bool { return len(c.Path) == 0 }

// Column names with special roles
const (
	Target    = "nutrition_grade_fr"
	CreatedAt = "created_t"
	Countries = "countries_tags"
	Year      = "year"
	Country   = "country"
)

const nutrimentsKey = "nutriments"

func nutriment(name string) Column {
	return Column{Name: name, Kind: KindFloat, Path: []string{nutrimentsKey, name}, TopLevelFallback: true}
}

func top(name string, k Kind) Column { return Column{Name: name, Kind: k, Path: []string{name}} }

// Columns is the declared schema in output order
var Columns = []Column{
	nutriment("energy-kcal_100g"),
	nutriment("fat_100g"),
	nutriment("saturated-fat_100g"),
	nutriment("carbohydrates_100g"),
	nutriment("sugars_100g"),
	nutriment("fiber_100g"),
	nutriment("proteins_100g"),
	nutriment("sodium_100g"),
	nutriment("fruits-vegetables-nuts_100g"),
	top("additives_n", KindInt),
	top("ingredients_from_palm_oil_n", KindInt),
	top("ingredients_that_may_be_from_palm_oil_n", KindInt),
	top("main_category", KindString),
	top("categories_tags", KindStringList),
	top("labels_tags", KindStringList),
	top("packaging_tags", KindStringList),
	top("brands_tags", KindStringList),
	top(Countries, KindStringList),
	top("serving_size", KindString),
	top(CreatedAt, KindInt),
	top(Target, KindString),
	{Name: Year, Kind: KindInt},
	{Name: Country, Kind: KindString},
}

var index = func() map[string]int {
	m := make(map[string]int, len(Columns))
	for i, c := range Columns {
		m[c.Name] = i
	}
	return m
}()

// Index returns the position of name in Columns, or -1
func Index(name string) int {
	if i, ok := index[name]; ok {
		return i
	}
	return -1
}

// MustIndex is Index for names declared in this package
func MustIndex(name string) int {
	i := Index(name)
	if i < 0 {
		panic("schema: unknown column " + name)
	}
	return i
}

// Names returns the column names in declared order
func Names() []string {
	out := make([]string, len(Columns))
	for i, c := range Columns {
		out[i] = c.Name
	}
	return out
}

// Signature maps every column to its type label
func Signature() map[string]string {
	out := make(map[string]string, len(Columns))
	for _, c := range Columns {
		out[c.Name] = c.Kind.Label()
	}
	return out
}

// Arrow returns the arrow schema written to every shard
func Arrow() *arrow.Schema {
	fields := make([]arrow.Field, len(Columns))
	for i, c := range Columns {
		fields[i] = arrow.Field{Name: c.Name, Type: c.Kind.ArrowType(), Nullable: c.Kind.Nullable()}
	}
	return arrow.NewSchema(fields, nil)
}

// LabelOf maps a physical arrow type read back from a shard to a signature label
func LabelOf(dt arrow.DataType) string {
	switch dt.ID() {
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		return KindFloat.Label()
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64, arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return KindInt.Label()
	case arrow.STRING, arrow.LARGE_STRING:
		return KindString.Label()
	case arrow.LIST:
		if lt, ok := dt.(*arrow.ListType); ok && LabelOf(lt.Elem()) == KindString.Label() {
			return KindStringList.Label()
		}
	}
	return dt.String()
}
