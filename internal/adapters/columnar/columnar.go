// Package columnar encodes canonical records as Snappy-compressed Parquet shards and reads them back
package columnar

import (
	"bytes"
	"context"
	"fmt"

	"github.com/apache/arrow/go/v11/arrow"
	"github.com/apache/arrow/go/v11/arrow/array"
	"github.com/apache/arrow/go/v11/arrow/memory"
	"github.com/apache/arrow/go/v11/parquet"
	"github.com/apache/arrow/go/v11/parquet/compress"
	"github.com/apache/arrow/go/v11/parquet/file"
	"github.com/apache/arrow/go/v11/parquet/pqarrow"

	"nutrisage/internal/core/extract"
	"nutrisage/internal/core/partition"
	"nutrisage/internal/core/schema"
	perr "nutrisage/internal/platform/errors"
)

// Encode writes recs as one Parquet file with the declared schema
func Encode(recs []extract.Record) ([]byte, error) {
	mem := memory.NewGoAllocator()
	sc := schema.Arrow()
	b := array.NewRecordBuilder(mem, sc)
	defer b.Release()

	for ri, r := range recs {
		if len(r) != len(schema.Columns) {
			return nil, perr.Internalf("columnar: record %d has %d slots, want %d", ri, len(r), len(schema.Columns))
		}
		for ci, c := range schema.Columns {
			if err := appendValue(b.Field(ci), c, r[ci]); err != nil {
				return nil, perr.WithField(err, c.Name)
			}
		}
	}
	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	w, err := pqarrow.NewFileWriter(sc, &buf, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnknown, "columnar: new writer")
	}
	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return nil, perr.Wrap(err, perr.ErrorCodeUnknown, "columnar: write")
	}
	if err := w.Close(); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnknown, "columnar: close")
	}
	return buf.Bytes(), nil
}

func appendValue(fb array.Builder, c schema.Column, v any) error {
	switch c.Kind {
	case schema.KindFloat:
		bb := fb.(*array.Float32Builder)
		switch x := v.(type) {
		case nil:
			bb.AppendNull()
		case float32:
			bb.Append(x)
		default:
			return mismatch(c, v)
		}
	case schema.KindInt:
		bb := fb.(*array.Int64Builder)
		switch x := v.(type) {
		case nil:
			bb.AppendNull()
		case int64:
			bb.Append(x)
		default:
			return mismatch(c, v)
		}
	case schema.KindString:
		s, ok := v.(string)
		if !ok {
			return mismatch(c, v)
		}
		fb.(*array.StringBuilder).Append(s)
	case schema.KindStringList:
		xs, ok := v.([]string)
		if !ok && v != nil {
			return mismatch(c, v)
		}
		lb := fb.(*array.ListBuilder)
		lb.Append(true)
		vb := lb.ValueBuilder().(*array.StringBuilder)
		for _, s := range xs {
			vb.Append(s)
		}
	default:
		return perr.Internalf("columnar: unsupported kind %d", c.Kind)
	}
	return nil
}

func mismatch(c schema.Column, v any) error {
	return perr.Internalf("columnar: column %s (%s) cannot hold %T", c.Name, c.Kind.Label(), v)
}

// Field is one physical column as read back from a shard
type Field struct {
	Name  string `json:"name"`
	Label string `json:"type"`
}

// String renders a field for reports
func (f Field) String() string { return fmt.Sprintf("%s:%s", f.Name, f.Label) }

// RowKeys holds the partition evidence of one row
// Derived is recomputed from created_t and countries_tags; Stored comes from the year and country columns
type RowKeys struct {
	Derived    partition.Key
	Stored     partition.Key
	HasDerived bool
	HasStored  bool
}

// Shard is the decoded view of one Parquet file
type Shard struct {
	MetaRows int64 // row count from the file footer
	Rows     int64 // rows materialized by the full scan
	Fields   []Field
	Keys     []RowKeys
}

// Labels maps every physical column to its signature label
func (s Shard) Labels() map[string]string {
	out := make(map[string]string, len(s.Fields))
	for _, f := range s.Fields {
		out[f.Name] = f.Label
	}
	return out
}

// Decode reads footer metadata, the arrow schema and every value of the partition columns
// Columns missing from the file leave the matching RowKeys evidence unset
func Decode(ctx context.Context, data []byte) (Shard, error) {
	rdr, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return Shard{}, perr.Wrap(err, perr.ErrorCodeParse, "columnar: not a parquet file")
	}
	defer func() { _ = rdr.Close() }()

	out := Shard{MetaRows: rdr.NumRows()}
	mem := memory.NewGoAllocator()
	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return Shard{}, perr.Wrap(err, perr.ErrorCodeParse, "columnar: arrow reader")
	}
	sc, err := fr.Schema()
	if err != nil {
		return Shard{}, perr.Wrap(err, perr.ErrorCodeParse, "columnar: arrow schema")
	}
	for _, f := range sc.Fields() {
		out.Fields = append(out.Fields, Field{Name: f.Name, Label: schema.LabelOf(f.Type)})
	}

	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return Shard{}, perr.Wrap(err, perr.ErrorCodeParse, "columnar: read table")
	}
	defer tbl.Release()
	out.Rows = tbl.NumRows()
	out.Keys = make([]RowKeys, out.Rows)

	created := values(tbl, sc, schema.CreatedAt)
	countries := values(tbl, sc, schema.Countries)
	years := values(tbl, sc, schema.Year)
	names := values(tbl, sc, schema.Country)

	for i := range out.Keys {
		k := &out.Keys[i]
		if created != nil && countries != nil {
			k.Derived = partition.Derive(created[i], countries[i])
			k.HasDerived = true
		}
		if years != nil && names != nil {
			k.Stored = storedKey(years[i], names[i])
			k.HasStored = true
		}
	}
	return out, nil
}

func storedKey(year, country any) partition.Key {
	k := partition.Key{Country: partition.Unknown}
	if y, ok := year.(int64); ok {
		k.Year, k.Known = int(y), true
	}
	if c, ok := country.(string); ok {
		k.Country = c
	}
	return k
}

// values flattens one column into Go values, or nil when the column is absent or of an unexpected type
// int64 columns yield int64 or nil, strings yield string, string lists yield []string
func values(tbl arrow.Table, sc *arrow.Schema, name string) []any {
	idx := sc.FieldIndices(name)
	if len(idx) != 1 {
		return nil
	}
	col := tbl.Column(idx[0])
	out := make([]any, 0, tbl.NumRows())
	for _, chunk := range col.Data().Chunks() {
		switch a := chunk.(type) {
		case *array.Int64:
			for i := 0; i < a.Len(); i++ {
				if a.IsNull(i) {
					out = append(out, nil)
					continue
				}
				out = append(out, a.Value(i))
			}
		case *array.String:
			for i := 0; i < a.Len(); i++ {
				if a.IsNull(i) {
					out = append(out, nil)
					continue
				}
				out = append(out, a.Value(i))
			}
		case *array.List:
			elems, ok := a.ListValues().(*array.String)
			if !ok {
				return nil
			}
			offs := a.Offsets()
			for i := 0; i < a.Len(); i++ {
				if a.IsNull(i) {
					out = append(out, nil)
					continue
				}
				xs := make([]string, 0, offs[i+1]-offs[i])
				for j := int(offs[i]); j < int(offs[i+1]); j++ {
					if !elems.IsNull(j) {
						xs = append(xs, elems.Value(j))
					}
				}
				out = append(out, xs)
			}
		default:
			return nil
		}
	}
	if int64(len(out)) != tbl.NumRows() {
		return nil
	}
	return out
}
