package columnar

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/apache/arrow/go/v11/arrow"
	"github.com/apache/arrow/go/v11/arrow/array"
	"github.com/apache/arrow/go/v11/arrow/memory"
	"github.com/apache/arrow/go/v11/parquet"
	"github.com/apache/arrow/go/v11/parquet/pqarrow"

	"nutrisage/internal/core/extract"
	"nutrisage/internal/core/partition"
	"nutrisage/internal/core/schema"
	perr "nutrisage/internal/platform/errors"
)

func records(t *testing.T, lines ...string) []extract.Record {
	t.Helper()
	e := extract.New()
	out := make([]extract.Record, 0, len(lines))
	for _, l := range lines {
		dec := json.NewDecoder(bytes.NewReader([]byte(l)))
		dec.UseNumber()
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			t.Fatalf("decode %s: %v", l, err)
		}
		out = append(out, e.Extract(m))
	}
	return out
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	recs := records(t,
		`{"created_t":1704067199,"countries_tags":["en:united-states","en:canada"],"nutriments":{"fat_100g":1.5},"brands_tags":"a,b"}`,
		`{"created_t":1704067199,"countries_tags":["en:united-states"],"additives_n":3}`,
		`{"created_t":1704067199,"countries_tags":"en:United States"}`,
	)
	data, err := Encode(recs)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) < 4 || string(data[:4]) != "PAR1" {
		t.Fatalf("not a parquet file")
	}

	sh, err := Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if sh.MetaRows != 3 || sh.Rows != 3 {
		t.Fatalf("rows meta=%d scan=%d", sh.MetaRows, sh.Rows)
	}
	names := make([]string, len(sh.Fields))
	for i, f := range sh.Fields {
		names[i] = f.Name
	}
	if !reflect.DeepEqual(names, schema.Names()) {
		t.Fatalf("fields = %v", names)
	}
	if !reflect.DeepEqual(sh.Labels(), schema.Signature()) {
		t.Fatalf("labels = %v want %v", sh.Labels(), schema.Signature())
	}
	want := partition.Key{Year: 2023, Known: true, Country: "united-states"}
	for i, k := range sh.Keys {
		if !k.HasDerived || !k.HasStored {
			t.Fatalf("row %d missing evidence: %+v", i, k)
		}
		if k.Derived != want || k.Stored != want {
			t.Fatalf("row %d keys = %+v", i, k)
		}
	}
}

func TestEncodeUnknownBuckets(t *testing.T) {
	recs := records(t, `{"code":"x"}`)
	data, err := Encode(recs)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	sh, err := Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	k := sh.Keys[0]
	if k.Stored.Known || k.Stored.Country != partition.Unknown || k.Derived != k.Stored {
		t.Fatalf("keys = %+v", k)
	}
}

func TestEncodeRejectsBadSlots(t *testing.T) {
	r := records(t, `{}`)[0]
	r[schema.MustIndex("fat_100g")] = "oops"
	_, err := Encode([]extract.Record{r})
	if e, ok := perr.As(err); !ok || e.Field() != "fat_100g" {
		t.Fatalf("err = %v", err)
	}

	_, err = Encode([]extract.Record{{int64(1)}})
	if err == nil {
		t.Fatalf("short record should fail")
	}
}

func TestDecodeDriftedShard(t *testing.T) {
	sc := arrow.NewSchema([]arrow.Field{
		{Name: "additives_n", Type: arrow.BinaryTypes.String},
		{Name: schema.Year, Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "extra", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, sc)
	defer b.Release()
	b.Field(0).(*array.StringBuilder).Append("3")
	b.Field(1).(*array.Int64Builder).Append(2023)
	b.Field(2).(*array.Float64Builder).Append(1)
	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w, err := pqarrow.NewFileWriter(sc, &buf, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	if err := w.Write(rec); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sh, err := Decode(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := sh.Labels()
	if got["additives_n"] != "string" || got["extra"] != "float" || len(got) != 3 {
		t.Fatalf("labels = %v", got)
	}
	if sh.Keys[0].HasStored || sh.Keys[0].HasDerived {
		t.Fatalf("missing columns should leave evidence unset: %+v", sh.Keys[0])
	}
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode(context.Background(), []byte("definitely not parquet"))
	if !perr.IsCode(err, perr.ErrorCodeParse) {
		t.Fatalf("err = %v", err)
	}
}
