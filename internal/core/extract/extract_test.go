package extract

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sync"
	"testing"

	"nutrisage/internal/core/partition"
	"nutrisage/internal/core/schema"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		t.Fatalf("decode %s: %v", s, err)
	}
	return m
}

func col(r Record, name string) any { return r[schema.MustIndex(name)] }

func TestExtractFullRecord(t *testing.T) {
	e := New()
	r := e.Extract(decode(t, `{
		"nutriments": {"energy-kcal_100g": 250.5, "fat_100g": "3.2", "sodium_100g": 0.4},
		"sugars_100g": 12,
		"additives_n": 2.6,
		"ingredients_from_palm_oil_n": 0,
		"main_category": "en:snacks",
		"categories_tags": ["en:snacks", null, "en:sweet"],
		"brands_tags": "acme, other ,",
		"countries_tags": ["en:france"],
		"serving_size": "30 g",
		"created_t": 1704067199,
		"nutrition_grade_fr": "d"
	}`))

	if len(r) != len(schema.Columns) {
		t.Fatalf("record width %d", len(r))
	}
	checks := map[string]any{
		"energy-kcal_100g":            float32(250.5),
		"fat_100g":                    float32(3.2),
		"sodium_100g":                 float32(0.4),
		"sugars_100g":                 float32(12), // top-level fallback
		"fiber_100g":                  nil,
		"additives_n":                 int64(3),
		"ingredients_from_palm_oil_n": int64(0),
		"ingredients_that_may_be_from_palm_oil_n": nil,
		"main_category":      "en:snacks",
		"categories_tags":    []string{"en:snacks", "en:sweet"},
		"brands_tags":        []string{"acme", "other"},
		"labels_tags":        []string{},
		"serving_size":       "30 g",
		"created_t":          int64(1704067199),
		"nutrition_grade_fr": "d",
		schema.Year:          int64(2023),
		schema.Country:       "france",
	}
	for name, want := range checks {
		if got := col(r, name); !reflect.DeepEqual(got, want) {
			t.Fatalf("%s = %#v, want %#v", name, got, want)
		}
	}
	if k := r.Key(); k != (partition.Key{Year: 2023, Known: true, Country: "france"}) {
		t.Fatalf("Key = %+v", k)
	}
	if s := e.Stats(); len(s.Coercion) != 0 || s.UnknownYear != 0 || s.UnknownCountry != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestExtractCoercionFailuresAndFallbacks(t *testing.T) {
	e := New()
	r := e.Extract(decode(t, `{
		"nutriments": {"fat_100g": "n/a", "proteins_100g": true, "sugars_100g": 1e60},
		"additives_n": "lots",
		"main_category": {"nested": 1},
		"labels_tags": {"x": 1},
		"packaging_tags": ["box", ["nested"]],
		"created_t": "never"
	}`))

	for _, name := range []string{"fat_100g", "proteins_100g", "sugars_100g", "additives_n", schema.Year} {
		if col(r, name) != nil {
			t.Fatalf("%s should be null, got %#v", name, col(r, name))
		}
	}
	if col(r, "main_category") != "" || col(r, schema.Country) != partition.Unknown {
		t.Fatalf("string fallbacks wrong: %#v %#v", col(r, "main_category"), col(r, schema.Country))
	}
	if got := col(r, "packaging_tags"); !reflect.DeepEqual(got, []string{"box"}) {
		t.Fatalf("packaging_tags = %#v", got)
	}

	s := e.Stats()
	want := map[string]int64{
		"fat_100g": 1, "proteins_100g": 1, "sugars_100g": 1, "additives_n": 1,
		"main_category": 1, "labels_tags": 1, "packaging_tags": 1, "created_t": 1,
	}
	if !reflect.DeepEqual(s.Coercion, want) {
		t.Fatalf("Coercion = %v, want %v", s.Coercion, want)
	}
	if s.UnknownYear != 1 || s.UnknownCountry != 1 {
		t.Fatalf("fallback counts = %+v", s)
	}
	if k := r.Key(); k.Known || k.Path() != "year=unknown/country=unknown" {
		t.Fatalf("Key = %+v", k)
	}
}

func TestExtractMissingEverything(t *testing.T) {
	e := New()
	r := e.Extract(map[string]any{})
	if col(r, "serving_size") != "" || !reflect.DeepEqual(col(r, "brands_tags"), []string{}) || col(r, "created_t") != nil {
		t.Fatalf("missing values should take null policy: %#v", r)
	}
	if s := e.Stats(); len(s.Coercion) != 0 {
		t.Fatalf("missing is not a coercion failure: %v", s.Coercion)
	}
}

func TestExtractParallelCounters(t *testing.T) {
	e := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				e.Extract(map[string]any{"additives_n": "x"})
			}
		}()
	}
	wg.Wait()
	if s := e.Stats(); s.Coercion["additives_n"] != 1600 || s.UnknownYear != 1600 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestRecordSize(t *testing.T) {
	r := New().Extract(map[string]any{"serving_size": "abc", "brands_tags": []any{"x"}})
	if r.Size() <= 0 {
		t.Fatalf("Size = %d", r.Size())
	}
	bigger := New().Extract(map[string]any{"serving_size": "abcdefghijklmnop", "brands_tags": []any{"x"}})
	if bigger.Size() <= r.Size() {
		t.Fatalf("size must grow with content")
	}
}

func TestExtractKeyFollowsCanonicalValues(t *testing.T) {
	r := New().Extract(decode(t, `{"created_t": "1704067199.6", "countries_tags": [null, "en:Spain"]}`))
	if got := col(r, "created_t"); got != int64(1704067200) {
		t.Fatalf("created_t = %#v", got)
	}
	if k := r.Key(); k != (partition.Key{Year: 2024, Known: true, Country: "spain"}) {
		t.Fatalf("Key = %+v", k)
	}
	if k := partition.Derive(col(r, "created_t"), col(r, "countries_tags")); k != r.Key() {
		t.Fatalf("re-derived %+v != %+v", k, r.Key())
	}
}

func TestExtractFirstCountryTokenAgreesAcrossForms(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		tags []string
		want string
	}{
		{"string blank first", `{"countries_tags": ",en:France"}`, []string{"", "en:France"}, partition.Unknown},
		{"list blank first", `{"countries_tags": ["", "en:france"]}`, []string{"", "en:france"}, partition.Unknown},
		{"string", `{"countries_tags": "en:France, en:Spain,"}`, []string{"en:France", "en:Spain"}, "france"},
		{"list", `{"countries_tags": ["en:france", "en:spain"]}`, []string{"en:france", "en:spain"}, "france"},
		{"blank string", `{"countries_tags": "  "}`, []string{}, partition.Unknown},
	}
	for _, c := range cases {
		r := New().Extract(decode(t, c.raw))
		if got := col(r, "countries_tags"); !reflect.DeepEqual(got, c.tags) {
			t.Fatalf("%s: countries_tags = %#v, want %#v", c.name, got, c.tags)
		}
		if got := r.Key().Country; got != c.want {
			t.Fatalf("%s: country = %q, want %q", c.name, got, c.want)
		}
		if got := partition.Country(c.tags); got != c.want {
			t.Fatalf("%s: re-derived country = %q, want %q", c.name, got, c.want)
		}
	}
}
