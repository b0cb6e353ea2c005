// Package extract maps raw records onto the canonical column table
package extract

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"nutrisage/internal/core/partition"
	"nutrisage/internal/core/schema"
)

// Record holds one canonical row in schema.Columns order
// Slot types: float32 or nil, int64 or nil, string, []string
type Record []any

// Key returns the partition carried by the derived year and country slots
func (r Record) Key() partition.Key {
	k := partition.Key{Country: partition.Unknown}
	if y, ok := r[yearIdx].(int64); ok {
		k.Year, k.Known = int(y), true
	}
	if c, ok := r[countryIdx].(string); ok && c != "" {
		k.Country = c
	}
	return k
}

// Size estimates the encoded footprint of the record in bytes, used for flush thresholds
func (r Record) Size() int {
	n := 0
	for _, v := range r {
		switch x := v.(type) {
		case float32:
			n += 4
		case int64:
			n += 8
		case string:
			n += len(x) + 4
		case []string:
			n += 4
			for _, s := range x {
				n += len(s) + 4
			}
		default:
			n++
		}
	}
	return n
}

var (
	yearIdx      = schema.MustIndex(schema.Year)
	countryIdx   = schema.MustIndex(schema.Country)
	createdIdx   = schema.MustIndex(schema.CreatedAt)
	countriesIdx = schema.MustIndex(schema.Countries)
)

// Stats is a point-in-time copy of the extractor counters
type Stats struct {
	Coercion       map[string]int64 `json:"coercion_failures"`
	UnknownYear    int64            `json:"unknown_year"`
	UnknownCountry int64            `json:"unknown_country"`
}

// Extractor is a total function from raw records to canonical ones
// Counters are atomic so one Extractor can serve parallel workers
type Extractor struct {
	failures       []atomic.Int64
	unknownYear    atomic.Int64
	unknownCountry atomic.Int64
}

// New returns an Extractor with zeroed counters
func New() *Extractor {
	return &Extractor{failures: make([]atomic.Int64, len(schema.Columns))}
}

// Extract never rejects: uncoercible values become the column's null value and are counted
func (e *Extractor) Extract(raw map[string]any) Record {
	out := make(Record, len(schema.Columns))
	for i, c := range schema.Columns {
		if c.Derived() {
			continue
		}
		v, ok := coerce(c.Kind, lookup(raw, c))
		if !ok {
			e.failures[i].Add(1)
		}
		out[i] = v
	}

	key := partition.Derive(out[createdIdx], out[countriesIdx])
	if key.Known {
		out[yearIdx] = int64(key.Year)
	} else {
		e.unknownYear.Add(1)
	}
	if key.Country == partition.Unknown {
		e.unknownCountry.Add(1)
	}
	out[countryIdx] = key.Country
	return out
}

// Stats snapshots the counters; only columns with failures are listed
func (e *Extractor) Stats() Stats {
	s := Stats{
		Coercion:       map[string]int64{},
		UnknownYear:    e.unknownYear.Load(),
		UnknownCountry: e.unknownCountry.Load(),
	}
	for i := range e.failures {
		if n := e.failures[i].Load(); n > 0 {
			s.Coercion[schema.Columns[i].Name] = n
		}
	}
	return s
}

func lookup(raw map[string]any, c schema.Column) any {
	var node any = raw
	for _, k := range c.Path {
		m, ok := node.(map[string]any)
		if !ok {
			node = nil
			break
		}
		node = m[k]
	}
	if node == nil && c.TopLevelFallback {
		node = raw[c.Path[len(c.Path)-1]]
	}
	return node
}

// coerce returns the column value and false when v was present but unusable
func coerce(k schema.Kind, v any) (any, bool) {
	switch k {
	case schema.KindFloat:
		f, present, ok := number(v)
		if !present {
			return nil, true
		}
		if !ok || math.Abs(f) > math.MaxFloat32 {
			return nil, false
		}
		return float32(f), true
	case schema.KindInt:
		if n, isJSON := v.(json.Number); isJSON {
			if i, err := n.Int64(); err == nil {
				return i, true
			}
		}
		f, present, ok := number(v)
		if !present {
			return nil, true
		}
		r := math.Round(f)
		if !ok || r >= math.MaxInt64 || r < math.MinInt64 {
			return nil, false
		}
		return int64(r), true
	case schema.KindString:
		return text(v)
	case schema.KindStringList:
		return list(v)
	}
	return nil, false
}

// number parses numeric values; present is false for missing or blank input
func number(v any) (f float64, present, ok bool) {
	switch x := v.(type) {
	case nil:
		return 0, false, true
	case json.Number:
		p, err := x.Float64()
		return p, true, err == nil && finite(p)
	case float64:
		return x, true, finite(x)
	case float32:
		return float64(x), true, finite(float64(x))
	case int:
		return float64(x), true, true
	case int64:
		return float64(x), true, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false, true
		}
		p, err := strconv.ParseFloat(s, 64)
		return p, true, err == nil && finite(p)
	default:
		return 0, true, false
	}
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func text(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return "", true
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}

// list keeps non-null scalar elements; a string becomes its comma-separated tokens
// A blank leading token is kept like a blank first list element, so both forms derive the same country
func list(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return []string{}, true
	case []any:
		out := make([]string, 0, len(x))
		ok := true
		for _, el := range x {
			if el == nil {
				continue
			}
			s, good := text(el)
			if !good {
				ok = false
				continue
			}
			out = append(out, s.(string))
		}
		return out, ok
	case string:
		out := []string{}
		if strings.TrimSpace(x) == "" {
			return out, true
		}
		for i, tok := range strings.Split(x, ",") {
			// position 0 stays even when blank so it still names the first tag
			if tok = strings.TrimSpace(tok); tok != "" || i == 0 {
				out = append(out, tok)
			}
		}
		return out, true
	case map[string]any:
		return []string{}, false
	default:
		s, ok := text(x)
		if !ok {
			return []string{}, false
		}
		return []string{s.(string)}, true
	}
}
