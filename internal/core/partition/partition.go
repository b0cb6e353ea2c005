// Package partition derives the (year, country) hive partition of a raw record
package partition

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"nutrisage/internal/core/normalize"
	perr "nutrisage/internal/platform/errors"
)

// Unknown is the bucket for records whose key cannot be derived
const Unknown = "unknown"

// Key is the partition of one record; Known is false for the unknown year bucket
type Key struct {
	Year    int
	Known   bool
	Country string
}

// YearSegment renders the year path value
func (k Key) YearSegment() string {
	if !k.Known {
		return Unknown
	}
	return strconv.Itoa(k.Year)
}

// Path renders the hive directory, e.g. year=2023/country=france
func (k Key) Path() string { return "year=" + k.YearSegment() + "/country=" + k.Country }

// String implements fmt.Stringer
func (k Key) String() string { return k.Path() }

// Less orders keys by year with the unknown bucket last, then by country
func Less(a, b Key) bool {
	if a.Known != b.Known {
		return a.Known
	}
	if a.Year != b.Year {
		return a.Year < b.Year
	}
	return a.Country < b.Country
}

// Derive computes the key from created_t and countries_tags values
// Callers pass canonical column values so a shard reader re-derives the same key
func Derive(createdAt, countries any) Key {
	y, ok := Year(createdAt)
	return Key{Year: y, Known: ok, Country: Country(countries)}
}

// Year returns the UTC calendar year of an epoch-seconds value
// Accepts json numbers, native numbers and numeric strings; fractional seconds truncate
func Year(v any) (int, bool) {
	sec, ok := epochSeconds(v)
	if !ok {
		return 0, false
	}
	y := time.Unix(sec, 0).UTC().Year()
	if y < 1 || y > 9999 {
		return 0, false
	}
	return y, true
}

// maxEpoch keeps time.Unix inside years 1..9999 before the range check
const maxEpoch = 253402300799

func epochSeconds(v any) (int64, bool) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return clampEpoch(n)
		}
		p, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = p
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		return clampEpoch(int64(x))
	case int64:
		return clampEpoch(x)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, false
		}
		return clampEpoch(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > maxEpoch {
		return 0, false
	}
	return int64(f), true
}

func clampEpoch(n int64) (int64, bool) {
	if n > maxEpoch || n < -62135596800 {
		return 0, false
	}
	return n, true
}

var langPrefix = regexp.MustCompile(`^[a-z]{2,3}:`)

// Country returns the slug of the first country tag, or Unknown
// A list contributes its first element; a string its first comma-separated token
func Country(v any) string {
	var first string
	switch x := v.(type) {
	case nil:
		return Unknown
	case []any:
		if len(x) == 0 || x[0] == nil {
			return Unknown
		}
		first = scalarString(x[0])
	case []string:
		if len(x) == 0 {
			return Unknown
		}
		first = x[0]
	case string:
		first, _, _ = strings.Cut(x, ",")
	default:
		first = scalarString(x)
	}
	first = langPrefix.ReplaceAllString(strings.ToLower(strings.TrimSpace(first)), "")
	if slug := normalize.Slug(first); slug != "" {
		return slug
	}
	return Unknown
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

// ParsePath extracts the key from a shard key such as year=2023/country=fr/part-0000.parquet
func ParsePath(p string) (Key, error) {
	var k Key
	var sawYear, sawCountry bool
	for _, seg := range strings.Split(p, "/") {
		name, val, ok := strings.Cut(seg, "=")
		if !ok {
			continue
		}
		switch name {
		case "year":
			sawYear = true
			if val == Unknown {
				continue
			}
			y, err := strconv.Atoi(val)
			if err != nil {
				return Key{}, perr.Parsef("bad year segment %q in %s", val, p)
			}
			k.Year, k.Known = y, true
		case "country":
			if val == "" {
				return Key{}, perr.Parsef("empty country segment in %s", p)
			}
			sawCountry = true
			k.Country = val
		}
	}
	if !sawYear || !sawCountry {
		return Key{}, perr.Parsef("%s is not under year=/country= partitions", p)
	}
	return k, nil
}
