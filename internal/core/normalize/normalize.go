// Package normalize turns free-form tag values into ASCII path slugs
// Pipeline order
// 1 UTF-8 repair drop invalid bytes
// 2 Unicode NFKD decomposition
// 3 Remove combining marks and format chars, which folds diacritics
// 4 Width fold fullwidth to ASCII, then lower-case
// 5 Whitespace and underscores become dashes
// 6 Drop everything outside [a-z0-9-], collapse and trim dashes
package normalize

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Slugger is concurrency safe; transformer chains are pooled
type Slugger struct{}

var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKD,
			runes.Remove(runes.In(unicode.Mn)),
			runes.Remove(runes.In(unicode.Cf)),
			width.Fold,
			cases.Lower(language.Und),
		)
	},
}

// New constructs a Slugger
func New() *Slugger { return &Slugger{} }

var std = New()

// Slug runs the package default Slugger
func Slug(s string) string { return std.Slug(s) }

// Slug returns the slug of s; it may be empty
func (n *Slugger) Slug(s string) string {
	s = strings.ToValidUTF8(strings.TrimSpace(s), "")
	if s == "" {
		return ""
	}

	tr := chainPool.Get().(transform.Transformer)
	folded, _, err := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)
	if err != nil {
		folded = strings.ToLower(s)
	}

	var b strings.Builder
	b.Grow(len(folded))
	dash := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		case r == '-' || r == '_' || unicode.IsSpace(r):
			dash = true
		}
	}
	return b.String()
}
