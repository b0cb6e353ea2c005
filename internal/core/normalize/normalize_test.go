package normalize

import "testing"

func TestSlug(t *testing.T) {
	cases := []struct {
		name string
		in   string
		out  string
	}{
		{"plain", "france", "france"},
		{"case", "United-States", "united-states"},
		{"spaces", "  united   kingdom ", "united-kingdom"},
		{"underscore", "new_zealand", "new-zealand"},
		{"diacritics", "Côte d’Ivoire", "cote-divoire"},
		{"german", "Österreich", "osterreich"},
		{"fullwidth", "ＪＡＰＡＮ", "japan"},
		{"punct dropped", "korea (south)!", "korea-south"},
		{"dash runs", "--bosnia--and---herzegovina--", "bosnia-and-herzegovina"},
		{"mixed separators", "a _ - b", "a-b"},
		{"digits kept", "zone 51", "zone-51"},
		{"only symbols", "¿?¡!", ""},
		{"empty", "", ""},
		{"invalid utf8", "fr\xffance", "france"},
		{"zero width", "be\u200dlgium", "belgium"},
	}
	for _, c := range cases {
		if got := Slug(c.in); got != c.out {
			t.Fatalf("%s: Slug(%q) = %q, want %q", c.name, c.in, got, c.out)
		}
	}
}

func TestSlugConcurrent(t *testing.T) {
	s := New()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 200; j++ {
				if got := s.Slug("Éire"); got != "eire" {
					t.Errorf("Slug = %q", got)
					return
				}
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
