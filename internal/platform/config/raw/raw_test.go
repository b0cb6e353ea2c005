package raw

import "testing"

func TestGet(t *testing.T) {
	t.Setenv("LOG_LEVEL", " info ")

	log := New().Prefix("LOG_")
	tests := []struct {
		name string
		key  string
		def  string
		want string
	}{
		{name: "prefixed hit trims", key: "LEVEL", def: "debug", want: "info"},
		{name: "missing uses default", key: "FORMAT", def: "console", want: "console"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := log.Get(tt.key, tt.def); got != tt.want {
				t.Fatalf("Get(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestGetBool(t *testing.T) {
	c := New().Prefix("B_")
	for in, want := range map[string]bool{"1": true, "yes": true, "ON": true, "no": false, "0": false} {
		t.Setenv("B_FLAG", in)
		if got := c.GetBool("FLAG", !want); got != want {
			t.Fatalf("GetBool(%q) = %v, want %v", in, got, want)
		}
	}
	if !c.GetBool("MISSING", true) {
		t.Fatalf("GetBool missing should return default")
	}
}

func TestGetInt(t *testing.T) {
	c := New().Prefix("I_")
	t.Setenv("I_OK", "12")
	t.Setenv("I_NEG", "-3")
	t.Setenv("I_BAD", "x1")
	if got := c.GetInt("OK", 0); got != 12 {
		t.Fatalf("GetInt ok = %d", got)
	}
	if got := c.GetInt("NEG", 5); got != 5 {
		t.Fatalf("GetInt negative should default, got %d", got)
	}
	if got := c.GetInt("BAD", 7); got != 7 {
		t.Fatalf("GetInt bad should default, got %d", got)
	}
}
