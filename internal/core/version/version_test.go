package version

import "testing"

func TestInfoDefaults(t *testing.T) {
	bi := Info()
	if bi.Version != "dev" || bi.Commit != "none" {
		t.Fatalf("Info = %+v", bi)
	}
	if got := bi.String(); got != "dev (none, unknown)" {
		t.Fatalf("String = %q", got)
	}
}
