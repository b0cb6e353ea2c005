package module

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"nutrisage/internal/modkit"
	"nutrisage/internal/modkit/module"
	"nutrisage/internal/platform/blob"
	"nutrisage/internal/platform/config"
	perr "nutrisage/internal/platform/errors"
	"nutrisage/internal/platform/testkit"
	ingestmod "nutrisage/internal/services/ingest/module"
	"nutrisage/internal/services/validate/domain"
)

func unset() config.Conf { return config.New().Prefix("NUTRISAGE_TEST_UNSET_") }

func TestFromConfig(t *testing.T) {
	o := FromConfig(unset())
	if o.ProcessedSink != "data/processed" || o.Format != "text" || o.Workers != 4 {
		t.Fatalf("defaults = %+v", o)
	}
	t.Setenv("NUTRISAGE_VALIDATE_FORMAT", "JSON")
	t.Setenv("NUTRISAGE_VALIDATE_RUN_ID", "r7")
	o = FromConfig(config.New())
	if o.Format != "json" || o.RunID != "r7" || o.Request().RunID != "r7" {
		t.Fatalf("env = %+v", o)
	}
}

func TestValidateOptions(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(*Options)
		field string
	}{
		{"ok", func(*Options) {}, ""},
		{"no sink", func(o *Options) { o.ProcessedSink = "" }, "processed-sink"},
		{"bad format", func(o *Options) { o.Format = "yaml" }, "format"},
		{"bad summary", func(o *Options) { o.Summary = "ftp://a/b" }, "summary"},
		{"zero workers", func(o *Options) { o.Workers = 0 }, "workers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := FromConfig(unset())
			tc.mut(&o)
			err := o.Validate()
			if tc.field == "" {
				if err != nil {
					t.Fatalf("unexpected: %v", err)
				}
				return
			}
			if pe, ok := perr.As(err); !ok || pe.Field() != tc.field {
				t.Fatalf("err = %v, want field %s", err, tc.field)
			}
		})
	}
}

// ingestTo runs a real ingest into a local processed directory
func ingestTo(t *testing.T, processed string, lines ...string) {
	t.Helper()
	o := ingestmod.FromConfig(unset())
	o.Input = testkit.GzipLines(t, "products.jsonl.gz", lines...)
	o.ProcessedSink = processed
	o.SkipArchive = true
	o.RunID = "run-local"
	if _, err := ingestmod.New(modkit.Deps{}, o).Run(context.Background()); err != nil {
		t.Fatalf("ingest: %v", err)
	}
}

func TestRun_LocalRoundTripToFile(t *testing.T) {
	dir := t.TempDir()
	processed := filepath.Join(dir, "processed")
	ingestTo(t, processed,
		`{"created_t":1704067199,"countries_tags":["en:united-states"]}`,
		`{"countries_tags":"en:France"}`,
	)

	o := FromConfig(unset())
	o.ProcessedSink = processed
	o.Format = "json"
	o.Out = filepath.Join(dir, "reports", "report.json")
	m := New(modkit.Deps{}, o)

	var stdout bytes.Buffer
	rep, err := m.Run(context.Background(), &stdout)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.OK() || rep.Rows != 2 || rep.RunID != "run-local" {
		t.Fatalf("report = %+v", rep)
	}
	if stdout.Len() != 0 {
		t.Fatalf("report should go to --out, got stdout %q", stdout.String())
	}
	data, err := os.ReadFile(o.Out)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var back domain.Report
	if err := json.Unmarshal(data, &back); err != nil || back.Rows != 2 {
		t.Fatalf("report file = %s (%v)", data, err)
	}

	v := module.MustPortsOf[domain.ValidatorPort](m)
	if v == nil || m.Name() != "validate" {
		t.Fatalf("ports not wired")
	}
}

func TestRun_MismatchIsValidationError(t *testing.T) {
	dir := t.TempDir()
	ingestTo(t, dir, `{"created_t":1704067199,"countries_tags":["en:united-states"]}`)
	b, err := blob.NewFileBucket(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Delete(context.Background(), "year=2023/country=united-states/part-0000.parquet"); err != nil {
		t.Fatal(err)
	}

	o := FromConfig(unset())
	o.ProcessedSink = dir
	var stdout bytes.Buffer
	rep, err := New(modkit.Deps{}, o).Run(context.Background(), &stdout)
	if !perr.IsCode(err, perr.ErrorCodeValidation) || perr.ExitCode(err) != perr.ExitFailure {
		t.Fatalf("err = %v", err)
	}
	if rep.OK() {
		t.Fatalf("expected mismatches")
	}
	testkit.MustContain(t, stdout.String(), "validation FAIL run=run-local")
	testkit.MustContain(t, stdout.String(), "shard_missing year=2023/country=united-states/part-0000.parquet")
}
