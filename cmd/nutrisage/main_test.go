package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	perr "nutrisage/internal/platform/errors"
	"nutrisage/internal/platform/testkit"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"NUTRISAGE_PG_URL", "NUTRISAGE_CH_URL", "NUTRISAGE_INGEST_INPUT", "NUTRISAGE_VALIDATE_SUMMARY", "NUTRISAGE_VALIDATE_OUT"} {
		t.Setenv(k, "")
	}
}

func TestCLI_IngestThenValidate(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	input := testkit.GzipLines(t, "products.jsonl.gz",
		`{"created_t":1704067199,"countries_tags":"en:United-States,en:Canada"}`,
		`{"countries_tags":["en:France"]}`,
		`not json`,
	)
	processed := filepath.Join(dir, "processed")
	raw := filepath.Join(dir, "raw")
	ctx := context.Background()

	var out bytes.Buffer
	code := execute(ctx, []string{"ingest", "--input", input, "--raw-sink", raw, "--processed-sink", processed, "--chunk-rows", "1", "--run-id", "cli-run"}, &out)
	if code != perr.ExitOK {
		t.Fatalf("ingest exit = %d, out = %s", code, out.String())
	}
	testkit.MustContain(t, out.String(), "run cli-run finalized: 2 rows in 2 partitions, 1 lines skipped")
	if _, err := os.Stat(filepath.Join(processed, "year=2023", "country=united-states", "part-0000.parquet")); err != nil {
		t.Fatalf("shard missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(raw, "cli-run", "products.jsonl.gz")); err != nil {
		t.Fatalf("raw archive missing: %v", err)
	}

	out.Reset()
	if code := execute(ctx, []string{"validate", "--processed-sink", processed}, &out); code != perr.ExitOK {
		t.Fatalf("validate exit = %d, out = %s", code, out.String())
	}
	first := out.String()
	testkit.MustContain(t, first, "validation PASS run=cli-run")

	out.Reset()
	execute(ctx, []string{"validate", "--processed-sink", processed}, &out)
	if out.String() != first {
		t.Fatalf("validation report changed between runs")
	}

	// a second ingest without overwrite is refused
	out.Reset()
	if code := execute(ctx, []string{"ingest", "--input", input, "--processed-sink", processed, "--skip-archive", "--overwrite=false"}, &out); code != perr.ExitUsage {
		t.Fatalf("conflict exit = %d", code)
	}

	// removing a shard makes validation fail
	if err := os.Remove(filepath.Join(processed, "year=unknown", "country=france", "part-0000.parquet")); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if code := execute(ctx, []string{"validate", "--processed-sink", processed, "--format", "json"}, &out); code != perr.ExitFailure {
		t.Fatalf("mismatch exit = %d", code)
	}
	testkit.MustContain(t, out.String(), `"kind": "shard_missing"`)
}

func TestCLI_UsageErrors(t *testing.T) {
	isolateEnv(t)
	cases := [][]string{
		{"ingest", "--no-such-flag"},
		{"ingest", "--chunk-rows", "many"},
		{"frobnicate"},
		{"ingest"}, // no input
	}
	for _, args := range cases {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			var out bytes.Buffer
			if code := execute(context.Background(), args, &out); code != perr.ExitUsage {
				t.Fatalf("exit = %d", code)
			}
		})
	}
}

func TestCLI_Version(t *testing.T) {
	var out bytes.Buffer
	if code := execute(context.Background(), []string{"--version"}, &out); code != perr.ExitOK {
		t.Fatalf("version exit = %d", code)
	}
	testkit.MustContain(t, out.String(), "nutrisage version dev")
}
