package ndjson

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"

	"nutrisage/internal/platform/blob"
	perr "nutrisage/internal/platform/errors"
	"nutrisage/internal/platform/testkit"
)

func openFile(t *testing.T, path string, chunkRows int) *Reader {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rd, err := NewReader(f, chunkRows)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	t.Cleanup(func() { _ = rd.Close() })
	return rd
}

func drain(t *testing.T, rd *Reader) []Chunk {
	t.Helper()
	var out []Chunk
	for {
		ch, err := rd.Next(context.Background())
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, ch)
	}
}

func TestReader_ChunksAndSkips(t *testing.T) {
	path := testkit.GzipLines(t, "in.jsonl.gz",
		`{"code":"1","created_t":1704067199}`,
		`not json`,
		``,
		`{"code":"2"}`,
		`[1,2,3]`,
		`   `,
		`{"code":"3"} trailing`,
		`{"code":"4"}`,
		`{"code":"5"}`,
	)
	rd := openFile(t, path, 2)
	chunks := drain(t, rd)

	if len(chunks) != 2 {
		t.Fatalf("chunks=%d want 2", len(chunks))
	}
	if chunks[0].Seq != 0 || chunks[1].Seq != 1 {
		t.Fatalf("seq=%d,%d", chunks[0].Seq, chunks[1].Seq)
	}
	if len(chunks[0].Records) != 2 || chunks[0].FirstLine != 1 || chunks[0].Skipped != 1 {
		t.Fatalf("chunk0=%+v", chunks[0])
	}
	if len(chunks[1].Records) != 2 || chunks[1].FirstLine != 8 || chunks[1].Skipped != 2 {
		t.Fatalf("chunk1 first=%d skipped=%d n=%d", chunks[1].FirstLine, chunks[1].Skipped, len(chunks[1].Records))
	}
	st := rd.Stats()
	if st.Lines != 9 || st.Records != 4 || st.Skipped != 3 {
		t.Fatalf("stats=%+v", st)
	}
	if got := st.SkipSample; len(got) != 3 || got[0] != 2 || got[1] != 5 || got[2] != 7 {
		t.Fatalf("sample=%v", got)
	}
}

func TestReader_FinalPartialChunk(t *testing.T) {
	path := testkit.GzipLines(t, "in.jsonl.gz", `{"a":1}`, `{"a":2}`, `{"a":3}`)
	chunks := drain(t, openFile(t, path, 2))
	if len(chunks) != 2 || len(chunks[1].Records) != 1 || chunks[1].FirstLine != 3 {
		t.Fatalf("chunks=%+v", chunks)
	}
}

func TestReader_TrailingSkipsOnlyChunk(t *testing.T) {
	path := testkit.GzipLines(t, "in.jsonl.gz", `{"a":1}`, `oops`)
	chunks := drain(t, openFile(t, path, 1))
	if len(chunks) != 2 {
		t.Fatalf("chunks=%d want 2", len(chunks))
	}
	if len(chunks[1].Records) != 0 || chunks[1].Skipped != 1 {
		t.Fatalf("tail=%+v", chunks[1])
	}
}

func TestReader_PreservesIntegers(t *testing.T) {
	path := testkit.GzipLines(t, "in.jsonl.gz", `{"created_t":9007199254740993,"n":{"x":1.5}}`)
	chunks := drain(t, openFile(t, path, 10))
	v, ok := chunks[0].Records[0]["created_t"].(json.Number)
	if !ok || v.String() != "9007199254740993" {
		t.Fatalf("created_t=%#v", chunks[0].Records[0]["created_t"])
	}
	nested, ok := chunks[0].Records[0]["n"].(map[string]any)
	if !ok || nested["x"] != json.Number("1.5") {
		t.Fatalf("nested=%#v", chunks[0].Records[0]["n"])
	}
}

func TestReader_EmptyInput(t *testing.T) {
	path := testkit.GzipLines(t, "in.jsonl.gz")
	rd := openFile(t, path, 5)
	if _, err := rd.Next(context.Background()); err != io.EOF {
		t.Fatalf("err=%v want EOF", err)
	}
	if _, err := rd.Next(context.Background()); err != io.EOF {
		t.Fatalf("sticky err=%v want EOF", err)
	}
}

func TestReader_NotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.jsonl")
	if err := os.WriteFile(path, []byte(`{"a":1}`+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewReader(f, 1)
	if !perr.IsCode(err, perr.ErrorCodeParse) {
		t.Fatalf("err=%v want parse", err)
	}
}

func TestReader_LongLineIsSkipped(t *testing.T) {
	cases := []struct {
		name string
		cap  int
		long string
	}{
		{"small cap", 16, `{"x":"` + strings.Repeat("a", 40) + `"}`},
		{"default cap", maxLineBytes, `{"x":"` + strings.Repeat("a", maxLineBytes) + `"}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			testkit.Swap(t, &maxLineBytes, c.cap)
			path := testkit.GzipLines(t, "long.jsonl.gz", `{"a":1}`, c.long, `{"a":2}`)
			rd := openFile(t, path, 10)
			chunks := drain(t, rd)
			if len(chunks) != 1 || len(chunks[0].Records) != 2 || chunks[0].Skipped != 1 {
				t.Fatalf("chunks=%d", len(chunks))
			}
			if got := chunks[0].Records[1]["a"]; got != json.Number("2") {
				t.Fatalf("record after long line=%#v", got)
			}
			st := rd.Stats()
			if st.Lines != 3 || st.Records != 2 || st.Skipped != 1 {
				t.Fatalf("stats lines=%d records=%d skipped=%d", st.Lines, st.Records, st.Skipped)
			}
			if len(st.SkipSample) != 1 || st.SkipSample[0] != 2 {
				t.Fatalf("sample=%v", st.SkipSample)
			}
			if want := int64(8 + len(c.long) + 1 + 8); st.Bytes != want {
				t.Fatalf("bytes=%d want %d", st.Bytes, want)
			}
		})
	}
}

func TestReader_LineAtCapIsKept(t *testing.T) {
	testkit.Swap(t, &maxLineBytes, len(`{"a":1}`))
	path := testkit.GzipLines(t, "in.jsonl.gz", `{"a":1}`, `{"b":2}`)
	chunks := drain(t, openFile(t, path, 10))
	if len(chunks) != 1 || len(chunks[0].Records) != 2 || chunks[0].Skipped != 0 {
		t.Fatalf("chunks=%+v", chunks)
	}
}

func TestReader_UnterminatedLastLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tail.jsonl.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := pgzip.NewWriter(f)
	if _, err := zw.Write([]byte("{\"a\":1}\n{\"a\":2}")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	chunks := drain(t, openFile(t, path, 10))
	if len(chunks) != 1 || len(chunks[0].Records) != 2 {
		t.Fatalf("chunks=%+v", chunks)
	}
}

func TestReader_CancelledContext(t *testing.T) {
	path := testkit.GzipLines(t, "in.jsonl.gz", `{"a":1}`)
	rd := openFile(t, path, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := rd.Next(ctx); err != context.Canceled {
		t.Fatalf("err=%v want canceled", err)
	}
}

func TestOpen_FromBucket(t *testing.T) {
	path := testkit.GzipLines(t, "products.jsonl.gz", `{"a":1}`, `{"a":2}`)
	loc, key, err := blob.SplitObject(path)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	b, err := blob.Open(context.Background(), loc, blob.Options{})
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	rd, err := Open(context.Background(), b, key, 10)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = rd.Close() }()
	ch, err := rd.Next(context.Background())
	if err != nil || len(ch.Records) != 2 {
		t.Fatalf("chunk=%+v err=%v", ch, err)
	}
}

func TestTruncateUTF8(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"abc", 5, "abc"},
		{"abcdef", 3, "abc..."},
		{"aéb", 2, "a..."},
		{"abc", 0, "abc"},
	}
	for _, c := range cases {
		if got := truncateUTF8([]byte(c.in), c.max); got != c.want {
			t.Fatalf("truncateUTF8(%q,%d)=%q want %q", c.in, c.max, got, c.want)
		}
	}
}
