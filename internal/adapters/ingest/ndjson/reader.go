package ndjson

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/klauspost/pgzip"

	"nutrisage/internal/platform/blob"
	perr "nutrisage/internal/platform/errors"
	"nutrisage/internal/platform/logger"
)

const (
	initialBuf   = 512 * 1024
	sampleRawMax = 512 // max bytes of a skipped line to log
	// SkipSampleMax bounds how many skipped line numbers are kept for the run summary
	SkipSampleMax = 20
)

// maxLineBytes caps the retained bytes of one line; longer lines are drained and skipped
var maxLineBytes = 32 * 1024 * 1024

// Chunk is up to chunkRows parsed records in input order
// FirstLine is the 1-based line number of the first record; Skipped counts malformed lines seen while filling it
type Chunk struct {
	Seq       int
	Records   []map[string]any
	Skipped   int
	FirstLine int
}

// Stats are cumulative reader counters
type Stats struct {
	Lines      int64 `json:"lines_read"`
	Records    int64 `json:"records"`
	Skipped    int64 `json:"lines_skipped"`
	Bytes      int64 `json:"uncompressed_bytes"`
	SkipSample []int `json:"skipped_line_sample,omitempty"`
}

// Reader yields Chunks from a gzip NDJSON stream
type Reader struct {
	r         io.ReadCloser
	gz        *pgzip.Reader
	br        *bufio.Reader
	buf       []byte
	chunkRows int
	seq       int
	line      int
	err       error
	st        Stats
	log       *logger.Logger
	sampled   bool // logs exactly one raw sample per input
}

// NewReader wraps r; chunkRows below 1 is treated as 1
func NewReader(r io.ReadCloser, chunkRows int) (*Reader, error) {
	gz, err := pgzip.NewReader(r)
	if err != nil {
		if cerr := r.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, perr.Wrap(err, perr.ErrorCodeParse, "ndjson: not a gzip stream")
	}
	if chunkRows < 1 {
		chunkRows = 1
	}
	br := bufio.NewReaderSize(gz, initialBuf)
	return &Reader{r: r, gz: gz, br: br, chunkRows: chunkRows, log: logger.Named("ndjson")}, nil
}

// Open opens key in b and returns a Reader over it
func Open(ctx context.Context, b blob.Bucket, key string, chunkRows int) (*Reader, error) {
	rc, err := b.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	return NewReader(rc, chunkRows)
}

// Next returns the next chunk; io.EOF once the stream is exhausted
// A final partial chunk is returned with a nil error and the following call returns io.EOF
func (rd *Reader) Next(ctx context.Context) (Chunk, error) {
	if rd.err != nil {
		return Chunk{}, rd.err
	}
	ch := Chunk{Seq: rd.seq}
	for len(ch.Records) < rd.chunkRows {
		if err := ctx.Err(); err != nil {
			rd.err = err
			return Chunk{}, err
		}
		line, n, long, err := rd.readLine()
		if err == io.EOF {
			rd.err = io.EOF
			break
		}
		if err != nil {
			rd.err = perr.Wrap(err, perr.ErrorCodeParse, "ndjson: read")
			return Chunk{}, rd.err
		}
		rd.line++
		rd.st.Lines++
		rd.st.Bytes += int64(n)
		if long {
			ch.Skipped++
			rd.skip(line)
			continue
		}

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		rec, ok := decode(trimmed)
		if !ok {
			ch.Skipped++
			rd.skip(trimmed)
			continue
		}
		if len(ch.Records) == 0 {
			ch.FirstLine = rd.line
		}
		ch.Records = append(ch.Records, rec)
		rd.st.Records++

		if !rd.sampled {
			rd.sampled = true
			rd.log.Debug().
				Int("line_bytes", len(line)).
				Str("sample_raw", truncateUTF8(trimmed, sampleRawMax)).
				Msg("ndjson: sample raw line")
		}
	}
	if len(ch.Records) == 0 && ch.Skipped == 0 {
		return Chunk{}, rd.err
	}
	rd.seq++
	return ch, nil
}

// readLine returns the next line without its terminator and the number of bytes consumed
// A line over maxLineBytes is drained to its end; long is set and line holds its retained prefix
func (rd *Reader) readLine() (line []byte, n int, long bool, err error) {
	rd.buf = rd.buf[:0]
	for {
		frag, rerr := rd.br.ReadSlice('\n')
		n += len(frag)
		body := frag
		if rerr == nil {
			body = frag[:len(frag)-1]
		}
		if !long {
			if room := maxLineBytes - len(rd.buf); len(body) > room {
				rd.buf = append(rd.buf, body[:room]...)
				long = true
			} else {
				rd.buf = append(rd.buf, body...)
			}
		}
		switch {
		case rerr == nil:
			return bytes.TrimSuffix(rd.buf, []byte("\r")), n, long, nil
		case errors.Is(rerr, bufio.ErrBufferFull):
			continue
		case rerr == io.EOF:
			if n == 0 {
				return nil, 0, false, io.EOF
			}
			return bytes.TrimSuffix(rd.buf, []byte("\r")), n, long, nil
		default:
			return nil, n, long, rerr
		}
	}
}

func (rd *Reader) skip(raw []byte) {
	rd.st.Skipped++
	if len(rd.st.SkipSample) < SkipSampleMax {
		rd.st.SkipSample = append(rd.st.SkipSample, rd.line)
		rd.log.Warn().
			Int("line", rd.line).
			Str("raw", truncateUTF8(raw, sampleRawMax)).
			Msg("ndjson: skipped malformed line")
	}
}

// decode accepts exactly one JSON object per line
func decode(b []byte) (map[string]any, bool) {
	if b[0] != '{' {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return m, true
}

// Stats returns a copy of the cumulative counters
func (rd *Reader) Stats() Stats {
	s := rd.st
	s.SkipSample = append([]int(nil), rd.st.SkipSample...)
	return s
}

// Close closes the decompressor and the underlying reader
func (rd *Reader) Close() error {
	var first error
	if rd.gz != nil {
		if err := rd.gz.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			first = err
		}
	}
	if rd.r != nil {
		if err := rd.r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// truncateUTF8 cuts b to at most max bytes on a rune boundary, appending an ellipsis if cut
func truncateUTF8(b []byte, max int) string {
	if max <= 0 || len(b) <= max {
		return string(b)
	}
	i := max
	for i > 0 && (b[i]&0xC0) == 0x80 {
		i--
	}
	if i <= 0 {
		i = max
	}
	return string(b[:i]) + "..."
}
