// Package blob gives the pipeline one object-store seam over local disk, S3 and GCS
package blob

import (
	"context"
	"io"
	"path"
	"path/filepath"
	"strings"

	perr "nutrisage/internal/platform/errors"
)

// Attrs describes one stored object; Key is relative to the bucket location
type Attrs struct {
	Key  string
	Size int64
}

// Bucket is a prefix-scoped object store
// Put publishes atomically: readers observe either the previous object or the complete new one
type Bucket interface {
	URI() string
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (Attrs, error)
	// List returns every object under prefix sorted by key
	List(ctx context.Context, prefix string) ([]Attrs, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Scheme names a storage backend
type Scheme string

// Supported schemes
const (
	SchemeFile Scheme = "file"
	SchemeS3   Scheme = "s3"
	SchemeGS   Scheme = "gs"
)

// Location is a parsed sink or object URI
type Location struct {
	Scheme Scheme
	Bucket string // empty for file
	Prefix string // directory for file; key prefix without slashes for s3/gs
}

// ParseLocation accepts bare paths, file://, s3://bucket/prefix and gs://bucket/prefix
func ParseLocation(s string) (Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Location{}, perr.InvalidArgf("empty location")
	}
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return Location{Scheme: SchemeFile, Prefix: filepath.Clean(s)}, nil
	}
	switch Scheme(strings.ToLower(scheme)) {
	case SchemeFile:
		if rest == "" {
			return Location{}, perr.InvalidArgf("file location %q has no path", s)
		}
		return Location{Scheme: SchemeFile, Prefix: filepath.Clean(rest)}, nil
	case SchemeS3, SchemeGS:
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return Location{}, perr.InvalidArgf("location %q has no bucket", s)
		}
		return Location{Scheme: Scheme(strings.ToLower(scheme)), Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil
	default:
		return Location{}, perr.InvalidArgf("unsupported scheme %q in %q", scheme, s)
	}
}

// String renders the location as a URI
func (l Location) String() string {
	if l.Scheme == SchemeFile {
		return "file://" + filepath.ToSlash(l.Prefix)
	}
	if l.Prefix == "" {
		return string(l.Scheme) + "://" + l.Bucket
	}
	return string(l.Scheme) + "://" + l.Bucket + "/" + l.Prefix
}

// Object returns the URI of key under l
func (l Location) Object(key string) string {
	if l.Scheme == SchemeFile {
		return "file://" + filepath.ToSlash(filepath.Join(l.Prefix, filepath.FromSlash(key)))
	}
	return string(l.Scheme) + "://" + l.Bucket + "/" + path.Join(l.Prefix, key)
}

// SplitObject parses an object URI into its parent location and base key
func SplitObject(uri string) (Location, string, error) {
	loc, err := ParseLocation(uri)
	if err != nil {
		return Location{}, "", err
	}
	if loc.Scheme == SchemeFile {
		dir, base := filepath.Split(loc.Prefix)
		if base == "" || base == "." {
			return Location{}, "", perr.InvalidArgf("%q does not name a file", uri)
		}
		if dir == "" {
			dir = "."
		}
		return Location{Scheme: SchemeFile, Prefix: filepath.Clean(dir)}, base, nil
	}
	if loc.Prefix == "" {
		return Location{}, "", perr.InvalidArgf("%q does not name an object", uri)
	}
	dir, base := path.Split(loc.Prefix)
	loc.Prefix = strings.Trim(dir, "/")
	return loc, base, nil
}

// Options carries backend credentials
type Options struct {
	// Profile is an AWS shared-config profile for s3, or a service-account JSON path for gs
	Profile string
	// Endpoint overrides the S3 endpoint (MinIO, localstack) and forces path-style addressing
	Endpoint string
	Region   string
}

// openers are seams so tests can route remote schemes to local or in-memory buckets
var (
	openS3 = func(ctx context.Context, loc Location, o Options) (Bucket, error) { return newS3Bucket(ctx, loc, o) }
	openGS = func(ctx context.Context, loc Location, o Options) (Bucket, error) { return newGCSBucket(ctx, loc, o) }
)

// Open returns the bucket for loc
func Open(ctx context.Context, loc Location, o Options) (Bucket, error) {
	switch loc.Scheme {
	case SchemeFile:
		return NewFileBucket(loc.Prefix)
	case SchemeS3:
		return openS3(ctx, loc, o)
	case SchemeGS:
		return openGS(ctx, loc, o)
	default:
		return nil, perr.InvalidArgf("unsupported scheme %q", loc.Scheme)
	}
}

// Opener resolves a location to a bucket; services take one so tests can substitute buckets
type Opener func(ctx context.Context, loc Location) (Bucket, error)

// OpenerFor returns an Opener that opens every location with o
func OpenerFor(o Options) Opener {
	return func(ctx context.Context, loc Location) (Bucket, error) { return Open(ctx, loc, o) }
}

// OpenURI parses s and opens its bucket
func OpenURI(ctx context.Context, s string, o Options) (Bucket, error) {
	loc, err := ParseLocation(s)
	if err != nil {
		return nil, err
	}
	return Open(ctx, loc, o)
}

// Exists reports whether key is present in b
func Exists(ctx context.Context, b Bucket, key string) (Attrs, bool, error) {
	a, err := b.Stat(ctx, key)
	if err == nil {
		return a, true, nil
	}
	if perr.IsCode(err, perr.ErrorCodeNotFound) {
		return Attrs{}, false, nil
	}
	return Attrs{}, false, err
}

// countingReader tracks bytes consumed for backends whose upload APIs do not report size
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
