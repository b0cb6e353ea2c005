package blob

import (
	"context"
	stderrs "errors"
	"io"
	"net/http"
	"path"
	"strings"

	perr "nutrisage/internal/platform/errors"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSBucket stores objects under a key prefix in one GCS bucket
type GCSBucket struct {
	loc    Location
	client *gcs.Client
	bucket *gcs.BucketHandle
}

func newGCSBucket(ctx context.Context, loc Location, o Options) (*GCSBucket, error) {
	opts := []option.ClientOption{option.WithScopes(gcs.ScopeReadWrite)}
	if o.Profile != "" {
		opts = append(opts, option.WithCredentialsFile(o.Profile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "create google cloud client")
	}
	return &GCSBucket{loc: loc, client: client, bucket: client.Bucket(loc.Bucket)}, nil
}

func (b *GCSBucket) key(k string) string { return path.Join(b.loc.Prefix, k) }

// URI implements Bucket
func (b *GCSBucket) URI() string { return b.loc.String() }

// Put streams r into an object writer; the object becomes visible only when Close succeeds
func (b *GCSBucket) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	// a cancelled ctx makes the writer abandon the upload
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := b.bucket.Object(b.key(key)).NewWriter(wctx)
	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		_ = w.Close()
		return 0, gcsErr(err, "write gcs object %s", key)
	}
	if err := w.Close(); err != nil {
		return 0, gcsErr(err, "finalize gcs object %s", key)
	}
	return n, nil
}

// Open implements Bucket
func (b *GCSBucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := b.bucket.Object(b.key(key)).NewReader(ctx)
	if err != nil {
		return nil, gcsErr(err, "read gcs object %s", key)
	}
	return r, nil
}

// Stat implements Bucket
func (b *GCSBucket) Stat(ctx context.Context, key string) (Attrs, error) {
	a, err := b.bucket.Object(b.key(key)).Attrs(ctx)
	if err != nil {
		return Attrs{}, gcsErr(err, "stat gcs object %s", key)
	}
	return Attrs{Key: key, Size: a.Size}, nil
}

// List implements Bucket; GCS returns names in lexicographic order
func (b *GCSBucket) List(ctx context.Context, prefix string) ([]Attrs, error) {
	full := b.key(prefix)
	if prefix == "" {
		full = b.loc.Prefix
	}
	if full != "" {
		full += "/"
	}
	it := b.bucket.Objects(ctx, &gcs.Query{Prefix: full})
	var out []Attrs
	for {
		a, err := it.Next()
		if stderrs.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, gcsErr(err, "list gcs prefix %s", full)
		}
		k := strings.TrimPrefix(strings.TrimPrefix(a.Name, b.loc.Prefix), "/")
		out = append(out, Attrs{Key: k, Size: a.Size})
	}
}

// Delete implements Bucket; a missing object is not an error
func (b *GCSBucket) Delete(ctx context.Context, key string) error {
	err := b.bucket.Object(b.key(key)).Delete(ctx)
	if err != nil && !stderrs.Is(err, gcs.ErrObjectNotExist) {
		return gcsErr(err, "delete gcs object %s", key)
	}
	return nil
}

// Close implements Bucket
func (b *GCSBucket) Close() error { return b.client.Close() }

func gcsErr(err error, format string, a ...any) error {
	if stderrs.Is(err, gcs.ErrObjectNotExist) {
		return perr.Wrapf(err, perr.ErrorCodeNotFound, format, a...)
	}
	if stderrs.Is(err, context.Canceled) || stderrs.Is(err, context.DeadlineExceeded) {
		return perr.Wrapf(err, perr.ErrorCodeTimeout, format, a...)
	}
	var ge *googleapi.Error
	if stderrs.As(err, &ge) {
		switch {
		case ge.Code == http.StatusNotFound:
			return perr.Wrapf(err, perr.ErrorCodeNotFound, format, a...)
		case ge.Code == http.StatusTooManyRequests, ge.Code >= 500:
			return perr.Wrapf(err, perr.ErrorCodeUnavailable, format, a...)
		}
	}
	return perr.Wrapf(err, perr.ErrorCodeStorage, format, a...)
}
