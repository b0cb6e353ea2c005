package blob

import (
	"context"
	stderrs "errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	perr "nutrisage/internal/platform/errors"

	"github.com/google/uuid"
)

const tmpMarker = ".tmp-"

// FileBucket stores objects as files under a root directory
type FileBucket struct {
	root string
}

// NewFileBucket creates root if needed and returns a bucket over it
func NewFileBucket(root string) (*FileBucket, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fileErr(err, "create bucket root %s", root)
	}
	return &FileBucket{root: root}, nil
}

// URI implements Bucket
func (b *FileBucket) URI() string { return Location{Scheme: SchemeFile, Prefix: b.root}.String() }

// Root returns the bucket directory
func (b *FileBucket) Root() string { return b.root }

func (b *FileBucket) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", perr.InvalidArgf("invalid object key %q", key)
	}
	return filepath.Join(b.root, clean), nil
}

// Put writes r to a sibling temp file and renames it over key
func (b *FileBucket) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	dst, err := b.path(key)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fileErr(err, "mkdir for %s", key)
	}
	tmp := dst + tmpMarker + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fileErr(err, "create temp for %s", key)
	}
	n, err := io.Copy(f, ctxReader{ctx: ctx, r: r})
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dst)
	}
	if err != nil {
		_ = os.Remove(tmp)
		if stderrs.Is(err, context.Canceled) || stderrs.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		return 0, fileErr(err, "write %s", key)
	}
	return n, nil
}

// Open implements Bucket
func (b *FileBucket) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fileErr(err, "open %s", key)
	}
	return f, nil
}

// Stat implements Bucket
func (b *FileBucket) Stat(_ context.Context, key string) (Attrs, error) {
	p, err := b.path(key)
	if err != nil {
		return Attrs{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return Attrs{}, fileErr(err, "stat %s", key)
	}
	if fi.IsDir() {
		return Attrs{}, perr.NotFoundf("%s is a directory", key)
	}
	return Attrs{Key: key, Size: fi.Size()}, nil
}

// List walks the tree under prefix; in-flight temp files are not listed
func (b *FileBucket) List(ctx context.Context, prefix string) ([]Attrs, error) {
	start := b.root
	if prefix != "" {
		p, err := b.path(prefix)
		if err != nil {
			return nil, err
		}
		start = p
	}
	var out []Attrs
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if stderrs.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.Contains(d.Name(), tmpMarker) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		out = append(out, Attrs{Key: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fileErr(err, "list %s", prefix)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes key; a missing key is not an error
func (b *FileBucket) Delete(_ context.Context, key string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !stderrs.Is(err, fs.ErrNotExist) {
		return fileErr(err, "delete %s", key)
	}
	return nil
}

// Close implements Bucket
func (b *FileBucket) Close() error { return nil }

func fileErr(err error, format string, a ...any) error {
	if stderrs.Is(err, fs.ErrNotExist) {
		return perr.Wrapf(err, perr.ErrorCodeNotFound, format, a...)
	}
	return perr.Wrapf(err, perr.ErrorCodeStorage, format, a...)
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
