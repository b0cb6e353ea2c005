// Package blobtest provides an in-memory blob.Bucket with fault injection for tests
package blobtest

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"nutrisage/internal/platform/blob"
	perr "nutrisage/internal/platform/errors"
)

// Bucket is an in-memory blob.Bucket; failures are armed per operation
type Bucket struct {
	mu       sync.Mutex
	uri      string
	objs     map[string][]byte
	puts     map[string]int
	putFails []fault
	opFails  map[string]error
}

type fault struct {
	match string
	left  int
	err   error
}

var _ blob.Bucket = (*Bucket)(nil)

// New returns an empty bucket reporting uri
func New(uri string) *Bucket {
	return &Bucket{uri: uri, objs: map[string][]byte{}, puts: map[string]int{}, opFails: map[string]error{}}
}

// FailPuts makes the next n Put calls whose key contains match fail with err after draining the reader
func (b *Bucket) FailPuts(match string, n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		err = perr.Unavailablef("injected put failure")
	}
	b.putFails = append(b.putFails, fault{match: match, left: n, err: err})
}

// FailOp makes every call of op ("open", "stat", "list", "delete") fail with err until cleared with nil
func (b *Bucket) FailOp(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.opFails, op)
		return
	}
	b.opFails[op] = err
}

// PutCalls returns how many times Put was attempted for key
func (b *Bucket) PutCalls(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.puts[key]
}

// Bytes returns a copy of the stored object
func (b *Bucket) Bytes(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.objs[key]
	return append([]byte(nil), v...), ok
}

// Keys returns every stored key sorted
func (b *Bucket) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.objs))
	for k := range b.objs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// URI implements blob.Bucket
func (b *Bucket) URI() string { return b.uri }

// Put implements blob.Bucket; a failed put stores nothing
func (b *Bucket) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts[key]++
	for i := range b.putFails {
		f := &b.putFails[i]
		if f.left > 0 && strings.Contains(key, f.match) {
			f.left--
			return 0, f.err
		}
	}
	b.objs[key] = data
	return int64(len(data)), nil
}

func (b *Bucket) opErr(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opFails[op]
}

// Open implements blob.Bucket
func (b *Bucket) Open(_ context.Context, key string) (io.ReadCloser, error) {
	if err := b.opErr("open"); err != nil {
		return nil, err
	}
	data, ok := b.Bytes(key)
	if !ok {
		return nil, perr.NotFoundf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Stat implements blob.Bucket
func (b *Bucket) Stat(_ context.Context, key string) (blob.Attrs, error) {
	if err := b.opErr("stat"); err != nil {
		return blob.Attrs{}, err
	}
	data, ok := b.Bytes(key)
	if !ok {
		return blob.Attrs{}, perr.NotFoundf("object %s not found", key)
	}
	return blob.Attrs{Key: key, Size: int64(len(data))}, nil
}

// List implements blob.Bucket
func (b *Bucket) List(_ context.Context, prefix string) ([]blob.Attrs, error) {
	if err := b.opErr("list"); err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []blob.Attrs
	for k, v := range b.objs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, blob.Attrs{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete implements blob.Bucket
func (b *Bucket) Delete(_ context.Context, key string) error {
	if err := b.opErr("delete"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objs, key)
	return nil
}

// Close implements blob.Bucket
func (b *Bucket) Close() error { return nil }
