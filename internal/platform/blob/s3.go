package blob

import (
	"context"
	stderrs "errors"
	"io"
	"path"
	"strings"

	perr "nutrisage/internal/platform/errors"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Bucket stores objects under a key prefix in one S3 bucket
type S3Bucket struct {
	loc      Location
	client   *s3.S3
	uploader *s3manager.Uploader
}

func newS3Bucket(_ context.Context, loc Location, o Options) (*S3Bucket, error) {
	cfg := aws.Config{}
	if o.Region != "" {
		cfg.Region = aws.String(o.Region)
	}
	if o.Endpoint != "" {
		cfg.Endpoint = aws.String(o.Endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
		if o.Region == "" {
			cfg.Region = aws.String("us-east-1")
		}
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            cfg,
		Profile:           o.Profile,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "new aws session")
	}
	client := s3.New(sess)
	return &S3Bucket{
		loc:      loc,
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
	}, nil
}

func (b *S3Bucket) key(k string) string { return path.Join(b.loc.Prefix, k) }

// URI implements Bucket
func (b *S3Bucket) URI() string { return b.loc.String() }

// Put uploads r as a single object; S3 only exposes it once the upload completes
func (b *S3Bucket) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	_, err := b.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(b.loc.Bucket),
		Key:    aws.String(b.key(key)),
		Body:   cr,
	})
	if err != nil {
		return 0, s3Err(err, "put s3 object %s", key)
	}
	return cr.n, nil
}

// Open implements Bucket
func (b *S3Bucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.loc.Bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		return nil, s3Err(err, "get s3 object %s", key)
	}
	return out.Body, nil
}

// Stat implements Bucket
func (b *S3Bucket) Stat(ctx context.Context, key string) (Attrs, error) {
	out, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.loc.Bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		return Attrs{}, s3Err(err, "head s3 object %s", key)
	}
	return Attrs{Key: key, Size: aws.Int64Value(out.ContentLength)}, nil
}

// List implements Bucket; S3 already returns keys in lexicographic order
func (b *S3Bucket) List(ctx context.Context, prefix string) ([]Attrs, error) {
	full := b.key(prefix)
	if prefix == "" {
		full = b.loc.Prefix
	}
	if full != "" {
		full += "/"
	}
	var out []Attrs
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.loc.Bucket),
		Prefix: aws.String(full),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			k := strings.TrimPrefix(aws.StringValue(obj.Key), b.loc.Prefix)
			out = append(out, Attrs{Key: strings.TrimPrefix(k, "/"), Size: aws.Int64Value(obj.Size)})
		}
		return true
	})
	if err != nil {
		return nil, s3Err(err, "list s3 prefix %s", full)
	}
	return out, nil
}

// Delete implements Bucket
func (b *S3Bucket) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.loc.Bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		return s3Err(err, "delete s3 object %s", key)
	}
	return nil
}

// Close implements Bucket
func (b *S3Bucket) Close() error { return nil }

// s3Err classifies SDK errors: missing keys are NotFound, throttling and 5xx are Unavailable
func s3Err(err error, format string, a ...any) error {
	if stderrs.Is(err, context.Canceled) || stderrs.Is(err, context.DeadlineExceeded) {
		return perr.Wrapf(err, perr.ErrorCodeTimeout, format, a...)
	}
	var ae awserr.Error
	if stderrs.As(err, &ae) {
		switch ae.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return perr.Wrapf(err, perr.ErrorCodeNotFound, format, a...)
		case s3.ErrCodeNoSuchBucket:
			return perr.Wrapf(err, perr.ErrorCodeStorage, format, a...)
		case request.CanceledErrorCode:
			return perr.Wrapf(err, perr.ErrorCodeTimeout, format, a...)
		}
	}
	var rf awserr.RequestFailure
	if stderrs.As(err, &rf) {
		switch code := rf.StatusCode(); {
		case code == 404:
			return perr.Wrapf(err, perr.ErrorCodeNotFound, format, a...)
		case code == 429, code >= 500:
			return perr.Wrapf(err, perr.ErrorCodeUnavailable, format, a...)
		}
	}
	if request.IsErrorRetryable(err) || request.IsErrorThrottle(err) {
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, format, a...)
	}
	return perr.Wrapf(err, perr.ErrorCodeStorage, format, a...)
}
