package replicate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/time/rate"
)

// callTimeout bounds every object-store call.
const callTimeout = 15 * time.Second

// S3Store is the production BlobStore over a private S3 bucket. ETags
// serve as the opaque version tokens for optimistic updates.
type S3Store struct {
	client  *s3.Client
	bucket  string
	prefix  string
	limiter *rate.Limiter
}

// NewS3Store builds an S3-backed blob store. The limiter keeps a
// misbehaving schedule from hammering the shared bucket.
func NewS3Store(ctx context.Context, bucket, prefix, region string) (*S3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &S3Store{
		client:  s3.NewFromConfig(cfg),
		bucket:  bucket,
		prefix:  strings.TrimSuffix(prefix, "/"),
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}, nil
}

func (s *S3Store) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3Store) wait(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	return cctx, cancel, nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	cctx, cancel, err := s.wait(ctx)
	if err != nil {
		return nil, "", err
	}
	defer cancel()

	out, err := s.client.GetObject(cctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", ErrBlobNotFound
		}
		return nil, "", fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", key, err)
	}
	return data, aws.ToString(out.ETag), nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, ifVersion string) error {
	cctx, cancel, err := s.wait(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
		Body:   bytes.NewReader(data),
	}
	if ifVersion == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(ifVersion)
	}

	if _, err := s.client.PutObject(cctx, in); err != nil {
		if strings.Contains(err.Error(), "PreconditionFailed") {
			return ErrVersionConflict
		}
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	cctx, cancel, err := s.wait(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var keys []string
	full := s.key(prefix)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(full),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(cctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			k := aws.ToString(obj.Key)
			if s.prefix != "" {
				k = strings.TrimPrefix(k, s.prefix+"/")
			}
			keys = append(keys, k)
		}
	}
	return keys, nil
}
