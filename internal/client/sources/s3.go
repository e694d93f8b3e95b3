package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/ddictl/internal/client/config"
	"github.com/dmitrijs2005/ddictl/internal/client/models"
	"github.com/dmitrijs2005/ddictl/internal/common"
)

// objectAPI is the subset of *s3.Client used here.
type objectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newObjectAPI = func(cfg aws.Config, optFns ...func(*s3.Options)) objectAPI {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Source reads an object with ranged GETs. The ETag, pinned by the version
// seen at open time, serves as fingerprint.
type S3Source struct {
	api    objectAPI
	bucket string
	key    string
	id     models.FileIdentity
}

// OpenS3 connects to the configured store and stats bucket/key.
func OpenS3(ctx context.Context, cfg config.S3Config, bucket, key string) (*S3Source, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 config: %w", err)
	}

	api := newObjectAPI(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	head, err := api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, classifyS3(err))
	}

	return &S3Source{
		api:    api,
		bucket: bucket,
		key:    key,
		id: models.FileIdentity{
			Name:        path.Base(key),
			Size:        aws.ToInt64(head.ContentLength),
			Fingerprint: "etag:" + strings.Trim(aws.ToString(head.ETag), `"`),
		},
	}, nil
}

func (s *S3Source) Identity(context.Context) (models.FileIdentity, error) {
	return s.id, nil
}

func (s *S3Source) ReadChunk(ctx context.Context, off int64, n int) ([]byte, error) {
	if off >= s.id.Size || n <= 0 {
		return nil, nil
	}
	end := off + int64(n) - 1
	if end >= s.id.Size {
		end = s.id.Size - 1
	}

	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
		// A changed object fails the read instead of mixing versions.
		IfMatch: aws.String(`"` + strings.TrimPrefix(s.id.Fingerprint, "etag:") + `"`),
	})
	if err != nil {
		return nil, fmt.Errorf("s3://%s/%s at %d: %w", s.bucket, s.key, off, classifyS3(err))
	}
	defer out.Body.Close()

	buf, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3://%s/%s at %d: %w: %w", s.bucket, s.key, off, common.ErrTransport, err)
	}
	return buf, nil
}

// Verify compares the object's current size and ETag with the ones seen at
// open time.
func (s *S3Source) Verify(ctx context.Context) error {
	head, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key)})
	if err != nil {
		err = classifyS3(err)
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("s3://%s/%s: %w: object is gone: %w", s.bucket, s.key, common.ErrValidation, err)
		}
		return fmt.Errorf("s3://%s/%s: %w", s.bucket, s.key, err)
	}
	size := aws.ToInt64(head.ContentLength)
	etag := "etag:" + strings.Trim(aws.ToString(head.ETag), `"`)
	if size != s.id.Size || etag != s.id.Fingerprint {
		return fmt.Errorf("s3://%s/%s: %w: object changed since the upload started", s.bucket, s.key, common.ErrValidation)
	}
	return nil
}

func (s *S3Source) Close() error { return nil }

func classifyS3(err error) error {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return fmt.Errorf("%w: %w", common.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", common.ErrTransport, err)
}
